package models

import "time"

// --- Webhook payloads ---

// ItemEvent is reported after each candidate with the target extension,
// whatever its outcome.
// Used in [POST] {webhook_url}
type ItemEvent struct {
	Event      string  `json:"event"` // "item"
	RunID      string  `json:"run_id"`
	JobID      string  `json:"job_id,omitempty"`
	Path       string  `json:"path"`
	Status     string  `json:"status"` // "done", "failed"
	Reason     string  `json:"reason,omitempty"`
	Codec      string  `json:"codec,omitempty"`
	Error      string  `json:"error,omitempty"`
	BytesIn    int64   `json:"bytes_in"`
	BytesOut   int64   `json:"bytes_out"`
	DurationMS int64   `json:"duration_ms"`
	Progress   float64 `json:"progress"` // 0-100%
}

// BatchSummary is posted once when a batch finishes, including after a
// cancellation.
type BatchSummary struct {
	Event       string    `json:"event"` // "summary"
	RunID       string    `json:"run_id"`
	SourceDir   string    `json:"source_dir"`
	Total       int       `json:"total"`
	Done        int       `json:"done"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	BytesIn     int64     `json:"bytes_in"`
	BytesOut    int64     `json:"bytes_out"`
	Interrupted bool      `json:"interrupted"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// --- Host telemetry ---

// StaticHardware defines immutable specs reported once at startup.
type StaticHardware struct {
	CPUModel             string   `json:"cpu_model"`
	TotalThreads         int      `json:"total_threads"`
	RAMTotalBytes        uint64   `json:"ram_total_bytes"`
	HardwareAcceleration []string `json:"hardware_acceleration"` // e.g. ["hevc_nvenc"]
}

// SystemHealth captures real-time host metrics gathered by gopsutil.
type SystemHealth struct {
	CPUUsage         float64 `json:"cpu_usage"` // Percentage
	RAMUsedPercent   float64 `json:"ram_used_percent"`
	RAMFreeBytes     uint64  `json:"ram_free_bytes"`
	StagingFreeBytes uint64  `json:"staging_free_bytes"`
}

// NewItemEvent flattens an outcome and the progress reached after it.
func NewItemEvent(runID string, o ItemOutcome, p BatchProgress) ItemEvent {
	return ItemEvent{
		Event:      "item",
		RunID:      runID,
		JobID:      o.JobID,
		Path:       o.Candidate.Path,
		Status:     string(o.Status),
		Reason:     string(o.Reason),
		Codec:      o.Codec,
		Error:      o.ErrorMessage(),
		BytesIn:    o.BytesIn,
		BytesOut:   o.BytesOut,
		DurationMS: o.Duration.Milliseconds(),
		Progress:   p.Percent(),
	}
}
