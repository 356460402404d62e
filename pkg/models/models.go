package models

import (
	"fmt"
	"time"
)

// TargetExtension is the only container extension eligible for transcoding.
// Matching is exact and case-sensitive.
const TargetExtension = "mkv"

// FileCandidate is a filesystem entry discovered by the scanner, before
// eligibility filtering.
type FileCandidate struct {
	Path string `json:"path"` // Absolute path
	Name string `json:"name"` // Base name, e.g. "a.mkv"
	Stem string `json:"stem"` // Name without extension, e.g. "a"
	Ext  string `json:"ext"`  // Extension without the dot, e.g. "mkv"
}

// Eligible reports whether the candidate carries the target extension.
func (c FileCandidate) Eligible() bool {
	return c.Ext == TargetExtension
}

// ProcessResult is the outcome of a buffered external command.
type ProcessResult struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// TranscodeJob describes the staged paths for one eligible candidate.
// It is created right before stage-in and discarded after cleanup.
type TranscodeJob struct {
	ID           string    `json:"id"`
	SourcePath   string    `json:"source_path"`
	StagedInput  string    `json:"staged_input"`
	StagedOutput string    `json:"staged_output"`
	FinalOutput  string    `json:"final_output"`
	CreatedAt    time.Time `json:"created_at"`
}

// BatchProgress is recomputed after every candidate, processed or skipped.
type BatchProgress struct {
	Index int `json:"index"`
	Total int `json:"total"`
}

// Percent returns Index/Total*100, or 0 for an empty batch.
func (p BatchProgress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Index) / float64(p.Total) * 100
}

func (p BatchProgress) String() string {
	return fmt.Sprintf("%d/%d (%.1f%%)", p.Index, p.Total, p.Percent())
}

// ItemStatus is the terminal state of one candidate.
type ItemStatus string

const (
	StatusSkipped ItemStatus = "skipped"
	StatusFailed  ItemStatus = "failed"
	StatusDone    ItemStatus = "done"
)

// ItemReason names why an item ended the way it did.
type ItemReason string

const (
	ReasonNone      ItemReason = ""
	ReasonExtension ItemReason = "extension_mismatch"
	ReasonCodec     ItemReason = "codec_mismatch"
	ReasonStageIn   ItemReason = "stage_in"
	ReasonTranscode ItemReason = "transcode_exit"
	ReasonStageOut  ItemReason = "stage_out"
	ReasonCancelled ItemReason = "cancelled"
)

// ItemOutcome is the per-item result reported by the orchestrator.
// Per-item errors never abort the batch; they are carried here instead.
type ItemOutcome struct {
	Candidate FileCandidate `json:"candidate"`
	JobID     string        `json:"job_id,omitempty"`
	Status    ItemStatus    `json:"status"`
	Reason    ItemReason    `json:"reason,omitempty"`
	Codec     string        `json:"codec,omitempty"`
	Err       error         `json:"-"`
	BytesIn   int64         `json:"bytes_in"`
	BytesOut  int64         `json:"bytes_out"`
	Duration  time.Duration `json:"duration"`
}

// ErrorMessage returns the error text or an empty string.
func (o ItemOutcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
