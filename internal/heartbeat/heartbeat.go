package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"mkv-transcoder/pkg/models"
)

// HealthSource supplies host metrics for each beat.
type HealthSource interface {
	Health(ctx context.Context) (models.SystemHealth, error)
}

// ProgressFunc returns the batch progress reached so far.
type ProgressFunc func() models.BatchProgress

// Service logs periodic telemetry while a batch runs.
type Service struct {
	health   HealthSource
	progress ProgressFunc
	interval time.Duration
	logger   *slog.Logger
}

// New creates a heartbeat service. A non-positive interval disables it.
func New(health HealthSource, progress ProgressFunc, intervalSec int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		health:   health,
		progress: progress,
		interval: time.Duration(intervalSec) * time.Second,
		logger:   logger,
	}
}

// Start launches the heartbeat loop in a non-blocking way. The returned
// channel is closed once the loop has exited after ctx is done.
func (s *Service) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if s.interval <= 0 {
		close(done)
		return done
	}

	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		s.logger.Debug("heartbeat started", slog.Duration("interval", s.interval))

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("heartbeat stopped")
				return
			case <-ticker.C:
				s.beat(ctx)
			}
		}
	}()
	return done
}

func (s *Service) beat(ctx context.Context) {
	attrs := []any{}
	if s.progress != nil {
		p := s.progress()
		attrs = append(attrs,
			slog.Int("completed", p.Index),
			slog.Int("total", p.Total),
			slog.Float64("percent", p.Percent()),
		)
	}

	if s.health != nil {
		h, err := s.health.Health(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("heartbeat health check failed", slog.String("error", err.Error()))
			}
			return
		}
		attrs = append(attrs,
			slog.Float64("cpu_percent", h.CPUUsage),
			slog.Float64("ram_used_percent", h.RAMUsedPercent),
			slog.String("ram_free", humanize.Bytes(h.RAMFreeBytes)),
			slog.String("staging_free", humanize.Bytes(h.StagingFreeBytes)),
		)
	}

	s.logger.Info("heartbeat", attrs...)
}
