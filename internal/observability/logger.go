// Package observability provides structured logging for the transcoder.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"mkv-transcoder/internal/config"
)

// Logger bundles the slog logger with the file sink it may own.
type Logger struct {
	*slog.Logger
	file *os.File
}

// Close closes the structured log file if one was opened.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// NewLogger creates a logger writing to the console and, when cfg.File is
// set, to a JSON structured sink at that path.
func NewLogger(cfg config.LoggingConfig, console io.Writer) (*Logger, error) {
	if cfg.File == "" {
		return &Logger{Logger: NewLoggerWithWriter(cfg, console, nil)}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return &Logger{Logger: NewLoggerWithWriter(cfg, console, f), file: f}, nil
}

// NewLoggerWithWriter builds the fan-out logger. The console handler follows
// cfg.Format; the structured sink (when non-nil) is always JSON.
func NewLoggerWithWriter(cfg config.LoggingConfig, console, structured io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handlers []slog.Handler
	if console != nil {
		switch cfg.Format {
		case "json":
			handlers = append(handlers, slog.NewJSONHandler(console, opts))
		default:
			handlers = append(handlers, slog.NewTextHandler(console, opts))
		}
	}
	if structured != nil {
		handlers = append(handlers, slog.NewJSONHandler(structured, opts))
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0])
	}
	return slog.New(fanout(handlers))
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanout dispatches every record to all handlers that accept its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// WithComponent adds a component name to the logger for identifying the source.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithRun tags every line with the batch run ID.
func WithRun(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With(slog.String("run_id", runID))
}

// WithJob tags every line with the job ID and source path.
func WithJob(logger *slog.Logger, jobID, path string) *slog.Logger {
	return logger.With(slog.String("job_id", jobID), slog.String("path", path))
}

// WithError adds an error to the logger attributes.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
