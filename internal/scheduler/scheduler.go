// Package scheduler re-runs batches on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// RunFunc executes one batch.
type RunFunc func(ctx context.Context) error

// Scheduler triggers RunFunc on a cron expression. A trigger that fires while
// the previous batch is still running is skipped.
type Scheduler struct {
	expr     string
	schedule cron.Schedule
	run      RunFunc
	logger   *slog.Logger
}

// parser accepts standard five-field expressions and descriptors like "@daily".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates expr and builds a scheduler around run.
func New(expr string, run RunFunc, logger *slog.Logger) (*Scheduler, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		expr:     expr,
		schedule: schedule,
		run:      run,
		logger:   logger,
	}, nil
}

// Next returns the first trigger time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run blocks, triggering batches until ctx is cancelled. It waits for a
// running batch to return before it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(parser), cron.WithLogger(cronLogger{s.logger}))
	c.Schedule(s.schedule, s.wrap(ctx))
	c.Start()

	s.logger.Info("scheduler started",
		slog.String("cron", s.expr),
		slog.Time("next_run", s.Next(time.Now())),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) wrap(ctx context.Context) cron.Job {
	chain := cron.NewChain(
		cron.Recover(cronLogger{s.logger}),
		cron.SkipIfStillRunning(cronLogger{s.logger}),
	)
	return chain.Then(cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		s.logger.Info("scheduled batch starting")
		if err := s.run(ctx); err != nil {
			s.logger.Error("scheduled batch failed",
				slog.String("error", err.Error()),
				slog.Duration("elapsed", time.Since(start)),
			)
			return
		}
		s.logger.Info("scheduled batch finished",
			slog.Duration("elapsed", time.Since(start)),
			slog.Time("next_run", s.Next(time.Now())),
		)
	}))
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		l.logger.Warn("previous batch still running, skipping trigger")
		return
	}
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
