// Package batch drives the staged transcode pipeline over a source tree.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"mkv-transcoder/internal/config"
	"mkv-transcoder/internal/observability"
	"mkv-transcoder/internal/scanner"
	"mkv-transcoder/internal/transcoder"
	"mkv-transcoder/pkg/models"
)

// reportTimeout bounds delivery of the final summary once the batch context
// is gone.
const reportTimeout = 30 * time.Second

// Engine probes and transcodes. Implemented by *transcoder.Engine.
type Engine interface {
	ProbeCapabilities(ctx context.Context) (bool, error)
	ProbeCodec(ctx context.Context, path string) (string, error)
	Transcode(ctx context.Context, job models.TranscodeJob, timeout time.Duration, sink transcoder.LineSink) error
}

// Stager owns staged copies. Implemented by *staging.Manager.
type Stager interface {
	NewJob(c models.FileCandidate) models.TranscodeJob
	StageIn(ctx context.Context, job models.TranscodeJob) (int64, error)
	StageOut(ctx context.Context, job models.TranscodeJob) (int64, error)
	Cleanup(job models.TranscodeJob) []error
}

// Reporter receives item events and the final summary. Delivery failures are
// logged and never fail the batch.
type Reporter interface {
	ReportItem(ctx context.Context, ev models.ItemEvent) error
	ReportSummary(ctx context.Context, s models.BatchSummary) error
}

// Orchestrator runs one batch at a time over cfg.SourceDir.
type Orchestrator struct {
	cfg       *config.Config
	engine    Engine
	stager    Stager
	reporters []Reporter
	logger    *slog.Logger

	newRunID func() string

	mu       sync.Mutex
	progress models.BatchProgress
	summary  models.BatchSummary
}

func NewOrchestrator(cfg *config.Config, engine Engine, stager Stager, logger *slog.Logger, reporters ...Reporter) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:       cfg,
		engine:    engine,
		stager:    stager,
		reporters: reporters,
		logger:    logger,
		newRunID:  uuid.NewString,
	}
}

// Progress returns the progress of the batch currently running, or of the
// last one.
func (o *Orchestrator) Progress() models.BatchProgress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// Run gates on hardware capability, scans the source tree and processes every
// candidate. The returned summary is valid whenever scanning succeeded, even
// alongside an error. A cancelled ctx stops the batch between items (or
// kills the running transcode) and is returned as the error.
func (o *Orchestrator) Run(ctx context.Context) (models.BatchSummary, error) {
	runID := o.newRunID()
	logger := observability.WithRun(o.logger, runID)
	start := time.Now()

	ok, err := o.engine.ProbeCapabilities(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return models.BatchSummary{}, ctx.Err()
		}
		return models.BatchSummary{}, &FatalError{Kind: KindSpawn, Err: err}
	}
	if !ok {
		return models.BatchSummary{}, &FatalError{Kind: KindCapability, Err: ErrCapabilityUnsupported}
	}

	if err := o.cfg.ValidateDirectories(); err != nil {
		return models.BatchSummary{}, &FatalError{Kind: KindInvalidDirectory, Err: err}
	}

	policy, err := scanner.ParsePolicy(o.cfg.TraversalPolicy)
	if err != nil {
		return models.BatchSummary{}, &FatalError{Kind: KindTraversal, Err: err}
	}
	candidates, err := scanner.Scan(o.cfg.SourceDir, scanner.Options{
		Reverse: o.cfg.Reverse,
		Policy:  policy,
		OnSkip: func(path string, err error) {
			logger.Warn("skipping unreadable entry", slog.String("path", path), slog.String("error", err.Error()))
		},
	})
	if err != nil {
		return models.BatchSummary{}, &FatalError{Kind: KindTraversal, Err: err}
	}

	o.mu.Lock()
	o.progress = models.BatchProgress{Total: len(candidates)}
	o.summary = models.BatchSummary{
		Event:     "summary",
		RunID:     runID,
		SourceDir: o.cfg.SourceDir,
		Total:     len(candidates),
		StartedAt: start,
	}
	o.mu.Unlock()

	logger.Info("starting batch",
		slog.String("source_dir", o.cfg.SourceDir),
		slog.Int("files", len(candidates)),
		slog.Int("workers", o.cfg.Workers),
		slog.Bool("reverse", o.cfg.Reverse),
	)

	if o.cfg.Workers > 1 {
		err = o.runPool(ctx, runID, logger, candidates)
	} else {
		err = o.runSequential(ctx, runID, logger, candidates)
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	o.mu.Lock()
	o.summary.FinishedAt = time.Now()
	o.summary.Interrupted = ctx.Err() != nil
	summary := o.summary
	o.mu.Unlock()

	logger.Info("batch finished",
		slog.Int("total", summary.Total),
		slog.Int("done", summary.Done),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.String("bytes_in", humanize.Bytes(uint64(summary.BytesIn))),
		slog.String("bytes_out", humanize.Bytes(uint64(summary.BytesOut))),
		slog.Bool("interrupted", summary.Interrupted),
		slog.Duration("elapsed", summary.FinishedAt.Sub(start)),
	)
	o.reportSummary(ctx, logger, summary)

	return summary, err
}

func (o *Orchestrator) runSequential(ctx context.Context, runID string, logger *slog.Logger, candidates []models.FileCandidate) error {
	for _, c := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		outcome, err := o.ProcessCandidate(ctx, c)
		o.record(ctx, runID, logger, outcome)
		if err != nil {
			return err
		}
	}
	return nil
}

// runPool processes candidates on at most cfg.Workers goroutines. A fatal
// error cancels the remaining items.
func (o *Orchestrator) runPool(ctx context.Context, runID string, logger *slog.Logger, candidates []models.FileCandidate) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)

	for _, c := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome, err := o.ProcessCandidate(gctx, c)
			o.record(ctx, runID, logger, outcome)
			return err
		})
	}
	return g.Wait()
}

// record folds an outcome into the summary, advances progress and notifies
// reporters. Extension mismatches count toward progress but are not reported.
func (o *Orchestrator) record(ctx context.Context, runID string, logger *slog.Logger, outcome models.ItemOutcome) {
	o.mu.Lock()
	o.progress.Index++
	progress := o.progress
	switch outcome.Status {
	case models.StatusDone:
		o.summary.Done++
	case models.StatusFailed:
		o.summary.Failed++
	default:
		o.summary.Skipped++
	}
	o.summary.BytesIn += outcome.BytesIn
	o.summary.BytesOut += outcome.BytesOut
	o.mu.Unlock()

	logger.Info("progress",
		slog.Int("completed", progress.Index),
		slog.Int("total", progress.Total),
		slog.String("percent", fmt.Sprintf("%.1f", progress.Percent())),
	)

	if outcome.Reason == models.ReasonExtension {
		return
	}
	ev := models.NewItemEvent(runID, outcome, progress)
	reportCtx := context.WithoutCancel(ctx)
	for _, r := range o.reporters {
		if err := r.ReportItem(reportCtx, ev); err != nil {
			logger.Warn("failed to report item", slog.String("path", ev.Path), slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) reportSummary(ctx context.Context, logger *slog.Logger, s models.BatchSummary) {
	if len(o.reporters) == 0 {
		return
	}
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	for _, r := range o.reporters {
		if err := r.ReportSummary(reportCtx, s); err != nil {
			logger.Warn("failed to report summary", slog.String("error", err.Error()))
		}
	}
}

// ProcessCandidate takes one candidate through eligibility, codec inspection,
// stage-in, transcode, stage-out and cleanup. Per-item failures are carried in
// the outcome; the error is non-nil only for fatal conditions.
func (o *Orchestrator) ProcessCandidate(ctx context.Context, c models.FileCandidate) (outcome models.ItemOutcome, fatal error) {
	start := time.Now()
	outcome = models.ItemOutcome{Candidate: c}
	defer func() { outcome.Duration = time.Since(start) }()

	logger := o.logger.With(slog.String("path", c.Path))

	if !c.Eligible() {
		logger.Debug("skipping file, not an mkv container", slog.String("ext", c.Ext))
		return skip(outcome, models.ReasonExtension), nil
	}

	logger.Info("processing file")
	codec, err := o.engine.ProbeCodec(ctx, c.Path)
	if err != nil {
		return o.failure(ctx, logger, outcome, models.ReasonCodec, err)
	}
	outcome.Codec = codec
	if !transcoder.IsSourceCodec(codec) {
		logger.Info("skipping file, video codec does not match",
			slog.String("codec", codec),
			slog.String("want", transcoder.CodecSource),
		)
		return skip(outcome, models.ReasonCodec), nil
	}

	job := o.stager.NewJob(c)
	outcome.JobID = job.ID
	logger = observability.WithJob(o.logger, job.ID, c.Path)
	defer func() {
		for _, err := range o.stager.Cleanup(job) {
			logger.Warn("cleanup failed", slog.String("error", err.Error()))
		}
	}()

	if ctx.Err() != nil {
		return o.failure(ctx, logger, outcome, models.ReasonCancelled, ctx.Err())
	}
	n, err := o.stager.StageIn(ctx, job)
	outcome.BytesIn = n
	if err != nil {
		return o.failure(ctx, logger, outcome, models.ReasonStageIn, err)
	}

	if ctx.Err() != nil {
		return o.failure(ctx, logger, outcome, models.ReasonCancelled, ctx.Err())
	}
	if err := o.engine.Transcode(ctx, job, o.cfg.TranscodeTimeout, transcoder.LogSink(logger)); err != nil {
		return o.failure(ctx, logger, outcome, models.ReasonTranscode, err)
	}

	if ctx.Err() != nil {
		return o.failure(ctx, logger, outcome, models.ReasonCancelled, ctx.Err())
	}
	n, err = o.stager.StageOut(ctx, job)
	outcome.BytesOut = n
	if err != nil {
		return o.failure(ctx, logger, outcome, models.ReasonStageOut, err)
	}

	outcome.Status = models.StatusDone
	logger.Info("transcode complete",
		slog.String("before", humanize.Bytes(uint64(outcome.BytesIn))),
		slog.String("after", humanize.Bytes(uint64(outcome.BytesOut))),
		slog.Duration("elapsed", time.Since(start)),
	)
	return outcome, nil
}

func skip(outcome models.ItemOutcome, reason models.ItemReason) models.ItemOutcome {
	outcome.Status = models.StatusSkipped
	outcome.Reason = reason
	return outcome
}

// failure marks the outcome failed. Spawn errors are fatal; errors caused by
// ctx cancellation are reported with ReasonCancelled.
func (o *Orchestrator) failure(ctx context.Context, logger *slog.Logger, outcome models.ItemOutcome, reason models.ItemReason, err error) (models.ItemOutcome, error) {
	outcome.Status = models.StatusFailed
	outcome.Reason = reason
	outcome.Err = err

	var spawnErr *transcoder.SpawnError
	switch {
	case errors.As(err, &spawnErr):
		logger.Error("external tool could not be started", slog.String("error", err.Error()))
		return outcome, &FatalError{Kind: KindSpawn, Err: err}
	case ctx.Err() != nil:
		outcome.Reason = models.ReasonCancelled
		logger.Warn("item interrupted", slog.String("error", err.Error()))
	default:
		logger.Warn("item failed", slog.String("reason", string(reason)), slog.String("error", err.Error()))
	}
	return outcome, nil
}
