package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dustin/go-humanize"
	"mkv-transcoder/internal/batch"
	"mkv-transcoder/internal/client"
	"mkv-transcoder/internal/config"
	"mkv-transcoder/internal/heartbeat"
	"mkv-transcoder/internal/ledger"
	"mkv-transcoder/internal/monitor"
	"mkv-transcoder/internal/observability"
	"mkv-transcoder/internal/staging"
	"mkv-transcoder/internal/transcoder"
	"mkv-transcoder/pkg/models"
)

// app wires the batch pipeline for the run and schedule commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	engine  *transcoder.Engine
	monitor *monitor.SystemMonitor
	ledger  *ledger.Ledger
	orch    *batch.Orchestrator
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	engine, err := transcoder.NewEngine(cfg.FFmpeg, transcoder.ExecRunner{}, observability.WithComponent(logger, "transcoder"))
	if err != nil {
		return nil, &batch.FatalError{Kind: batch.KindSpawn, Err: err}
	}

	mon := monitor.NewSystemMonitor(cfg.StagingDir)
	stager := staging.NewManager(cfg.StagingDir, staging.Options{
		UniqueInputs: cfg.Workers > 1,
		MinFreeSpace: cfg.MinFreeSpace,
		FreeSpace:    monitor.FreeBytes,
	}, observability.WithComponent(logger, "staging"))

	a := &app{cfg: cfg, logger: logger, engine: engine, monitor: mon}

	var reporters []batch.Reporter
	if cfg.Ledger.DSN != "" {
		l, err := ledger.Open(cfg.Ledger, observability.WithComponent(logger, "ledger"))
		if err != nil {
			return nil, err
		}
		a.ledger = l
		reporters = append(reporters, l)
	}
	if wh := client.NewWebhookClient(cfg.Notify, observability.WithComponent(logger, "webhook")); wh != nil {
		reporters = append(reporters, wh)
	}

	a.orch = batch.NewOrchestrator(cfg, engine, stager, observability.WithComponent(logger, "batch"), reporters...)
	return a, nil
}

func (a *app) Close() error {
	if a.ledger != nil {
		return a.ledger.Close()
	}
	return nil
}

// logHost reports the static host specs once.
func (a *app) logHost(ctx context.Context) {
	specs, err := a.monitor.HostSpecs(ctx, a.engine.HardwareAcceleration())
	if err != nil {
		a.logger.Warn("failed to read host specs", slog.String("error", err.Error()))
		return
	}
	a.logger.Info("host",
		slog.String("cpu", specs.CPUModel),
		slog.Int("threads", specs.TotalThreads),
		slog.String("ram", humanize.Bytes(specs.RAMTotalBytes)),
		slog.String("ffmpeg", a.engine.FFmpegPath),
		slog.String("ffprobe", a.engine.FFprobePath),
	)
}

// runBatch runs one batch with heartbeat telemetry alongside it.
func (a *app) runBatch(ctx context.Context) (models.BatchSummary, error) {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hb := heartbeat.New(a.monitor, a.orch.Progress, a.cfg.HeartbeatSec, observability.WithComponent(a.logger, "heartbeat"))
	done := hb.Start(hbCtx)
	defer func() {
		stopHeartbeat()
		<-done
	}()

	summary, err := a.orch.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("batch aborted", slog.String("error", err.Error()))
	}
	return summary, err
}
