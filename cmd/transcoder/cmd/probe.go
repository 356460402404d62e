package cmd

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"mkv-transcoder/internal/batch"
	"mkv-transcoder/internal/monitor"
	"mkv-transcoder/internal/observability"
	"mkv-transcoder/internal/transcoder"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check NVENC support and print a host report",
	Long: `Run the same hardware check that gates every batch and print the host
specs. Exits non-zero when NVENC is not usable.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := signalContext()
	defer cancel()

	engine, err := transcoder.NewEngine(cfg.FFmpeg, transcoder.ExecRunner{}, observability.WithComponent(logger.Logger, "transcoder"))
	if err != nil {
		return err
	}
	supported, err := engine.ProbeCapabilities(ctx)
	if err != nil {
		return err
	}

	mon := monitor.NewSystemMonitor(cfg.StagingDir)
	specs, err := mon.HostSpecs(ctx, engine.HardwareAcceleration())
	if err != nil {
		return err
	}
	health, err := mon.Health(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ffmpeg:   %s\n", engine.FFmpegPath)
	fmt.Fprintf(out, "ffprobe:  %s\n", engine.FFprobePath)
	fmt.Fprintf(out, "CPU:      %s (%d threads, %.1f%% busy)\n", specs.CPUModel, specs.TotalThreads, health.CPUUsage)
	fmt.Fprintf(out, "RAM:      %s total, %s free\n", humanize.Bytes(specs.RAMTotalBytes), humanize.Bytes(health.RAMFreeBytes))
	if cfg.StagingDir != "" {
		fmt.Fprintf(out, "Staging:  %s free in %s\n", humanize.Bytes(health.StagingFreeBytes), cfg.StagingDir)
	}
	if !supported {
		fmt.Fprintln(out, "NVENC:    not available")
		return &batch.FatalError{Kind: batch.KindCapability, Err: batch.ErrCapabilityUnsupported}
	}
	fmt.Fprintf(out, "NVENC:    available (%s)\n", strings.Join(specs.HardwareAcceleration, ", "))
	return nil
}
