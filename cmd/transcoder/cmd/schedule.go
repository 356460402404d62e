package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"mkv-transcoder/internal/observability"
	"mkv-transcoder/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Re-run the batch on a cron schedule",
	Long: `Run the batch every time the cron expression fires, until interrupted.
A trigger that fires while the previous batch is still running is skipped.

Examples:
  mkv-transcoder schedule --cron "0 3 * * *" -s /media -t /scratch
  mkv-transcoder schedule --cron @daily`,
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().String("cron", "", "cron expression (five fields or @descriptor)")
	mustBindPFlag("schedule.cron", scheduleCmd.Flags().Lookup("cron"))
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Schedule.Cron == "" {
		return errors.New("schedule requires --cron or schedule.cron")
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(cfg, observability.WithComponent(logger.Logger, "cli"))
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := scheduler.New(cfg.Schedule.Cron, func(ctx context.Context) error {
		summary, err := a.runBatch(ctx)
		if summary.RunID != "" {
			printSummary(cmd.OutOrStdout(), summary)
		}
		return err
	}, observability.WithComponent(logger.Logger, "scheduler"))
	if err != nil {
		return err
	}

	a.logHost(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "Waiting for %q, press Ctrl+C to stop\n", cfg.Schedule.Cron)
	return s.Run(ctx)
}
