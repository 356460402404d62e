package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"mkv-transcoder/internal/observability"
	"mkv-transcoder/pkg/models"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Transcode the source directory once",
	Long: `Probe for NVENC support, scan the source directory and transcode every
eligible file in place. Per-file failures are logged and skipped; missing
hardware support, invalid directories and unreadable trees abort the run.

Examples:
  mkv-transcoder run --source /media/movies --staging /scratch
  MKVT_WORKERS=2 mkv-transcoder run -s /media/shows -t /scratch --reverse`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
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

	a, err := newApp(cfg, observability.WithComponent(logger.Logger, "cli"))
	if err != nil {
		return err
	}
	defer a.Close()

	a.logHost(ctx)
	summary, err := a.runBatch(ctx)
	if summary.RunID != "" {
		printSummary(cmd.OutOrStdout(), summary)
	}
	return err
}

func printSummary(w io.Writer, s models.BatchSummary) {
	status := "finished"
	if s.Interrupted {
		status = "interrupted"
	}
	fmt.Fprintf(w, "Batch %s %s: %d files, %d transcoded, %d skipped, %d failed\n",
		s.RunID, status, s.Total, s.Done, s.Skipped, s.Failed)
	if s.Done > 0 {
		fmt.Fprintf(w, "Size: %s -> %s\n", humanize.Bytes(uint64(s.BytesIn)), humanize.Bytes(uint64(s.BytesOut)))
	}
	fmt.Fprintf(w, "Elapsed: %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Second))
}
