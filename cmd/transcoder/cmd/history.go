package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"mkv-transcoder/internal/ledger"
)

var (
	historyLimit int
	historyRun   string
	historyRuns  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded outcomes from the ledger",
	Long: `Print the latest per-file outcomes (or batch summaries with --runs) from
the ledger database configured under ledger.driver and ledger.dsn.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum rows to print (0 for all)")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "only show outcomes of this run ID")
	historyCmd.Flags().BoolVar(&historyRuns, "runs", false, "list batch summaries instead of files")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Ledger.DSN == "" {
		return errors.New("no ledger configured: set ledger.dsn")
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	l, err := ledger.Open(cfg.Ledger, logger.Logger)
	if err != nil {
		return err
	}
	defer l.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if historyRuns {
		runs, err := l.Runs(ctx, historyLimit)
		if err != nil {
			return err
		}
		return printRuns(cmd.OutOrStdout(), runs)
	}
	entries, err := l.Recent(ctx, historyRun, historyLimit)
	if err != nil {
		return err
	}
	return printEntries(cmd.OutOrStdout(), entries)
}

func printEntries(w io.Writer, entries []ledger.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tSTATUS\tREASON\tBEFORE\tAFTER\tTOOK\tPATH")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(e.CreatedAt),
			e.Status,
			dash(e.Reason),
			humanize.Bytes(uint64(e.BytesIn)),
			humanize.Bytes(uint64(e.BytesOut)),
			(time.Duration(e.DurationMS) * time.Millisecond).Round(time.Second),
			e.Path,
		)
	}
	return tw.Flush()
}

func printRuns(w io.Writer, runs []ledger.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tTOTAL\tDONE\tSKIPPED\tFAILED\tSAVED\tSOURCE")
	for _, r := range runs {
		saved := "-"
		if r.BytesIn > r.BytesOut {
			saved = humanize.Bytes(uint64(r.BytesIn - r.BytesOut))
		}
		started := humanize.Time(r.StartedAt)
		if r.Interrupted {
			started += " (interrupted)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.RunID, started, r.Total, r.Done, r.Skipped, r.Failed, saved, r.SourceDir)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
