package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mkv-transcoder/internal/config"
	"mkv-transcoder/internal/observability"
	"mkv-transcoder/pkg/models"
)

func setupLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(config.LedgerConfig{Driver: "sqlite", DSN: ":memory:"}, observability.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedger_ReportItemAndRecent(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	events := []models.ItemEvent{
		{RunID: "run-1", JobID: "J1", Path: "/m/a.mkv", Status: "done", Codec: "h264", BytesIn: 10, BytesOut: 6, DurationMS: 1500},
		{RunID: "run-1", Path: "/m/b.mkv", Status: "skipped", Reason: "codec_mismatch", Codec: "hevc"},
		{RunID: "run-2", JobID: "J3", Path: "/m/c.mkv", Status: "failed", Reason: "transcode_exit", Error: "ffmpeg exited with status 1"},
	}
	for _, ev := range events {
		require.NoError(t, l.ReportItem(ctx, ev))
	}

	all, err := l.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "/m/c.mkv", all[0].Path, "newest first")
	assert.Equal(t, "ffmpeg exited with status 1", all[0].Error)

	run1, err := l.Recent(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, run1, 2)
	assert.Equal(t, "skipped", run1[0].Status)
	assert.Equal(t, int64(1500), run1[1].DurationMS)

	limited, err := l.Recent(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLedger_ReportSummary(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)

	first := models.BatchSummary{RunID: "run-1", SourceDir: "/m", Total: 3, Done: 1, StartedAt: start, FinishedAt: start.Add(time.Minute)}
	second := models.BatchSummary{RunID: "run-2", SourceDir: "/m", Total: 2, Failed: 2, Interrupted: true, StartedAt: start.Add(time.Hour), FinishedAt: start.Add(2 * time.Hour)}
	require.NoError(t, l.ReportSummary(ctx, first))
	require.NoError(t, l.ReportSummary(ctx, second))

	first.Skipped = 2
	require.NoError(t, l.ReportSummary(ctx, first), "saving again updates the row")

	runs, err := l.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.True(t, runs[0].Interrupted)
	assert.Equal(t, 2, runs[1].Skipped)
}

func TestOpen_SQLiteFile(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(config.LedgerConfig{Driver: "sqlite", DSN: dsn}, nil)
	require.NoError(t, err)
	require.NoError(t, l.ReportItem(context.Background(), models.ItemEvent{RunID: "r", Path: "/m/a.mkv", Status: "done"}))
	require.NoError(t, l.Close())

	l, err = Open(config.LedgerConfig{Driver: "sqlite", DSN: dsn}, nil)
	require.NoError(t, err)
	defer l.Close()
	entries, err := l.Recent(context.Background(), "r", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.LedgerConfig{Driver: "oracle", DSN: "x"}, nil)
	assert.ErrorContains(t, err, "unsupported ledger driver")
}
