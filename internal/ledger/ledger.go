// Package ledger records per-item outcomes and batch summaries in a SQL
// database through GORM. SQLite, PostgreSQL and MySQL are supported.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"mkv-transcoder/internal/config"
	"mkv-transcoder/pkg/models"
)

// Entry is one processed candidate.
type Entry struct {
	ID         uint   `gorm:"primaryKey"`
	RunID      string `gorm:"size:36;index"`
	JobID      string `gorm:"size:26"`
	Path       string `gorm:"size:4096"`
	Status     string `gorm:"size:16;index"`
	Reason     string `gorm:"size:32"`
	Codec      string `gorm:"size:32"`
	Error      string `gorm:"type:text"`
	BytesIn    int64
	BytesOut   int64
	DurationMS int64
	CreatedAt  time.Time `gorm:"index"`
}

func (Entry) TableName() string { return "transcode_outcomes" }

// Run is the summary of one batch.
type Run struct {
	RunID       string `gorm:"primaryKey;size:36"`
	SourceDir   string `gorm:"size:4096"`
	Total       int
	Done        int
	Skipped     int
	Failed      int
	BytesIn     int64
	BytesOut    int64
	Interrupted bool
	StartedAt   time.Time `gorm:"index"`
	FinishedAt  time.Time
}

func (Run) TableName() string { return "transcode_runs" }

// Ledger persists batch history.
type Ledger struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg config.LedgerConfig, log *slog.Logger) (*Ledger, error) {
	dialector, err := getDialector(cfg)
	if err != nil {
		return nil, fmt.Errorf("getting dialector: %w", err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
		}
		// One writer; also keeps ":memory:" databases on a single connection.
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db, log)
}

// New wraps an open GORM connection and migrates the schema.
func New(db *gorm.DB, log *slog.Logger) (*Ledger, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&Entry{}, &Run{}); err != nil {
		return nil, fmt.Errorf("migrating ledger schema: %w", err)
	}
	return &Ledger{db: db, logger: log}, nil
}

func getDialector(cfg config.LedgerConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return sqlite.Open(cfg.DSN), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported ledger driver: %s", cfg.Driver)
	}
}

// ReportItem stores one item event.
func (l *Ledger) ReportItem(ctx context.Context, ev models.ItemEvent) error {
	entry := Entry{
		RunID:      ev.RunID,
		JobID:      ev.JobID,
		Path:       ev.Path,
		Status:     ev.Status,
		Reason:     ev.Reason,
		Codec:      ev.Codec,
		Error:      ev.Error,
		BytesIn:    ev.BytesIn,
		BytesOut:   ev.BytesOut,
		DurationMS: ev.DurationMS,
	}
	if err := l.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("recording outcome for %s: %w", ev.Path, err)
	}
	return nil
}

// ReportSummary stores the batch summary, replacing an earlier row for the
// same run.
func (l *Ledger) ReportSummary(ctx context.Context, s models.BatchSummary) error {
	run := Run{
		RunID:       s.RunID,
		SourceDir:   s.SourceDir,
		Total:       s.Total,
		Done:        s.Done,
		Skipped:     s.Skipped,
		Failed:      s.Failed,
		BytesIn:     s.BytesIn,
		BytesOut:    s.BytesOut,
		Interrupted: s.Interrupted,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
	}
	if err := l.db.WithContext(ctx).Save(&run).Error; err != nil {
		return fmt.Errorf("recording run %s: %w", s.RunID, err)
	}
	l.logger.Debug("run recorded in ledger", slog.String("run_id", s.RunID))
	return nil
}

// Recent returns the latest item entries, newest first. A runID narrows the
// result to one batch.
func (l *Ledger) Recent(ctx context.Context, runID string, limit int) ([]Entry, error) {
	var entries []Entry
	q := l.db.WithContext(ctx).Order("id DESC")
	if runID != "" {
		q = q.Where("run_id = ?", runID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing outcomes: %w", err)
	}
	return entries, nil
}

// Runs returns the latest batch summaries, newest first.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	var runs []Run
	q := l.db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// Close releases the underlying connection pool.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
