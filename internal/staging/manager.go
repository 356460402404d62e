// Package staging moves media between the source tree and the staging
// directory around a transcode.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"
	"mkv-transcoder/pkg/models"
)

// Phases reported by CopyError.
const (
	PhaseStageIn  = "stage-in"
	PhaseStageOut = "stage-out"
)

// TimestampLayout is the second-granularity stamp embedded in staged output names.
const TimestampLayout = "20060102T150405"

// ErrInsufficientSpace is wrapped by stage-in when the staging volume would
// drop below the configured reserve.
var ErrInsufficientSpace = errors.New("insufficient free space on staging volume")

// ErrSameFile is wrapped when a staged path resolves to the source itself.
var ErrSameFile = errors.New("staged path is the source file")

// CopyError is a per-item failure while copying into or out of staging.
type CopyError struct {
	Phase string
	Path  string
	Err   error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("%s copy to %s failed: %v", e.Phase, e.Path, e.Err)
}

func (e *CopyError) Unwrap() error { return e.Err }

// FreeSpaceFunc reports the free bytes on the volume holding dir.
type FreeSpaceFunc func(ctx context.Context, dir string) (uint64, error)

// Options tunes a Manager.
type Options struct {
	// UniqueInputs prefixes staged inputs with the job ID. Required when
	// several workers may stage files sharing a base name.
	UniqueInputs bool
	// MinFreeSpace is the reserve kept free on the staging volume; 0 disables
	// the check.
	MinFreeSpace uint64
	FreeSpace    FreeSpaceFunc
}

// Manager owns the staged copies of every job.
type Manager struct {
	dir    string
	opts   Options
	logger *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewManager(dir string, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dir:    dir,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return ulid.Make().String() },
	}
}

// Dir returns the staging directory.
func (m *Manager) Dir() string { return m.dir }

// NewJob derives the staged paths for c. Nothing is touched on disk.
func (m *Manager) NewJob(c models.FileCandidate) models.TranscodeJob {
	id := m.newID()
	created := m.now()

	inputName := c.Name
	if m.opts.UniqueInputs {
		inputName = id + "_" + c.Name
	}
	outputName := fmt.Sprintf("%s_%s_%s.%s", c.Stem, created.Format(TimestampLayout), id, models.TargetExtension)

	return models.TranscodeJob{
		ID:           id,
		SourcePath:   c.Path,
		StagedInput:  filepath.Join(m.dir, inputName),
		StagedOutput: filepath.Join(m.dir, outputName),
		FinalOutput:  c.Path,
		CreatedAt:    created,
	}
}

// StageIn copies the source into the staged input and returns the bytes
// copied. On failure the partial staged input is removed before returning.
func (m *Manager) StageIn(ctx context.Context, job models.TranscodeJob) (int64, error) {
	if samePath(job.SourcePath, job.StagedInput) {
		return 0, &CopyError{Phase: PhaseStageIn, Path: job.StagedInput, Err: ErrSameFile}
	}

	info, err := os.Stat(job.SourcePath)
	if err != nil {
		return 0, &CopyError{Phase: PhaseStageIn, Path: job.StagedInput, Err: err}
	}
	if err := m.checkFreeSpace(ctx, info.Size()); err != nil {
		return 0, &CopyError{Phase: PhaseStageIn, Path: job.StagedInput, Err: err}
	}

	n, err := copyFile(ctx, job.SourcePath, job.StagedInput, 0o644)
	if err != nil {
		if rmErr := os.Remove(job.StagedInput); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			m.logger.Warn("failed to remove partial staged input",
				slog.String("path", job.StagedInput),
				slog.String("error", rmErr.Error()),
			)
		}
		return n, &CopyError{Phase: PhaseStageIn, Path: job.StagedInput, Err: err}
	}

	m.logger.Info("copied source to staging",
		slog.String("job_id", job.ID),
		slog.String("staged_input", job.StagedInput),
		slog.String("size", humanize.Bytes(uint64(n))),
	)
	return n, nil
}

// StageOut replaces the source with the staged output. The bytes go to a
// sibling temp file which is then renamed over the source, so a failed copy
// leaves the source untouched. A symlinked source is followed and its target
// is replaced; the link itself stays.
func (m *Manager) StageOut(ctx context.Context, job models.TranscodeJob) (int64, error) {
	dest := job.FinalOutput
	if resolved, err := filepath.EvalSymlinks(dest); err == nil {
		dest = resolved
	}

	perm := fs.FileMode(0o644)
	if info, err := os.Stat(dest); err == nil {
		perm = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return 0, &CopyError{Phase: PhaseStageOut, Path: job.FinalOutput, Err: err}
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	fail := func(n int64, err error) (int64, error) {
		_ = os.Remove(tmpPath)
		return n, &CopyError{Phase: PhaseStageOut, Path: job.FinalOutput, Err: err}
	}

	n, err := copyFile(ctx, job.StagedOutput, tmpPath, perm)
	if err != nil {
		return fail(n, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fail(n, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fail(n, err)
	}

	m.logger.Info("replaced source with transcoded output",
		slog.String("job_id", job.ID),
		slog.String("path", dest),
		slog.String("size", humanize.Bytes(uint64(n))),
	)
	return n, nil
}

// Cleanup removes the staged output and the staged input, each independently.
// Missing files are not errors, so Cleanup is safe to call repeatedly.
func (m *Manager) Cleanup(job models.TranscodeJob) []error {
	var errs []error
	for _, path := range []string{job.StagedOutput, job.StagedInput} {
		if path == "" || samePath(path, job.SourcePath) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("removing %s: %w", path, err))
		}
	}
	return errs
}

func (m *Manager) checkFreeSpace(ctx context.Context, size int64) error {
	if m.opts.MinFreeSpace == 0 || m.opts.FreeSpace == nil {
		return nil
	}
	free, err := m.opts.FreeSpace(ctx, m.dir)
	if err != nil {
		return err
	}
	need := uint64(size) + m.opts.MinFreeSpace
	if free < need {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientSpace,
			humanize.Bytes(need), humanize.Bytes(free))
	}
	return nil
}

// copyFile copies src to dst, truncating dst, and stops early when ctx is done.
func copyFile(ctx context.Context, src, dst string, perm fs.FileMode) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, &ctxReader{ctx: ctx, r: in})
	if err != nil {
		_ = out.Close()
		return n, err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return n, err
	}
	return n, out.Close()
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
