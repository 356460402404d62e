package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"
	"mkv-transcoder/pkg/models"
)

// StreamName identifies which pipe a streamed line came from.
type StreamName string

const (
	Stdout StreamName = "stdout"
	Stderr StreamName = "stderr"
)

// LineSink receives output lines while a streamed process runs. It is called
// from two goroutines at once and must be safe for concurrent use.
type LineSink func(stream StreamName, line string)

// Runner spawns external commands.
//
// Run buffers all output and is meant for short-lived probes. A non-zero exit
// is reported through ProcessResult, not as an error.
//
// Stream mirrors each output line to sink while the process runs and returns
// its exit code. A non-zero exit is not an error either.
//
// Both return *SpawnError when the command cannot be started at all, and the
// context error when ctx ends before the process does.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (models.ProcessResult, error)
	Stream(ctx context.Context, name string, sink LineSink, args ...string) (int, error)
}

// ExecRunner executes commands via os/exec.
type ExecRunner struct{}

// maxLineBytes bounds a single streamed line; longer lines are dropped but
// the pipe keeps being drained.
const maxLineBytes = 1 << 20

// pipeGrace is how long output pipes may stay open after cancellation before
// they are closed from our side.
const pipeGrace = 2 * time.Second

// Run executes one command and captures stdout, stderr and the exit code.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (models.ProcessResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	setProcessGroup(cmd)
	cmd.WaitDelay = pipeGrace
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := models.ProcessResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err == nil {
		result.Success = true
		return result, nil
	}

	if ctx.Err() != nil {
		result.ExitCode = -1
		return result, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	result.ExitCode = -1
	return result, &SpawnError{Name: name, Err: err}
}

// Stream starts the command with both pipes attached and drains stdout and
// stderr on separate goroutines. Both readers are joined before Wait, since
// Wait closes the pipes. Once ctx ends the process group is killed, and the
// pipes are closed after pipeGrace if something still holds them open.
func (ExecRunner) Stream(ctx context.Context, name string, sink LineSink, args ...string) (int, error) {
	if sink == nil {
		sink = func(StreamName, string) {}
	}

	cmd := exec.CommandContext(ctx, name, args...)
	setProcessGroup(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, &SpawnError{Name: name, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, &SpawnError{Name: name, Err: err}
	}

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		return -1, &SpawnError{Name: name, Err: err}
	}

	drained := make(chan struct{})
	go func() {
		select {
		case <-drained:
		case <-ctx.Done():
			select {
			case <-drained:
			case <-time.After(pipeGrace):
				_ = stdout.Close()
				_ = stderr.Close()
			}
		}
	}()

	var g errgroup.Group
	g.Go(func() error { return drain(stdout, Stdout, sink) })
	g.Go(func() error { return drain(stderr, Stderr, sink) })
	drainErr := g.Wait()
	close(drained)

	err = cmd.Wait()
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	if drainErr != nil {
		return 0, drainErr
	}
	return 0, nil
}

// drain forwards lines from r to sink until EOF. If the scanner gives up
// (oversized line), the rest of the pipe is discarded so the child never
// blocks on a full buffer.
func drain(r io.Reader, stream StreamName, sink LineSink) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(scanLinesOrCR)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			sink(stream, line)
		}
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		if errors.Is(err, bufio.ErrTooLong) {
			return nil
		}
		return err
	}
	return nil
}

// scanLinesOrCR splits on '\n' or '\r'. ffmpeg rewrites its progress line
// with carriage returns, which bufio.ScanLines would accumulate forever.
func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
