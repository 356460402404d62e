package transcoder

import (
	"errors"
	"fmt"
)

// ErrBinaryNotFound is returned by NewEngine when ffmpeg or ffprobe cannot be located.
var ErrBinaryNotFound = errors.New("binary not found")

// SpawnError means the external command could not be started at all
// (missing binary, permission denied). It is fatal for the whole run.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitError means the transcode process ran but did not succeed.
type ExitError struct {
	Code     int
	TimedOut bool
}

func (e *ExitError) Error() string {
	if e.TimedOut {
		return "ffmpeg timed out and was killed"
	}
	return fmt.Sprintf("ffmpeg exited with status %d", e.Code)
}
