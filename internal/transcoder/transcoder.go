package transcoder

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mkv-transcoder/pkg/models"
)

// TranscodeArgs builds the ffmpeg command: decode with the hardware decoder
// for the source codec, map every stream, copy everything except video, and
// encode video with NVENC HEVC.
func TranscodeArgs(input, output string) []string {
	return []string{
		"-c:v", DecoderCUVID,
		"-i", input,
		"-map", "0",
		"-c", "copy",
		"-c:v", CodecNVENC,
		"-preset", TranscodePreset,
		output,
	}
}

// Transcode runs ffmpeg against the job's staged input, writing the staged
// output and mirroring every output line to sink. A zero timeout means none.
//
// Non-zero exits and timeouts come back as *ExitError (per-item failures);
// *SpawnError and parent context errors are returned unchanged.
func (e *Engine) Transcode(ctx context.Context, job models.TranscodeJob, timeout time.Duration, sink LineSink) error {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	e.logger.Info("creating staged output",
		slog.String("job_id", job.ID),
		slog.String("output", job.StagedOutput),
	)

	code, err := e.runner.Stream(runCtx, e.FFmpegPath, sink, TranscodeArgs(job.StagedInput, job.StagedOutput)...)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return &ExitError{Code: -1, TimedOut: true}
		}
		return err
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// LogSink mirrors process output lines to logger at info level.
func LogSink(logger *slog.Logger) LineSink {
	return func(stream StreamName, line string) {
		logger.Info(line, slog.String("stream", string(stream)))
	}
}
