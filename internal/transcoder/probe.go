package transcoder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// CapabilityArgs is the ffmpeg invocation that lists NVENC devices against a
// synthetic null source, discarding the output.
func CapabilityArgs() []string {
	return []string{
		"-f", "lavfi",
		"-i", "nullsrc",
		"-c:v", CodecNVENC,
		"-gpu", "list",
		"-f", "null", "-",
	}
}

// CodecArgs asks ffprobe for the codec name of the first video stream in the
// unwrapped default format, e.g. "codec_name=h264".
func CodecArgs(path string) []string {
	return []string{
		"-v", "quiet",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name",
		"-of", "default=noprint_wrappers=1",
		path,
	}
}

// ProbeCapabilities checks that ffmpeg can drive an NVENC device. The device
// listing exits non-zero even on capable hosts, so only the stderr marker
// decides. No retries.
func (e *Engine) ProbeCapabilities(ctx context.Context) (bool, error) {
	res, err := e.runner.Run(ctx, e.FFmpegPath, CapabilityArgs()...)
	if err != nil {
		e.HasHWAccel = false
		return false, fmt.Errorf("capability probe: %w", err)
	}

	e.HasHWAccel = hasMarker(res.Stderr, NVENCMarker)
	e.logger.Info("hardware encoder probe finished",
		slog.Bool("supported", e.HasHWAccel),
		slog.String("encoder", CodecNVENC),
	)
	return e.HasHWAccel, nil
}

// hasMarker scans output line by line for marker.
func hasMarker(output, marker string) bool {
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// ProbeCodec returns the codec name of the file's first video stream, or ""
// when ffprobe fails or reports no video stream.
func (e *Engine) ProbeCodec(ctx context.Context, path string) (string, error) {
	res, err := e.runner.Run(ctx, e.FFprobePath, CodecArgs(path)...)
	if err != nil {
		return "", fmt.Errorf("codec probe: %w", err)
	}
	if !res.Success {
		e.logger.Debug("ffprobe failed",
			slog.String("path", path),
			slog.Int("exit_code", res.ExitCode),
		)
		return "", nil
	}
	return ParseCodecName(res.Stdout), nil
}

// ParseCodecName extracts the value of the first codec_name=<value> field.
func ParseCodecName(output string) string {
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if ok && key == "codec_name" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// IsSourceCodec reports whether codec is exactly the codec this tool converts.
func IsSourceCodec(codec string) bool {
	return codec == CodecSource
}
