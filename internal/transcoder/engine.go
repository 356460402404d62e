package transcoder

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"mkv-transcoder/internal/config"
)

// Define constants for the fixed codec contract to avoid "magic strings".
// probe.go uses them for gating and inspection, transcoder.go for the CLI args.
const (
	CodecSource     = "h264"       // Only files whose first video stream is this are transcoded
	CodecNVENC      = "hevc_nvenc" // Target hardware encoder, also used by the capability probe
	DecoderCUVID    = "h264_cuvid" // Hardware decoder for the source codec
	TranscodePreset = "slow"
	NVENCMarker     = "supports NVENC"
)

// Environment variables consulted when no binary path is configured.
const (
	EnvFFmpegBinary  = "MKVT_FFMPEG_BINARY"
	EnvFFprobeBinary = "MKVT_FFPROBE_BINARY"
)

// Engine represents the transcoding capabilities of the local device.
// Its state is populated by probe.go and its methods are called by the batch
// orchestrator.
type Engine struct {
	FFmpegPath  string
	FFprobePath string
	HasHWAccel  bool

	runner Runner
	logger *slog.Logger
}

// NewEngine locates the ffmpeg and ffprobe binaries. Hardware probing is a
// separate step (ProbeCapabilities) so callers decide when the gate runs.
func NewEngine(cfg config.FFmpegConfig, runner Runner, logger *slog.Logger) (*Engine, error) {
	ffmpegPath, err := findBinary(cfg.BinaryPath, "ffmpeg", EnvFFmpegBinary)
	if err != nil {
		return nil, err
	}
	ffprobePath, err := findBinary(cfg.ProbePath, "ffprobe", EnvFFprobeBinary)
	if err != nil {
		return nil, err
	}
	return NewEngineWithPaths(ffmpegPath, ffprobePath, runner, logger), nil
}

// NewEngineWithPaths builds an engine around already-resolved binaries.
func NewEngineWithPaths(ffmpegPath, ffprobePath string, runner Runner, logger *slog.Logger) *Engine {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		runner:      runner,
		logger:      logger,
	}
}

// HardwareAcceleration lists the usable hardware encoders, for host reports.
func (e *Engine) HardwareAcceleration() []string {
	if !e.HasHWAccel {
		return []string{}
	}
	return []string{CodecNVENC}
}

// findBinary resolves a binary in order: configured path, environment
// variable, ./name, then PATH.
func findBinary(configured, name, envVar string) (string, error) {
	if configured != "" {
		if isExecutable(configured) {
			return configured, nil
		}
		return "", fmt.Errorf("%s %q: %w", name, configured, ErrBinaryNotFound)
	}
	if envPath := os.Getenv(envVar); envPath != "" && isExecutable(envPath) {
		return envPath, nil
	}
	if local := "./" + name; isExecutable(local) {
		return local, nil
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%s: %w", name, ErrBinaryNotFound)
}

// isExecutable checks that path is a regular file with any executable bit set.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
