package transcoder

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mkv-transcoder/internal/config"
	"mkv-transcoder/pkg/models"
)

// fakeRunner simulates command execution with injected behavior.
type fakeRunner struct {
	run    func(ctx context.Context, name string, args ...string) (models.ProcessResult, error)
	stream func(ctx context.Context, name string, sink LineSink, args ...string) (int, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (models.ProcessResult, error) {
	if f.run == nil {
		return models.ProcessResult{Success: true}, nil
	}
	return f.run(ctx, name, args...)
}

func (f *fakeRunner) Stream(ctx context.Context, name string, sink LineSink, args ...string) (int, error) {
	if f.stream == nil {
		return 0, nil
	}
	return f.stream(ctx, name, sink, args...)
}

// skipIfNoShell skips tests that need a POSIX shell for child processes.
func skipIfNoShell(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not installed")
	}
	return path
}

type lineCollector struct {
	mu    sync.Mutex
	lines map[StreamName][]string
}

func (c *lineCollector) sink(stream StreamName, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lines == nil {
		c.lines = map[StreamName][]string{}
	}
	c.lines[stream] = append(c.lines[stream], line)
}

func TestProbeCapabilities(t *testing.T) {
	tests := []struct {
		name   string
		result models.ProcessResult
		want   bool
	}{
		{
			name: "marker present despite non-zero exit",
			result: models.ProcessResult{
				Success:  false,
				ExitCode: 1,
				Stderr:   "[hevc_nvenc @ 0x1] GPU 0: NVIDIA GeForce RTX 3060 (Ampere) supports NVENC\nConversion failed!\n",
			},
			want: true,
		},
		{
			name:   "marker absent",
			result: models.ProcessResult{Stderr: "Cannot load libcuda.so.1\n"},
			want:   false,
		},
		{
			name:   "marker only on stdout is ignored",
			result: models.ProcessResult{Stdout: "supports NVENC"},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotName string
			var gotArgs []string
			runner := &fakeRunner{run: func(_ context.Context, name string, args ...string) (models.ProcessResult, error) {
				gotName, gotArgs = name, args
				return tt.result, nil
			}}
			engine := NewEngineWithPaths("/usr/bin/ffmpeg", "/usr/bin/ffprobe", runner, nil)

			ok, err := engine.ProbeCapabilities(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.want, engine.HasHWAccel)
			assert.Equal(t, "/usr/bin/ffmpeg", gotName)
			assert.Equal(t, []string{"-f", "lavfi", "-i", "nullsrc", "-c:v", "hevc_nvenc", "-gpu", "list", "-f", "null", "-"}, gotArgs)
		})
	}
}

func TestProbeCapabilities_SpawnFailure(t *testing.T) {
	runner := &fakeRunner{run: func(context.Context, string, ...string) (models.ProcessResult, error) {
		return models.ProcessResult{}, &SpawnError{Name: "ffmpeg", Err: os.ErrPermission}
	}}
	engine := NewEngineWithPaths("ffmpeg", "ffprobe", runner, nil)

	ok, err := engine.ProbeCapabilities(context.Background())
	assert.False(t, ok)
	var spawnErr *SpawnError
	assert.True(t, errors.As(err, &spawnErr))
}

func TestProbeCodec(t *testing.T) {
	var gotArgs []string
	runner := &fakeRunner{run: func(_ context.Context, name string, args ...string) (models.ProcessResult, error) {
		assert.Equal(t, "/usr/bin/ffprobe", name)
		gotArgs = args
		return models.ProcessResult{Success: true, Stdout: "codec_name=h264\n"}, nil
	}}
	engine := NewEngineWithPaths("/usr/bin/ffmpeg", "/usr/bin/ffprobe", runner, nil)

	codec, err := engine.ProbeCodec(context.Background(), "/media/a.mkv")
	require.NoError(t, err)
	assert.Equal(t, "h264", codec)
	assert.Equal(t, []string{
		"-v", "quiet",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name",
		"-of", "default=noprint_wrappers=1",
		"/media/a.mkv",
	}, gotArgs)
}

func TestProbeCodec_FailedProbeIsEmpty(t *testing.T) {
	runner := &fakeRunner{run: func(context.Context, string, ...string) (models.ProcessResult, error) {
		return models.ProcessResult{Success: false, ExitCode: 1}, nil
	}}
	engine := NewEngineWithPaths("ffmpeg", "ffprobe", runner, nil)

	codec, err := engine.ProbeCodec(context.Background(), "/media/broken.mkv")
	require.NoError(t, err)
	assert.Empty(t, codec)
}

func TestParseCodecName(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{"codec_name=h264\n", "h264"},
		{"codec_name=hevc\r\n", "hevc"},
		{"  codec_name=h264  \n", "h264"},
		{"", ""},
		{"h264\n", ""},
		{"profile=High\ncodec_name=mpeg4\n", "mpeg4"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseCodecName(tt.output), "output %q", tt.output)
	}
}

func TestIsSourceCodec_ExactMatch(t *testing.T) {
	assert.True(t, IsSourceCodec("h264"))
	// A substring test would accept these.
	assert.False(t, IsSourceCodec("h264_cuvid"))
	assert.False(t, IsSourceCodec("xh264"))
	assert.False(t, IsSourceCodec("H264"))
	assert.False(t, IsSourceCodec(""))
}

func TestTranscodeArgs(t *testing.T) {
	args := TranscodeArgs("/staging/a.mkv", "/staging/a_20260101T000000_01J.mkv")
	assert.Equal(t, []string{
		"-c:v", "h264_cuvid",
		"-i", "/staging/a.mkv",
		"-map", "0",
		"-c", "copy",
		"-c:v", "hevc_nvenc",
		"-preset", "slow",
		"/staging/a_20260101T000000_01J.mkv",
	}, args)
}

func TestTranscode_ExitCodes(t *testing.T) {
	job := models.TranscodeJob{ID: "job", StagedInput: "/s/in.mkv", StagedOutput: "/s/out.mkv"}

	ok := NewEngineWithPaths("ffmpeg", "ffprobe", &fakeRunner{stream: func(context.Context, string, LineSink, ...string) (int, error) {
		return 0, nil
	}}, nil)
	assert.NoError(t, ok.Transcode(context.Background(), job, 0, nil))

	failing := NewEngineWithPaths("ffmpeg", "ffprobe", &fakeRunner{stream: func(context.Context, string, LineSink, ...string) (int, error) {
		return 1, nil
	}}, nil)
	err := failing.Transcode(context.Background(), job, 0, nil)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.Code)
	assert.False(t, exitErr.TimedOut)
}

func TestTranscode_Timeout(t *testing.T) {
	runner := &fakeRunner{stream: func(ctx context.Context, _ string, _ LineSink, _ ...string) (int, error) {
		<-ctx.Done()
		return -1, ctx.Err()
	}}
	engine := NewEngineWithPaths("ffmpeg", "ffprobe", runner, nil)

	err := engine.Transcode(context.Background(), models.TranscodeJob{}, 10*time.Millisecond, nil)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.True(t, exitErr.TimedOut)
}

func TestTranscode_ParentCancelIsNotExitError(t *testing.T) {
	runner := &fakeRunner{stream: func(ctx context.Context, _ string, _ LineSink, _ ...string) (int, error) {
		<-ctx.Done()
		return -1, ctx.Err()
	}}
	engine := NewEngineWithPaths("ffmpeg", "ffprobe", runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := engine.Transcode(ctx, models.TranscodeJob{}, time.Minute, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecRunner_Run(t *testing.T) {
	sh := skipIfNoShell(t)
	runner := ExecRunner{}

	res, err := runner.Run(context.Background(), sh, "-c", "echo out; echo err >&2; exit 3")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)

	res, err = runner.Run(context.Background(), sh, "-c", "true")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
}

func TestExecRunner_SpawnFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-ffmpeg")
	runner := ExecRunner{}

	_, err := runner.Run(context.Background(), missing)
	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))

	_, err = runner.Stream(context.Background(), missing, nil)
	require.True(t, errors.As(err, &spawnErr))
}

func TestExecRunner_StreamMirrorsBothPipes(t *testing.T) {
	sh := skipIfNoShell(t)
	var c lineCollector

	code, err := ExecRunner{}.Stream(context.Background(), sh, c.sink,
		"-c", "echo one; echo two >&2; printf 'frame=1\\rframe=2\\n' >&2; exit 1")
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Equal(t, []string{"one"}, c.lines[Stdout])
	assert.Equal(t, []string{"two", "frame=1", "frame=2"}, c.lines[Stderr])
}

// A child that fills the stderr pipe before writing stdout only finishes if
// both pipes are drained concurrently.
func TestExecRunner_StreamDrainsConcurrently(t *testing.T) {
	sh := skipIfNoShell(t)

	script := `i=0; while [ $i -lt 4000 ]; do echo "stderr line $i padding padding padding" >&2; i=$((i+1)); done; echo done`
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var c lineCollector
	code, err := ExecRunner{}.Stream(ctx, sh, c.sink, "-c", script)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Len(t, c.lines[Stderr], 4000)
	assert.Equal(t, []string{"done"}, c.lines[Stdout])
}

func TestExecRunner_StreamCancel(t *testing.T) {
	sh := skipIfNoShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := ExecRunner{}.Stream(ctx, sh, nil, "-c", "exec sleep 10")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecRunner_StreamTimeoutKillsDescendants(t *testing.T) {
	sh := skipIfNoShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	// sleep runs as a child of sh and inherits both pipes.
	start := time.Now()
	code, err := ExecRunner{}.Stream(ctx, sh, nil, "-c", "sleep 10; true")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, code)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecRunner_RunTimeoutKillsDescendants(t *testing.T) {
	sh := skipIfNoShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := ExecRunner{}.Run(ctx, sh, "-c", "sleep 10; true")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, res.ExitCode)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestScanLinesOrCR(t *testing.T) {
	var c lineCollector
	err := drain(strings.NewReader("a\r\nb\rc\n\nd"), Stderr, c.sink)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, c.lines[Stderr])
}

func TestFindBinary(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))
	plain := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(plain, []byte("x"), 0o644))

	got, err := findBinary(exe, "ffmpeg", EnvFFmpegBinary)
	require.NoError(t, err)
	assert.Equal(t, exe, got)

	_, err = findBinary(plain, "ffmpeg", EnvFFmpegBinary)
	assert.ErrorIs(t, err, ErrBinaryNotFound)

	t.Setenv(EnvFFmpegBinary, exe)
	got, err = findBinary("", "ffmpeg", EnvFFmpegBinary)
	require.NoError(t, err)
	assert.Equal(t, exe, got)
}

func TestNewEngine_ConfiguredPaths(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := filepath.Join(dir, "ffmpeg")
	ffprobe := filepath.Join(dir, "ffprobe")
	for _, p := range []string{ffmpeg, ffprobe} {
		require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"), 0o755))
	}

	engine, err := NewEngine(config.FFmpegConfig{BinaryPath: ffmpeg, ProbePath: ffprobe}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ffmpeg, engine.FFmpegPath)
	assert.Equal(t, ffprobe, engine.FFprobePath)
	assert.Empty(t, engine.HardwareAcceleration())

	engine.HasHWAccel = true
	assert.Equal(t, []string{"hevc_nvenc"}, engine.HardwareAcceleration())

	_, err = NewEngine(config.FFmpegConfig{BinaryPath: ffmpeg, ProbePath: filepath.Join(dir, "missing")}, nil, nil)
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}
