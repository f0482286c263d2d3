package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

const maxStderrBytes = 8 * 1024 // tail of stderr kept for diagnostics

// Toolkit is the media transform contract the pipeline and export layers
// depend on.
type Toolkit interface {
	Probe(ctx context.Context, path string) (*Metadata, error)
	ExtractRange(ctx context.Context, src, dst string, start, duration float64, onProgress ProgressFunc) error
	ExtractAudio(ctx context.Context, clip, dst string, onProgress ProgressFunc) error
	Normalize(ctx context.Context, src, dst string) error
	Concat(ctx context.Context, inputs []string, dst string, onProgress ProgressFunc) error
	SplitAtRanges(ctx context.Context, src string, ranges []Range, dst string, onProgress ProgressFunc) error
}

// FFmpegToolkit is the production Toolkit backed by the ffmpeg and ffprobe
// binaries.
type FFmpegToolkit struct {
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

// NewFFmpegToolkit creates a toolkit using the given binary paths. Empty
// paths fall back to lookup on PATH.
func NewFFmpegToolkit(ffmpegPath, ffprobePath string, logger *slog.Logger) *FFmpegToolkit {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegToolkit{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, logger: logger}
}

// runFFmpeg executes one ffmpeg invocation, streaming `-progress` key/value
// output from stdout into the callback. totalDuration scales the encoder's
// reported wall time into 0-100.
func (t *FFmpegToolkit) runFFmpeg(ctx context.Context, op string, totalDuration float64, onProgress ProgressFunc, args []string) error {
	onProgress = progressOrNop(onProgress)

	full := append([]string{"-hide_banner", "-nostats", "-loglevel", "error", "-y"}, args...)
	full = append(full, "-progress", "pipe:1")

	cmd := exec.CommandContext(ctx, t.ffmpegPath, full...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &ToolError{Op: op, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &ToolError{Op: op, Err: fmt.Errorf("start ffmpeg: %w", err)}
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if pct, ok := parseProgressLine(scanner.Text(), totalDuration); ok {
			onProgress(pct)
		}
	}

	if err := cmd.Wait(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &ToolError{
			Op:         op,
			ExitCode:   exitCode,
			StderrTail: stderrTail(stderr.String()),
			Err:        err,
		}
	}

	onProgress(100)
	return nil
}

// parseProgressLine extracts a percentage from one `-progress` line.
// ffmpeg reports out_time_us (and a misnamed out_time_ms twin) in
// microseconds.
func parseProgressLine(line string, totalDuration float64) (float64, bool) {
	if totalDuration <= 0 {
		return 0, false
	}

	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return 0, false
	}
	if key != "out_time_us" && key != "out_time_ms" {
		return 0, false
	}

	us, err := strconv.ParseInt(value, 10, 64)
	if err != nil || us < 0 {
		return 0, false
	}

	pct := float64(us) / 1e6 / totalDuration * 100
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxStderrBytes {
		return s
	}
	return s[len(s)-maxStderrBytes:]
}
