package media

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// Concat joins the inputs into dst in order. When every input already shares
// one media profile the join is a lossless stream copy; a mixed set (for
// example untouched originals next to remote-service output) is normalized
// to the canonical profile first and then stream-copied. For the mixed
// strategy roughly 70% of the progress range covers normalization and the
// rest the final concat, apportioned per input by duration.
func (t *FFmpegToolkit) Concat(ctx context.Context, inputs []string, dst string, onProgress ProgressFunc) error {
	onProgress = progressOrNop(onProgress)

	if len(inputs) == 0 {
		return &ToolError{Op: "concat", Err: fmt.Errorf("no inputs")}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return &ToolError{Op: "concat", Err: err}
	}

	metas := make([]*Metadata, len(inputs))
	total := 0.0
	for i, in := range inputs {
		meta, err := t.Probe(ctx, in)
		if err != nil {
			return err
		}
		metas[i] = meta
		total += meta.Duration
	}

	if uniformProfile(metas) {
		return t.copyConcat(ctx, inputs, dst, total, onProgress)
	}

	tmpDir, err := os.MkdirTemp(filepath.Dir(dst), "concat-norm-*")
	if err != nil {
		return &ToolError{Op: "concat", Err: err}
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			t.logger.Warn("failed to remove concat temp dir", "dir", tmpDir, "error", err)
		}
	}()

	normalized := make([]string, len(inputs))
	done := 0.0
	for i, in := range inputs {
		out := filepath.Join(tmpDir, fmt.Sprintf("norm-%03d.mp4", i))
		base := done
		share := metas[i].Duration / total
		err := t.normalize(ctx, in, out, func(pct float64) {
			onProgress((base + share*pct/100) * 70)
		})
		if err != nil {
			return err
		}
		normalized[i] = out
		done += share
	}

	return t.copyConcat(ctx, normalized, dst, total, func(pct float64) {
		onProgress(70 + pct*0.3)
	})
}

// copyConcat stream-copies the inputs via the concat demuxer. Valid only
// when all inputs share one profile.
func (t *FFmpegToolkit) copyConcat(ctx context.Context, inputs []string, dst string, totalDuration float64, onProgress ProgressFunc) error {
	listPath, err := writeConcatList(inputs, dst)
	if err != nil {
		return &ToolError{Op: "concat", Err: err}
	}
	defer func() {
		if err := os.Remove(listPath); err != nil {
			t.logger.Warn("failed to remove concat list", "path", listPath, "error", err)
		}
	}()

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		dst,
	}

	t.logger.Debug("concatenating clips", "inputs", len(inputs), "dst", dst)
	return t.runFFmpeg(ctx, "concat", totalDuration, onProgress, args)
}

// writeConcatList writes a concat demuxer list next to dst.
func writeConcatList(inputs []string, dst string) (string, error) {
	var b strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}

	f, err := os.CreateTemp(filepath.Dir(dst), "concat-*.txt")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// uniformProfile reports whether all inputs share codec, dimensions and
// frame rate, which is the precondition for stream-copy concatenation.
func uniformProfile(metas []*Metadata) bool {
	first := metas[0]
	for _, m := range metas[1:] {
		if m.Codec != first.Codec || m.Width != first.Width || m.Height != first.Height {
			return false
		}
		if math.Abs(m.FrameRate-first.FrameRate) > 0.01 {
			return false
		}
	}
	return true
}
