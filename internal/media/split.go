package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// boundaryEpsilon absorbs floating point jitter when comparing timeline
// positions.
const boundaryEpsilon = 1e-3

// timelinePart is one contiguous piece of the assembled output: either an
// original sub-range to extract or a caller-supplied replacement clip.
type timelinePart struct {
	start    float64 // original extraction only
	duration float64 // original extraction only
	path     string  // set for replacement parts
}

func (p timelinePart) isReplacement() bool {
	return p.path != ""
}

// planTimeline partitions the source timeline into ordered parts: kept
// original spans (gaps between ranges, un-replaced ranges, the trailing
// remainder) and replacement clips. Ranges must be ordered and
// non-overlapping.
func planTimeline(srcDuration float64, ranges []Range) ([]timelinePart, error) {
	sorted := append([]Range(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var parts []timelinePart
	cursor := 0.0

	for i, r := range sorted {
		if r.End <= r.Start {
			return nil, fmt.Errorf("range %d: end %.3f not after start %.3f", i, r.End, r.Start)
		}
		if r.Start < cursor-boundaryEpsilon {
			return nil, fmt.Errorf("range %d: start %.3f overlaps previous range", i, r.Start)
		}
		if r.Start > srcDuration+boundaryEpsilon {
			return nil, fmt.Errorf("range %d: start %.3f beyond source duration %.3f", i, r.Start, srcDuration)
		}

		if gap := r.Start - cursor; gap > boundaryEpsilon {
			parts = append(parts, timelinePart{start: cursor, duration: gap})
		}

		end := r.End
		if end > srcDuration {
			end = srcDuration
		}
		if r.ReplacementPath != "" {
			parts = append(parts, timelinePart{path: r.ReplacementPath})
		} else {
			parts = append(parts, timelinePart{start: r.Start, duration: end - r.Start})
		}
		cursor = end
	}

	if tail := srcDuration - cursor; tail > boundaryEpsilon {
		parts = append(parts, timelinePart{start: cursor, duration: tail})
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("empty timeline plan")
	}
	return parts, nil
}

// SplitAtRanges assembles dst from the source timeline: original footage is
// extracted for every span without a replacement, replacement clips are used
// as-is (their actual duration stands in for the requested span, so remote
// duration drift never desynchronizes later original spans), and everything
// is concatenated in order. Per-part extractions are deleted after the final
// concat; replacement clips are never deleted.
func (t *FFmpegToolkit) SplitAtRanges(ctx context.Context, src string, ranges []Range, dst string, onProgress ProgressFunc) error {
	onProgress = progressOrNop(onProgress)

	srcMeta, err := t.Probe(ctx, src)
	if err != nil {
		return err
	}

	parts, err := planTimeline(srcMeta.Duration, ranges)
	if err != nil {
		return &ToolError{Op: "split at ranges", Err: err}
	}

	tmpDir, err := os.MkdirTemp(filepath.Dir(dst), "split-*")
	if err != nil {
		return &ToolError{Op: "split at ranges", Err: err}
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			t.logger.Warn("failed to remove split temp dir", "dir", tmpDir, "error", err)
		}
	}()

	extractTotal := 0.0
	for _, p := range parts {
		if !p.isReplacement() {
			extractTotal += p.duration
		}
	}

	// Extraction covers the first half of the progress range, the concat
	// (which itself normalizes when the set is heterogeneous) the rest.
	inputs := make([]string, 0, len(parts))
	extracted := 0.0
	for i, p := range parts {
		if p.isReplacement() {
			if _, err := t.Probe(ctx, p.path); err != nil {
				return err
			}
			inputs = append(inputs, p.path)
			continue
		}

		out := filepath.Join(tmpDir, fmt.Sprintf("part-%03d.mp4", i))
		base := extracted
		err := t.ExtractRange(ctx, src, out, p.start, p.duration, func(pct float64) {
			if extractTotal > 0 {
				onProgress((base + p.duration*pct/100) / extractTotal * 50)
			}
		})
		if err != nil {
			return err
		}
		inputs = append(inputs, out)
		extracted += p.duration
	}

	return t.Concat(ctx, inputs, dst, func(pct float64) {
		onProgress(50 + pct/2)
	})
}
