package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ExtractRange cuts [start, start+duration) out of src into dst. The cut
// re-encodes rather than stream-copies so the boundaries land on exact
// timestamps instead of the nearest keyframe.
func (t *FFmpegToolkit) ExtractRange(ctx context.Context, src, dst string, start, duration float64, onProgress ProgressFunc) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return &ToolError{Op: "extract range", Err: err}
	}

	args := []string{
		"-ss", formatSeconds(start),
		"-i", src,
		"-t", formatSeconds(duration),
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "18",
		"-pix_fmt", canonicalPixelFmt,
		"-c:a", canonicalAudioCodec,
		"-b:a", canonicalAudioRate,
		"-ar", fmt.Sprintf("%d", canonicalSampleRate),
		"-ac", fmt.Sprintf("%d", canonicalChannels),
		"-movflags", "+faststart",
		dst,
	}

	t.logger.Debug("extracting range", "src", src, "dst", dst, "start", start, "duration", duration)
	return t.runFFmpeg(ctx, "extract range", duration, onProgress, args)
}

// ExtractAudio produces the uncompressed 44.1 kHz stereo track the remote
// service expects from a clip.
func (t *FFmpegToolkit) ExtractAudio(ctx context.Context, clip, dst string, onProgress ProgressFunc) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return &ToolError{Op: "extract audio", Err: err}
	}

	meta, err := t.Probe(ctx, clip)
	if err != nil {
		return err
	}

	args := []string{
		"-i", clip,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprintf("%d", canonicalSampleRate),
		"-ac", fmt.Sprintf("%d", canonicalChannels),
		dst,
	}

	t.logger.Debug("extracting audio", "clip", clip, "dst", dst)
	return t.runFFmpeg(ctx, "extract audio", meta.Duration, onProgress, args)
}

// Normalize re-encodes src to the canonical video and audio profile so it
// can be stream-copy concatenated with other normalized clips.
func (t *FFmpegToolkit) Normalize(ctx context.Context, src, dst string) error {
	return t.normalize(ctx, src, dst, nil)
}

func (t *FFmpegToolkit) normalize(ctx context.Context, src, dst string, onProgress ProgressFunc) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return &ToolError{Op: "normalize", Err: err}
	}

	meta, err := t.Probe(ctx, src)
	if err != nil {
		return err
	}

	scale := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		canonicalWidth, canonicalHeight, canonicalWidth, canonicalHeight)

	args := []string{
		"-i", src,
		"-vf", scale,
		"-r", fmt.Sprintf("%d", canonicalFrameRate),
		"-c:v", "libx264",
		"-preset", "fast",
		"-b:v", canonicalVideoRate,
		"-pix_fmt", canonicalPixelFmt,
		"-colorspace", canonicalColorSpace,
		"-color_primaries", canonicalColorSpace,
		"-color_trc", canonicalColorSpace,
		"-c:a", canonicalAudioCodec,
		"-b:a", canonicalAudioRate,
		"-ar", fmt.Sprintf("%d", canonicalSampleRate),
		"-ac", fmt.Sprintf("%d", canonicalChannels),
		"-movflags", "+faststart",
		dst,
	}

	t.logger.Debug("normalizing clip", "src", src, "dst", dst)
	return t.runFFmpeg(ctx, "normalize", meta.Duration, onProgress, args)
}

func formatSeconds(v float64) string {
	return fmt.Sprintf("%.3f", v)
}
