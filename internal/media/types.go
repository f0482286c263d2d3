// Package media drives the external ffmpeg/ffprobe toolkit: probing
// metadata, frame-accurate range extraction, audio extraction, profile
// normalization, concatenation, and the timeline split used by export.
package media

// Metadata describes the container and primary video stream of a media file.
type Metadata struct {
	Duration  float64 `json:"duration"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FrameRate float64 `json:"frame_rate"`
	Codec     string  `json:"codec"`
	Container string  `json:"container"`
	SizeBytes int64   `json:"size_bytes"`
}

// ProgressFunc receives fractional progress in the 0-100 range. Callbacks
// may arrive from a goroutine reading encoder output; implementations must
// be safe for that.
type ProgressFunc func(percent float64)

// Range is one span of the source timeline handled by SplitAtRanges. A
// non-empty ReplacementPath substitutes that clip for the original span.
type Range struct {
	Start           float64
	End             float64
	ReplacementPath string
}

// Canonical output profile. Heterogeneous concat inputs are re-encoded to
// this profile so the final pass can stream-copy.
const (
	canonicalWidth      = 1920
	canonicalHeight     = 1080
	canonicalFrameRate  = 30
	canonicalPixelFmt   = "yuv420p"
	canonicalColorSpace = "bt709"
	canonicalVideoRate  = "6000k"
	canonicalAudioCodec = "aac"
	canonicalAudioRate  = "192k"
	canonicalSampleRate = 44100
	canonicalChannels   = 2
)

func nilProgress(float64) {}

// progressOrNop guards optional callbacks.
func progressOrNop(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return nilProgress
	}
	return fn
}
