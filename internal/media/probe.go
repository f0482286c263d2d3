package media

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"
)

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
}

type ffprobeFormat struct {
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
	Size       string `json:"size"`
}

// Probe returns duration, dimensions, average frame rate, codec, container
// and byte size of the primary video stream. Files without a video stream
// fail with a ProbeError.
func (t *FFmpegToolkit) Probe(ctx context.Context, path string) (*Metadata, error) {
	cmd := exec.CommandContext(ctx, t.ffprobePath,
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, &ProbeError{Path: path, Reason: "ffprobe failed", Err: err}
	}

	var ff ffprobeOutput
	if err := json.Unmarshal(output, &ff); err != nil {
		return nil, &ProbeError{Path: path, Reason: "unreadable ffprobe output", Err: err}
	}

	meta, err := metadataFromProbe(ff)
	if err != nil {
		return nil, &ProbeError{Path: path, Reason: err.Error()}
	}
	return meta, nil
}

func metadataFromProbe(ff ffprobeOutput) (*Metadata, error) {
	meta := &Metadata{
		Container: ff.Format.FormatName,
	}

	if dur, err := strconv.ParseFloat(ff.Format.Duration, 64); err == nil {
		meta.Duration = dur
	}
	if size, err := strconv.ParseInt(ff.Format.Size, 10, 64); err == nil {
		meta.SizeBytes = size
	}

	found := false
	for _, s := range ff.Streams {
		if s.CodecType != "video" {
			continue
		}
		meta.Codec = s.CodecName
		meta.Width = s.Width
		meta.Height = s.Height
		meta.FrameRate = parseFrameRate(s.RFrameRate)
		found = true
		break
	}
	if !found {
		return nil, errNoVideoStream
	}

	return meta, nil
}

// parseFrameRate parses a rational frame rate string such as "30000/1001".
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, _ := strconv.ParseFloat(num, 64)
	d, _ := strconv.ParseFloat(den, 64)
	if d == 0 {
		return 0
	}
	return n / d
}
