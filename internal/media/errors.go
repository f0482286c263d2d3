package media

import (
	"errors"
	"fmt"
)

var errNoVideoStream = errors.New("no video stream")

// ProbeError reports a file that ffprobe could not read or that lacks a
// video stream.
type ProbeError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ProbeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("probe %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("probe %s: %s", e.Path, e.Reason)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// ToolError reports a failed ffmpeg invocation with the tool's diagnostic
// output. The driver never retries; retry policy belongs to the caller.
type ToolError struct {
	Op         string
	ExitCode   int
	StderrTail string
	Err        error
}

func (e *ToolError) Error() string {
	if e.StderrTail != "" {
		return fmt.Sprintf("%s: ffmpeg exited %d: %s", e.Op, e.ExitCode, e.StderrTail)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}
