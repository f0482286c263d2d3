package store

import (
	"time"

	"github.com/vidsync/vidsync-server/internal/media"
)

// Status is the processing lifecycle state of a segment. Transitions are
// linear (pending -> extracting -> uploading -> processing -> complete) with
// failed reachable from any active state. Re-entry into extracting is only
// allowed from pending or failed: a retry re-runs the pipeline from the top.
type Status string

const (
	StatusPending    Status = "pending"
	StatusExtracting Status = "extracting"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Approval is the review decision for a completed segment, orthogonal to the
// processing lifecycle.
type Approval string

const (
	ApprovalPending  Approval = "pending"
	ApprovalApproved Approval = "approved"
	ApprovalRejected Approval = "rejected"
)

// Session is one uploaded source video and its ordered segments.
type Session struct {
	ID         string         `json:"id"`
	SourcePath string         `json:"source_path"`
	Source     media.Metadata `json:"source"`
	SegmentIDs []string       `json:"segment_ids"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Segment is one user-chosen time range of a session's source video. Clip
// paths are populated as the pipeline advances and are never cleared once
// set, so a retry can observe what a previous run produced.
type Segment struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`

	Start float64 `json:"start"`
	End   float64 `json:"end"`

	SourcePath      string `json:"source_path"`
	ExtractedPath   string `json:"extracted_path,omitempty"`
	AudioPath       string `json:"audio_path,omitempty"`
	TransformedPath string `json:"transformed_path,omitempty"`

	Status   Status   `json:"status"`
	Approval Approval `json:"approval"`
	Error    string   `json:"error,omitempty"`
	Retries  int      `json:"retries"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration returns the requested segment length in seconds.
func (s *Segment) Duration() float64 {
	return s.End - s.Start
}

// Active reports whether the segment is currently moving through the
// pipeline.
func (s Status) Active() bool {
	switch s {
	case StatusExtracting, StatusUploading, StatusProcessing:
		return true
	default:
		return false
	}
}

// validTransition enforces the segment state machine edges.
func validTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusExtracting
	case StatusExtracting:
		return to == StatusUploading || to == StatusFailed
	case StatusUploading:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusComplete || to == StatusFailed
	case StatusFailed:
		return to == StatusExtracting
	default:
		return false
	}
}
