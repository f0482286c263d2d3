package api

import (
	"time"

	"github.com/vidsync/vidsync-server/internal/events"
	"github.com/vidsync/vidsync-server/internal/export"
	"github.com/vidsync/vidsync-server/internal/history"
	"github.com/vidsync/vidsync-server/internal/media"
	"github.com/vidsync/vidsync-server/internal/store"
)

// Segment duration policy, enforced at the API boundary.
const (
	MinSegmentSeconds = 0.5
	MaxSegmentSeconds = 60.0
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type CreateSessionRequest struct {
	Path string `json:"path"`
}

type SessionResponse struct {
	ID         string         `json:"id"`
	SourcePath string         `json:"source_path"`
	Source     media.Metadata `json:"source"`
	SegmentIDs []string       `json:"segment_ids"`
	CreatedAt  string         `json:"created_at"`
	UpdatedAt  string         `json:"updated_at"`
}

type SessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type AddSegmentRequest struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type SegmentResponse struct {
	ID              string  `json:"id"`
	SessionID       string  `json:"session_id"`
	Start           float64 `json:"start"`
	End             float64 `json:"end"`
	Duration        float64 `json:"duration"`
	Status          string  `json:"status"`
	Approval        string  `json:"approval"`
	Error           string  `json:"error,omitempty"`
	Retries         int     `json:"retries"`
	TransformedPath string  `json:"transformed_path,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

type SegmentsResponse struct {
	Segments []SegmentResponse `json:"segments"`
}

type ApprovalRequest struct {
	Approval string `json:"approval"`
}

type EnqueueBatchRequest struct {
	SegmentIDs []string `json:"segment_ids"`
}

type EnqueueBatchResponse struct {
	SessionID string `json:"session_id"`
	Accepted  int    `json:"accepted"`
}

type BatchStatusResponse struct {
	SessionID string            `json:"session_id"`
	Active    bool              `json:"active"`
	Segments  []SegmentResponse `json:"segments"`
}

type StartExportResponse struct {
	ExportID string `json:"export_id"`
}

type ExportStatusResponse struct {
	ExportID  string  `json:"export_id"`
	SessionID string  `json:"session_id"`
	Status    string  `json:"status"`
	Progress  float64 `json:"progress"`
	Error     string  `json:"error,omitempty"`
	StartedAt string  `json:"started_at"`
}

type EventsResponse struct {
	Events []events.Event `json:"events"`
}

type SegmentHistoryResponse struct {
	Runs []history.SegmentRun `json:"runs"`
}

type ExportHistoryResponse struct {
	Runs []history.ExportRun `json:"runs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func SessionToResponse(s *store.Session) SessionResponse {
	return SessionResponse{
		ID:         s.ID,
		SourcePath: s.SourcePath,
		Source:     s.Source,
		SegmentIDs: s.SegmentIDs,
		CreatedAt:  s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  s.UpdatedAt.Format(time.RFC3339),
	}
}

func SegmentToResponse(s *store.Segment) SegmentResponse {
	return SegmentResponse{
		ID:              s.ID,
		SessionID:       s.SessionID,
		Start:           s.Start,
		End:             s.End,
		Duration:        s.Duration(),
		Status:          string(s.Status),
		Approval:        string(s.Approval),
		Error:           s.Error,
		Retries:         s.Retries,
		TransformedPath: s.TransformedPath,
		CreatedAt:       s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       s.UpdatedAt.Format(time.RFC3339),
	}
}

func ExportToResponse(s *export.Snapshot) ExportStatusResponse {
	return ExportStatusResponse{
		ExportID:  s.ExportID,
		SessionID: s.SessionID,
		Status:    string(s.Status),
		Progress:  s.Progress,
		Error:     s.Error,
		StartedAt: s.StartedAt.Format(time.RFC3339),
	}
}
