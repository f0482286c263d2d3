package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vidsync/vidsync-server/internal/config"
	"github.com/vidsync/vidsync-server/internal/export"
	"github.com/vidsync/vidsync-server/internal/queue"
	"github.com/vidsync/vidsync-server/internal/store"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	// Exposed inputs are fetched by the remote service; tokens are
	// unguessable and short-lived, so this route carries no bearer auth.
	r.Get("/files/{token}", serveFileHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.History, cfg.Logger))

		r.Post("/sessions", createSessionHandler(cfg))
		r.Get("/sessions", listSessionsHandler(cfg))
		r.Get("/sessions/{id}", getSessionHandler(cfg))
		r.Delete("/sessions/{id}", deleteSessionHandler(cfg))

		r.Post("/sessions/{id}/segments", addSegmentHandler(cfg))
		r.Get("/sessions/{id}/segments", listSegmentsHandler(cfg))
		r.Delete("/segments/{id}", deleteSegmentHandler(cfg))
		r.Post("/segments/{id}/approval", approvalHandler(cfg))

		r.Post("/sessions/{id}/batch", enqueueBatchHandler(cfg))
		r.Get("/sessions/{id}/batch", batchStatusHandler(cfg))
		r.Delete("/sessions/{id}/batch", cancelBatchHandler(cfg))

		r.Post("/sessions/{id}/export", startExportHandler(cfg))
		r.Get("/sessions/{id}/export", exportStatusHandler(cfg))
		r.Delete("/sessions/{id}/export", cancelExportHandler(cfg))
		r.Get("/sessions/{id}/export/download", downloadExportHandler(cfg))

		r.Get("/sessions/{id}/history/segments", segmentHistoryHandler(cfg))
		r.Get("/sessions/{id}/history/exports", exportHistoryHandler(cfg))

		r.Get("/events", eventsHandler(cfg))
	})

	return r
}

// writeDomainError maps service-layer errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var notFound *store.NotFoundError
	var conflict *store.ConflictError
	switch {
	case errors.As(err, &notFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.As(err, &conflict):
		WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
	case errors.Is(err, queue.ErrBatchActive), errors.Is(err, export.ErrExportActive):
		WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
	case errors.Is(err, queue.ErrNoBatch), errors.Is(err, export.ErrNoExport):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func serveFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		cfg.Files.ServeHTTP(w, r, token)
	}
}

func createSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		meta, err := cfg.Toolkit.Probe(r.Context(), req.Path)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		sess := store.Session{
			ID:         uuid.NewString(),
			SourcePath: req.Path,
			Source:     *meta,
		}
		if err := cfg.Store.CreateSession(sess); err != nil {
			writeDomainError(w, err)
			return
		}

		created, err := cfg.Store.GetSession(sess.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, SessionToResponse(created))
	}
}

func listSessionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions := cfg.Store.ListSessions()
		resp := SessionsResponse{Sessions: make([]SessionResponse, len(sessions))}
		for i, s := range sessions {
			resp.Sessions[i] = SessionToResponse(s)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := cfg.Store.GetSession(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, SessionToResponse(sess))
	}
}

func deleteSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if cfg.Scheduler.Active(id) {
			WriteError(w, http.StatusConflict, "session has a running batch", "CONFLICT")
			return
		}
		if err := cfg.Store.DeleteSession(id); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func addSegmentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddSegmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		duration := req.End - req.Start
		if req.Start < 0 || duration < MinSegmentSeconds || duration > MaxSegmentSeconds {
			WriteError(w, http.StatusBadRequest,
				"segment duration must be between 0.5 and 60 seconds", "BAD_REQUEST")
			return
		}

		seg := store.Segment{
			ID:        uuid.NewString(),
			SessionID: chi.URLParam(r, "id"),
			Start:     req.Start,
			End:       req.End,
		}
		if err := cfg.Store.AddSegment(seg); err != nil {
			writeDomainError(w, err)
			return
		}

		created, err := cfg.Store.GetSegment(seg.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, SegmentToResponse(created))
	}
}

func listSegmentsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		segs, err := cfg.Store.SegmentsForSession(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp := SegmentsResponse{Segments: make([]SegmentResponse, len(segs))}
		for i, s := range segs {
			resp.Segments[i] = SegmentToResponse(s)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func deleteSegmentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Store.DeleteSegment(chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func approvalHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ApprovalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		approval := store.Approval(req.Approval)
		if approval != store.ApprovalApproved && approval != store.ApprovalRejected {
			WriteError(w, http.StatusBadRequest, "approval must be approved or rejected", "BAD_REQUEST")
			return
		}

		id := chi.URLParam(r, "id")
		if err := cfg.Store.SetApproval(id, approval); err != nil {
			writeDomainError(w, err)
			return
		}

		seg, err := cfg.Store.GetSegment(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, SegmentToResponse(seg))
	}
}

func enqueueBatchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EnqueueBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if len(req.SegmentIDs) == 0 {
			WriteError(w, http.StatusBadRequest, "segment_ids is required", "BAD_REQUEST")
			return
		}

		sessionID := chi.URLParam(r, "id")
		if err := cfg.Scheduler.StartBatch(r.Context(), sessionID, req.SegmentIDs); err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, EnqueueBatchResponse{SessionID: sessionID, Accepted: len(req.SegmentIDs)})
	}
}

func batchStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")
		segs, err := cfg.Store.SegmentsForSession(sessionID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp := BatchStatusResponse{
			SessionID: sessionID,
			Active:    cfg.Scheduler.Active(sessionID),
			Segments:  make([]SegmentResponse, len(segs)),
		}
		for i, s := range segs {
			resp.Segments[i] = SegmentToResponse(s)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func cancelBatchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Scheduler.Cancel(chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func startExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exportID, err := cfg.Exporter.Start(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, StartExportResponse{ExportID: exportID})
	}
}

func exportStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := cfg.Exporter.Status(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ExportToResponse(snap))
	}
}

func cancelExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Exporter.Cancel(chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func downloadExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")
		path, err := cfg.Exporter.OutputPath(sessionID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		http.ServeFile(w, r, path)

		if err := cfg.Exporter.MarkDownloaded(sessionID); err != nil {
			cfg.Logger.Warn("failed to schedule export cleanup", "session_id", sessionID, "error", err)
		}
	}
}

func segmentHistoryHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := cfg.History.SegmentRuns(r.Context(), chi.URLParam(r, "id"), parseLimit(r))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list segment runs", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, SegmentHistoryResponse{Runs: runs})
	}
}

func exportHistoryHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := cfg.History.ExportRuns(r.Context(), chi.URLParam(r, "id"), parseLimit(r))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list export runs", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, ExportHistoryResponse{Runs: runs})
	}
}

func eventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var since int64
		if raw := r.URL.Query().Get("since"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "invalid since parameter", "BAD_REQUEST")
				return
			}
			since = n
		}
		WriteJSON(w, http.StatusOK, EventsResponse{Events: cfg.Bus.Since(since)})
	}
}

func parseLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}
