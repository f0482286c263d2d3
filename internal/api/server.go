package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vidsync/vidsync-server/internal/events"
	"github.com/vidsync/vidsync-server/internal/export"
	"github.com/vidsync/vidsync-server/internal/history"
	"github.com/vidsync/vidsync-server/internal/media"
	"github.com/vidsync/vidsync-server/internal/store"
)

// BatchScheduler is the queue surface the API drives.
type BatchScheduler interface {
	StartBatch(ctx context.Context, sessionID string, segmentIDs []string) error
	Cancel(sessionID string) error
	Active(sessionID string) bool
}

// ExportService is the export surface the API drives.
type ExportService interface {
	Start(ctx context.Context, sessionID string) (string, error)
	Status(sessionID string) (*export.Snapshot, error)
	Cancel(sessionID string) error
	OutputPath(sessionID string) (string, error)
	MarkDownloaded(sessionID string) error
}

// FileServer serves exposed files by token.
type FileServer interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request, token string)
}

// HistoryStore is the diagnostic ledger surface the API reads.
type HistoryStore interface {
	TokenSource
	SegmentRuns(ctx context.Context, sessionID string, limit int) ([]history.SegmentRun, error)
	ExportRuns(ctx context.Context, sessionID string, limit int) ([]history.ExportRun, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port      int
	Store     *store.Store
	Toolkit   media.Toolkit
	Scheduler BatchScheduler
	Exporter  ExportService
	Files     FileServer
	Bus       *events.Bus
	History   HistoryStore
	Logger    *slog.Logger
	StartTime time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
