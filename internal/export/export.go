// Package export assembles a session's final deliverable: approved segments
// are replaced by their resynthesized clips, rejected spans keep the original
// footage, and everything is stitched back into one continuous file. At most
// one export runs per session; the output lives until it is downloaded (plus
// a grace period) or cancelled.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vidsync/vidsync-server/internal/events"
	"github.com/vidsync/vidsync-server/internal/history"
	"github.com/vidsync/vidsync-server/internal/logging"
	"github.com/vidsync/vidsync-server/internal/media"
	"github.com/vidsync/vidsync-server/internal/store"
)

// ErrExportActive reports a second export request for a session that already
// has one running.
var ErrExportActive = errors.New("export already active for session")

// ErrNoExport reports a status, download, or cancel request for a session
// without a known export.
var ErrNoExport = errors.New("no export for session")

// Status is the lifecycle of one export job.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Snapshot is the caller-visible view of an export job.
type Snapshot struct {
	ExportID   string    `json:"export_id"`
	SessionID  string    `json:"session_id"`
	OutputPath string    `json:"output_path,omitempty"`
	Status     Status    `json:"status"`
	Progress   float64   `json:"progress"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// RunRecorder persists diagnostic records of finished exports.
type RunRecorder interface {
	RecordExportRun(ctx context.Context, run history.ExportRun) error
}

// Exporter runs at most one export per session.
type Exporter struct {
	store    *store.Store
	toolkit  media.Toolkit
	sink     events.Sink
	recorder RunRecorder
	logger   *slog.Logger

	exportsDir  string
	gracePeriod time.Duration

	mu   sync.Mutex
	jobs map[string]*job
	now  func() time.Time
}

type job struct {
	id         string
	sessionID  string
	outputPath string
	status     Status
	progress   float64
	err        string
	startedAt  time.Time

	cancel  context.CancelFunc
	done    chan struct{}
	cleanup *time.Timer
}

// Config wires an Exporter.
type Config struct {
	Store       *store.Store
	Toolkit     media.Toolkit
	Sink        events.Sink
	Recorder    RunRecorder // optional
	Logger      *slog.Logger
	ExportsDir  string
	GracePeriod time.Duration
}

func New(cfg Config) *Exporter {
	return &Exporter{
		store:       cfg.Store,
		toolkit:     cfg.Toolkit,
		sink:        cfg.Sink,
		recorder:    cfg.Recorder,
		logger:      logging.WithComponent(cfg.Logger, "export"),
		exportsDir:  cfg.ExportsDir,
		gracePeriod: cfg.GracePeriod,
		jobs:        make(map[string]*job),
		now:         time.Now,
	}
}

// Start validates that every segment has been reviewed, builds the ordered
// replacement range list, and begins assembling the output in the background.
// It returns the export id, or an error when the session has unreviewed
// segments or an export already running.
func (e *Exporter) Start(ctx context.Context, sessionID string) (string, error) {
	sess, err := e.store.GetSession(sessionID)
	if err != nil {
		return "", err
	}
	segs, err := e.store.SegmentsForSession(sessionID)
	if err != nil {
		return "", err
	}

	ranges := make([]media.Range, 0, len(segs))
	for _, seg := range segs {
		switch seg.Approval {
		case store.ApprovalApproved:
			if seg.TransformedPath == "" {
				return "", &store.ConflictError{Reason: fmt.Sprintf("segment %s approved but has no transformed clip", seg.ID)}
			}
			ranges = append(ranges, media.Range{Start: seg.Start, End: seg.End, ReplacementPath: seg.TransformedPath})
		case store.ApprovalRejected:
			ranges = append(ranges, media.Range{Start: seg.Start, End: seg.End})
		default:
			return "", &store.ConflictError{Reason: fmt.Sprintf("segment %s has not been reviewed", seg.ID)}
		}
	}

	exportID := uuid.NewString()
	j := &job{
		id:         exportID,
		sessionID:  sessionID,
		outputPath: filepath.Join(e.exportsDir, sessionID, exportID+".mp4"),
		status:     StatusRunning,
		startedAt:  e.now(),
		done:       make(chan struct{}),
	}

	e.mu.Lock()
	if prev, ok := e.jobs[sessionID]; ok {
		if prev.status == StatusRunning {
			e.mu.Unlock()
			return "", ErrExportActive
		}
		e.dropLocked(prev)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j.cancel = cancel
	e.jobs[sessionID] = j
	e.mu.Unlock()

	go e.run(runCtx, j, sess.SourcePath, ranges)
	return exportID, nil
}

func (e *Exporter) run(ctx context.Context, j *job, sourcePath string, ranges []media.Range) {
	logger := logging.WithExportID(logging.WithSessionID(e.logger, j.sessionID), j.id)
	logger.Info("export started", "ranges", len(ranges), "output", logging.SanitizePath(j.outputPath))

	err := os.MkdirAll(filepath.Dir(j.outputPath), 0o755)
	if err == nil {
		err = e.toolkit.SplitAtRanges(ctx, sourcePath, ranges, j.outputPath, func(pct float64) {
			e.mu.Lock()
			j.progress = pct
			e.mu.Unlock()
			e.sink.Publish(events.Event{
				Type:      events.TypeExportProgress,
				SessionID: j.sessionID,
				ExportID:  j.id,
				Progress:  pct,
			})
		})
	}

	duration := e.now().Sub(j.startedAt)
	if err != nil {
		if rmErr := os.Remove(j.outputPath); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("failed to remove partial export output", "error", rmErr)
		}
		e.mu.Lock()
		j.status = StatusFailed
		j.err = err.Error()
		close(j.done)
		e.mu.Unlock()

		logger.Error("export failed", "error", err, "duration", duration)
		e.sink.Publish(events.Event{
			Type:      events.TypeExportFailed,
			SessionID: j.sessionID,
			ExportID:  j.id,
			Error:     err.Error(),
		})
		e.record(ctx, history.ExportRun{
			SessionID: j.sessionID,
			ExportID:  j.id,
			Outcome:   history.OutcomeFailed,
			Error:     err.Error(),
			StartedAt: j.startedAt,
			Duration:  duration,
		})
		return
	}

	e.mu.Lock()
	j.status = StatusComplete
	j.progress = 100
	close(j.done)
	e.mu.Unlock()

	logger.Info("export completed", "duration", duration)
	e.sink.Publish(events.Event{
		Type:         events.TypeExportCompleted,
		SessionID:    j.sessionID,
		ExportID:     j.id,
		Progress:     100,
		DownloadPath: j.outputPath,
	})
	e.record(ctx, history.ExportRun{
		SessionID:  j.sessionID,
		ExportID:   j.id,
		Outcome:    history.OutcomeCompleted,
		OutputPath: j.outputPath,
		StartedAt:  j.startedAt,
		Duration:   duration,
	})
}

// Status returns the current snapshot of the session's export.
func (e *Exporter) Status(sessionID string) (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[sessionID]
	if !ok {
		return nil, ErrNoExport
	}
	return &Snapshot{
		ExportID:   j.id,
		SessionID:  j.sessionID,
		OutputPath: j.outputPath,
		Status:     j.status,
		Progress:   j.progress,
		Error:      j.err,
		StartedAt:  j.startedAt,
	}, nil
}

// OutputPath returns the finished deliverable's path for streaming to the
// caller. It fails while the export is still running or after it failed.
func (e *Exporter) OutputPath(sessionID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[sessionID]
	if !ok {
		return "", ErrNoExport
	}
	if j.status != StatusComplete {
		return "", &store.ConflictError{Reason: fmt.Sprintf("export is %s", j.status)}
	}
	return j.outputPath, nil
}

// MarkDownloaded schedules removal of the export output after the grace
// period. Repeated calls reset the timer.
func (e *Exporter) MarkDownloaded(sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[sessionID]
	if !ok {
		return ErrNoExport
	}
	if j.status != StatusComplete {
		return &store.ConflictError{Reason: fmt.Sprintf("export is %s", j.status)}
	}
	if j.cleanup != nil {
		j.cleanup.Stop()
	}
	j.cleanup = time.AfterFunc(e.gracePeriod, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if cur, ok := e.jobs[sessionID]; ok && cur == j {
			e.dropLocked(j)
			delete(e.jobs, sessionID)
		}
	})
	return nil
}

// Cancel stops a running export, or discards a finished one immediately. The
// output file is removed either way.
func (e *Exporter) Cancel(sessionID string) error {
	e.mu.Lock()
	j, ok := e.jobs[sessionID]
	if !ok {
		e.mu.Unlock()
		return ErrNoExport
	}
	running := j.status == StatusRunning
	if running {
		j.cancel()
	}
	e.mu.Unlock()

	if running {
		<-j.done
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.jobs[sessionID]; ok && cur == j {
		e.dropLocked(j)
		delete(e.jobs, sessionID)
	}
	e.logger.Info("export cancelled", "session_id", sessionID, "export_id", j.id)
	return nil
}

// Wait blocks until the session's export settles. Returns immediately when
// no export is known.
func (e *Exporter) Wait(sessionID string) {
	e.mu.Lock()
	j, ok := e.jobs[sessionID]
	e.mu.Unlock()
	if ok {
		<-j.done
	}
}

// dropLocked releases a job's resources. Caller holds e.mu.
func (e *Exporter) dropLocked(j *job) {
	if j.cleanup != nil {
		j.cleanup.Stop()
	}
	if j.cancel != nil {
		j.cancel()
	}
	if err := os.Remove(j.outputPath); err != nil && !os.IsNotExist(err) {
		e.logger.Warn("failed to remove export output", "export_id", j.id, "error", err)
	}
}

func (e *Exporter) record(ctx context.Context, run history.ExportRun) {
	if e.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.recorder.RecordExportRun(ctx, run); err != nil {
		e.logger.Warn("failed to record export run", "export_id", run.ExportID, "error", err)
	}
}
