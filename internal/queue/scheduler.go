// Package queue drives pending segments through the full pipeline
// (extract video, extract audio, remote resynthesis, download) with a
// bounded number of segments in flight per session. One segment's failure
// is recorded on that segment and never aborts its siblings.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vidsync/vidsync-server/internal/events"
	"github.com/vidsync/vidsync-server/internal/expose"
	"github.com/vidsync/vidsync-server/internal/history"
	"github.com/vidsync/vidsync-server/internal/logging"
	"github.com/vidsync/vidsync-server/internal/media"
	"github.com/vidsync/vidsync-server/internal/resynth"
	"github.com/vidsync/vidsync-server/internal/store"
)

// ErrBatchActive reports a second batch request for a session that already
// has one running.
var ErrBatchActive = errors.New("batch already active for session")

// ErrNoBatch reports a cancel request for a session without a running batch.
var ErrNoBatch = errors.New("no active batch for session")

// Per-segment progress blend: extraction covers the first slice of 0-100,
// audio extraction the next, and the remote submit/poll/download pipeline's
// own 0-100 is rescaled into the remainder.
const (
	extractPortion = 30.0
	audioPortion   = 10.0
	remoteStart    = extractPortion + audioPortion
)

// RunRecorder persists diagnostic records of finished segment runs.
type RunRecorder interface {
	RecordSegmentRun(ctx context.Context, run history.SegmentRun) error
}

// Scheduler runs at most one batch per session, each batch admitting
// segments in caller order up to the concurrency cap.
type Scheduler struct {
	store    *store.Store
	toolkit  media.Toolkit
	client   resynth.Client
	exposer  expose.Exposer
	sink     events.Sink
	recorder RunRecorder
	logger   *slog.Logger

	clipsDir    string
	concurrency int

	mu      sync.Mutex
	batches map[string]*batch
	now     func() time.Time
}

type batch struct {
	sessionID  string
	segmentIDs []string
	cancelled  atomic.Bool
	done       chan struct{}
}

// Config wires a Scheduler.
type Config struct {
	Store       *store.Store
	Toolkit     media.Toolkit
	Client      resynth.Client
	Exposer     expose.Exposer
	Sink        events.Sink
	Recorder    RunRecorder // optional
	Logger      *slog.Logger
	ClipsDir    string
	Concurrency int
}

// NewScheduler creates a scheduler with the configured concurrency cap
// (minimum 1).
func NewScheduler(cfg Config) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		store:       cfg.Store,
		toolkit:     cfg.Toolkit,
		client:      cfg.Client,
		exposer:     cfg.Exposer,
		sink:        cfg.Sink,
		recorder:    cfg.Recorder,
		logger:      logging.WithComponent(cfg.Logger, "queue"),
		clipsDir:    cfg.ClipsDir,
		concurrency: cfg.Concurrency,
		batches:     make(map[string]*batch),
		now:         time.Now,
	}
}

// StartBatch begins processing the segments in the given order. It rejects
// the call when the session already has a batch running, when a segment
// does not belong to the session, or when a segment is not eligible
// (pending, or failed for a retry).
func (s *Scheduler) StartBatch(ctx context.Context, sessionID string, segmentIDs []string) error {
	if len(segmentIDs) == 0 {
		return fmt.Errorf("no segments to process")
	}
	if _, err := s.store.GetSession(sessionID); err != nil {
		return err
	}

	for _, segID := range segmentIDs {
		seg, err := s.store.GetSegment(segID)
		if err != nil {
			return err
		}
		if seg.SessionID != sessionID {
			return &store.ConflictError{Reason: fmt.Sprintf("segment %s belongs to session %s", segID, seg.SessionID)}
		}
		if seg.Status != store.StatusPending && seg.Status != store.StatusFailed {
			return &store.ConflictError{Reason: fmt.Sprintf("segment %s is not eligible (%s)", segID, seg.Status)}
		}
	}

	b := &batch{
		sessionID:  sessionID,
		segmentIDs: append([]string(nil), segmentIDs...),
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	if _, active := s.batches[sessionID]; active {
		s.mu.Unlock()
		return ErrBatchActive
	}
	s.batches[sessionID] = b
	s.mu.Unlock()

	// The batch outlives the request that accepted it; the cancelled flag,
	// not the caller's context, is the batch-level cancel signal.
	go s.runBatch(context.WithoutCancel(ctx), b)
	return nil
}

// Cancel flips the batch's running flag. Admission stops; segments already
// in flight run to completion or failure.
func (s *Scheduler) Cancel(sessionID string) error {
	s.mu.Lock()
	b, ok := s.batches[sessionID]
	s.mu.Unlock()
	if !ok {
		return ErrNoBatch
	}
	b.cancelled.Store(true)
	s.logger.Info("batch cancel requested", "session_id", sessionID)
	return nil
}

// Active reports whether the session currently has a running batch.
func (s *Scheduler) Active(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.batches[sessionID]
	return ok
}

// Wait blocks until the session's current batch settles. Used by tests and
// shutdown; returns immediately when no batch is active.
func (s *Scheduler) Wait(sessionID string) {
	s.mu.Lock()
	b, ok := s.batches[sessionID]
	s.mu.Unlock()
	if ok {
		<-b.done
	}
}

func (s *Scheduler) runBatch(ctx context.Context, b *batch) {
	logger := logging.WithSessionID(s.logger, b.sessionID)
	logger.Info("batch started", "segments", len(b.segmentIDs), "concurrency", s.concurrency)

	var wg sync.WaitGroup
	slots := make(chan struct{}, s.concurrency)

	for _, segID := range b.segmentIDs {
		if b.cancelled.Load() {
			break
		}
		slots <- struct{}{}
		// A cancel may have landed while we waited for a slot.
		if b.cancelled.Load() {
			<-slots
			break
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-slots }()
			s.processSegment(ctx, b.sessionID, id)
		}(segID)
	}

	wg.Wait()

	s.mu.Lock()
	delete(s.batches, b.sessionID)
	s.mu.Unlock()
	close(b.done)

	s.sink.Publish(events.Event{Type: events.TypeQueueCompleted, SessionID: b.sessionID})
	logger.Info("batch settled", "cancelled", b.cancelled.Load())
}
