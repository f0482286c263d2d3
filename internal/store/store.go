// Package store holds the volatile in-memory registry of sessions and their
// segments. Nothing here survives a process restart; clips referenced by a
// record live in the caller-owned work directory and are not touched by
// eviction.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Store is an in-memory session/segment registry with O(1) segment lookup
// through a secondary segment-id -> session-id index. All methods are safe
// for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	segments map[string]*Segment
	owner    map[string]string // segment id -> session id

	idleTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// New creates an empty store. Sessions idle longer than idleTimeout are
// removed by the eviction loop; a zero idleTimeout disables eviction.
func New(idleTimeout time.Duration, logger *slog.Logger) *Store {
	return &Store{
		sessions:    make(map[string]*Session),
		segments:    make(map[string]*Segment),
		owner:       make(map[string]string),
		idleTimeout: idleTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateSession registers a session record. The caller supplies the id and
// probed source metadata.
func (s *Store) CreateSession(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return &ConflictError{Reason: fmt.Sprintf("session already exists: %s", sess.ID)}
	}

	now := s.now()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	sess.SegmentIDs = nil
	s.sessions[sess.ID] = &sess
	return nil
}

// GetSession returns a copy of the session record.
func (s *Store) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, &NotFoundError{Kind: "session", ID: id}
	}
	cp := *sess
	cp.SegmentIDs = append([]string(nil), sess.SegmentIDs...)
	return &cp, nil
}

// ListSessions returns copies of all sessions, newest first.
func (s *Store) ListSessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		cp.SegmentIDs = append([]string(nil), sess.SegmentIDs...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// DeleteSession removes a session and all of its segments from the indexes.
// On-disk clips are not touched; file cleanup belongs to the caller.
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteSessionLocked(id)
}

func (s *Store) deleteSessionLocked(id string) error {
	sess, ok := s.sessions[id]
	if !ok {
		return &NotFoundError{Kind: "session", ID: id}
	}
	for _, segID := range sess.SegmentIDs {
		delete(s.segments, segID)
		delete(s.owner, segID)
	}
	delete(s.sessions, id)
	return nil
}

// AddSegment appends a segment to its session. The range must be well formed
// and must not overlap any existing segment of the session; duration policy
// bounds are the creating caller's concern.
func (s *Store) AddSegment(seg Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[seg.SessionID]
	if !ok {
		return &NotFoundError{Kind: "session", ID: seg.SessionID}
	}
	if _, ok := s.segments[seg.ID]; ok {
		return &ConflictError{Reason: fmt.Sprintf("segment already exists: %s", seg.ID)}
	}
	if seg.End <= seg.Start {
		return &ConflictError{Reason: fmt.Sprintf("segment end %.3f must be after start %.3f", seg.End, seg.Start)}
	}
	for _, otherID := range sess.SegmentIDs {
		other := s.segments[otherID]
		if seg.Start < other.End && seg.End > other.Start {
			return &ConflictError{Reason: fmt.Sprintf(
				"segment [%.3f,%.3f) overlaps existing segment %s [%.3f,%.3f)",
				seg.Start, seg.End, other.ID, other.Start, other.End)}
		}
	}

	now := s.now()
	seg.Status = StatusPending
	seg.Approval = ApprovalPending
	seg.SourcePath = sess.SourcePath
	seg.CreatedAt = now
	seg.UpdatedAt = now
	s.segments[seg.ID] = &seg
	s.owner[seg.ID] = sess.ID
	sess.SegmentIDs = append(sess.SegmentIDs, seg.ID)
	sess.UpdatedAt = now
	return nil
}

// GetSegment returns a copy of the segment record.
func (s *Store) GetSegment(id string) (*Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seg, ok := s.segments[id]
	if !ok {
		return nil, &NotFoundError{Kind: "segment", ID: id}
	}
	cp := *seg
	return &cp, nil
}

// SegmentsForSession returns copies of the session's segments ordered by
// start time.
func (s *Store) SegmentsForSession(sessionID string) ([]*Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, &NotFoundError{Kind: "session", ID: sessionID}
	}
	out := make([]*Segment, 0, len(sess.SegmentIDs))
	for _, id := range sess.SegmentIDs {
		cp := *s.segments[id]
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

// DeleteSegment removes a segment from its session. Segments currently
// moving through the pipeline cannot be deleted.
func (s *Store) DeleteSegment(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[id]
	if !ok {
		return &NotFoundError{Kind: "segment", ID: id}
	}
	if seg.Status.Active() {
		return &ConflictError{Reason: fmt.Sprintf("segment %s is in flight (%s)", id, seg.Status)}
	}

	sess := s.sessions[seg.SessionID]
	for i, segID := range sess.SegmentIDs {
		if segID == id {
			sess.SegmentIDs = append(sess.SegmentIDs[:i], sess.SegmentIDs[i+1:]...)
			break
		}
	}
	delete(s.segments, id)
	delete(s.owner, id)
	sess.UpdatedAt = s.now()
	return nil
}

// SessionForSegment resolves the owning session id through the secondary
// index.
func (s *Store) SessionForSegment(segmentID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessID, ok := s.owner[segmentID]
	if !ok {
		return "", &NotFoundError{Kind: "segment", ID: segmentID}
	}
	return sessID, nil
}

// SetSegmentStatus applies a lifecycle transition. Invalid edges return a
// ConflictError and leave the record unchanged. Entering a non-failed state
// clears the recorded error; re-entering extracting from failed bumps the
// retry counter.
func (s *Store) SetSegmentStatus(id string, status Status) error {
	return s.mutateSegment(id, func(seg *Segment) error {
		if !validTransition(seg.Status, status) {
			return &ConflictError{Reason: fmt.Sprintf("invalid transition: %s -> %s", seg.Status, status)}
		}
		if seg.Status == StatusFailed && status == StatusExtracting {
			seg.Retries++
		}
		seg.Status = status
		if status != StatusFailed {
			seg.Error = ""
		}
		return nil
	})
}

// SetSegmentFailed marks the segment failed and records the failure message.
func (s *Store) SetSegmentFailed(id string, msg string) error {
	return s.mutateSegment(id, func(seg *Segment) error {
		if !validTransition(seg.Status, StatusFailed) {
			return &ConflictError{Reason: fmt.Sprintf("invalid transition: %s -> %s", seg.Status, StatusFailed)}
		}
		seg.Status = StatusFailed
		seg.Error = msg
		return nil
	})
}

// SetSegmentPaths records pipeline artifacts on the segment. Empty arguments
// leave the corresponding path untouched; a path is never cleared once set.
func (s *Store) SetSegmentPaths(id string, extracted, audio, transformed string) error {
	return s.mutateSegment(id, func(seg *Segment) error {
		if extracted != "" {
			seg.ExtractedPath = extracted
		}
		if audio != "" {
			seg.AudioPath = audio
		}
		if transformed != "" {
			seg.TransformedPath = transformed
		}
		return nil
	})
}

// SetApproval records the review decision for a completed segment.
func (s *Store) SetApproval(id string, approval Approval) error {
	return s.mutateSegment(id, func(seg *Segment) error {
		if seg.Status != StatusComplete {
			return &ConflictError{Reason: fmt.Sprintf("segment %s is not complete (%s)", id, seg.Status)}
		}
		seg.Approval = approval
		return nil
	})
}

func (s *Store) mutateSegment(id string, fn func(*Segment) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[id]
	if !ok {
		return &NotFoundError{Kind: "segment", ID: id}
	}
	if err := fn(seg); err != nil {
		return err
	}
	now := s.now()
	seg.UpdatedAt = now
	if sess, ok := s.sessions[seg.SessionID]; ok {
		sess.UpdatedAt = now
	}
	return nil
}

// EvictIdle removes sessions whose last mutation is older than the idle
// timeout and returns the evicted ids. Disabled when the timeout is zero.
func (s *Store) EvictIdle(now time.Time) []string {
	if s.idleTimeout <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for id, sess := range s.sessions {
		if now.Sub(sess.UpdatedAt) > s.idleTimeout {
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		_ = s.deleteSessionLocked(id)
	}
	return evicted
}

// RunEviction periodically evicts idle sessions until the context is done.
func (s *Store) RunEviction(ctx context.Context, interval time.Duration) {
	if s.idleTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := s.EvictIdle(s.now()); len(evicted) > 0 {
				s.logger.Info("evicted idle sessions", "count", len(evicted), "session_ids", evicted)
			}
		}
	}
}
