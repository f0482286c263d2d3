package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/vidsync/vidsync-server/internal/events"
	"github.com/vidsync/vidsync-server/internal/history"
	"github.com/vidsync/vidsync-server/internal/logging"
	"github.com/vidsync/vidsync-server/internal/store"
)

// processSegment runs the full per-segment pipeline. Errors are recorded on
// the segment and reported as events; they never escape to the batch.
func (s *Scheduler) processSegment(ctx context.Context, sessionID, segmentID string) {
	logger := logging.WithSegmentID(logging.WithSessionID(s.logger, sessionID), segmentID)
	started := s.now()

	err := s.runSegmentPipeline(ctx, sessionID, segmentID)

	seg, getErr := s.store.GetSegment(segmentID)
	retries := 0
	if getErr == nil {
		retries = seg.Retries
	}

	if err != nil {
		logger.Error("segment pipeline failed", "error", err)
		if serr := s.store.SetSegmentFailed(segmentID, err.Error()); serr != nil {
			logger.Warn("failed to record segment failure", "error", serr)
		}
		s.sink.Publish(events.Event{
			Type:      events.TypeSegmentFailed,
			SessionID: sessionID,
			SegmentID: segmentID,
			Status:    string(store.StatusFailed),
			Error:     err.Error(),
		})
		s.record(ctx, history.SegmentRun{
			SessionID: sessionID,
			SegmentID: segmentID,
			Outcome:   history.OutcomeFailed,
			Error:     err.Error(),
			Retries:   retries,
			StartedAt: started,
			Duration:  s.now().Sub(started),
		})
		return
	}

	logger.Info("segment pipeline completed", "duration", s.now().Sub(started))
	s.record(ctx, history.SegmentRun{
		SessionID: sessionID,
		SegmentID: segmentID,
		Outcome:   history.OutcomeCompleted,
		Retries:   retries,
		StartedAt: started,
		Duration:  s.now().Sub(started),
	})
}

func (s *Scheduler) runSegmentPipeline(ctx context.Context, sessionID, segmentID string) error {
	seg, err := s.store.GetSegment(segmentID)
	if err != nil {
		return err
	}

	if err := s.store.SetSegmentStatus(segmentID, store.StatusExtracting); err != nil {
		return err
	}
	s.publishProgress(sessionID, segmentID, store.StatusExtracting, 0)

	base := filepath.Join(s.clipsDir, sessionID)
	clipPath := filepath.Join(base, segmentID+".mp4")
	audioPath := filepath.Join(base, segmentID+".wav")
	syncedPath := filepath.Join(base, segmentID+"-synced.mp4")

	err = s.toolkit.ExtractRange(ctx, seg.SourcePath, clipPath, seg.Start, seg.Duration(), func(pct float64) {
		s.publishProgress(sessionID, segmentID, store.StatusExtracting, pct/100*extractPortion)
	})
	if err != nil {
		return fmt.Errorf("extract video: %w", err)
	}
	if err := s.store.SetSegmentPaths(segmentID, clipPath, "", ""); err != nil {
		return err
	}

	err = s.toolkit.ExtractAudio(ctx, clipPath, audioPath, func(pct float64) {
		s.publishProgress(sessionID, segmentID, store.StatusExtracting, extractPortion+pct/100*audioPortion)
	})
	if err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	if err := s.store.SetSegmentPaths(segmentID, "", audioPath, ""); err != nil {
		return err
	}

	if err := s.store.SetSegmentStatus(segmentID, store.StatusUploading); err != nil {
		return err
	}
	s.publishProgress(sessionID, segmentID, store.StatusUploading, remoteStart)

	taskID, handles, err := s.client.Submit(ctx, clipPath, audioPath)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	// Exposure cleanup is best-effort; the remote service has fetched the
	// inputs by the time the task is terminal.
	defer s.exposer.Revoke(handles)

	if err := s.store.SetSegmentStatus(segmentID, store.StatusProcessing); err != nil {
		return err
	}

	timeout := s.client.TimeoutFor(seg.Duration())
	resultURL, err := s.client.WaitUntilTerminal(ctx, taskID, func(pct float64) {
		s.publishProgress(sessionID, segmentID, store.StatusProcessing, remoteStart+pct/100*(100-remoteStart))
	}, timeout)
	if err != nil {
		return err
	}

	if err := s.client.Download(ctx, resultURL, syncedPath); err != nil {
		return err
	}
	if err := s.store.SetSegmentPaths(segmentID, "", "", syncedPath); err != nil {
		return err
	}

	if err := s.store.SetSegmentStatus(segmentID, store.StatusComplete); err != nil {
		return err
	}
	s.publishProgress(sessionID, segmentID, store.StatusComplete, 100)
	return nil
}

func (s *Scheduler) publishProgress(sessionID, segmentID string, status store.Status, pct float64) {
	s.sink.Publish(events.Event{
		Type:      events.TypeSegmentProgress,
		SessionID: sessionID,
		SegmentID: segmentID,
		Status:    string(status),
		Progress:  pct,
	})
}

func (s *Scheduler) record(ctx context.Context, run history.SegmentRun) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.recorder.RecordSegmentRun(ctx, run); err != nil {
		s.logger.Warn("failed to record segment run", "segment_id", run.SegmentID, "error", err)
	}
}
