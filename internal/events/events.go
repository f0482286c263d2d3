// Package events carries progress and terminal notifications from the
// pipeline out to whatever transport forwards them to a UI. The core only
// publishes; subscribers read incrementally and can never block a producer.
package events

import (
	"sync"
	"time"
)

// Type classifies pipeline notifications.
type Type string

const (
	TypeSegmentProgress Type = "segment-progress"
	TypeSegmentFailed   Type = "segment-failed"
	TypeQueueCompleted  Type = "queue-completed"
	TypeExportProgress  Type = "export-progress"
	TypeExportCompleted Type = "export-completed"
	TypeExportFailed    Type = "export-failed"
)

// Event is one sequenced notification.
type Event struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Type      Type      `json:"type"`

	SessionID string `json:"session_id,omitempty"`
	SegmentID string `json:"segment_id,omitempty"`
	ExportID  string `json:"export_id,omitempty"`

	Status       string  `json:"status,omitempty"`
	Progress     float64 `json:"progress,omitempty"`
	Error        string  `json:"error,omitempty"`
	DownloadPath string  `json:"download_path,omitempty"`
}

// Sink is the narrow publishing contract handed to the scheduler and
// exporter.
type Sink interface {
	Publish(event Event) Event
}

// Bus stores recent events in a bounded in-memory buffer and provides
// incremental reads. Old events fall off the front once the buffer is full,
// so a slow subscriber loses history instead of stalling the pipeline.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewBus creates a bounded event buffer.
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &Bus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *Bus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *Bus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}
