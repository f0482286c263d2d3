package store

import "fmt"

// NotFoundError reports an unknown session or segment id. Callers must treat
// it as a recoverable condition: mutations against unknown ids are no-ops
// that return this error.
type NotFoundError struct {
	Kind string // "session" or "segment"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ConflictError reports a mutation that conflicts with current state, such
// as an invalid status transition, an overlapping segment range, or deletion
// of an in-flight segment.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}
