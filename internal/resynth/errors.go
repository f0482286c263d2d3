package resynth

import (
	"errors"
	"fmt"
	"time"
)

// ErrTaskNotFound reports a status query whose task list lacked the task.
// This is distinct from "still processing": the remote service no longer
// knows the task at all.
var ErrTaskNotFound = errors.New("remote task not found")

// ErrNoResult reports a task that reached succeed without a result URL.
var ErrNoResult = errors.New("remote task completed without result")

// SubmitError reports transport failure or a malformed response while
// submitting a transformation task.
type SubmitError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SubmitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submit task: %v", e.Err)
	}
	return fmt.Sprintf("submit task: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// TaskFailedError is a terminal failure reported by the remote service.
// Retrying with the same input is unlikely to help.
type TaskFailedError struct {
	TaskID  string
	Message string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("remote task %s failed: %s", e.TaskID, e.Message)
}

// TaskTimeoutError reports that no terminal state was reached within the
// caller's budget. A retry with a larger budget may succeed.
type TaskTimeoutError struct {
	TaskID string
	Budget time.Duration
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("remote task %s did not finish within %s", e.TaskID, e.Budget)
}
