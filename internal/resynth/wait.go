package resynth

import (
	"context"
	"fmt"
	"time"
)

// Coarse progress mapped from remote task states.
const (
	progressSubmitted  = 10
	progressProcessing = 50
	progressDone       = 100
)

// WaitUntilTerminal polls the task until it reaches a terminal state and
// returns the result URL. The poll cadence is asymmetric: short while the
// task sits in the submitted queue, longer once it is processing, where
// each poll is expensive for the remote API. A task that produces no
// terminal state within timeout yields a TaskTimeoutError; a succeed
// without a result URL yields ErrNoResult.
func (c *HTTPClient) WaitUntilTerminal(ctx context.Context, taskID string, onProgress func(float64), timeout time.Duration) (string, error) {
	if onProgress == nil {
		onProgress = func(float64) {}
	}

	deadline := c.now().Add(timeout)

	for {
		status, err := c.PollStatus(ctx, taskID)
		if err != nil {
			return "", err
		}

		switch status.Status {
		case TaskSucceed:
			if status.ResultURL == "" {
				return "", fmt.Errorf("task %s: %w", taskID, ErrNoResult)
			}
			onProgress(progressDone)
			return status.ResultURL, nil

		case TaskFailed:
			return "", &TaskFailedError{TaskID: taskID, Message: status.Message}

		case TaskSubmitted:
			onProgress(progressSubmitted)
		case TaskProcessing:
			onProgress(progressProcessing)
		default:
			c.logger.Warn("unknown remote task status", "task_id", taskID, "status", status.Status)
		}

		if c.now().After(deadline) {
			return "", &TaskTimeoutError{TaskID: taskID, Budget: timeout}
		}

		interval := c.opts.PollIntervalSubmitted
		if status.Status == TaskProcessing {
			interval = c.opts.PollIntervalProcessing
		}
		if err := c.sleep(ctx, interval); err != nil {
			return "", err
		}
	}
}
