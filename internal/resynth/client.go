// Package resynth talks to the external audio-driven video resynthesis API:
// it submits a video+audio pair, polls the task until terminal, and
// downloads the produced clip. Every call carries a freshly signed
// credential; the client itself keeps no per-task state beyond one poll
// loop.
package resynth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/vidsync/vidsync-server/internal/expose"
)

// Task status values reported by the remote API.
const (
	TaskSubmitted  = "submitted"
	TaskProcessing = "processing"
	TaskSucceed    = "succeed"
	TaskFailed     = "failed"
)

// TaskStatus is one remote task as reported by the status endpoint.
type TaskStatus struct {
	TaskID    string  `json:"task_id"`
	Status    string  `json:"status"`
	ResultURL string  `json:"result_url,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// Client is the remote resynthesis contract the scheduler depends on.
type Client interface {
	Submit(ctx context.Context, videoPath, audioPath string) (string, []expose.Handle, error)
	PollStatus(ctx context.Context, taskID string) (*TaskStatus, error)
	WaitUntilTerminal(ctx context.Context, taskID string, onProgress func(float64), timeout time.Duration) (string, error)
	Download(ctx context.Context, resultURL, dstPath string) error
	TimeoutFor(sourceSeconds float64) time.Duration
}

// Options configures the HTTP client's polling cadence and timeout budget.
type Options struct {
	PollIntervalSubmitted  time.Duration
	PollIntervalProcessing time.Duration
	TimeoutFloor           time.Duration
	TimeoutPerSecond       time.Duration
}

// HTTPClient is the production Client.
type HTTPClient struct {
	baseURL   string
	accessKey string
	secretKey string
	exposer   expose.Exposer

	httpClient *http.Client
	logger     *slog.Logger
	opts       Options
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error
}

// NewHTTPClient creates a client for the remote API at baseURL. The exposer
// turns local clip paths into URLs the remote service can fetch.
func NewHTTPClient(baseURL, accessKey, secretKey string, exposer expose.Exposer, opts Options, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:   baseURL,
		accessKey: accessKey,
		secretKey: secretKey,
		exposer:   exposer,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
		opts:   opts,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

type submitRequest struct {
	VideoURL string `json:"video_url"`
	AudioURL string `json:"audio_url"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

// Submit exposes the two local files, posts a transformation request
// referencing their URLs, and returns the remote task id along with the
// exposure handles. The caller revokes the handles once the remote service
// no longer needs the inputs. No transport retry happens here; the caller
// owns retry policy.
func (c *HTTPClient) Submit(ctx context.Context, videoPath, audioPath string) (string, []expose.Handle, error) {
	videoHandle, err := c.exposer.ExposeForTransfer(videoPath)
	if err != nil {
		return "", nil, &SubmitError{Err: fmt.Errorf("expose video: %w", err)}
	}
	handles := []expose.Handle{videoHandle}

	audioHandle, err := c.exposer.ExposeForTransfer(audioPath)
	if err != nil {
		c.exposer.Revoke(handles)
		return "", nil, &SubmitError{Err: fmt.Errorf("expose audio: %w", err)}
	}
	handles = append(handles, audioHandle)

	body, err := json.Marshal(submitRequest{VideoURL: videoHandle.URL, AudioURL: audioHandle.URL})
	if err != nil {
		c.exposer.Revoke(handles)
		return "", nil, &SubmitError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	respBody, status, err := c.do(ctx, http.MethodPost, "/v1/tasks", bytes.NewReader(body))
	if err != nil {
		c.exposer.Revoke(handles)
		return "", nil, &SubmitError{Err: err}
	}
	if status < 200 || status >= 300 {
		c.exposer.Revoke(handles)
		return "", nil, &SubmitError{StatusCode: status, Body: string(respBody)}
	}

	var resp submitResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		c.exposer.Revoke(handles)
		return "", nil, &SubmitError{Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	if resp.TaskID == "" {
		c.exposer.Revoke(handles)
		return "", nil, &SubmitError{StatusCode: status, Body: "response missing task_id"}
	}

	c.logger.Info("submitted resynthesis task", "task_id", resp.TaskID)
	return resp.TaskID, handles, nil
}

type taskListResponse struct {
	Tasks []TaskStatus `json:"tasks"`
}

// PollStatus queries the tenant's task list and filters it by taskID. A
// list that lacks the task yields ErrTaskNotFound, which is not the same as
// "still processing".
func (c *HTTPClient) PollStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	respBody, status, err := c.do(ctx, http.MethodGet, "/v1/tasks", nil)
	if err != nil {
		return nil, fmt.Errorf("poll status: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("poll status: HTTP %d: %s", status, respBody)
	}

	var list taskListResponse
	if err := json.Unmarshal(respBody, &list); err != nil {
		return nil, fmt.Errorf("poll status: unmarshal response: %w", err)
	}

	for i := range list.Tasks {
		if list.Tasks[i].TaskID == taskID {
			return &list.Tasks[i], nil
		}
	}
	return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
}

// Download streams the remote result to dstPath.
func (c *HTTPClient) Download(ctx context.Context, resultURL, dstPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return fmt.Errorf("download result: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("download result: HTTP %d: %s", resp.StatusCode, body)
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("download result: %w", err)
	}

	f, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("download result: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		os.Remove(dstPath)
		return fmt.Errorf("download result: %w", err)
	}

	c.logger.Info("downloaded resynthesis result", "dst", dstPath, "bytes", n)
	return nil
}

// TimeoutFor computes the poll budget for a clip: a fixed floor plus a
// configured amount per second of source video, since remote processing
// time scales with clip length.
func (c *HTTPClient) TimeoutFor(sourceSeconds float64) time.Duration {
	return c.opts.TimeoutFloor + time.Duration(sourceSeconds*float64(c.opts.TimeoutPerSecond))
}

// do issues one authenticated request against the remote API.
func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader) ([]byte, int, error) {
	credential, err := c.signedCredential()
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return respBody, resp.StatusCode, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
