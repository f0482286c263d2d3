package resynth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vidsync/vidsync-server/internal/expose"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeExposer struct {
	exposed []string
	revoked []expose.Handle
	fail    bool
}

func (f *fakeExposer) ExposeForTransfer(localPath string) (expose.Handle, error) {
	if f.fail {
		return expose.Handle{}, errors.New("exposure unavailable")
	}
	f.exposed = append(f.exposed, localPath)
	return expose.Handle{
		Token: fmt.Sprintf("tok-%d", len(f.exposed)),
		URL:   "http://public.example/files/" + filepath.Base(localPath),
	}, nil
}

func (f *fakeExposer) Revoke(handles []expose.Handle) {
	f.revoked = append(f.revoked, handles...)
}

func testOptions() Options {
	return Options{
		PollIntervalSubmitted:  time.Millisecond,
		PollIntervalProcessing: 2 * time.Millisecond,
		TimeoutFloor:           2 * time.Minute,
		TimeoutPerSecond:       10 * time.Second,
	}
}

func newTestClient(t *testing.T, serverURL string, exposer expose.Exposer) *HTTPClient {
	t.Helper()
	if exposer == nil {
		exposer = &fakeExposer{}
	}
	return NewHTTPClient(serverURL, "access-key-1", "secret-key-1", exposer, testOptions(), testLogger())
}

func TestSubmit_Success(t *testing.T) {
	var receivedAuth string
	var receivedReq submitRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/tasks" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		receivedAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&receivedReq)
		json.NewEncoder(w).Encode(submitResponse{TaskID: "task-42"})
	}))
	defer server.Close()

	exposer := &fakeExposer{}
	client := newTestClient(t, server.URL, exposer)

	taskID, handles, err := client.Submit(context.Background(), "/clips/video.mp4", "/clips/audio.wav")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if taskID != "task-42" {
		t.Errorf("task id = %q, want task-42", taskID)
	}
	if len(handles) != 2 {
		t.Errorf("handles = %d, want 2", len(handles))
	}
	if receivedReq.VideoURL == "" || receivedReq.AudioURL == "" {
		t.Errorf("request missing exposed URLs: %+v", receivedReq)
	}
	if len(exposer.revoked) != 0 {
		t.Errorf("handles revoked on success: %v", exposer.revoked)
	}

	if !strings.HasPrefix(receivedAuth, "Bearer ") {
		t.Fatalf("auth = %q, want bearer credential", receivedAuth)
	}
	claims := jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimPrefix(receivedAuth, "Bearer "), &claims, func(*jwt.Token) (interface{}, error) {
		return []byte("secret-key-1"), nil
	})
	if err != nil {
		t.Fatalf("credential does not verify: %v", err)
	}
	if claims.Issuer != "access-key-1" {
		t.Errorf("issuer = %q, want access-key-1", claims.Issuer)
	}
	validity := claims.ExpiresAt.Sub(claims.NotBefore.Time)
	if validity < credentialValidity || validity > credentialValidity+2*credentialGrace {
		t.Errorf("credential validity = %s, want about %s", validity, credentialValidity)
	}
}

func TestSubmit_FreshCredentialPerRequest(t *testing.T) {
	var credentials []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credentials = append(credentials, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(submitResponse{TaskID: "task-1"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	base := time.Now()
	calls := 0
	client.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}

	for i := 0; i < 2; i++ {
		if _, _, err := client.Submit(context.Background(), "/v.mp4", "/a.wav"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(credentials) != 2 || credentials[0] == credentials[1] {
		t.Errorf("expected two distinct credentials, got %v", credentials)
	}
}

func TestSubmit_ServerError_RevokesHandles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"detail":"upstream unavailable"}`))
	}))
	defer server.Close()

	exposer := &fakeExposer{}
	client := newTestClient(t, server.URL, exposer)

	_, _, err := client.Submit(context.Background(), "/v.mp4", "/a.wav")
	if err == nil {
		t.Fatal("expected error for 502 response")
	}

	var submitErr *SubmitError
	if !errors.As(err, &submitErr) {
		t.Fatalf("expected SubmitError, got %T", err)
	}
	if submitErr.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", submitErr.StatusCode)
	}
	if len(exposer.revoked) != 2 {
		t.Errorf("revoked = %d handles, want 2", len(exposer.revoked))
	}
}

func TestSubmit_MissingTaskID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	_, _, err := client.Submit(context.Background(), "/v.mp4", "/a.wav")
	var submitErr *SubmitError
	if !errors.As(err, &submitErr) {
		t.Fatalf("expected SubmitError, got %v", err)
	}
}

func TestSubmit_ExposureFailure(t *testing.T) {
	client := newTestClient(t, "http://unused.example", &fakeExposer{fail: true})

	_, _, err := client.Submit(context.Background(), "/v.mp4", "/a.wav")
	var submitErr *SubmitError
	if !errors.As(err, &submitErr) {
		t.Fatalf("expected SubmitError, got %v", err)
	}
}

func taskListServer(t *testing.T, tasks ...TaskStatus) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/tasks" || r.Method != http.MethodGet {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(taskListResponse{Tasks: tasks})
	}))
}

func TestPollStatus_FiltersList(t *testing.T) {
	server := taskListServer(t,
		TaskStatus{TaskID: "other", Status: TaskProcessing},
		TaskStatus{TaskID: "task-7", Status: TaskSucceed, ResultURL: "http://cdn.example/out.mp4", Duration: 5.4},
	)
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	status, err := client.PollStatus(context.Background(), "task-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Status != TaskSucceed || status.ResultURL != "http://cdn.example/out.mp4" {
		t.Errorf("status = %+v", status)
	}
	if status.Duration != 5.4 {
		t.Errorf("duration = %v, want 5.4", status.Duration)
	}
}

func TestPollStatus_AbsentTask(t *testing.T) {
	server := taskListServer(t, TaskStatus{TaskID: "other", Status: TaskProcessing})
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	_, err := client.PollStatus(context.Background(), "task-7")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestWaitUntilTerminal_Succeeds(t *testing.T) {
	states := []string{TaskSubmitted, TaskProcessing, TaskSucceed}
	call := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		task := TaskStatus{TaskID: "task-1", Status: states[call]}
		if task.Status == TaskSucceed {
			task.ResultURL = "http://cdn.example/result.mp4"
		}
		if call < len(states)-1 {
			call++
		}
		json.NewEncoder(w).Encode(taskListResponse{Tasks: []TaskStatus{task}})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	var progress []float64
	url, err := client.WaitUntilTerminal(context.Background(), "task-1", func(p float64) {
		progress = append(progress, p)
	}, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "http://cdn.example/result.mp4" {
		t.Errorf("url = %q", url)
	}
	want := []float64{progressSubmitted, progressProcessing, progressDone}
	if len(progress) != len(want) {
		t.Fatalf("progress = %v, want %v", progress, want)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress[%d] = %v, want %v", i, progress[i], want[i])
		}
	}
}

func TestWaitUntilTerminal_SucceedWithoutResult(t *testing.T) {
	server := taskListServer(t, TaskStatus{TaskID: "task-1", Status: TaskSucceed})
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	_, err := client.WaitUntilTerminal(context.Background(), "task-1", nil, time.Minute)
	if !errors.Is(err, ErrNoResult) {
		t.Fatalf("err = %v, want ErrNoResult", err)
	}
}

func TestWaitUntilTerminal_RemoteFailure(t *testing.T) {
	server := taskListServer(t, TaskStatus{TaskID: "task-1", Status: TaskFailed, Message: "face not detected"})
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	_, err := client.WaitUntilTerminal(context.Background(), "task-1", nil, time.Minute)
	var failedErr *TaskFailedError
	if !errors.As(err, &failedErr) {
		t.Fatalf("expected TaskFailedError, got %v", err)
	}
	if !strings.Contains(failedErr.Message, "face not detected") {
		t.Errorf("message = %q", failedErr.Message)
	}
}

func TestWaitUntilTerminal_Timeout(t *testing.T) {
	server := taskListServer(t, TaskStatus{TaskID: "task-1", Status: TaskProcessing})
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	_, err := client.WaitUntilTerminal(context.Background(), "task-1", nil, 5*time.Millisecond)
	var timeoutErr *TaskTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TaskTimeoutError, got %v", err)
	}
}

func TestWaitUntilTerminal_AsymmetricCadence(t *testing.T) {
	states := []string{TaskSubmitted, TaskProcessing, TaskSucceed}
	call := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		task := TaskStatus{TaskID: "task-1", Status: states[call], ResultURL: "http://cdn.example/r.mp4"}
		if call < len(states)-1 {
			call++
		}
		json.NewEncoder(w).Encode(taskListResponse{Tasks: []TaskStatus{task}})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	var sleeps []time.Duration
	client.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	if _, err := client.WaitUntilTerminal(context.Background(), "task-1", nil, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []time.Duration{testOptions().PollIntervalSubmitted, testOptions().PollIntervalProcessing}
	if len(sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", sleeps, want)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, sleeps[i], want[i])
		}
	}
}

func TestDownload_WritesFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("clip-bytes"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	dst := filepath.Join(t.TempDir(), "nested", "result.mp4")

	if err := client.Download(context.Background(), server.URL+"/result.mp4", dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "clip-bytes" {
		t.Errorf("content = %q", data)
	}
}

func TestDownload_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	err := client.Download(context.Background(), server.URL+"/missing.mp4", filepath.Join(t.TempDir(), "out.mp4"))
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestTimeoutFor(t *testing.T) {
	client := newTestClient(t, "http://unused.example", nil)

	got := client.TimeoutFor(30)
	want := 2*time.Minute + 300*time.Second
	if got != want {
		t.Errorf("TimeoutFor(30) = %s, want %s", got, want)
	}
}

func TestHTTPClient_ImplementsClientInterface(t *testing.T) {
	var _ Client = (*HTTPClient)(nil)
}
