// Package expose makes local files reachable by the remote resynthesis
// service for a bounded lifetime. The production implementation serves files
// from the work directory under random one-shot tokens; an object-storage
// implementation with signed URLs would satisfy the same interface.
package expose

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// Handle identifies one exposed file.
type Handle struct {
	Token string
	URL   string
}

// Exposer publishes local files at public URLs and revokes them again.
type Exposer interface {
	ExposeForTransfer(localPath string) (Handle, error)
	Revoke(handles []Handle)
}

// StaticExposer maps exposed files to /files/{token} URLs under the server's
// public base URL. Exposures expire on their own after the lifetime even
// when the caller never revokes them.
type StaticExposer struct {
	baseURL  string
	lifetime time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	files map[string]exposedFile
	now   func() time.Time
}

type exposedFile struct {
	path      string
	expiresAt time.Time
}

// NewStaticExposer creates an exposer building URLs under baseURL.
func NewStaticExposer(baseURL string, lifetime time.Duration, logger *slog.Logger) *StaticExposer {
	return &StaticExposer{
		baseURL:  strings.TrimRight(baseURL, "/"),
		lifetime: lifetime,
		logger:   logger,
		files:    make(map[string]exposedFile),
		now:      time.Now,
	}
}

// ExposeForTransfer registers the file under a fresh random token and
// returns its public URL.
func (e *StaticExposer) ExposeForTransfer(localPath string) (Handle, error) {
	if _, err := os.Stat(localPath); err != nil {
		return Handle{}, fmt.Errorf("expose %s: %w", localPath, err)
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return Handle{}, fmt.Errorf("generate exposure token: %w", err)
	}
	token := hex.EncodeToString(buf)

	e.mu.Lock()
	e.files[token] = exposedFile{path: localPath, expiresAt: e.now().Add(e.lifetime)}
	e.mu.Unlock()

	return Handle{Token: token, URL: e.baseURL + "/files/" + token}, nil
}

// Revoke removes the exposures. Unknown handles are ignored; revocation is
// best-effort cleanup and never fails.
func (e *StaticExposer) Revoke(handles []Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range handles {
		delete(e.files, h.Token)
	}
}

// Resolve returns the local path behind a token, if the exposure is still
// live.
func (e *StaticExposer) Resolve(token string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, ok := e.files[token]
	if !ok {
		return "", false
	}
	if e.now().After(f.expiresAt) {
		delete(e.files, token)
		return "", false
	}
	return f.path, true
}

// ServeHTTP serves an exposed file by token with range support, so the
// remote service can fetch inputs directly.
func (e *StaticExposer) ServeHTTP(w http.ResponseWriter, r *http.Request, token string) {
	path, ok := e.Resolve(token)
	if !ok {
		http.Error(w, "exposure not found or expired", http.StatusNotFound)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		e.logger.Error("failed to open exposed file", "token", token, "error", err)
		http.Error(w, "file unavailable", http.StatusNotFound)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		e.logger.Error("failed to stat exposed file", "token", token, "error", err)
		http.Error(w, "file unavailable", http.StatusInternalServerError)
		return
	}

	http.ServeContent(w, r, stat.Name(), stat.ModTime(), f)
}
