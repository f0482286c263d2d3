// Package history keeps a diagnostic ledger of finished segment runs and
// exports in SQLite. Job state itself stays in memory; the ledger only
// answers "what happened" across restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// SegmentRun is one finished trip of a segment through the pipeline.
type SegmentRun struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	SegmentID string        `json:"segment_id"`
	Outcome   string        `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	Retries   int           `json:"retries"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// ExportRun is one finished export attempt.
type ExportRun struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	ExportID   string        `json:"export_id"`
	Outcome    string        `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	OutputPath string        `json:"output_path,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Ledger records and queries run history.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) RecordSegmentRun(ctx context.Context, run SegmentRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO segment_runs (id, session_id, segment_id, outcome, error, retries, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.SessionID, run.SegmentID, run.Outcome, nullString(run.Error),
		run.Retries, run.StartedAt.UTC().Format(time.RFC3339Nano), run.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("record segment run: %w", err)
	}
	return nil
}

func (l *Ledger) RecordExportRun(ctx context.Context, run ExportRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO export_runs (id, session_id, export_id, outcome, error, output_path, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.SessionID, run.ExportID, run.Outcome, nullString(run.Error),
		nullString(run.OutputPath), run.StartedAt.UTC().Format(time.RFC3339Nano), run.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("record export run: %w", err)
	}
	return nil
}

// SegmentRuns returns the most recent runs for a session, newest first.
func (l *Ledger) SegmentRuns(ctx context.Context, sessionID string, limit int) ([]SegmentRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, session_id, segment_id, outcome, error, retries, started_at, duration_ms
		FROM segment_runs WHERE session_id = ?
		ORDER BY started_at DESC LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list segment runs: %w", err)
	}
	defer rows.Close()

	var out []SegmentRun
	for rows.Next() {
		var run SegmentRun
		var errMsg sql.NullString
		var startedAt string
		var durationMs int64
		if err := rows.Scan(&run.ID, &run.SessionID, &run.SegmentID, &run.Outcome,
			&errMsg, &run.Retries, &startedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("scan segment run: %w", err)
		}
		run.Error = errMsg.String
		run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		run.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, run)
	}
	return out, rows.Err()
}

// ExportRuns returns the most recent export attempts for a session, newest
// first.
func (l *Ledger) ExportRuns(ctx context.Context, sessionID string, limit int) ([]ExportRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, session_id, export_id, outcome, error, output_path, started_at, duration_ms
		FROM export_runs WHERE session_id = ?
		ORDER BY started_at DESC LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list export runs: %w", err)
	}
	defer rows.Close()

	var out []ExportRun
	for rows.Next() {
		var run ExportRun
		var errMsg, outputPath sql.NullString
		var startedAt string
		var durationMs int64
		if err := rows.Scan(&run.ID, &run.SessionID, &run.ExportID, &run.Outcome,
			&errMsg, &outputPath, &startedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("scan export run: %w", err)
		}
		run.Error = errMsg.String
		run.OutputPath = outputPath.String
		run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		run.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, run)
	}
	return out, rows.Err()
}

// GetConfig reads one value from the config table.
func (l *Ledger) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := l.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get config %s: %w", key, err)
	}
	return value, nil
}

// SetConfig upserts one value into the config table.
func (l *Ledger) SetConfig(ctx context.Context, key, value string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
