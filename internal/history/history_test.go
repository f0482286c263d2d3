package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vidsync/vidsync-server/internal/db"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewLedger(database.Conn())
}

func TestRecordAndListSegmentRuns(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	runs := []SegmentRun{
		{SessionID: "sess-1", SegmentID: "seg-1", Outcome: OutcomeCompleted, StartedAt: base, Duration: 40 * time.Second},
		{SessionID: "sess-1", SegmentID: "seg-2", Outcome: OutcomeFailed, Error: "remote task failed", Retries: 1, StartedAt: base.Add(time.Minute), Duration: 10 * time.Second},
		{SessionID: "sess-2", SegmentID: "seg-9", Outcome: OutcomeCompleted, StartedAt: base, Duration: time.Second},
	}
	for _, run := range runs {
		if err := ledger.RecordSegmentRun(ctx, run); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := ledger.SegmentRuns(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("runs = %d, want 2", len(got))
	}
	if got[0].SegmentID != "seg-2" {
		t.Errorf("newest first: got %s", got[0].SegmentID)
	}
	if got[0].Error != "remote task failed" || got[0].Retries != 1 {
		t.Errorf("failure fields not persisted: %+v", got[0])
	}
	if got[1].Duration != 40*time.Second {
		t.Errorf("duration = %s, want 40s", got[1].Duration)
	}
	if got[0].ID == "" {
		t.Error("id not assigned")
	}
}

func TestRecordAndListExportRuns(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	run := ExportRun{
		SessionID:  "sess-1",
		ExportID:   "exp-1",
		Outcome:    OutcomeCompleted,
		OutputPath: "/work/exports/exp-1.mp4",
		StartedAt:  time.Now().UTC(),
		Duration:   90 * time.Second,
	}
	if err := ledger.RecordExportRun(ctx, run); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := ledger.ExportRuns(ctx, "sess-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("runs = %d, want 1", len(got))
	}
	if got[0].OutputPath != run.OutputPath || got[0].Outcome != OutcomeCompleted {
		t.Errorf("run = %+v", got[0])
	}
}

func TestConfigRoundTrip(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	val, err := ledger.GetConfig(ctx, "auth_token")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "" {
		t.Errorf("missing key = %q, want empty", val)
	}

	if err := ledger.SetConfig(ctx, "auth_token", "tok-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := ledger.SetConfig(ctx, "auth_token", "tok-2"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	val, err = ledger.GetConfig(ctx, "auth_token")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "tok-2" {
		t.Errorf("value = %q, want tok-2", val)
	}
}
