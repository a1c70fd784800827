package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger", "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		run := Run{
			ID:           []string{"run-a", "run-b", "run-c"}[i],
			StartedAt:    base.Add(time.Duration(i) * time.Minute),
			FinishedAt:   base.Add(time.Duration(i)*time.Minute + 30*time.Second),
			Status:       "ok",
			WorkDir:      "work",
			ArchivePath:  "submit.zip",
			ArchiveBytes: int64(100 + i),
		}
		if err := s.Record(ctx, run); err != nil {
			t.Fatalf("record %s: %v", run.ID, err)
		}
	}

	runs, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-c" || runs[1].ID != "run-b" || runs[2].ID != "run-a" {
		t.Fatalf("wrong order: %s, %s, %s", runs[0].ID, runs[1].ID, runs[2].ID)
	}
	if runs[0].ArchiveBytes != 102 {
		t.Fatalf("archive bytes = %d", runs[0].ArchiveBytes)
	}
	if !runs[0].StartedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("started_at = %v", runs[0].StartedAt)
	}
}

func TestRecent_HonorsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"r1", "r2", "r3", "r4"} {
		if err := s.Record(ctx, Run{ID: id, StartedAt: now, Status: "ok", WorkDir: "work"}); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
		now = now.Add(time.Second)
	}

	runs, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "r4" || runs[1].ID != "r3" {
		t.Fatalf("wrong rows: %s, %s", runs[0].ID, runs[1].ID)
	}
}

func TestRecord_FailedRunKeepsExitCode(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := Run{
		ID:        "run-failed",
		StartedAt: time.Now().UTC(),
		Status:    "failed",
		WorkDir:   "work",
		ExitCode:  7,
	}
	if err := s.Record(ctx, run); err != nil {
		t.Fatalf("record: %v", err)
	}
	runs, err := s.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if runs[0].Status != "failed" || runs[0].ExitCode != 7 {
		t.Fatalf("row = %+v", runs[0])
	}
}

func TestRecord_RejectsMissingID(t *testing.T) {
	s := openTestStore(t)
	if err := s.Record(context.Background(), Run{Status: "ok"}); err == nil {
		t.Fatalf("expected error for missing run id")
	}
}

func TestRecord_DuplicateIDFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run := Run{ID: "dup", StartedAt: time.Now().UTC(), Status: "ok", WorkDir: "work"}
	if err := s.Record(ctx, run); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := s.Record(ctx, run); err == nil {
		t.Fatalf("expected primary key violation")
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestStore_ReopenSeesExistingRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Record(ctx, Run{ID: "persisted", StartedAt: time.Now().UTC(), Status: "ok", WorkDir: "work"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	runs, err := s2.Recent(ctx, 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "persisted" {
		t.Fatalf("runs = %+v", runs)
	}
}
