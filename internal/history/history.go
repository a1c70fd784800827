// Package history keeps a ledger of packaging runs in SQLite.
//
// The ledger is advisory: the pipeline records into it best-effort, and a
// broken or unwritable database never fails a run.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one ledger row.
type Run struct {
	ID               string
	StartedAt        time.Time
	FinishedAt       time.Time
	Status           string // "ok" or "failed"
	WorkDir          string
	ArchivePath      string
	ArchiveBytes     int64
	CheckpointSHA256 string
	ExitCode         int
}

// Store persists runs at a single SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates or opens the ledger database and ensures the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history: path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite handles one writer at a time
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts one run row.
func (s *Store) Record(ctx context.Context, run Run) error {
	if s == nil || s.db == nil {
		return errors.New("history: store is closed")
	}
	if run.ID == "" {
		return errors.New("history: run id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, started_at, finished_at, status, work_dir,
			archive_path, archive_bytes, checkpoint_sha256, exit_code
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		run.Status,
		run.WorkDir,
		run.ArchivePath,
		run.ArchiveBytes,
		run.CheckpointSHA256,
		run.ExitCode,
	)
	if err != nil {
		return fmt.Errorf("history: record run %s: %w", run.ID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("history: store is closed")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, work_dir,
		       archive_path, archive_bytes, checkpoint_sha256, exit_code
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  sql.NullTime
			finished sql.NullTime
		)
		if err := rows.Scan(
			&r.ID,
			&started,
			&finished,
			&r.Status,
			&r.WorkDir,
			&r.ArchivePath,
			&r.ArchiveBytes,
			&r.CheckpointSHA256,
			&r.ExitCode,
		); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		if started.Valid {
			r.StartedAt = started.Time
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			status TEXT NOT NULL,
			work_dir TEXT NOT NULL,
			archive_path TEXT,
			archive_bytes INTEGER NOT NULL DEFAULT 0,
			checkpoint_sha256 TEXT,
			exit_code INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
		CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`)
	return err
}
