// Package registry records the external component processes launched by the
// supervisor in a small SQLite database.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one launched component process within a supervisor run.
type Record struct {
	RunID     string     `json:"run_id"`
	Name      string     `json:"name"`
	PID       int        `json:"pid"`
	Command   string     `json:"command"`
	LogPath   string     `json:"log_path"`
	StartedAt time.Time  `json:"started_at"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	StopMode  string     `json:"stop_mode,omitempty"`
}

// Recorder is what the supervisor writes process lifecycle events to.
type Recorder interface {
	RecordStart(ctx context.Context, rec Record) error
	RecordExit(ctx context.Context, runID, name string, exitCode int, errText string) error
	RecordStop(ctx context.Context, runID, name, mode string) error
	List(ctx context.Context, runID string) ([]Record, error)
}

// Store is the SQLite-backed Recorder.
type Store struct {
	db *sql.DB
}

var _ Recorder = (*Store)(nil)

// Open opens (and migrates) the database at path, creating parent dirs.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("registry path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir registry dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS component_processes (
  run_id TEXT NOT NULL,
  name TEXT NOT NULL,
  pid INTEGER NOT NULL,
  command TEXT NOT NULL,
  log_path TEXT NOT NULL,
  started_at TEXT NOT NULL,
  exited_at TEXT,
  exit_code INTEGER,
  last_error TEXT,
  stopped_at TEXT,
  stop_mode TEXT,
  PRIMARY KEY (run_id, name)
);`,
		`CREATE INDEX IF NOT EXISTS idx_component_processes_started ON component_processes(started_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) RecordStart(ctx context.Context, rec Record) error {
	started := rec.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO component_processes(run_id,name,pid,command,log_path,started_at)
VALUES(?,?,?,?,?,?)
`, rec.RunID, rec.Name, rec.PID, rec.Command, rec.LogPath, started.Format(time.RFC3339Nano))
	return err
}

func (s *Store) RecordExit(ctx context.Context, runID, name string, exitCode int, errText string) error {
	now := time.Now().Format(time.RFC3339Nano)
	var lastErr *string
	if errText != "" {
		lastErr = &errText
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE component_processes
SET exited_at=?, exit_code=?, last_error=?
WHERE run_id=? AND name=?
`, now, exitCode, lastErr, runID, name)
	return err
}

func (s *Store) RecordStop(ctx context.Context, runID, name, mode string) error {
	now := time.Now().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
UPDATE component_processes
SET stopped_at=?, stop_mode=?
WHERE run_id=? AND name=?
`, now, mode, runID, name)
	return err
}

// List returns the records of runID in start order. An empty runID lists every run.
func (s *Store) List(ctx context.Context, runID string) ([]Record, error) {
	q := `
SELECT run_id,name,pid,command,log_path,started_at,exited_at,exit_code,last_error,stopped_at,stop_mode
FROM component_processes`
	var args []any
	if runID != "" {
		q += ` WHERE run_id=?`
		args = append(args, runID)
	}
	q += ` ORDER BY started_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var startedAt string
		var exitedAt, lastErr, stoppedAt, stopMode sql.NullString
		var exitCode sql.NullInt64
		if err := rows.Scan(&r.RunID, &r.Name, &r.PID, &r.Command, &r.LogPath, &startedAt, &exitedAt, &exitCode, &lastErr, &stoppedAt, &stopMode); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			r.StartedAt = t
		}
		r.ExitedAt = parseTime(exitedAt)
		r.StoppedAt = parseTime(stoppedAt)
		if exitCode.Valid {
			v := int(exitCode.Int64)
			r.ExitCode = &v
		}
		r.LastError = lastErr.String
		r.StopMode = stopMode.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// Nop discards everything. Used when the state database is disabled.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) RecordStart(context.Context, Record) error                     { return nil }
func (Nop) RecordExit(context.Context, string, string, int, string) error { return nil }
func (Nop) RecordStop(context.Context, string, string, string) error      { return nil }
func (Nop) List(context.Context, string) ([]Record, error)                { return nil, nil }
