// Package storage journals sessions to SQLite so finished runs stay
// inspectable after their event streams are gone.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Session lifecycle states as stored in the journal.
const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusError    = "error"
)

// ErrNotFound indicates the session id has no journal row.
var ErrNotFound = errors.New("storage: session not found")

// SessionRecord is one journal row.
type SessionRecord struct {
	ID        string     `json:"id"`
	Task      string     `json:"task"`
	Model     string     `json:"model"`
	Status    string     `json:"status"`
	Result    string     `json:"result,omitempty"`
	ErrorType string     `json:"error_type,omitempty"`
	VideoPath string     `json:"video_path,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the journal database and applies the schema.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL keeps readers unblocked while a run's terminal write lands.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the journal database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSession journals a new session in pending state.
func (s *Store) CreateSession(ctx context.Context, id, task, model string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, task, model, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, task, model, StatusPending, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	return nil
}

// MarkRunning flips a session into the running state.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	return s.updateStatus(ctx, id, `UPDATE sessions SET status = ? WHERE id = ?`, StatusRunning)
}

// FinishSession records the terminal outcome of a run.
func (s *Store) FinishSession(ctx context.Context, id, status, result, errorType, videoPath string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, result = ?, error_type = ?, video_path = ?, ended_at = ? WHERE id = ?`,
		status, result, errorType, videoPath, time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("finish session %s: %w", id, err)
	}
	return checkAffected(res, id)
}

func (s *Store) updateStatus(ctx context.Context, id, query, status string) error {
	res, err := s.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	return checkAffected(res, id)
}

func checkAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// GetSession loads one journal row.
func (s *Store) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task, model, status, COALESCE(result, ''), COALESCE(error_type, ''),
		        COALESCE(video_path, ''), created_at, ended_at
		 FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// ListSessions returns journal rows newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task, model, status, COALESCE(result, ''), COALESCE(error_type, ''),
		        COALESCE(video_path, ''), created_at, ended_at
		 FROM sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanSession(scan func(...any) error) (SessionRecord, error) {
	var (
		rec     SessionRecord
		created string
		ended   sql.NullString
	)
	if err := scan(&rec.ID, &rec.Task, &rec.Model, &rec.Status, &rec.Result,
		&rec.ErrorType, &rec.VideoPath, &created, &ended); err != nil {
		return SessionRecord{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		rec.CreatedAt = t
	}
	if ended.Valid {
		if t, err := time.Parse(time.RFC3339Nano, ended.String); err == nil {
			rec.EndedAt = &t
		}
	}
	return rec, nil
}
