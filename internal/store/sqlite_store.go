package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists threads and messages in an embedded sqlite database,
// useful for single-node deployments without postgres.
type SQLiteStore struct {
	db         *sql.DB
	schemaOnce sync.Once
	schemaErr  error

	// sqlite allows one writer at a time; serialize writes to avoid SQLITE_BUSY.
	writeMu sync.Mutex
}

func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", strings.TrimSpace(path))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) ensureSchema() error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`
CREATE TABLE IF NOT EXISTS threads (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT 'Code Review',
  report_text TEXT NOT NULL DEFAULT '',
  state_snapshot TEXT,
  file_count INTEGER NOT NULL DEFAULT 0,
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
  id TEXT PRIMARY KEY,
  thread_id TEXT NOT NULL REFERENCES threads (id) ON DELETE CASCADE,
  role TEXT NOT NULL,
  content TEXT NOT NULL,
  seq INTEGER,
  created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_thread_id ON messages (thread_id);
`)
	})
	return s.schemaErr
}

func (s *SQLiteStore) UpsertThread(ctx context.Context, th Thread) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	th = normalizeThread(th)
	if th.ID == "" {
		return ErrNotFound
	}
	snapshot := "null"
	if len(th.StateSnapshot) > 0 {
		snapshot = string(th.StateSnapshot)
	}
	now := time.Now().UTC()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO threads (id, title, report_text, state_snapshot, file_count, created_at, updated_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT (id)
DO UPDATE SET title=excluded.title,
  report_text=excluded.report_text,
  state_snapshot=excluded.state_snapshot,
  file_count=excluded.file_count,
  updated_at=excluded.updated_at`,
		th.ID, th.Title, th.ReportText, snapshot, th.FileCount, now, now)
	if err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetThread(ctx context.Context, id string) (Thread, error) {
	if err := s.ensureSchema(); err != nil {
		return Thread{}, err
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, title, report_text, COALESCE(state_snapshot, 'null'), file_count, created_at, updated_at
FROM threads WHERE id = ?`, strings.TrimSpace(id))
	return scanSQLiteThread(row)
}

func (s *SQLiteStore) ListThreads(ctx context.Context, limit int) ([]Thread, error) {
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, report_text, COALESCE(state_snapshot, 'null'), file_count, created_at, updated_at
FROM threads ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Thread
	for rows.Next() {
		th, err := scanSQLiteThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteThread(ctx context.Context, id string) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, strings.TrimSpace(id))
	return nil
}

func (s *SQLiteStore) AppendMessages(ctx context.Context, threadID string, msgs []Message) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	threadID = strings.TrimSpace(threadID)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM messages WHERE thread_id = ?`, threadID).Scan(&maxSeq); err != nil {
		return err
	}
	seq := maxSeq.Int64
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		created := m.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		seq++
		_, err := tx.ExecContext(ctx, `
INSERT INTO messages (id, thread_id, role, content, seq, created_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT (id) DO NOTHING`,
			m.ID, threadID, m.Role, m.Content, seq, created)
		if err != nil {
			return fmt.Errorf("append message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, thread_id, role, content, created_at
FROM messages WHERE thread_id = ? ORDER BY created_at, seq`, strings.TrimSpace(threadID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func scanSQLiteThread(row rowScanner) (Thread, error) {
	var th Thread
	var snapshot string
	err := row.Scan(&th.ID, &th.Title, &th.ReportText, &snapshot, &th.FileCount, &th.CreatedAt, &th.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Thread{}, ErrNotFound
	}
	if err != nil {
		return Thread{}, err
	}
	if snapshot != "" && snapshot != "null" {
		th.StateSnapshot = json.RawMessage(snapshot)
	}
	return th, nil
}
