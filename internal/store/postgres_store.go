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

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists threads and messages over database/sql with the pgx
// stdlib driver.
type PostgresStore struct {
	db         *sql.DB
	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) ensureSchema() error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`
CREATE TABLE IF NOT EXISTS threads (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT 'Code Review',
  report_text TEXT NOT NULL DEFAULT '',
  state_snapshot JSONB,
  file_count INTEGER NOT NULL DEFAULT 0,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
  updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS messages (
  id TEXT PRIMARY KEY,
  thread_id TEXT NOT NULL REFERENCES threads (id) ON DELETE CASCADE,
  role TEXT NOT NULL,
  content TEXT NOT NULL,
  seq BIGSERIAL,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_messages_thread_id ON messages (thread_id);
`)
	})
	return s.schemaErr
}

func (s *PostgresStore) UpsertThread(ctx context.Context, th Thread) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	th = normalizeThread(th)
	if th.ID == "" {
		return ErrNotFound
	}
	snapshot := th.StateSnapshot
	if len(snapshot) == 0 {
		snapshot = json.RawMessage("null")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO threads (id, title, report_text, state_snapshot, file_count, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
ON CONFLICT (id)
DO UPDATE SET title=EXCLUDED.title,
  report_text=EXCLUDED.report_text,
  state_snapshot=EXCLUDED.state_snapshot,
  file_count=EXCLUDED.file_count,
  updated_at=NOW()`,
		th.ID, th.Title, th.ReportText, []byte(snapshot), th.FileCount)
	if err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetThread(ctx context.Context, id string) (Thread, error) {
	if err := s.ensureSchema(); err != nil {
		return Thread{}, err
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, title, report_text, COALESCE(state_snapshot, 'null'::jsonb), file_count, created_at, updated_at
FROM threads WHERE id = $1`, strings.TrimSpace(id))
	return scanThread(row)
}

func (s *PostgresStore) ListThreads(ctx context.Context, limit int) ([]Thread, error) {
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, report_text, COALESCE(state_snapshot, 'null'::jsonb), file_count, created_at, updated_at
FROM threads ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Thread
	for rows.Next() {
		th, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteThread(ctx context.Context, id string) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = $1`, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendMessages(ctx context.Context, threadID string, msgs []Message) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	threadID = strings.TrimSpace(threadID)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		created := m.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		// Identity-based dedup: a retried commit re-inserts nothing.
		_, err := tx.ExecContext(ctx, `
INSERT INTO messages (id, thread_id, role, content, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO NOTHING`,
			m.ID, threadID, m.Role, m.Content, created)
		if err != nil {
			return fmt.Errorf("append message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, thread_id, role, content, created_at
FROM messages WHERE thread_id = $1 ORDER BY created_at, seq`, strings.TrimSpace(threadID))
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

func (s *PostgresStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (Thread, error) {
	var th Thread
	var snapshot []byte
	err := row.Scan(&th.ID, &th.Title, &th.ReportText, &snapshot, &th.FileCount, &th.CreatedAt, &th.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Thread{}, ErrNotFound
	}
	if err != nil {
		return Thread{}, err
	}
	if len(snapshot) > 0 && string(snapshot) != "null" {
		th.StateSnapshot = json.RawMessage(snapshot)
	}
	return th, nil
}
