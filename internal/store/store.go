package store

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"
)

var ErrNotFound = errors.New("store: thread not found")

// Thread is one persisted analysis/conversation session.
type Thread struct {
	ID            string          `json:"thread_id"`
	Title         string          `json:"title"`
	ReportText    string          `json:"report_text,omitempty"`
	StateSnapshot json.RawMessage `json:"state,omitempty"`
	FileCount     int             `json:"file_count"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Message is one persisted conversation turn, child of a thread. Ordering is
// by CreatedAt with ties broken by insertion order.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the keyed thread/message persistence contract. AppendMessages
// dedups by message identity so a retried commit inserts nothing new.
type Store interface {
	UpsertThread(ctx context.Context, th Thread) error
	GetThread(ctx context.Context, id string) (Thread, error)
	ListThreads(ctx context.Context, limit int) ([]Thread, error)
	DeleteThread(ctx context.Context, id string) error
	AppendMessages(ctx context.Context, threadID string, msgs []Message) error
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
	Close() error
}

// NewFromEnv resolves the backend: postgres DSN first, then a sqlite path,
// otherwise the process-scoped in-memory store (created at startup, discarded
// at shutdown).
func NewFromEnv(pgDSN, sqlitePath string) Store {
	if dsn := strings.TrimSpace(pgDSN); dsn != "" {
		s, err := NewPostgres(dsn)
		if err == nil {
			log.Printf("store: using postgres backend")
			return s
		}
		log.Printf("store: postgres unavailable (%v), falling back", err)
	}
	if path := strings.TrimSpace(sqlitePath); path != "" {
		s, err := NewSQLite(path)
		if err == nil {
			log.Printf("store: using sqlite backend at %s", path)
			return s
		}
		log.Printf("store: sqlite unavailable (%v), falling back", err)
	}
	log.Printf("store: using in-memory backend")
	return NewMemory()
}

func normalizeThread(th Thread) Thread {
	th.ID = strings.TrimSpace(th.ID)
	th.Title = strings.TrimSpace(th.Title)
	if th.Title == "" {
		th.Title = "Code Review"
	}
	return th
}
