package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the process-scoped fallback backend.
type MemoryStore struct {
	mu       sync.RWMutex
	threads  map[string]Thread
	messages map[string][]Message
	seen     map[string]struct{}
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		threads:  make(map[string]Thread),
		messages: make(map[string][]Message),
		seen:     make(map[string]struct{}),
	}
}

func (s *MemoryStore) UpsertThread(_ context.Context, th Thread) error {
	th = normalizeThread(th)
	if th.ID == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if cur, ok := s.threads[th.ID]; ok {
		th.CreatedAt = cur.CreatedAt
	} else if th.CreatedAt.IsZero() {
		th.CreatedAt = now
	}
	th.UpdatedAt = now
	s.threads[th.ID] = th
	return nil
}

func (s *MemoryStore) GetThread(_ context.Context, id string) (Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	th, ok := s.threads[strings.TrimSpace(id)]
	if !ok {
		return Thread{}, ErrNotFound
	}
	return th, nil
}

func (s *MemoryStore) ListThreads(_ context.Context, limit int) ([]Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Thread, 0, len(s.threads))
	for _, th := range s.threads {
		out = append(out, th)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteThread(_ context.Context, id string) error {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; !ok {
		return ErrNotFound
	}
	delete(s.threads, id)
	for _, m := range s.messages[id] {
		delete(s.seen, m.ID)
	}
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) AppendMessages(_ context.Context, threadID string, msgs []Message) error {
	threadID = strings.TrimSpace(threadID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		if _, dup := s.seen[m.ID]; dup {
			continue
		}
		m.ThreadID = threadID
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		s.seen[m.ID] = struct{}{}
		s.messages[threadID] = append(s.messages[threadID], m)
	}
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, threadID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[strings.TrimSpace(threadID)]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	// Insertion order already matches CreatedAt order with stable ties.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
