package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"github.com/ashwinrachhavt/code-review-agent/internal/state"
	"github.com/ashwinrachhavt/code-review-agent/internal/store"
)

const snapshotCacheSize = 256

// Manager owns the mapping from thread ids to persisted state snapshots. It
// is the only writer of the store; writes to the same thread are serialized
// (single-writer-per-thread), writes to different threads run concurrently.
type Manager struct {
	store   store.Store
	archive *store.ReportArchive

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	snapshots *lru.Cache[string, store.Thread]
}

func NewManager(st store.Store, archive *store.ReportArchive) *Manager {
	cache, err := lru.New[string, store.Thread](snapshotCacheSize)
	if err != nil {
		// lru.New only fails on size <= 0.
		panic(err)
	}
	return &Manager{
		store:     st,
		archive:   archive,
		locks:     make(map[string]*sync.Mutex),
		snapshots: cache,
	}
}

// ResolveOrCreate returns the thread id for a run plus the prior persisted
// state, if any, for grounding chat. An empty id mints a new one.
func (m *Manager) ResolveOrCreate(ctx context.Context, threadID string) (string, *state.State, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return uuid.NewString(), nil, nil
	}

	th, ok := m.snapshots.Get(threadID)
	if !ok {
		var err error
		th, err = m.store.GetThread(ctx, threadID)
		if errors.Is(err, store.ErrNotFound) {
			return threadID, nil, nil
		}
		if err != nil {
			// Degrade to an ungrounded run rather than failing the request.
			log.Printf("session: load thread %s: %v", threadID, err)
			return threadID, nil, nil
		}
		m.snapshots.Add(threadID, th)
	}
	if len(th.StateSnapshot) == 0 {
		return threadID, nil, nil
	}
	prior, err := state.Restore(th.StateSnapshot)
	if err != nil {
		log.Printf("session: corrupt snapshot for thread %s: %v", threadID, err)
		return threadID, nil, nil
	}
	return threadID, prior, nil
}

// Commit upserts the thread row and appends any new messages. Message rows
// are dedupped by identity, so a retried commit with unchanged messages
// inserts nothing.
func (m *Manager) Commit(ctx context.Context, st *state.State) error {
	if st == nil || strings.TrimSpace(st.ThreadID) == "" {
		return fmt.Errorf("session: commit without thread id")
	}

	snapshot, err := st.Snapshot()
	if err != nil {
		return err
	}

	lock := m.threadLock(st.ThreadID)
	lock.Lock()
	defer lock.Unlock()

	th := store.Thread{
		ID:            st.ThreadID,
		Title:         threadTitle(st),
		ReportText:    st.Report,
		StateSnapshot: snapshot,
		FileCount:     len(st.Files),
	}
	if err := m.store.UpsertThread(ctx, th); err != nil {
		return fmt.Errorf("session: upsert thread: %w", err)
	}

	msgs := make([]store.Message, 0, len(st.Messages))
	for _, msg := range st.Messages {
		msgs = append(msgs, store.Message{
			ID:        msg.ID,
			ThreadID:  st.ThreadID,
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		})
	}
	if err := m.store.AppendMessages(ctx, st.ThreadID, msgs); err != nil {
		return fmt.Errorf("session: append messages: %w", err)
	}

	m.snapshots.Add(st.ThreadID, th)

	if m.archive != nil && st.Report != "" {
		if err := m.archive.Put(ctx, st.ThreadID, st.Report); err != nil {
			log.Printf("session: archive report for %s: %v", st.ThreadID, err)
		}
	}
	return nil
}

// List returns recent threads ordered by updated_at descending.
func (m *Manager) List(ctx context.Context, limit int) ([]store.Thread, error) {
	return m.store.ListThreads(ctx, limit)
}

// Get returns one thread with its full message history.
func (m *Manager) Get(ctx context.Context, threadID string) (store.Thread, []store.Message, error) {
	th, err := m.store.GetThread(ctx, threadID)
	if err != nil {
		return store.Thread{}, nil, err
	}
	msgs, err := m.store.ListMessages(ctx, threadID)
	if err != nil {
		return store.Thread{}, nil, err
	}
	return th, msgs, nil
}

// Delete removes a thread; administrative surface, not used by the pipeline.
func (m *Manager) Delete(ctx context.Context, threadID string) error {
	m.snapshots.Remove(strings.TrimSpace(threadID))
	return m.store.DeleteThread(ctx, threadID)
}

func (m *Manager) threadLock(threadID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[threadID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[threadID] = lock
	}
	return lock
}

func threadTitle(st *state.State) string {
	id := st.ThreadID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Analysis " + id
}
