package event

import (
	"strings"
	"sync"
	"time"
)

const completedRunRetention = 30 * time.Second

// Broker manages per-run event streams so secondary watchers (SSE, websocket)
// can attach to an in-flight run by id.
type Broker struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{streams: make(map[string]*Stream)}
}

// Allocate registers a new stream for a run.
func (b *Broker) Allocate(runID string, size int) *Stream {
	st := NewStream(size)
	b.mu.Lock()
	b.streams[strings.TrimSpace(runID)] = st
	b.mu.Unlock()
	return st
}

// Get returns the stream for a run.
func (b *Broker) Get(runID string) (*Stream, bool) {
	b.mu.RLock()
	st, ok := b.streams[strings.TrimSpace(runID)]
	b.mu.RUnlock()
	return st, ok
}

// ScheduleCleanup drops a run's stream after a retention period so late
// watchers of a just-finished run still find it.
func (b *Broker) ScheduleCleanup(runID string) {
	time.AfterFunc(completedRunRetention, func() {
		b.mu.Lock()
		delete(b.streams, strings.TrimSpace(runID))
		b.mu.Unlock()
	})
}
