package event

import (
	"sync"
)

// Stream is the ordered outbound event queue for one run. Events are delivered
// in publish order; progress values are clamped to be non-decreasing; at most
// one done event terminates the stream. Sends never block the pipeline: when
// the consumer stops draining, events are dropped (at-most-once delivery per
// connection).
type Stream struct {
	ch chan Event

	mu      sync.Mutex
	subs    map[int]chan Event
	nextSub int
	closed  bool
	lastPct int
}

// NewStream allocates a stream with a bounded buffer.
func NewStream(size int) *Stream {
	if size <= 0 {
		size = 256
	}
	return &Stream{ch: make(chan Event, size)}
}

// Events exposes the ordered outbound channel; it is closed after the terminal
// event or an explicit Close.
func (s *Stream) Events() <-chan Event { return s.ch }

// Subscribe attaches a secondary watcher that receives every event published
// after the call. The returned cancel func detaches the watcher.
func (s *Stream) Subscribe(size int) (<-chan Event, func()) {
	if size <= 0 {
		size = 256
	}
	ch := make(chan Event, size)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	if s.subs == nil {
		s.subs = make(map[int]chan Event)
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
		s.mu.Unlock()
	}
}

// Progress publishes a progress event, clamped so observed values within one
// run form a non-decreasing sequence in [0,100].
func (s *Stream) Progress(pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if pct < s.lastPct {
		pct = s.lastPct
	}
	s.lastPct = pct
	s.send(Event{Type: TypeProgress, Progress: pct})
}

// Status publishes a human-readable milestone line.
func (s *Stream) Status(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.send(Event{Type: TypeStatus, Text: text})
}

// Fragment publishes a partial synthesis chunk, preserving token order.
func (s *Stream) Fragment(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.send(Event{Type: TypeFragment, Text: text})
}

// Done terminates a successful (or gracefully degraded) run. At most one done
// event is emitted no matter how often it is called; the channel closes after.
func (s *Stream) Done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.send(Event{Type: TypeDone})
	s.closed = true
	close(s.ch)
	s.closeSubs()
}

// Close terminates the stream without a done marker (hard failure or
// cancellation path).
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	s.closeSubs()
}

func (s *Stream) send(ev Event) {
	select {
	case s.ch <- ev:
	default: // consumer gone or saturated; drop rather than stall the run
	}
	for _, sub := range s.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}

func (s *Stream) closeSubs() {
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub)
	}
}
