package event

import (
	"testing"
)

func drain(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestStreamOrderAndTerminalDone(t *testing.T) {
	s := NewStream(16)
	s.Progress(5)
	s.Status("starting")
	s.Fragment("hello ")
	s.Fragment("world")
	s.Done()

	evs := drain(s.Events())
	wantTypes := []Type{TypeProgress, TypeStatus, TypeFragment, TypeFragment, TypeDone}
	if len(evs) != len(wantTypes) {
		t.Fatalf("got %d events, want %d: %+v", len(evs), len(wantTypes), evs)
	}
	for i, want := range wantTypes {
		if evs[i].Type != want {
			t.Fatalf("event %d type = %v, want %v", i, evs[i].Type, want)
		}
	}
}

func TestStreamProgressClamped(t *testing.T) {
	s := NewStream(16)
	for _, pct := range []int{10, 60, 30, 110, -5} {
		s.Progress(pct)
	}
	s.Done()

	last := -1
	for _, ev := range drain(s.Events()) {
		if ev.Type != TypeProgress {
			continue
		}
		if ev.Progress < last {
			t.Fatalf("progress regressed: %d after %d", ev.Progress, last)
		}
		if ev.Progress < 0 || ev.Progress > 100 {
			t.Fatalf("progress out of range: %d", ev.Progress)
		}
		last = ev.Progress
	}
	if last != 100 {
		t.Fatalf("final progress = %d, want 100", last)
	}
}

func TestStreamExactlyOneDone(t *testing.T) {
	s := NewStream(16)
	s.Done()
	s.Done()
	s.Status("after done") // dropped

	done := 0
	for _, ev := range drain(s.Events()) {
		if ev.Type == TypeDone {
			done++
		}
		if ev.Type == TypeStatus {
			t.Fatal("status emitted after done")
		}
	}
	if done != 1 {
		t.Fatalf("done events = %d, want 1", done)
	}
}

func TestStreamCloseWithoutDone(t *testing.T) {
	s := NewStream(16)
	s.Status("partial")
	s.Close()
	for _, ev := range drain(s.Events()) {
		if ev.Type == TypeDone {
			t.Fatal("close emitted a done marker")
		}
	}
}

func TestStreamDropsWhenSaturated(t *testing.T) {
	s := NewStream(2)
	for i := 0; i < 10; i++ {
		s.Status("filler")
	}
	// Publishing past a full buffer must not block; reaching here is the test.
	s.Done()
}

func TestSubscribeSeesSubsequentEvents(t *testing.T) {
	s := NewStream(16)
	s.Status("before attach")

	sub, cancel := s.Subscribe(16)
	defer cancel()
	s.Status("after attach")
	s.Done()

	evs := drain(sub)
	for _, ev := range evs {
		if ev.Text == "before attach" {
			t.Fatal("watcher replayed history")
		}
	}
	if len(evs) != 2 || evs[len(evs)-1].Type != TypeDone {
		t.Fatalf("watcher events = %+v", evs)
	}
}

func TestSubscribeAfterCloseYieldsClosedChannel(t *testing.T) {
	s := NewStream(16)
	s.Done()
	sub, cancel := s.Subscribe(16)
	defer cancel()
	if _, open := <-sub; open {
		t.Fatal("subscription to finished stream not closed")
	}
}

func TestBrokerLifecycle(t *testing.T) {
	b := NewBroker()
	st := b.Allocate("run-1", 4)
	if got, ok := b.Get("run-1"); !ok || got != st {
		t.Fatal("allocated stream not retrievable")
	}
	if _, ok := b.Get("missing"); ok {
		t.Fatal("unknown run id resolved")
	}
}
