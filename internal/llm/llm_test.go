package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestFakeClientStreamReassembles(t *testing.T) {
	f := &FakeClient{Reply: "a fairly long deterministic reply body", ChunkSize: 7}
	frags, errCh := f.Stream(context.Background(), "prompt one")

	var sb strings.Builder
	chunks := 0
	for frag := range frags {
		sb.WriteString(frag)
		chunks++
	}
	if err := <-errCh; err != nil {
		t.Fatalf("stream: %v", err)
	}
	if sb.String() != f.Reply {
		t.Fatalf("reassembled = %q", sb.String())
	}
	if chunks < 2 {
		t.Fatalf("chunks = %d, want the reply split up", chunks)
	}
}

func TestFakeClientRecordsPrompts(t *testing.T) {
	f := &FakeClient{}
	if _, err := f.Complete(context.Background(), "first"); err != nil {
		t.Fatal(err)
	}
	frags, errCh := f.Stream(context.Background(), "second")
	for range frags {
	}
	<-errCh

	got := f.Prompts()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("prompts = %v", got)
	}
}

func TestFakeClientFail(t *testing.T) {
	f := &FakeClient{Fail: true}
	if _, err := f.Complete(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
	frags, errCh := f.Stream(context.Background(), "x")
	for range frags {
	}
	if err := <-errCh; !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestStreamViaComplete(t *testing.T) {
	f := &FakeClient{Reply: "whole reply at once"}
	frags, errCh := StreamViaComplete(context.Background(), f, "p")
	var got []string
	for frag := range frags {
		got = append(got, frag)
	}
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != f.Reply {
		t.Fatalf("fragments = %v", got)
	}
}

func TestRPSLimiterDisabled(t *testing.T) {
	var l *rpsLimiter
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}
	l.Stop()
}

func TestRPSLimiterBurstThenThrottle(t *testing.T) {
	l := newRPSLimiter(1000, 2)
	defer l.Stop()

	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	// Third acquire waits for a refill but must not hang at 1000 rps.
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("refill acquire: %v", err)
	}
}

func TestRPSLimiterCancelledContext(t *testing.T) {
	l := newRPSLimiter(0.001, 1)
	defer l.Stop()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
