package llm

import (
	"context"
	"strings"
	"sync"
)

// FakeClient returns deterministic completions for offline use and tests. It
// records the prompts it was given so tests can assert on grounding context.
type FakeClient struct {
	// Reply, when set, is returned verbatim; otherwise a canned reply is built
	// from the prompt.
	Reply string
	// Fail forces every call to report the service as unavailable.
	Fail bool
	// ChunkSize controls how Stream splits the reply; defaults to 16 bytes.
	ChunkSize int

	mu      sync.Mutex
	prompts []string
}

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

// Prompts returns a copy of every prompt seen so far.
func (f *FakeClient) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.prompts))
	copy(out, f.prompts)
	return out
}

func (f *FakeClient) record(prompt string) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
}

func (f *FakeClient) Complete(ctx context.Context, prompt string) (string, error) {
	f.record(prompt)
	if f.Fail {
		return "", ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.reply(prompt), nil
}

func (f *FakeClient) Stream(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	f.record(prompt)
	out := make(chan string, 8)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		if f.Fail {
			errCh <- ErrUnavailable
			return
		}
		text := f.reply(prompt)
		size := f.ChunkSize
		if size <= 0 {
			size = 16
		}
		for len(text) > 0 {
			n := size
			if n > len(text) {
				n = len(text)
			}
			select {
			case out <- text[:n]:
				text = text[n:]
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()
	return out, errCh
}

func (f *FakeClient) reply(prompt string) string {
	if f.Reply != "" {
		return f.Reply
	}
	first := prompt
	if idx := strings.IndexByte(first, '\n'); idx > 0 {
		first = first[:idx]
	}
	return "Deterministic fake completion for: " + strings.TrimSpace(first)
}
