package llm

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable marks completion-service failures the pipeline treats as
	// degraded, never hard errors.
	ErrUnavailable = errors.New("llm: completion service unavailable")
	// ErrEmptyCompletion marks a response with no usable text.
	ErrEmptyCompletion = errors.New("llm: empty completion")
)

// Client is the uniform completion-service contract: one-shot text and a
// token stream. Stream sends fragments in token order on the returned channel
// and closes it when the stream ends; a non-nil error on the error channel
// means the stream terminated early.
type Client interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string) (<-chan string, <-chan error)
	Close() error
}

// StreamViaComplete adapts a one-shot completion into the stream contract for
// providers without token streaming.
func StreamViaComplete(ctx context.Context, c Client, prompt string) (<-chan string, <-chan error) {
	out := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		text, err := c.Complete(ctx, prompt)
		if err != nil {
			errCh <- err
			return
		}
		select {
		case out <- text:
		case <-ctx.Done():
			errCh <- ctx.Err()
		}
	}()
	return out, errCh
}
