package llm

import (
	"context"
	"fmt"
	"os"
	"strconv"

	genai "google.golang.org/genai"
)

// GeminiClient is a thin wrapper around the official genai client.
type GeminiClient struct {
	cli   *genai.Client
	model string
	rl    *rpsLimiter
}

func NewGeminiClient(ctx context.Context, model string) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	// Optional RPS limiter via env: LLM_RPS / LLM_BURST.
	var rps float64
	var burst int
	if v := os.Getenv("LLM_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rps = f
		}
	}
	if v := os.Getenv("LLM_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			burst = n
		}
	}
	return &GeminiClient{cli: cli, model: model, rl: newRPSLimiter(rps, burst)}, nil
}

func (g *GeminiClient) Name() string { return "Gemini:" + g.model }

func (g *GeminiClient) Close() error {
	if g.rl != nil {
		g.rl.Stop()
	}
	return nil
}

func (g *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := g.rl.Acquire(ctx); err != nil {
		return "", err
	}
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}}, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyCompletion
	}
	text := resp.Candidates[0].Content.Parts[0].Text
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// Stream consumes the provider token stream and forwards each fragment as it
// arrives. The fragment channel closes when the stream ends.
func (g *GeminiClient) Stream(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	out := make(chan string, 16)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		if err := g.rl.Acquire(ctx); err != nil {
			errCh <- err
			return
		}
		sawText := false
		for resp, err := range g.cli.Models.GenerateContentStream(ctx, g.model,
			[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}}, nil) {
			if err != nil {
				errCh <- fmt.Errorf("%w: %v", ErrUnavailable, err)
				return
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part == nil || part.Text == "" {
					continue
				}
				sawText = true
				select {
				case out <- part.Text:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
		}
		if !sawText {
			errCh <- ErrEmptyCompletion
		}
	}()
	return out, errCh
}
