package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGroqCompleteParsesChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"the answer"}}]}`)
	}))
	defer srv.Close()

	g := NewGroqClient("test-key", "test-model")
	g.baseURL = srv.URL

	got, err := g.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatal(err)
	}
	if got != "the answer" {
		t.Fatalf("content = %q", got)
	}
}

func TestGroqStreamParsesSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"hel"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"lo"}}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	g := NewGroqClient("k", "m")
	g.baseURL = srv.URL

	frags, errCh := g.Stream(context.Background(), "prompt")
	var sb strings.Builder
	for frag := range frags {
		sb.WriteString(frag)
	}
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	if sb.String() != "hello" {
		t.Fatalf("reassembled = %q", sb.String())
	}
}

func TestGroqUnavailableOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewGroqClient("k", "m")
	g.baseURL = srv.URL

	if _, err := g.Complete(context.Background(), "p"); err == nil {
		t.Fatal("server error not surfaced")
	}
}

func TestGroqEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	g := NewGroqClient("k", "m")
	g.baseURL = srv.URL

	if _, err := g.Complete(context.Background(), "p"); err != ErrEmptyCompletion {
		t.Fatalf("got %v, want ErrEmptyCompletion", err)
	}
}
