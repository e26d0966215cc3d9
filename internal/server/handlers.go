package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ashwinrachhavt/code-review-agent/internal/event"
	"github.com/ashwinrachhavt/code-review-agent/internal/pipeline"
	"github.com/ashwinrachhavt/code-review-agent/internal/session"
	"github.com/ashwinrachhavt/code-review-agent/internal/state"
	"github.com/ashwinrachhavt/code-review-agent/internal/store"
)

const defaultThreadListLimit = 50

// Handler owns the REST and streaming endpoints. Each analyze/chat request
// drives one pipeline run; the response body is an SSE stream of the run's
// ordered events.
type Handler struct {
	Orchestrator *pipeline.Orchestrator
	Sessions     *session.Manager
	Broker       *event.Broker
}

func NewHandler(orch *pipeline.Orchestrator, sessions *session.Manager, broker *event.Broker) *Handler {
	if broker == nil {
		broker = event.NewBroker()
	}
	return &Handler{Orchestrator: orch, Sessions: sessions, Broker: broker}
}

type inboundMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type runRequest struct {
	ThreadID   string           `json:"threadId"`
	Mode       string           `json:"mode"`
	Code       string           `json:"code"`
	Files      []inboundFile    `json:"files"`
	ServerPath string           `json:"serverPath"`
	Messages   []inboundMessage `json:"messages"`
}

type inboundFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	h.runPipeline(w, r, state.ModeAnalyze)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	h.runPipeline(w, r, state.ModeChat)
}

func (h *Handler) runPipeline(w http.ResponseWriter, r *http.Request, defaultMode state.Mode) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}

	threadID, prior, err := h.Sessions.ResolveOrCreate(r.Context(), req.ThreadID)
	if err != nil {
		http.Error(w, "resolve thread: "+err.Error(), http.StatusInternalServerError)
		return
	}

	st, err := buildRunState(threadID, prior, req, defaultMode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	runID := uuid.NewString()
	stream := h.Broker.Allocate(runID, 0)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Thread-Id", threadID)
	w.Header().Set("X-Run-Id", runID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	go func() {
		defer h.Broker.ScheduleCleanup(runID)
		if err := h.Orchestrator.Run(r.Context(), st, stream); err != nil {
			log.Printf("server: run %s: %v", runID, err)
		}
	}()

	for ev := range stream.Events() {
		writeSSE(w, event.EncodeLine(ev))
		flusher.Flush()
	}
}

// writeSSE frames one payload as a server-sent event. Every line of a
// multi-line payload gets its own data: prefix; the receiver rejoins them with
// newlines, so fragments with embedded newlines survive the transport intact.
func writeSSE(w io.Writer, payload string) {
	for _, line := range strings.Split(payload, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	io.WriteString(w, "\n")
}

// buildRunState assembles the pipeline's state container from the request.
// Analyze runs start fresh (carrying over only prior messages for context);
// chat runs rehydrate the prior snapshot so replies stay grounded in the
// stored report.
func buildRunState(threadID string, prior *state.State, req runRequest, defaultMode state.Mode) (*state.State, error) {
	mode := state.Mode(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = defaultMode
	}

	var st *state.State
	if mode == state.ModeChat && prior != nil {
		st = prior
		st.Cancelled = false
		st.Progress = 0
	} else {
		st = state.New(threadID)
		if prior != nil {
			st.Messages = prior.Messages
		}
	}
	if err := st.SetThreadID(threadID); err != nil {
		return nil, err
	}
	st.Mode = mode

	switch {
	case strings.TrimSpace(req.ServerPath) != "":
		st.Source = state.SourceServerPath
		st.ServerPath = strings.TrimSpace(req.ServerPath)
	case len(req.Files) > 0:
		st.Source = state.SourceFileList
		st.Files = st.Files[:0]
		for _, f := range req.Files {
			path := strings.TrimSpace(f.Path)
			if path == "" || f.Content == "" {
				continue
			}
			st.Files = append(st.Files, state.File{Path: path, Size: len(f.Content), Content: f.Content})
		}
	default:
		st.Source = state.SourcePasted
		st.Code = req.Code
		if strings.TrimSpace(st.Code) == "" {
			st.Code = extractCodeFromMessages(req.Messages)
		}
	}

	if mode == state.ModeChat {
		st.ChatQuery = lastUserContent(req.Messages)
		if st.ChatQuery == "" {
			return nil, errors.New("chat requires at least one user message")
		}
	}
	return st, nil
}

var fencedBlockRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\n(.*?)```")

// extractCodeFromMessages pulls fenced code blocks out of the conversation so
// a client can analyze code pasted inline in a chat message.
func extractCodeFromMessages(msgs []inboundMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != "user" {
			continue
		}
		matches := fencedBlockRe.FindAllStringSubmatch(msgs[i].Content, -1)
		if len(matches) == 0 {
			continue
		}
		blocks := make([]string, 0, len(matches))
		for _, m := range matches {
			if block := strings.TrimSpace(m[1]); block != "" {
				blocks = append(blocks, block)
			}
		}
		if len(blocks) > 0 {
			return strings.Join(blocks, "\n\n")
		}
	}
	return ""
}

func lastUserContent(msgs []inboundMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return strings.TrimSpace(msgs[i].Content)
		}
	}
	return ""
}

func (h *Handler) handleListThreads(w http.ResponseWriter, r *http.Request) {
	limit := defaultThreadListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	threads, err := h.Sessions.List(r.Context(), limit)
	if err != nil {
		http.Error(w, "list threads: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

func (h *Handler) handleGetThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	th, msgs, err := h.Sessions.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "thread not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "get thread: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"thread": th, "messages": msgs})
}

func (h *Handler) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Sessions.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "thread not found", http.StatusNotFound)
			return
		}
		http.Error(w, "delete thread: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: write response: %v", err)
	}
}
