package server

import (
	"net/http"
)

// NewMux wires the REST + streaming surface.
func NewMux(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/analyze", h.handleAnalyze)
	mux.HandleFunc("POST /api/chat", h.handleChat)

	mux.HandleFunc("GET /api/threads", h.handleListThreads)
	mux.HandleFunc("GET /api/threads/{id}", h.handleGetThread)
	mux.HandleFunc("DELETE /api/threads/{id}", h.handleDeleteThread)

	// Secondary watchers attach to an in-flight run by id.
	mux.HandleFunc("GET /api/watch/{runId}", h.handleWatchSSE)
	mux.HandleFunc("GET /api/watch/ws/{runId}", h.handleWatchWS)

	mux.HandleFunc("GET /healthz", h.handleHealth)

	return cors(mux)
}
