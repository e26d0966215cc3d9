package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/ashwinrachhavt/code-review-agent/internal/event"
)

// handleWatchSSE attaches a secondary SSE watcher to an in-flight run. Watchers
// see events published after attach; missed history is not replayed.
func (h *Handler) handleWatchSSE(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	if runID == "" {
		http.Error(w, "runId required", http.StatusBadRequest)
		return
	}

	stream, ok := h.Broker.Get(runID)
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	events, cancel := stream.Subscribe(0)
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-events:
			if !open {
				fmt.Fprintf(w, "event: close\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			writeSSE(w, event.EncodeLine(ev))
			flusher.Flush()
			if ev.Type == event.TypeDone {
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWatchWS is the websocket flavor of the watch endpoint; each event is
// one text message in the line protocol.
func (h *Handler) handleWatchWS(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	if runID == "" {
		http.Error(w, "runId required", http.StatusBadRequest)
		return
	}

	stream, ok := h.Broker.Get(runID)
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := stream.Subscribe(0)
	defer cancel()

	// Drain client frames so close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for ev := range events {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(event.EncodeLine(ev))); err != nil {
			return
		}
		if ev.Type == event.TypeDone {
			break
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
