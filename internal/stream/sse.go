package stream

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultKeepAlive is how often an idle feed sends a comment line.
const DefaultKeepAlive = 15 * time.Second

// SSEHandler serves broadcaster events as text/event-stream.
type SSEHandler struct {
	broadcaster *Broadcaster
	keepAlive   time.Duration
}

// NewSSEHandler creates a handler. keepAlive <= 0 selects DefaultKeepAlive.
func NewSSEHandler(b *Broadcaster, keepAlive time.Duration) *SSEHandler {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &SSEHandler{broadcaster: b, keepAlive: keepAlive}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	log := slog.With("remote", r.RemoteAddr)
	log.Debug("event listener connected", "listeners", h.broadcaster.ListenerCount())
	defer log.Debug("event listener disconnected")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-listener.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-listener.C:
			if err := WriteEvent(w, ev); err != nil {
				log.Debug("event write failed", "err", err)
				return
			}
			flusher.Flush()
		}
	}
}

// WriteEvent writes ev in event-stream framing.
func WriteEvent(w io.Writer, ev Event) error {
	if ev.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", ev.Type); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.ID, ev.Data)
	return err
}
