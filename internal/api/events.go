package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/ipcmux/internal/events"
)

// EventSource is the live feed behind GET /events.
type EventSource interface {
	Subscribe(buffer int) (<-chan events.Event, func())
	SnapshotSince(lastID int64) []events.Event
}

// keepAliveInterval spaces SSE comment lines on idle streams.
const keepAliveInterval = 15 * time.Second

// WithEvents enables GET /events. Call it before Serve.
func (s *Server) WithEvents(src EventSource) *Server {
	s.events = src
	return s
}

// handleEvents streams host events as server-sent events. A ?worker=
// query narrows the stream to one worker.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	worker := r.URL.Query().Get("worker")
	if worker != "" {
		if _, ok := s.registry.Get(worker); !ok {
			s.writeError(w, http.StatusNotFound, "worker not found")
			return
		}
	}

	// Streams outlive the server's WriteTimeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	// Subscribe before the replay so nothing published in between is lost.
	ch, cancel := s.events.Subscribe(64)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	lastID := parseLastEventID(r.Header.Get("Last-Event-ID"))
	for _, ev := range s.events.SnapshotSince(lastID) {
		if worker != "" && ev.Worker != worker {
			continue
		}
		if err := writeSSE(w, ev); err != nil {
			return
		}
		lastID = ev.ID
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ID <= lastID || (worker != "" && ev.Worker != worker) {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE frames one event. The data line is the whole event as
// single-line JSON.
func writeSSE(w http.ResponseWriter, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
	return err
}
