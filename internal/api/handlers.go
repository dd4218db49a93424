package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/ipcmux/internal/ipc"
	"github.com/mattjoyce/ipcmux/internal/plugin"
)

const (
	stateIdle    = "idle"
	stateRunning = "running"
	stateStopped = "stopped"
)

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	for _, wk := range s.registry.All() {
		resp.WorkersLoaded++
		switch state, _ := workerState(wk); state {
		case stateRunning:
			resp.WorkersRunning++
		case stateStopped:
			resp.WorkersStopped++
		}
	}

	code := http.StatusOK
	if resp.WorkersStopped > 0 {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, resp)
}

// handleListWorkers handles GET /workers.
func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	all := s.registry.All()
	resp := WorkersResponse{Workers: make([]WorkerResponse, 0, len(all))}
	for _, wk := range all {
		resp.Workers = append(resp.Workers, s.describe(wk))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetWorker handles GET /workers/{name}.
func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	wk, ok := s.registry.Get(chi.URLParam(r, "name"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "worker not found")
		return
	}
	respondJSON(w, http.StatusOK, s.describe(wk))
}

// handleCommand handles POST /workers/{name}/commands.
//
// The body is either a JSON CommandRequest or, for any other content type,
// the raw command bytes.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.registry.Get(name); !ok {
		s.writeError(w, http.StatusNotFound, "worker not found")
		return
	}
	if s.relay == nil {
		s.writeError(w, http.StatusServiceUnavailable, "command relay disabled")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxCommandBytes))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "command too large")
		return
	}

	cmd := body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req CommandRequest
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		cmd = []byte(req.Command)
	}
	if len(cmd) == 0 {
		s.writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	start := time.Now()
	res, err := s.relay.Send(r.Context(), name, cmd)
	if err != nil {
		s.logger.Warn("command relay failed", "worker", name, "error", err,
			"request_id", middleware.GetReqID(r.Context()))
		switch {
		case errors.Is(err, ipc.ErrNoHandle):
			s.writeError(w, http.StatusNotFound, "worker has no relay channel")
		case errors.Is(err, ipc.ErrRelayStopped):
			s.writeError(w, http.StatusServiceUnavailable, "relay stopped")
		case errors.Is(err, ipc.ErrHandleStale):
			s.writeError(w, http.StatusServiceUnavailable, "worker channel stale after a timeout")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			s.writeError(w, http.StatusGatewayTimeout, "request cancelled")
		default:
			s.writeError(w, http.StatusBadGateway, "worker channel failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, CommandResponse{
		RequestID:  middleware.GetReqID(r.Context()),
		Worker:     name,
		Status:     int(res.Status),
		Class:      string(res.Status.Class()),
		Text:       res.Text,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

// handleJournal handles GET /workers/{name}/journal?limit=N.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.registry.Get(name); !ok {
		s.writeError(w, http.StatusNotFound, "worker not found")
		return
	}
	if s.journal == nil {
		s.writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(r.Context(), name, limit)
	if err != nil {
		s.logger.Error("failed to read journal", "worker", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}

	resp := JournalResponse{Worker: name, Entries: make([]JournalEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, JournalEntry{
			ID:         e.ID,
			ChannelID:  e.ChannelID,
			Preview:    string(e.Preview),
			Bytes:      e.Bytes,
			Status:     int(e.Status),
			ReplyBytes: e.ReplySize,
			StartedAt:  e.StartedAt,
			DurationMs: float64(e.Duration) / float64(time.Millisecond),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) describe(wk *plugin.Worker) WorkerResponse {
	state, err := workerState(wk)
	resp := WorkerResponse{
		Name:        wk.Name,
		State:       state,
		Channels:    wk.Channels.Len(),
		MaxChannels: wk.Channels.Cap(),
		Sealed:      wk.Channels.Sealed(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	if s.relay != nil {
		resp.Relayed = slices.Contains(s.relay.Workers(), wk.Name)
	}
	return resp
}

func workerState(wk *plugin.Worker) (string, error) {
	loop := wk.Loop()
	if loop == nil {
		return stateIdle, nil
	}
	select {
	case <-loop.Done():
		return stateStopped, loop.Err()
	default:
		return stateRunning, nil
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
