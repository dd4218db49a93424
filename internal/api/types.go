package api

import (
	"time"
)

// CommandRequest is the JSON body for POST /workers/{name}/commands.
type CommandRequest struct {
	Command string `json:"command"`
}

// CommandResponse carries a worker's result.
type CommandResponse struct {
	RequestID  string `json:"request_id"`
	Worker     string `json:"worker"`
	Status     int    `json:"status"`
	Class      string `json:"class"`
	Text       string `json:"text"`
	DurationMs int64  `json:"duration_ms"`
}

// WorkerResponse describes one worker. Sealed is true once the dispatcher
// has taken its channel snapshot; channels registered later are never
// serviced.
type WorkerResponse struct {
	Name        string `json:"name"`
	State       string `json:"state"`
	Channels    int    `json:"channels"`
	MaxChannels int    `json:"max_channels"`
	Relayed     bool   `json:"relayed"`
	Sealed      bool   `json:"sealed"`
	Error       string `json:"error,omitempty"`
}

// WorkersResponse is returned by GET /workers.
type WorkersResponse struct {
	Workers []WorkerResponse `json:"workers"`
}

// JournalEntry is one row of GET /workers/{name}/journal.
type JournalEntry struct {
	ID         string    `json:"id"`
	ChannelID  uint64    `json:"channel_id"`
	Preview    string    `json:"preview"`
	Bytes      int       `json:"bytes"`
	Status     int       `json:"status"`
	ReplyBytes int       `json:"reply_bytes"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms"`
}

// JournalResponse is returned by GET /workers/{name}/journal.
type JournalResponse struct {
	Worker  string         `json:"worker"`
	Entries []JournalEntry `json:"entries"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	WorkersLoaded  int    `json:"workers_loaded"`
	WorkersRunning int    `json:"workers_running"`
	WorkersStopped int    `json:"workers_stopped"`
}
