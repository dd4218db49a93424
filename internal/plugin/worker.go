package plugin

import (
	"context"
	"os"
	"sync"

	"github.com/mattjoyce/ipcmux/internal/fault"
	"github.com/mattjoyce/ipcmux/internal/protocol"
)

// DefaultMaxChannels bounds the channel set of a worker unless configured otherwise.
const DefaultMaxChannels = 32

// Handler executes one command for a worker.
//
// cmd is only valid for the duration of the call. The dispatcher invokes a
// worker's handler from a single goroutine, one command at a time.
type Handler interface {
	HandleCommand(ctx context.Context, cmd []byte) protocol.Result
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, cmd []byte) protocol.Result

func (f HandlerFunc) HandleCommand(ctx context.Context, cmd []byte) protocol.Result {
	return f(ctx, cmd)
}

// StartFunc starts the dispatcher of a worker.
type StartFunc func(ctx context.Context, w *Worker) error

// Loop is a running dispatcher as seen by the registry.
type Loop interface {
	Done() <-chan struct{}
	Err() error
}

// Worker represents a registered worker.
type Worker struct {
	Name     string
	Handler  Handler
	Start    StartFunc
	Channels *ChannelSet

	mu   sync.Mutex
	loop Loop
}

// NewWorker creates a worker with an empty channel set of the given capacity.
func NewWorker(name string, h Handler, start StartFunc, maxChannels int) *Worker {
	return &Worker{
		Name:     name,
		Handler:  h,
		Start:    start,
		Channels: NewChannelSet(maxChannels),
	}
}

// SetLoop records the running dispatcher.
func (w *Worker) SetLoop(l Loop) {
	w.mu.Lock()
	w.loop = l
	w.mu.Unlock()
}

// Loop returns the running dispatcher, or nil before Start.
func (w *Worker) Loop() Loop {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loop
}

// Endpoint is the listener side of one channel.
type Endpoint struct {
	ID   uint64
	File *os.File
}

// ChannelSet holds the listener endpoints a worker's dispatcher services.
// It is filled during registration and snapshotted once when the
// dispatcher starts; later additions are kept but never polled.
type ChannelSet struct {
	mu        sync.Mutex
	capacity  int
	endpoints []Endpoint
	sealed    bool
}

// NewChannelSet creates an empty set. A non-positive capacity selects DefaultMaxChannels.
func NewChannelSet(capacity int) *ChannelSet {
	if capacity <= 0 {
		capacity = DefaultMaxChannels
	}
	return &ChannelSet{capacity: capacity}
}

// Append adds ep. It fails with fault.KindCapacity when the set is full.
// serviced is false when the dispatcher has already taken its snapshot.
func (s *ChannelSet) Append(ep Endpoint) (serviced bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.endpoints) >= s.capacity {
		return false, fault.New(fault.KindCapacity, "plugin.ChannelSet.Append",
			"channel set full (%d endpoints)", s.capacity)
	}
	s.endpoints = append(s.endpoints, ep)
	return !s.sealed, nil
}

// Snapshot returns a copy of the endpoints and seals the set.
func (s *ChannelSet) Snapshot() []Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
	out := make([]Endpoint, len(s.endpoints))
	copy(out, s.endpoints)
	return out
}

// Len returns the number of endpoints.
func (s *ChannelSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.endpoints)
}

// Cap returns the capacity.
func (s *ChannelSet) Cap() int {
	return s.capacity
}

// Sealed reports whether a dispatcher has snapshotted the set.
func (s *ChannelSet) Sealed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed
}
