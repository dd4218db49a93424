package plugin

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mattjoyce/ipcmux/internal/fault"
)

// Registry holds workers indexed by name, in registration order.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*Worker
	order   []string
}

// NewRegistry creates an empty worker registry.
func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]*Worker),
	}
}

// Add registers a worker.
func (r *Registry) Add(w *Worker) error {
	if w == nil || w.Name == "" {
		return fmt.Errorf("worker name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workers[w.Name]; exists {
		return fmt.Errorf("worker %q already registered", w.Name)
	}
	if w.Channels == nil {
		w.Channels = NewChannelSet(DefaultMaxChannels)
	}
	r.workers[w.Name] = w
	r.order = append(r.order, w.Name)
	return nil
}

// Get retrieves a worker by name.
func (r *Registry) Get(name string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[name]
	return w, ok
}

// Find is Get for callers that treat an unknown name as a defect.
func (r *Registry) Find(name string) (*Worker, error) {
	if w, ok := r.Get(name); ok {
		return w, nil
	}
	return nil, fault.New(fault.KindUnknownWorker, "plugin.Find", "no worker named %q", name)
}

// All returns all workers in registration order.
func (r *Registry) All() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Worker, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.workers[name])
	}
	return out
}

// Sanity reports every worker that has a handler but no start routine.
// Nobody would ever poll such a worker's channels, so each one is a
// fault.KindMissingDispatcher violation.
func (r *Registry) Sanity() error {
	var errs []error
	for _, w := range r.All() {
		if w.Handler != nil && w.Start == nil {
			errs = append(errs, fault.New(fault.KindMissingDispatcher, "plugin.Sanity",
				"worker %q defines a command handler but no start routine; set Start with dispatch.Starter", w.Name))
		}
	}
	return errors.Join(errs...)
}
