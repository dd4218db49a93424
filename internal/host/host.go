// Package host assembles workers, channels and dispatchers into a running
// process.
//
// The order of operations matters: New builds the registry, callers then
// obtain their channel handles (Register, or the relay), and only then does
// Start launch one dispatcher per worker. Handles registered after Start
// are never serviced.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mattjoyce/ipcmux/internal/config"
	"github.com/mattjoyce/ipcmux/internal/dispatch"
	"github.com/mattjoyce/ipcmux/internal/events"
	"github.com/mattjoyce/ipcmux/internal/fault"
	"github.com/mattjoyce/ipcmux/internal/ipc"
	"github.com/mattjoyce/ipcmux/internal/journal"
	"github.com/mattjoyce/ipcmux/internal/log"
	"github.com/mattjoyce/ipcmux/internal/metrics"
	"github.com/mattjoyce/ipcmux/internal/ownership"
	"github.com/mattjoyce/ipcmux/internal/plugin"
	"github.com/mattjoyce/ipcmux/internal/workers"
)

// Options customizes a Host beyond what the config file describes.
type Options struct {
	Logger *slog.Logger
	Policy *fault.Policy
	// Workers are registered after the configured built-ins, as given.
	Workers []*plugin.Worker
	// Relay forces a relay even when the API is disabled.
	Relay bool
}

// Host owns the process-wide IPC state.
type Host struct {
	cfg      *config.Config
	registry *plugin.Registry
	guard    *ownership.Guard
	client   *ipc.Client
	policy   *fault.Policy
	metrics  *metrics.Collectors
	prom     *prometheus.Registry
	journal  *journal.Store
	relay    *ipc.Relay
	events   *events.Hub
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
}

// New builds the worker registry from cfg. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Host, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("host")
	}
	policy := opts.Policy
	if policy == nil {
		policy = fault.NewPolicy(logger)
	}

	h := &Host{
		cfg:      cfg,
		registry: plugin.NewRegistry(),
		guard:    ownership.NewGuard(),
		policy:   policy,
		prom:     prometheus.NewRegistry(),
		events:   events.NewHub(eventCapacity),
		logger:   logger,
	}
	h.client = ipc.New(h.registry, h.guard, ipc.Options{
		Timeout: cfg.Client.Timeout,
		Logger:  log.WithComponent("ipc"),
	})
	h.metrics = metrics.New(h.registry)
	h.metrics.MustRegister(h.prom)
	h.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.Journal.Enabled {
		store, err := journal.Open(ctx, cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		h.journal = store
	}

	deps := dispatch.Deps{
		Guard:    h.guard,
		Observer: observers{h.metrics, commandEvents{h.events}},
		Logger:   log.WithComponent("dispatch"),
	}
	if h.journal != nil {
		deps.Recorder = h.journal
	}
	start := dispatch.Starter(deps, policy)

	names := cfg.EnabledWorkers()
	sort.Strings(names)
	for _, name := range names {
		handler, ok := workers.Builtin(name, h.registry)
		if !ok {
			_ = h.Close()
			return nil, fault.New(fault.KindConfig, "host.New", "workers.%s: no built-in worker with that name (built-in: %s)",
				name, strings.Join(workers.Names(), ", "))
		}
		w := plugin.NewWorker(name, handler, start, cfg.Workers[name].MaxChannels)
		if err := h.registry.Add(w); err != nil {
			_ = h.Close()
			return nil, err
		}
	}
	for _, w := range opts.Workers {
		if err := h.registry.Add(w); err != nil {
			_ = h.Close()
			return nil, err
		}
	}

	if cfg.API.Enabled || opts.Relay {
		names := make([]string, 0)
		for _, w := range h.registry.All() {
			if w.Handler != nil {
				names = append(names, w.Name)
			}
		}
		relay, err := h.client.NewRelay(names...)
		if err != nil {
			_ = h.Close()
			return nil, err
		}
		relay.OnError = func(err error) { _ = policy.Handle(err) }
		h.relay = relay
	}

	logger.Info("host assembled", "workers", len(h.registry.All()), "journal", h.journal != nil, "relay", h.relay != nil)
	return h, nil
}

// Register obtains a channel handle for worker. Call it before Start.
func (h *Host) Register(worker string) (*ipc.Handle, error) {
	handle, err := h.client.Register(worker)
	if err != nil {
		return nil, h.policy.Handle(err)
	}
	return handle, nil
}

// Start runs the sanity check and starts every worker's dispatcher. A
// failed sanity check is an integrity violation handed to the fault policy.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return errors.New("host already started")
	}

	if err := h.registry.Sanity(); err != nil {
		return h.policy.Handle(err)
	}

	if h.journal != nil && h.cfg.Journal.Retention > 0 {
		n, err := h.journal.Prune(ctx, h.cfg.Journal.Retention)
		if err != nil {
			h.logger.Warn("journal prune failed", "error", err)
		} else if n > 0 {
			h.logger.Info("journal pruned", "rows", n)
		}
	}

	for _, w := range h.registry.All() {
		if w.Start == nil {
			h.logger.Warn("worker has no start routine and will not be serviced", "worker", w.Name)
			continue
		}
		if err := w.Start(ctx, w); err != nil {
			return fmt.Errorf("start worker %q: %w", w.Name, err)
		}
		log.WithWorker(w.Name).Info("worker started", "channels", w.Channels.Len(), "max_channels", w.Channels.Cap())
		h.events.Publish(events.TypeWorkerStarted, w.Name, map[string]int{"channels": w.Channels.Len()})
		if loop := w.Loop(); loop != nil {
			go h.watchLoop(w.Name, loop)
		}
	}

	if h.relay != nil {
		go func() {
			if err := h.relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				h.logger.Error("relay stopped", "error", err)
			}
		}()
	}

	h.started = true
	return nil
}

// Wait blocks until ctx is done or a dispatcher stops on its own. It
// returns nil after a cancellation.
func (h *Host) Wait(ctx context.Context) error {
	errCh := make(chan error, len(h.registry.All()))
	for _, w := range h.registry.All() {
		loop := w.Loop()
		if loop == nil {
			continue
		}
		go func(name string, loop plugin.Loop) {
			<-loop.Done()
			errCh <- fmt.Errorf("worker %q: dispatcher stopped: %w", name, loop.Err())
		}(w.Name, loop)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil
		}
		return err
	}
}

// Drain waits until every started dispatcher has returned. Cancel the
// context passed to Start first.
func (h *Host) Drain() {
	for _, w := range h.registry.All() {
		if loop := w.Loop(); loop != nil {
			<-loop.Done()
		}
	}
}

// Close releases resources that outlive the dispatchers.
func (h *Host) Close() error {
	if h.journal != nil {
		return h.journal.Close()
	}
	return nil
}

// Config returns the configuration the host was built from.
func (h *Host) Config() *config.Config { return h.cfg }

// Registry returns the worker registry.
func (h *Host) Registry() *plugin.Registry { return h.registry }

// Relay returns the command relay, or nil when neither the API nor
// Options.Relay asked for one.
func (h *Host) Relay() *ipc.Relay { return h.relay }

// Journal returns the command journal, or nil when it is disabled.
func (h *Host) Journal() *journal.Store { return h.journal }

// Gatherer exposes the host's Prometheus registry.
func (h *Host) Gatherer() prometheus.Gatherer { return h.prom }

// Events returns the hub that feeds GET /events.
func (h *Host) Events() *events.Hub { return h.events }
