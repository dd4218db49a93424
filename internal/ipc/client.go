package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/mattjoyce/ipcmux/internal/fault"
	"github.com/mattjoyce/ipcmux/internal/log"
	"github.com/mattjoyce/ipcmux/internal/ownership"
	"github.com/mattjoyce/ipcmux/internal/plugin"
	"github.com/mattjoyce/ipcmux/internal/protocol"
	"github.com/mattjoyce/ipcmux/internal/wire"
)

// DefaultTimeout bounds the wait for a reply.
const DefaultTimeout = 5 * time.Second

// ErrHandleStale is returned by Send once an earlier command on the handle
// timed out. The channel itself is intact but its reply order is not.
var ErrHandleStale = errors.New("channel stale after a timed-out command")

// WorkerFinder resolves worker names.
type WorkerFinder interface {
	Find(name string) (*plugin.Worker, error)
}

// Options configures a Client.
type Options struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client hands out channel handles for named workers.
type Client struct {
	workers WorkerFinder
	guard   *ownership.Guard
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Client. The guard must be the one shared with the dispatchers.
func New(workers WorkerFinder, guard *ownership.Guard, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.WithComponent("ipc")
	}
	return &Client{
		workers: workers,
		guard:   guard,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
}

// Register creates a channel to the named worker and returns the caller's end.
//
// The listener end is appended to the worker's channel set. Register must be
// called before the worker's dispatcher starts; a late registration is
// accepted and logged, but nothing will ever answer on it.
func (c *Client) Register(worker string) (*Handle, error) {
	const op = "ipc.Register"

	w, err := c.workers.Find(worker)
	if err != nil {
		return nil, err
	}

	listenerID, clientID := c.guard.NextID(), c.guard.NextID()
	listener, conn, err := socketPair(worker, listenerID)
	if err != nil {
		return nil, fault.Wrap(fault.KindChannel, op, err)
	}

	serviced, err := w.Channels.Append(plugin.Endpoint{ID: listenerID, File: listener})
	if err != nil {
		_ = listener.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("register %q: %w", worker, err)
	}

	logger := c.logger.With("worker", worker, "channel_id", clientID)
	if !serviced {
		logger.Warn("channel registered after dispatcher start; it will not be serviced")
	} else {
		logger.Debug("channel registered", "endpoint_id", listenerID)
	}

	return &Handle{
		id:      clientID,
		worker:  worker,
		conn:    conn,
		guard:   c.guard,
		timeout: c.timeout,
		logger:  logger,
	}, nil
}

// Handle is the caller end of one channel. It is not safe for concurrent use.
type Handle struct {
	id      uint64
	worker  string
	conn    net.Conn
	guard   *ownership.Guard
	timeout time.Duration
	logger  *slog.Logger

	// broken is set once the stream can no longer be trusted.
	broken error
	// stale is set when a reply may still be in flight after a timeout.
	stale bool
}

// ID returns the channel ID used by the ownership guard.
func (h *Handle) ID() uint64 { return h.id }

// Worker returns the name of the worker this handle talks to.
func (h *Handle) Worker() string { return h.worker }

// Send transmits payload as one command and waits for the worker's result.
//
// The wait is bounded by the client timeout. When it expires the returned
// Result carries protocol.StatusComms and the handle is marked broken: a
// late reply would otherwise be read as the answer to the next command.
// Later sends on a timed-out handle return ErrHandleStale. Other errors are
// integrity violations (see package fault) or ctx errors.
func (h *Handle) Send(ctx context.Context, payload []byte) (protocol.Result, error) {
	const op = "ipc.Send"

	if err := h.guard.Validate(h.id, ownership.Current()); err != nil {
		return protocol.Result{}, err
	}
	if payload == nil {
		return protocol.Result{}, fault.New(fault.KindFraming, op, "nil payload")
	}
	if h.stale {
		return protocol.Result{}, fmt.Errorf("channel %d: %w (%v)", h.id, ErrHandleStale, h.broken)
	}
	if h.broken != nil {
		return protocol.Result{}, fault.Wrap(fault.KindChannel, op,
			fmt.Errorf("channel %d unusable: %w", h.id, h.broken))
	}
	if err := ctx.Err(); err != nil {
		return protocol.Result{}, err
	}

	if err := wire.WriteFrame(h.conn, payload); err != nil {
		h.broken = err
		return protocol.Result{}, err
	}

	res, err := protocol.ReadResult(h.conn, h.timeout)
	switch {
	case errors.Is(err, protocol.ErrTimeout):
		h.broken = fmt.Errorf("no reply within %s", h.timeout)
		h.stale = true
		h.logger.Warn("command timed out", "timeout", h.timeout, "bytes", len(payload))
		return res, nil
	case err != nil:
		h.broken = err
		return res, err
	}
	return res, nil
}

// Sendf formats a command and sends it.
func (h *Handle) Sendf(ctx context.Context, format string, args ...any) (protocol.Result, error) {
	return h.Send(ctx, []byte(fmt.Sprintf(format, args...)))
}

// Close releases the caller end. The worker's dispatcher treats the
// hang-up as a channel fault, so handles are normally kept for the life of
// the process.
func (h *Handle) Close() error {
	h.guard.Forget(h.id)
	return h.conn.Close()
}
