package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mattjoyce/ipcmux/internal/protocol"
)

// ErrNoHandle is returned by Relay.Send for workers the relay was not built for.
var ErrNoHandle = errors.New("no relay handle for worker")

// ErrRelayStopped is returned by Relay.Send once Run has returned.
var ErrRelayStopped = errors.New("relay stopped")

// Relay lets any goroutine send commands through handles that all belong to
// the single goroutine running Relay.Run. Requests are served one at a time.
type Relay struct {
	handles map[string]*Handle
	reqs    chan relayRequest
	done    chan struct{}
	logger  *slog.Logger

	// OnError, when set, sees every error returned by a handle except
	// ErrHandleStale.
	OnError func(error)
}

type relayRequest struct {
	ctx    context.Context
	worker string
	cmd    []byte
	reply  chan relayReply
}

type relayReply struct {
	res protocol.Result
	err error
}

// NewRelay registers one handle per named worker. Like Register, it must
// be called before the workers' dispatchers start.
func (c *Client) NewRelay(workers ...string) (*Relay, error) {
	r := &Relay{
		handles: make(map[string]*Handle, len(workers)),
		reqs:    make(chan relayRequest),
		done:    make(chan struct{}),
		logger:  c.logger.With("relay", true),
	}
	for _, name := range workers {
		if _, dup := r.handles[name]; dup {
			continue
		}
		h, err := c.Register(name)
		if err != nil {
			for _, prev := range r.handles {
				_ = prev.Close()
			}
			return nil, fmt.Errorf("relay: %w", err)
		}
		r.handles[name] = h
	}
	return r, nil
}

// Workers returns the workers reachable through the relay, sorted.
func (r *Relay) Workers() []string {
	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run serves requests until ctx is done. The calling goroutine becomes the
// owner of every relay handle.
func (r *Relay) Run(ctx context.Context) error {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-r.reqs:
			res, err := r.handles[req.worker].Send(req.ctx, req.cmd)
			if err != nil {
				r.logger.Warn("relay send failed", "worker", req.worker, "error", err)
				if r.OnError != nil && !errors.Is(err, ErrHandleStale) {
					r.OnError(err)
				}
			}
			req.reply <- relayReply{res: res, err: err}
		}
	}
}

// Send forwards cmd to worker and waits for the result.
func (r *Relay) Send(ctx context.Context, worker string, cmd []byte) (protocol.Result, error) {
	if _, ok := r.handles[worker]; !ok {
		return protocol.Result{}, fmt.Errorf("%w: %q", ErrNoHandle, worker)
	}

	req := relayRequest{ctx: ctx, worker: worker, cmd: cmd, reply: make(chan relayReply, 1)}
	select {
	case r.reqs <- req:
	case <-r.done:
		return protocol.Result{}, ErrRelayStopped
	case <-ctx.Done():
		return protocol.Result{}, ctx.Err()
	}

	// Once accepted the request runs to completion; the handle's own
	// timeout bounds the wait.
	rep := <-req.reply
	return rep.res, rep.err
}
