package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mattjoyce/ipcmux/internal/fault"
	"github.com/mattjoyce/ipcmux/internal/journal"
	"github.com/mattjoyce/ipcmux/internal/log"
	"github.com/mattjoyce/ipcmux/internal/ownership"
	"github.com/mattjoyce/ipcmux/internal/plugin"
	"github.com/mattjoyce/ipcmux/internal/protocol"
	"github.com/mattjoyce/ipcmux/internal/wire"
)

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks github.com/mattjoyce/ipcmux/internal/dispatch Recorder

// Recorder persists a record of every dispatched command.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Observer receives per-command measurements.
type Observer interface {
	ObserveCommand(worker string, status protocol.Status, d time.Duration)
}

// Deps are the collaborators shared by all dispatchers of a host.
type Deps struct {
	Guard    *ownership.Guard
	Recorder Recorder // optional
	Observer Observer // optional
	Logger   *slog.Logger
}

const hangupEvents = unix.POLLHUP | unix.POLLERR | unix.POLLNVAL

// Dispatcher serves the channel endpoints of one worker.
type Dispatcher struct {
	worker    *plugin.Worker
	endpoints []plugin.Endpoint
	deps      Deps
	logger    *slog.Logger

	runOnce sync.Once
	done    chan struct{}
	err     error
}

// New creates a dispatcher for w and snapshots its channel set.
func New(w *plugin.Worker, deps Deps) *Dispatcher {
	if deps.Guard == nil {
		deps.Guard = ownership.NewGuard()
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.WithComponent("dispatch")
	}
	return &Dispatcher{
		worker:    w,
		endpoints: w.Channels.Snapshot(),
		deps:      deps,
		logger:    logger.With("worker", w.Name),
		done:      make(chan struct{}),
	}
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Err returns the error Run returned. It is only meaningful after Done.
func (d *Dispatcher) Err() error { return d.err }

// Endpoints returns the number of endpoints being served.
func (d *Dispatcher) Endpoints() int { return len(d.endpoints) }

// Run serves commands until ctx is cancelled or a fault occurs.
// It returns ctx.Err() on cancellation. Run may only be called once.
func (d *Dispatcher) Run(ctx context.Context) error {
	err := errors.New("dispatcher already ran")
	d.runOnce.Do(func() {
		err = d.run(ctx)
		d.err = err
		close(d.done)
	})
	return err
}

func (d *Dispatcher) run(ctx context.Context) error {
	// The read end of wakeR becomes readable when ctx is done, which turns
	// cancellation into a poll event.
	wakeR, wakeW, err := os.Pipe()
	if err != nil {
		return fault.Wrap(fault.KindChannel, "dispatch.Run", fmt.Errorf("wake pipe: %w", err))
	}
	stop := context.AfterFunc(ctx, func() { _, _ = wakeW.Write([]byte{0}) })
	defer func() {
		stop()
		_ = wakeW.Close()
		_ = wakeR.Close()
	}()

	fds := make([]unix.PollFd, len(d.endpoints)+1)
	for i, ep := range d.endpoints {
		fds[i] = unix.PollFd{Fd: int32(ep.File.Fd()), Events: unix.POLLIN}
	}
	wake := len(d.endpoints)
	fds[wake] = unix.PollFd{Fd: int32(wakeR.Fd()), Events: unix.POLLIN}

	owner := ownership.Current()
	d.logger.Info("dispatch loop started", "endpoints", len(d.endpoints))
	defer d.logger.Info("dispatch loop stopped")

	for {
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fault.Wrap(fault.KindChannel, "dispatch.Run", fmt.Errorf("poll: %w", err))
		}
		if fds[wake].Revents != 0 {
			return ctx.Err()
		}
		for i, ep := range d.endpoints {
			revents := fds[i].Revents
			switch {
			case revents&unix.POLLIN != 0:
				if err := d.serve(ctx, ep, owner); err != nil {
					return err
				}
			case revents&hangupEvents != 0:
				return fault.New(fault.KindChannel, "dispatch.Run",
					"channel %d: peer hung up (revents %#x)", ep.ID, revents)
			}
		}
	}
}

// serve handles exactly one command on ep.
func (d *Dispatcher) serve(ctx context.Context, ep plugin.Endpoint, owner ownership.Owner) error {
	if err := d.deps.Guard.Validate(ep.ID, owner); err != nil {
		return err
	}

	cmd, err := wire.ReadFrame(ep.File)
	if err != nil {
		return fmt.Errorf("channel %d: read command: %w", ep.ID, err)
	}

	start := time.Now()
	res := d.invoke(ctx, cmd)
	elapsed := time.Since(start)

	if err := protocol.EncodeResult(ep.File, res); err != nil {
		return fmt.Errorf("channel %d: write result: %w", ep.ID, err)
	}

	d.logger.Debug("command dispatched",
		"channel_id", ep.ID,
		"bytes", len(cmd),
		"status", int(res.Status),
		"duration_ms", elapsed.Milliseconds(),
	)
	if d.deps.Observer != nil {
		d.deps.Observer.ObserveCommand(d.worker.Name, res.Status, elapsed)
	}
	if d.deps.Recorder != nil {
		entry := journal.NewEntry(d.worker.Name, ep.ID, cmd, res, start, elapsed)
		if err := d.deps.Recorder.Record(ctx, entry); err != nil {
			d.logger.Warn("failed to record command", "channel_id", ep.ID, "error", err)
		}
	}
	return nil
}

// invoke runs the handler and normalizes results the codec cannot carry.
func (d *Dispatcher) invoke(ctx context.Context, cmd []byte) protocol.Result {
	if d.worker.Handler == nil {
		return protocol.Errorf(protocol.StatusUnimpl, "worker %q has no command handler", d.worker.Name)
	}
	res := d.worker.Handler.HandleCommand(ctx, cmd)
	if res.Status < 0 || res.Status > 999 {
		d.logger.Warn("handler returned invalid status", "status", int(res.Status))
		return protocol.Errorf(protocol.StatusCant, "invalid status %d from worker %q: %s",
			int(res.Status), d.worker.Name, res.Text)
	}
	return res
}

// Starter returns the start routine for workers served by this package.
// Faults ending a dispatcher are handed to policy.
func Starter(deps Deps, policy *fault.Policy) plugin.StartFunc {
	if policy == nil {
		policy = fault.NewPolicy(deps.Logger)
	}
	return func(ctx context.Context, w *plugin.Worker) error {
		if w.Loop() != nil {
			return fmt.Errorf("worker %q already started", w.Name)
		}
		d := New(w, deps)
		w.SetLoop(d)
		go func() {
			err := d.Run(ctx)
			if fault.IsIntegrity(err) {
				policy.Handle(fmt.Errorf("worker %q: %w", w.Name, err))
			}
		}()
		return nil
	}
}
