package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/ipcmux/internal/plugin"
	"github.com/mattjoyce/ipcmux/internal/protocol"
)

// Lister enumerates registered workers.
type Lister interface {
	All() []*plugin.Worker
}

// Status answers questions about the host itself.
type Status struct {
	Workers Lister
	Now     func() time.Time
}

// NewStatus creates a status worker reporting on workers.
func NewStatus(workers Lister) *Status {
	return &Status{Workers: workers, Now: time.Now}
}

var statusHelp = []string{
	"help",
	"ping",
	"workers",
}

func (s *Status) HandleCommand(_ context.Context, cmd []byte) protocol.Result {
	args := strings.Fields(string(cmd))
	if len(args) == 0 {
		return protocol.Errorf(protocol.StatusTooFew, "Empty request.")
	}

	switch args[0] {
	case "help":
		return protocol.OK(strings.Join(statusHelp, "\n"))
	case "ping":
		if len(args) > 1 {
			return protocol.Errorf(protocol.StatusTooMany, "Too many parameters.")
		}
		return protocol.OK(fmt.Sprintf("PONG %d", s.Now().Unix()))
	case "workers":
		return protocol.OK(s.listWorkers())
	}
	return protocol.Errorf(protocol.StatusUnknown, "Unknown request %q.\nType 'help' for more info.", args[0])
}

func (s *Status) listWorkers() string {
	var b strings.Builder
	for i, w := range s.Workers.All() {
		if i > 0 {
			b.WriteByte('\n')
		}
		state := "stopped"
		if w.Loop() != nil {
			state = "running"
		}
		fmt.Fprintf(&b, "%-12s %-8s channels=%d/%d", w.Name, state, w.Channels.Len(), w.Channels.Cap())
	}
	return b.String()
}
