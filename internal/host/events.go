package host

import (
	"time"

	"github.com/mattjoyce/ipcmux/internal/dispatch"
	"github.com/mattjoyce/ipcmux/internal/events"
	"github.com/mattjoyce/ipcmux/internal/plugin"
	"github.com/mattjoyce/ipcmux/internal/protocol"
)

// eventCapacity is how many events late SSE subscribers can replay.
const eventCapacity = 256

// observers fans one measurement out to several observers.
type observers []dispatch.Observer

func (o observers) ObserveCommand(worker string, status protocol.Status, d time.Duration) {
	for _, obs := range o {
		obs.ObserveCommand(worker, status, d)
	}
}

// commandEvents publishes every dispatched command to the hub.
type commandEvents struct{ hub *events.Hub }

func (c commandEvents) ObserveCommand(worker string, status protocol.Status, d time.Duration) {
	c.hub.Publish(events.TypeCommand, worker, map[string]any{
		"status":      int(status),
		"class":       string(status.Class()),
		"duration_ms": d.Milliseconds(),
	})
}

// watchLoop publishes a stop event once loop returns.
func (h *Host) watchLoop(name string, loop plugin.Loop) {
	<-loop.Done()
	data := map[string]any{}
	if err := loop.Err(); err != nil {
		data["error"] = err.Error()
	}
	h.events.Publish(events.TypeWorkerStopped, name, data)
}
