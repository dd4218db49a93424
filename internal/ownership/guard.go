// Package ownership detects a channel handle being driven by more than one goroutine.
//
// A Guard is a debugging safety net, not a lock: the first goroutine to
// validate a channel becomes its owner, and any later validation from a
// different goroutine is reported as a fault.KindOwnership violation.
package ownership

import (
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/ipcmux/internal/fault"
)

// Guard records the owner of every channel ID it has validated.
// One Guard is shared by the client API and all dispatchers of a host.
type Guard struct {
	nextID atomic.Uint64
	owners sync.Map // uint64 -> Owner
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{}
}

// NextID allocates a process-unique channel ID. IDs start at 1.
func (g *Guard) NextID() uint64 {
	return g.nextID.Add(1)
}

// Validate records owner for id on first use and requires it to match afterwards.
func (g *Guard) Validate(id uint64, owner Owner) error {
	prev, loaded := g.owners.LoadOrStore(id, owner)
	if !loaded {
		return nil
	}
	if prev.(Owner) != owner {
		return fault.New(fault.KindOwnership, "ownership.Validate",
			"channel %d owned by %s, used by %s", id, prev.(Owner), owner)
	}
	return nil
}

// ownerOf returns the recorded owner of id.
func (g *Guard) ownerOf(id uint64) (Owner, bool) {
	v, ok := g.owners.Load(id)
	if !ok {
		return "", false
	}
	return v.(Owner), true
}

// Forget drops the record for id once its channel is closed.
func (g *Guard) Forget(id uint64) {
	g.owners.Delete(id)
}
