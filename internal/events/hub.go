// Package events fans host activity out to live subscribers.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the host.
const (
	TypeCommand       = "command"
	TypeWorkerStarted = "worker.started"
	TypeWorkerStopped = "worker.stopped"
)

// Event is one published occurrence. Data is a JSON object.
type Event struct {
	ID     int64           `json:"id"`
	Type   string          `json:"type"`
	Worker string          `json:"worker,omitempty"`
	At     time.Time       `json:"at"`
	Data   json.RawMessage `json:"data"`
}

// Hub is an in-memory pub/sub with a ring buffer for late subscribers.
// Publish never blocks: a subscriber whose buffer is full misses the event
// and the miss is counted.
type Hub struct {
	nextID  atomic.Int64
	dropped atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

// NewHub creates a hub retaining the last capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Publish records an event and delivers it to every subscriber.
func (h *Hub) Publish(eventType, worker string, data any) Event {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ev := Event{
		ID:     h.nextID.Add(1),
		Type:   eventType,
		Worker: worker,
		At:     time.Now().UTC(),
		Data:   payload,
	}
	h.pushLocked(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
	return ev
}

// Subscribe returns a channel of future events and a cancel func that
// closes it.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, buffer)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := range h.size {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
