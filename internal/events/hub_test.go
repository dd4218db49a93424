package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe(4)
	defer cancel()

	ev := h.Publish(TypeCommand, "echo", map[string]int{"status": 200})
	got := <-ch
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, "echo", got.Worker)

	var data map[string]int
	require.NoError(t, json.Unmarshal(got.Data, &data))
	assert.Equal(t, 200, data["status"])
}

func TestNilDataIsEmptyObject(t *testing.T) {
	h := NewHub(1)
	ev := h.Publish(TypeWorkerStarted, "echo", nil)
	assert.JSONEq(t, `{}`, string(ev.Data))
}

func TestRingKeepsNewest(t *testing.T) {
	h := NewHub(3)
	for range 5 {
		h.Publish(TypeCommand, "echo", nil)
	}

	all := h.SnapshotSince(0)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{all[0].ID, all[1].ID, all[2].ID})

	since := h.SnapshotSince(4)
	require.Len(t, since, 1)
	assert.Equal(t, int64(5), since[0].ID)
}

func TestFullSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(8)
	_, cancel := h.Subscribe(1)
	defer cancel()

	for range 3 {
		h.Publish(TypeCommand, "echo", nil)
	}
	assert.Equal(t, int64(2), h.Dropped())
}

func TestCancelClosesOnce(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	h.Publish(TypeCommand, "echo", nil)
}
