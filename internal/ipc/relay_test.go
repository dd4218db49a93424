package ipc

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ipcmux/internal/fault"
	"github.com/mattjoyce/ipcmux/internal/ownership"
	"github.com/mattjoyce/ipcmux/internal/plugin"
	"github.com/mattjoyce/ipcmux/internal/protocol"
)

func TestRelaySharesHandlesAcrossGoroutines(t *testing.T) {
	client, w := setupClient(t, 4, time.Second)

	relay, err := client.NewRelay("echo", "echo")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, relay.Workers())
	require.Equal(t, 1, w.Channels.Len())

	const callers = 5
	seen := serve(t, w.Channels.Snapshot()[0], callers, echoReply)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- relay.Run(ctx) }()

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := fmt.Sprintf("cmd-%d", i)
			res, err := relay.Send(context.Background(), "echo", []byte(cmd))
			assert.NoError(t, err)
			assert.Equal(t, cmd, res.Text)
		}(i)
	}
	wg.Wait()
	assert.Len(t, <-seen, callers)

	cancel()
	assert.ErrorIs(t, <-runErr, context.Canceled)

	_, err = relay.Send(context.Background(), "echo", []byte("late"))
	assert.ErrorIs(t, err, ErrRelayStopped)
}

func TestRelayUnknownWorker(t *testing.T) {
	client, _ := setupClient(t, 4, time.Second)
	relay, err := client.NewRelay("echo")
	require.NoError(t, err)

	_, err = relay.Send(context.Background(), "nope", []byte("x"))
	assert.ErrorIs(t, err, ErrNoHandle)
}

func TestNewRelayRegistrationFailure(t *testing.T) {
	client, _ := setupClient(t, 4, time.Second)
	_, err := client.NewRelay("echo", "missing")
	require.Error(t, err)
}

func TestRelayDoesNotReportStaleHandle(t *testing.T) {
	reg := plugin.NewRegistry()
	w := plugin.NewWorker("echo", nil, nil, 2)
	require.NoError(t, reg.Add(w))
	client := New(reg, ownership.NewGuard(), Options{Timeout: 50 * time.Millisecond})

	relay, err := client.NewRelay("echo")
	require.NoError(t, err)
	var reported []error
	relay.OnError = func(err error) { reported = append(reported, err) }

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = relay.Run(ctx) }()

	// Nobody answers: the first send times out, the second finds the handle broken.
	res, err := relay.Send(context.Background(), "echo", []byte("one"))
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusComms, res.Status)

	_, err = relay.Send(context.Background(), "echo", []byte("two"))
	require.ErrorIs(t, err, ErrHandleStale)
	assert.Empty(t, reported, "a stale handle is not reported as a fault")
}

func TestRelayReportsChannelFaults(t *testing.T) {
	client, w := setupClient(t, 4, time.Second)
	relay, err := client.NewRelay("echo")
	require.NoError(t, err)
	var reported []error
	relay.OnError = func(err error) { reported = append(reported, err) }
	require.NoError(t, w.Channels.Snapshot()[0].File.Close())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = relay.Run(ctx) }()

	_, err = relay.Send(context.Background(), "echo", []byte("anyone?"))
	require.Error(t, err)
	require.Len(t, reported, 1)
	assert.Equal(t, err, reported[0])
	assert.True(t, fault.IsIntegrity(reported[0]))
}
