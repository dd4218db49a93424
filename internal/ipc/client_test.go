package ipc

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ipcmux/internal/fault"
	"github.com/mattjoyce/ipcmux/internal/log"
	"github.com/mattjoyce/ipcmux/internal/ownership"
	"github.com/mattjoyce/ipcmux/internal/plugin"
	"github.com/mattjoyce/ipcmux/internal/protocol"
	"github.com/mattjoyce/ipcmux/internal/wire"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

func setupClient(t *testing.T, maxChannels int, timeout time.Duration) (*Client, *plugin.Worker) {
	t.Helper()
	reg := plugin.NewRegistry()
	w := plugin.NewWorker("echo", nil, nil, maxChannels)
	require.NoError(t, reg.Add(w))
	return New(reg, ownership.NewGuard(), Options{Timeout: timeout}), w
}

// serve answers n commands on ep using reply, standing in for a dispatcher.
func serve(t *testing.T, ep plugin.Endpoint, n int, reply func([]byte) protocol.Result) <-chan []string {
	t.Helper()
	seen := make(chan []string, 1)
	go func() {
		var got []string
		defer func() { seen <- got }()
		for range n {
			cmd, err := wire.ReadFrame(ep.File)
			if err != nil {
				return
			}
			got = append(got, string(cmd))
			if reply == nil {
				continue
			}
			if err := protocol.EncodeResult(ep.File, reply(cmd)); err != nil {
				return
			}
		}
	}()
	return seen
}

func echoReply(cmd []byte) protocol.Result { return protocol.OK(string(cmd)) }

func TestRegisterAppendsEndpoint(t *testing.T) {
	c, w := setupClient(t, 4, time.Second)

	h1, err := c.Register("echo")
	require.NoError(t, err)
	h2, err := c.Register("echo")
	require.NoError(t, err)

	assert.Equal(t, 2, w.Channels.Len())
	assert.NotEqual(t, h1.ID(), h2.ID())
	assert.Equal(t, "echo", h1.Worker())

	eps := w.Channels.Snapshot()
	for _, ep := range eps {
		assert.NotEqual(t, h1.ID(), ep.ID, "listener and client ends are tracked separately")
		assert.NotEqual(t, h2.ID(), ep.ID)
	}
}

func TestRegisterUnknownWorker(t *testing.T) {
	c, _ := setupClient(t, 4, time.Second)
	_, err := c.Register("missing")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindUnknownWorker))
}

func TestRegisterCapacity(t *testing.T) {
	c, w := setupClient(t, 2, time.Second)

	_, err := c.Register("echo")
	require.NoError(t, err)
	_, err = c.Register("echo")
	require.NoError(t, err, "filling the set exactly is allowed")

	_, err = c.Register("echo")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindCapacity))
	assert.Equal(t, 2, w.Channels.Len())
}

func TestRegisterAfterDispatcherStart(t *testing.T) {
	c, w := setupClient(t, 4, time.Second)
	w.Channels.Snapshot()

	h, err := c.Register("echo")
	require.NoError(t, err)
	assert.NotNil(t, h)
	assert.Equal(t, 1, w.Channels.Len())
}

func TestSendRoundTrip(t *testing.T) {
	c, w := setupClient(t, 4, time.Second)
	h, err := c.Register("echo")
	require.NoError(t, err)

	seen := serve(t, w.Channels.Snapshot()[0], 3, echoReply)
	ctx := context.Background()

	res, err := h.Send(ctx, []byte("PING"))
	require.NoError(t, err)
	assert.Equal(t, protocol.OK("PING"), res)

	res, err = h.Sendf(ctx, "param.set %s %d", "thread_pools", 4)
	require.NoError(t, err)
	assert.Equal(t, "param.set thread_pools 4", res.Text)

	res, err = h.Send(ctx, []byte{})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusOK, res.Status)
	assert.Empty(t, res.Text)

	assert.Equal(t, []string{"PING", "param.set thread_pools 4", ""}, <-seen)
}

func TestSendFromSecondGoroutineFails(t *testing.T) {
	c, w := setupClient(t, 4, time.Second)
	h, err := c.Register("echo")
	require.NoError(t, err)
	serve(t, w.Channels.Snapshot()[0], 1, echoReply)

	_, err = h.Send(context.Background(), []byte("first"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err = h.Send(context.Background(), []byte("second"))
	}()
	wg.Wait()

	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindOwnership))
}

func TestSendNilPayload(t *testing.T) {
	c, _ := setupClient(t, 4, time.Second)
	h, err := c.Register("echo")
	require.NoError(t, err)

	_, err = h.Send(context.Background(), nil)
	assert.True(t, fault.Is(err, fault.KindFraming))
}

func TestSendCanceledContext(t *testing.T) {
	c, _ := setupClient(t, 4, time.Second)
	h, err := c.Register("echo")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Send(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSendTimeoutBreaksHandle(t *testing.T) {
	c, w := setupClient(t, 4, 50*time.Millisecond)
	h, err := c.Register("echo")
	require.NoError(t, err)
	seen := serve(t, w.Channels.Snapshot()[0], 1, nil)

	res, err := h.Send(context.Background(), []byte("slow"))
	require.NoError(t, err, "a timeout is reported in the result")
	assert.Equal(t, protocol.StatusComms, res.Status)
	assert.Equal(t, []string{"slow"}, <-seen)

	_, err = h.Send(context.Background(), []byte("next"))
	require.ErrorIs(t, err, ErrHandleStale)
	assert.False(t, fault.IsIntegrity(err))
}

func TestSendAfterWorkerHangup(t *testing.T) {
	c, w := setupClient(t, 4, time.Second)
	h, err := c.Register("echo")
	require.NoError(t, err)
	require.NoError(t, w.Channels.Snapshot()[0].File.Close())

	_, err = h.Send(context.Background(), []byte("anyone?"))
	require.Error(t, err)
	assert.True(t, fault.IsIntegrity(err))
}
