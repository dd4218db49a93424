package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ipcmux/internal/protocol"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, NewEntry("echo", 3, []byte("PING"), protocol.OK("PING"), base, 1500*time.Microsecond)))
	require.NoError(t, s.Record(ctx, NewEntry("status", 5, []byte("ping"), protocol.OK("PONG"), base.Add(time.Second), time.Millisecond)))
	require.NoError(t, s.Record(ctx, NewEntry("echo", 3, []byte("bad\x00"), protocol.Errorf(protocol.StatusParam, "no"), base.Add(2*time.Second), 0)))

	all, err := s.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []byte("bad\x00"), all[0].Preview, "newest first, binary safe")
	assert.Equal(t, protocol.StatusParam, all[0].Status)
	assert.NotEmpty(t, all[0].ID)

	echo, err := s.Recent(ctx, "echo", 10)
	require.NoError(t, err)
	require.Len(t, echo, 2)
	last := echo[1]
	assert.Equal(t, uint64(3), last.ChannelID)
	assert.Equal(t, 4, last.Bytes)
	assert.Equal(t, 4, last.ReplySize)
	assert.Equal(t, 1500*time.Microsecond, last.Duration)
	assert.True(t, base.Equal(last.StartedAt))

	limited, err := s.Recent(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestNewEntryTruncatesPreview(t *testing.T) {
	cmd := make([]byte, MaxPreviewBytes*2)
	e := NewEntry("echo", 1, cmd, protocol.OK(""), time.Now(), 0)
	assert.Len(t, e.Preview, MaxPreviewBytes)
	assert.Equal(t, len(cmd), e.Bytes)

	cmd[0] = 'x'
	assert.Equal(t, byte(0), e.Preview[0], "preview must not alias the command buffer")
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.Record(ctx, NewEntry("echo", 1, []byte("old"), protocol.OK(""), old, 0)))
	require.NoError(t, s.Record(ctx, NewEntry("echo", 1, []byte("new"), protocol.OK(""), time.Now(), 0)))

	n, err := s.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := s.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, []byte("new"), left[0].Preview)
}
