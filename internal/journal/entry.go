package journal

import (
	"time"

	"github.com/mattjoyce/ipcmux/internal/protocol"
)

// MaxPreviewBytes caps how much of a command is kept in the journal.
const MaxPreviewBytes = 256

// Entry is one dispatched command.
type Entry struct {
	ID        string          `json:"id"`
	Worker    string          `json:"worker"`
	ChannelID uint64          `json:"channel_id"`
	Preview   []byte          `json:"preview"`
	Bytes     int             `json:"bytes"`
	Status    protocol.Status `json:"status"`
	ReplySize int             `json:"reply_bytes"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// NewEntry builds an entry, copying at most MaxPreviewBytes of cmd.
func NewEntry(worker string, channelID uint64, cmd []byte, res protocol.Result, started time.Time, d time.Duration) Entry {
	preview := make([]byte, min(len(cmd), MaxPreviewBytes))
	copy(preview, cmd)
	return Entry{
		Worker:    worker,
		ChannelID: channelID,
		Preview:   preview,
		Bytes:     len(cmd),
		Status:    res.Status,
		ReplySize: len(res.Text),
		StartedAt: started.UTC(),
		Duration:  d,
	}
}
