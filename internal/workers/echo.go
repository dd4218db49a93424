// Package workers contains the workers compiled into ipcmux.
package workers

import (
	"context"

	"github.com/mattjoyce/ipcmux/internal/protocol"
)

// Echo replies with the command it received.
type Echo struct{}

func (Echo) HandleCommand(_ context.Context, cmd []byte) protocol.Result {
	return protocol.OK(string(cmd))
}
