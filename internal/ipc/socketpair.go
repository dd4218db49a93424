package ipc

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// socketPair creates a connected AF_UNIX stream pair.
//
// The listener side stays a blocking *os.File so the dispatcher can poll
// its descriptor directly. The client side becomes a net.Conn, which gives
// it read deadlines for the reply timeout.
func socketPair(worker string, id uint64) (*os.File, net.Conn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])

	listener := os.NewFile(uintptr(fds[0]), fmt.Sprintf("ipc:%s:%d:listener", worker, id))
	clientFile := os.NewFile(uintptr(fds[1]), fmt.Sprintf("ipc:%s:%d:client", worker, id))
	defer clientFile.Close()

	// FileConn dups the descriptor; clientFile is closed either way.
	conn, err := net.FileConn(clientFile)
	if err != nil {
		_ = listener.Close()
		return nil, nil, fmt.Errorf("client conn: %w", err)
	}
	return listener, conn, nil
}
