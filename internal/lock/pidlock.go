// Package lock keeps two hosts from serving the same configuration.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("pid file locked by another process")

// PIDLock is a single-instance lock implemented via a PID file and flock(2).
// The lock lives as long as the file descriptor stays open.
type PIDLock struct {
	path string
	f    *os.File
}

// Acquire takes an exclusive non-blocking lock on path and writes the
// current PID into it. The error wraps ErrLocked and names the holder when
// another process owns the file.
func Acquire(path string) (*PIDLock, error) {
	if path == "" {
		return nil, fmt.Errorf("pid file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create pid directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open pid file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if pid, ok := Holder(path); ok {
				return nil, fmt.Errorf("%w (pid %d): %s", ErrLocked, pid, path)
			}
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("lock pid file: %w", err)
	}

	l := &PIDLock{path: path, f: f}
	if err := l.writePID(); err != nil {
		_ = l.Release()
		return nil, err
	}
	return l, nil
}

func (l *PIDLock) writePID() error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate pid file: %w", err)
	}
	if _, err := l.f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync pid file: %w", err)
	}
	return nil
}

// Holder reads the PID recorded in path.
func Holder(path string) (int, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func (l *PIDLock) Path() string { return l.path }

// Release unlocks and removes the pid file. It is safe to call twice.
func (l *PIDLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = os.Remove(l.path)
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
