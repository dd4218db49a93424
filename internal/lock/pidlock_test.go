package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireWritesPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run", "ipcmux.pid")
	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	pid, ok := Holder(path)
	if !ok {
		t.Fatal("expected PID in pid file")
	}
	if pid != os.Getpid() {
		t.Fatalf("pid = %d, want %d", pid, os.Getpid())
	}
	if l.Path() != path {
		t.Fatalf("Path() = %q, want %q", l.Path(), path)
	}
}

func TestAcquireTwiceFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ipcmux.pid")
	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = first.Release() })

	// flock locks belong to the open file description, so a second open in
	// the same process conflicts.
	_, err = Acquire(path)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire error = %v, want ErrLocked", err)
	}
}

func TestReleaseRemovesFileAndAllowsReacquire(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ipcmux.pid")
	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("pid file still present: %v", err)
	}

	again, err := Acquire(path)
	if err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}
	_ = again.Release()
}

func TestAcquireEmptyPath(t *testing.T) {
	if _, err := Acquire(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
