// Package lock implements the single-instance guard the brain and worker
// binaries take out on their state directory before running, so two copies
// of the same driver can never race against one shared store. Grounded on
// Heikkila-Pty-Ltd-cortex's internal/health/flock.go, carried over under
// its own package since the binaries that need it no longer depend on
// internal/health.
package lock

import (
	"fmt"
	"os"
	"syscall"
)

// Acquire takes an exclusive, non-blocking flock on path, creating it if
// necessary, and stamps it with the holding process's pid. The returned
// file must be kept open for the process's lifetime and passed to Release
// on shutdown.
func Acquire(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("lock: open %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock: another instance is already running (%s)", path)
	}

	f.Truncate(0)
	f.Seek(0, 0)
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f, nil
}

// Release unlocks, closes, and removes the lock file.
func Release(f *os.File) {
	if f == nil {
		return
	}
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	name := f.Name()
	f.Close()
	os.Remove(name)
}
