// Package daemon provides the single-instance guard for a long-running
// oc-memory server process: only one `serve` process may hold the
// Record Store / Vector Index / Lexical Index at a time, since the
// stores are plain on-disk files with no cross-process coordination of
// their own.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned by Acquire when another process already
// holds the lock.
var ErrAlreadyRunning = fmt.Errorf("another oc-memory instance is already running against this data directory")

// InstanceLock is an advisory, cross-platform file lock guarding a data
// directory against a second concurrent server process.
type InstanceLock struct {
	path string
	fl   *flock.Flock
}

// NewInstanceLock creates a lock manager for the given lock file path.
func NewInstanceLock(path string) *InstanceLock {
	return &InstanceLock{path: path, fl: flock.New(path)}
}

// Acquire takes the lock without blocking. Returns ErrAlreadyRunning if
// another process holds it.
func (l *InstanceLock) Acquire() error {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create lock directory: %w", err)
		}
	}

	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	return nil
}

// Release drops the lock. Safe to call even if Acquire was never
// called or already failed.
func (l *InstanceLock) Release() error {
	return l.fl.Unlock()
}

// Path returns the lock file path.
func (l *InstanceLock) Path() string {
	return l.path
}

// Locked reports whether this process currently holds the lock.
func (l *InstanceLock) Locked() bool {
	return l.fl.Locked()
}
