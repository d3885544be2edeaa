// Package devlock provides a non-blocking lock shared between processes
// that control the same hardware. It backs filter.WithLocker.
package devlock

import "sync"

// DefaultPath is the lock file used when none is configured.
const DefaultPath = "/tmp/mbfilter.lock"

// Lock is an exclusive advisory lock on a file. TryLock never waits.
type Lock struct {
	path string

	mu sync.Mutex
	fd int
}

// New returns an unlocked Lock on path. The file is created on first use.
func New(path string) *Lock {
	return &Lock{path: path, fd: -1}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }
