//go:build linux

package devlock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// TryLock takes the lock if it is free. It returns false without error when
// another open file description holds it.
func (l *Lock) TryLock() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fd >= 0 {
		return false, nil
	}

	fd, err := unix.Open(l.path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return false, fmt.Errorf("open lock file %s: %w", l.path, err)
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		if errors.Is(err, unix.EWOULDBLOCK) {
			return false, nil
		}
		return false, fmt.Errorf("flock %s: %w", l.path, err)
	}

	// record the owner for status output, best-effort
	pid := strconv.Itoa(os.Getpid()) + "\n"
	if err := unix.Ftruncate(fd, 0); err == nil {
		_, _ = unix.Pwrite(fd, []byte(pid), 0)
	}
	l.fd = fd
	return true, nil
}

// Unlock releases the lock. Unlocking a free Lock is a no-op.
func (l *Lock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fd < 0 {
		return nil
	}
	fd := l.fd
	l.fd = -1
	_ = unix.Ftruncate(fd, 0)
	if err := unix.Flock(fd, unix.LOCK_UN); err != nil {
		unix.Close(fd)
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	return unix.Close(fd)
}

// Owner returns the pid recorded by the current holder, or 0 if the lock
// file is empty or missing.
func (l *Lock) Owner() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
