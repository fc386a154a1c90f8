//go:build unix

package store

import (
	"errors"
	"fmt"
	"os"

	"github.com/desertthunder/modstore/internal/shared"
	"golang.org/x/sys/unix"
)

type fileLock struct {
	file *os.File
}

// lockFile takes an exclusive, non-blocking flock on path, creating it if absent.
func lockFile(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", shared.ErrStoreLocked, path)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	// Holder pid, for operators inspecting a stuck lock.
	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
	}

	return &fileLock{file: f}, nil
}

func (l *fileLock) unlock() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to unlock %s: %w", l.file.Name(), err)
	}
	return l.file.Close()
}
