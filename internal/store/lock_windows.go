//go:build windows

package store

import (
	"errors"
	"fmt"
	"os"

	"github.com/desertthunder/modstore/internal/shared"
	"golang.org/x/sys/windows"
)

type fileLock struct {
	file *os.File
}

func lockFile(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	flags := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY)
	if err := windows.LockFileEx(windows.Handle(f.Fd()), flags, 0, 1, 0, &windows.Overlapped{}); err != nil {
		f.Close()
		if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
			return nil, fmt.Errorf("%w: %s", shared.ErrStoreLocked, path)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	return &fileLock{file: f}, nil
}

func (l *fileLock) unlock() error {
	if err := windows.UnlockFileEx(windows.Handle(l.file.Fd()), 0, 1, 0, &windows.Overlapped{}); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to unlock %s: %w", l.file.Name(), err)
	}
	return l.file.Close()
}
