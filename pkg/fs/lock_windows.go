//go:build windows

package fs

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

const lockFileExName = "lockfileex"

func platformStrategy() Strategy {
	return lockFileExStrategy{}
}

// lockFileExStrategy locks the first byte of the sentinel with LockFileEx.
type lockFileExStrategy struct{}

func (lockFileExStrategy) Name() string { return lockFileExName }

func (lockFileExStrategy) Weak() bool { return false }

func (lockFileExStrategy) TryAcquire(sentinel string) (Held, error) {
	file, err := os.OpenFile(sentinel, os.O_CREATE|os.O_RDWR, lockFilePerm)
	if err != nil {
		if errors.Is(err, windows.ERROR_SHARING_VIOLATION) || errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			// Sentinel is being deleted by the previous holder.
			return nil, ErrWouldBlock
		}

		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	overlapped := new(windows.Overlapped)
	flags := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY)

	err = windows.LockFileEx(windows.Handle(file.Fd()), flags, 0, 1, 0, overlapped)
	if err != nil {
		_ = file.Close()

		if errors.Is(err, windows.ERROR_LOCK_VIOLATION) || errors.Is(err, windows.ERROR_IO_PENDING) {
			return nil, ErrWouldBlock
		}

		return nil, fmt.Errorf("LockFileEx: %w", err)
	}

	return &lockFileExHeld{path: sentinel, file: file, overlapped: overlapped}, nil
}

type lockFileExHeld struct {
	path       string
	file       *os.File
	overlapped *windows.Overlapped
}

// Release unlocks, closes, then removes the sentinel. Windows refuses to
// delete a file with open handles, so removal comes last and is best effort.
func (h *lockFileExHeld) Release() error {
	unlockErr := windows.UnlockFileEx(windows.Handle(h.file.Fd()), 0, 1, 0, h.overlapped)
	closeErr := h.file.Close()

	_ = os.Remove(h.path)

	if unlockErr != nil {
		unlockErr = fmt.Errorf("unlocking lock: %w", unlockErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("closing lock handle: %w", closeErr)
	}

	return errors.Join(unlockErr, closeErr)
}
