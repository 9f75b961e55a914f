//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd

package fs

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const flockName = "flock"

func platformStrategy() Strategy {
	return flockStrategy{}
}

// flockStrategy locks sentinels with flock(2).
//
// flock locks an inode, not a pathname. Because sentinels are unlinked on
// release, a waiter can end up holding a lock on an inode that is no longer
// reachable at the sentinel path. After every successful flock the inode of
// the descriptor is compared against the inode currently at the path, and the
// attempt is treated as contended on mismatch.
type flockStrategy struct{}

func (flockStrategy) Name() string { return flockName }

func (flockStrategy) Weak() bool { return false }

func (flockStrategy) TryAcquire(sentinel string) (Held, error) {
	file, err := os.OpenFile(sentinel, os.O_CREATE|os.O_RDWR, lockFilePerm)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	fd := int(file.Fd())

	err = flockRetryEINTR(fd, unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		_ = file.Close()

		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, ErrWouldBlock
		}

		return nil, fmt.Errorf("flock: %w", err)
	}

	match, err := inodeMatchesPath(sentinel, fd)
	if err != nil || !match {
		_ = flockRetryEINTR(fd, unix.LOCK_UN)
		_ = file.Close()

		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("verifying lock inode: %w", err)
		}

		return nil, ErrWouldBlock
	}

	return &flockHeld{path: sentinel, file: file}, nil
}

type flockHeld struct {
	path string
	file *os.File
}

// Release removes the sentinel while still holding the lock, then unlocks
// and closes. Removing first means the next acquirer always creates a fresh
// inode instead of locking the one being released.
func (h *flockHeld) Release() error {
	_ = os.Remove(h.path)

	unlockErr := flockRetryEINTR(int(h.file.Fd()), unix.LOCK_UN)
	closeErr := h.file.Close()

	if unlockErr != nil {
		unlockErr = fmt.Errorf("unlocking lock: %w", unlockErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("closing lock fd: %w", closeErr)
	}

	return errors.Join(unlockErr, closeErr)
}

func inodeMatchesPath(path string, fd int) (bool, error) {
	var openStat unix.Stat_t

	err := unix.Fstat(fd, &openStat)
	if err != nil {
		return false, err
	}

	var pathStat unix.Stat_t

	err = unix.Stat(path, &pathStat)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, os.ErrNotExist
		}

		return false, err
	}

	return openStat.Dev == pathStat.Dev && openStat.Ino == pathStat.Ino, nil
}

// flockRetryEINTR wraps flock, retrying on EINTR.
//
// EINTR means the syscall was interrupted by a signal before it could
// complete. Retries are capped so a signal storm cannot spin forever.
func flockRetryEINTR(fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error
	for range maxEINTRRetries {
		err = unix.Flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
