package fs

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

const existenceName = "existence"

// ExistenceStrategy returns the fallback strategy: the sentinel's existence
// is the lock. Acquisition creates it with O_EXCL and release deletes it.
//
// Weaker than a kernel lock. A crashed holder leaves the sentinel behind and
// every later writer times out until someone deletes it; O_EXCL is not
// reliable on some network filesystems.
func ExistenceStrategy() Strategy {
	return existenceStrategy{}
}

type existenceStrategy struct{}

func (existenceStrategy) Name() string { return existenceName }

func (existenceStrategy) Weak() bool { return true }

func (existenceStrategy) TryAcquire(sentinel string) (Held, error) {
	file, err := os.OpenFile(sentinel, os.O_CREATE|os.O_EXCL|os.O_WRONLY, lockFilePerm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrWouldBlock
		}

		return nil, fmt.Errorf("creating lock file: %w", err)
	}

	// Owner pid helps whoever has to clean up a stale sentinel.
	_, _ = file.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	_ = file.Close()

	return &existenceHeld{path: sentinel}, nil
}

type existenceHeld struct {
	path string
}

// Release deletes the sentinel. Unlike the kernel strategies the removal is
// the unlock, so its failure is returned.
func (h *existenceHeld) Release() error {
	err := os.Remove(h.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing lock file: %w", err)
	}

	return nil
}
