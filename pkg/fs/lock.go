package fs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

var (
	// ErrWouldBlock is returned when a lock cannot be acquired without waiting.
	//
	// Strategies return it from [Strategy.TryAcquire] on contention;
	// [Locker.TryLock] passes it through.
	ErrWouldBlock = errors.New("lock would block")

	// ErrLockTimeout is matched by [*LockTimeoutError].
	ErrLockTimeout = errors.New("lock timeout")

	// ErrInvalidTimeout is returned when a timeout is <= 0.
	ErrInvalidTimeout = errors.New("invalid lock timeout")

	// ErrUnknownStrategy is returned by [StrategyByName] for unsupported names.
	ErrUnknownStrategy = errors.New("unknown lock strategy")
)

// LockSuffix is appended to a target path to form its sentinel lock file.
const LockSuffix = ".lock"

// DefaultRetryInterval is the sleep between acquisition attempts.
const DefaultRetryInterval = 100 * time.Millisecond

const (
	lockFilePerm = 0o600
	lockDirPerm  = 0o755
)

// LockTimeoutError reports that a lock could not be acquired in time.
// It matches [ErrLockTimeout] with errors.Is.
type LockTimeoutError struct {
	// Path is the target path (not the sentinel).
	Path string

	// Waited is how long acquisition was attempted.
	Waited time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock timeout: could not acquire lock for %s within %.1fs", e.Path, e.Waited.Seconds())
}

// Is reports whether target is [ErrLockTimeout].
func (e *LockTimeoutError) Is(target error) bool {
	return target == ErrLockTimeout
}

// Strategy is one advisory-lock primitive operating on a sentinel file.
//
// Three implementations exist: flock(2) on Unix, LockFileEx on Windows, and a
// create-exclusive existence check used where neither is available. The
// existence strategy reports Weak() == true: a holder that dies without
// releasing leaves a stale sentinel that blocks every later writer until it is
// removed by hand, and network filesystems may not honour O_EXCL.
type Strategy interface {
	// Name identifies the strategy ("flock", "lockfileex", "existence").
	Name() string

	// Weak reports whether the strategy gives weaker guarantees than a
	// kernel-managed lock.
	Weak() bool

	// TryAcquire attempts a non-blocking exclusive lock on sentinel.
	// Returns [ErrWouldBlock] on contention.
	TryAcquire(sentinel string) (Held, error)
}

// Held is a lock obtained from a [Strategy].
type Held interface {
	// Release unlocks and removes the sentinel file.
	Release() error
}

// DefaultStrategy returns the strongest strategy available on this platform.
func DefaultStrategy() Strategy {
	if s := platformStrategy(); s != nil {
		return s
	}

	return ExistenceStrategy()
}

// StrategyByName maps a configuration value to a strategy.
// "" and "auto" select [DefaultStrategy].
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case "", "auto":
		return DefaultStrategy(), nil
	case existenceName:
		return ExistenceStrategy(), nil
	}

	if s := platformStrategy(); s != nil && s.Name() == name {
		return s, nil
	}

	return nil, fmt.Errorf("%w: %q is not available on this platform", ErrUnknownStrategy, name)
}

// Locker acquires exclusive advisory locks on sentinel files placed beside
// their targets ("doc.yaml" is guarded by "doc.yaml.lock").
//
// Locks are advisory: every cooperating writer must go through a Locker for
// them to have effect. Readers never take locks.
//
// Locker is safe for concurrent use.
type Locker struct {
	fs            FS
	strategy      Strategy
	retryInterval time.Duration
}

// NewLocker creates a Locker. A nil strategy selects [DefaultStrategy].
func NewLocker(fs FS, strategy Strategy) *Locker {
	if strategy == nil {
		strategy = DefaultStrategy()
	}

	return &Locker{
		fs:            fs,
		strategy:      strategy,
		retryInterval: DefaultRetryInterval,
	}
}

// WithRetryInterval returns a copy of l that sleeps d between attempts.
func (l *Locker) WithRetryInterval(d time.Duration) *Locker {
	cp := *l
	if d > 0 {
		cp.retryInterval = d
	}

	return &cp
}

// Strategy returns the strategy in use.
func (l *Locker) Strategy() Strategy {
	return l.strategy
}

// SentinelPath returns the lock file path guarding target.
func SentinelPath(target string) string {
	return target + LockSuffix
}

// Lock represents a held lock. Call [Lock.Close] to release it.
type Lock struct {
	mu     sync.Mutex
	held   Held
	target string
}

// Target returns the path the lock guards.
func (lk *Lock) Target() string {
	return lk.target
}

// Close releases the lock and removes the sentinel file.
//
// Close is idempotent - calling it multiple times is safe and subsequent calls
// return nil.
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.held == nil {
		return nil
	}

	err := lk.held.Release()
	lk.held = nil

	return err
}

// Lock acquires an exclusive lock guarding target, retrying every retry
// interval until timeout elapses.
//
// The timeout is best-effort: because this method polls and sleeps, it may
// overshoot slightly under scheduler delay. Cancelling ctx aborts the wait.
//
// Returns a [*LockTimeoutError] if the timeout expires before the lock is
// acquired. Returns [ErrInvalidTimeout] if timeout <= 0.
func (l *Locker) Lock(ctx context.Context, target string, timeout time.Duration) (*Lock, error) {
	if ctx == nil {
		return nil, errors.New("lock: context is nil")
	}

	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be > 0", ErrInvalidTimeout)
	}

	sentinel, err := l.prepare(target)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	deadline := start.Add(timeout)

	for {
		held, err := l.strategy.TryAcquire(sentinel)
		if err == nil {
			return &Lock{held: held, target: target}, nil
		}

		if !errors.Is(err, ErrWouldBlock) {
			return nil, fmt.Errorf("acquiring lock for %s: %w", target, err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &LockTimeoutError{Path: target, Waited: time.Since(start)}
		}

		timer := time.NewTimer(min(l.retryInterval, remaining))

		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, fmt.Errorf("acquiring lock for %s: %w", target, ctx.Err())
		case <-timer.C:
		}
	}
}

// TryLock attempts to acquire the lock without waiting.
// Returns [ErrWouldBlock] if it is held elsewhere.
func (l *Locker) TryLock(target string) (*Lock, error) {
	sentinel, err := l.prepare(target)
	if err != nil {
		return nil, err
	}

	held, err := l.strategy.TryAcquire(sentinel)
	if err != nil {
		return nil, err
	}

	return &Lock{held: held, target: target}, nil
}

func (l *Locker) prepare(target string) (string, error) {
	if target == "" {
		return "", errors.New("lock: path is empty")
	}

	sentinel := SentinelPath(target)

	err := l.fs.MkdirAll(filepath.Dir(sentinel), lockDirPerm)
	if err != nil {
		return "", fmt.Errorf("creating lock dir: %w", err)
	}

	return sentinel, nil
}
