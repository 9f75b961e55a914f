package fs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calvinalkan/pms/pkg/fs"
)

func strategies(t *testing.T) []fs.Strategy {
	t.Helper()

	out := []fs.Strategy{fs.ExistenceStrategy()}
	if def := fs.DefaultStrategy(); def.Name() != fs.ExistenceStrategy().Name() {
		out = append(out, def)
	}

	return out
}

func Test_Locker_Creates_And_Removes_Sentinel_When_Lock_Is_Closed(t *testing.T) {
	t.Parallel()

	for _, strategy := range strategies(t) {
		t.Run(strategy.Name(), func(t *testing.T) {
			t.Parallel()

			target := filepath.Join(t.TempDir(), "docs", "blueprint.md")
			locker := fs.NewLocker(fs.NewReal(), strategy)

			lk, err := locker.Lock(context.Background(), target, time.Second)
			if err != nil {
				t.Fatalf("Lock: %v", err)
			}

			if got, want := lk.Target(), target; got != want {
				t.Fatalf("target=%q, want=%q", got, want)
			}

			_, err = os.Stat(fs.SentinelPath(target))
			if err != nil {
				t.Fatalf("sentinel missing while held: %v", err)
			}

			err = lk.Close()
			if err != nil {
				t.Fatalf("Close: %v", err)
			}

			_, err = os.Stat(fs.SentinelPath(target))
			if !os.IsNotExist(err) {
				t.Fatalf("sentinel still present after Close: err=%v", err)
			}

			// Idempotent.
			err = lk.Close()
			if err != nil {
				t.Fatalf("second Close: %v", err)
			}
		})
	}
}

func Test_Locker_Returns_LockTimeoutError_When_Lock_Is_Held(t *testing.T) {
	t.Parallel()

	for _, strategy := range strategies(t) {
		t.Run(strategy.Name(), func(t *testing.T) {
			t.Parallel()

			target := filepath.Join(t.TempDir(), "status.md")
			locker := fs.NewLocker(fs.NewReal(), strategy).WithRetryInterval(10 * time.Millisecond)

			held, err := locker.Lock(context.Background(), target, time.Second)
			if err != nil {
				t.Fatalf("Lock: %v", err)
			}

			defer func() { _ = held.Close() }()

			timeout := 150 * time.Millisecond
			start := time.Now()

			_, err = locker.Lock(context.Background(), target, timeout)
			if !errors.Is(err, fs.ErrLockTimeout) {
				t.Fatalf("err=%v, want ErrLockTimeout", err)
			}

			if elapsed := time.Since(start); elapsed < timeout {
				t.Fatalf("returned after %v, before timeout %v", elapsed, timeout)
			}

			var timeoutErr *fs.LockTimeoutError
			if !errors.As(err, &timeoutErr) {
				t.Fatalf("err=%T, want *fs.LockTimeoutError", err)
			}

			if got, want := timeoutErr.Path, target; got != want {
				t.Fatalf("path=%q, want=%q", got, want)
			}

			if timeoutErr.Waited < timeout {
				t.Fatalf("waited=%v, want >= %v", timeoutErr.Waited, timeout)
			}

			if !strings.Contains(err.Error(), target) || !strings.Contains(err.Error(), "within ") {
				t.Fatalf("message %q should name path and elapsed seconds", err.Error())
			}
		})
	}
}

func Test_Locker_Acquires_When_Holder_Releases_Before_Timeout(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "a.yaml")
	locker := fs.NewLocker(fs.NewReal(), nil).WithRetryInterval(5 * time.Millisecond)

	held, err := locker.Lock(context.Background(), target, time.Second)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)

		_ = held.Close()
	}()

	lk, err := locker.Lock(context.Background(), target, 5*time.Second)
	if err != nil {
		t.Fatalf("second Lock: %v", err)
	}

	_ = lk.Close()
}

func Test_Locker_Serializes_Critical_Sections_When_Goroutines_Race(t *testing.T) {
	t.Parallel()

	for _, strategy := range strategies(t) {
		t.Run(strategy.Name(), func(t *testing.T) {
			t.Parallel()

			target := filepath.Join(t.TempDir(), "race.yaml")
			locker := fs.NewLocker(fs.NewReal(), strategy).WithRetryInterval(time.Millisecond)

			var (
				inside  atomic.Int32
				overlap atomic.Bool
				wg      sync.WaitGroup
			)

			for range 8 {
				wg.Add(1)

				go func() {
					defer wg.Done()

					for range 5 {
						lk, err := locker.Lock(context.Background(), target, 10*time.Second)
						if err != nil {
							t.Errorf("Lock: %v", err)

							return
						}

						if inside.Add(1) != 1 {
							overlap.Store(true)
						}

						time.Sleep(time.Millisecond)
						inside.Add(-1)

						_ = lk.Close()
					}
				}()
			}

			wg.Wait()

			if overlap.Load() {
				t.Fatal("two holders were inside the critical section at once")
			}
		})
	}
}

func Test_Locker_TryLock_Returns_ErrWouldBlock_When_Held(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "a.csv")
	locker := fs.NewLocker(fs.NewReal(), nil)

	held, err := locker.TryLock(target)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	defer func() { _ = held.Close() }()

	_, err = locker.TryLock(target)
	if !errors.Is(err, fs.ErrWouldBlock) {
		t.Fatalf("err=%v, want ErrWouldBlock", err)
	}
}

func Test_Locker_Returns_Context_Error_When_Cancelled_While_Waiting(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "a.csv")
	locker := fs.NewLocker(fs.NewReal(), nil).WithRetryInterval(5 * time.Millisecond)

	held, err := locker.Lock(context.Background(), target, time.Second)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	defer func() { _ = held.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, target, 10*time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want context.DeadlineExceeded", err)
	}

	if errors.Is(err, fs.ErrLockTimeout) {
		t.Fatalf("err=%v should not be a lock timeout", err)
	}
}

func Test_Locker_Returns_ErrInvalidTimeout_When_Timeout_Is_Not_Positive(t *testing.T) {
	t.Parallel()

	locker := fs.NewLocker(fs.NewReal(), nil)

	_, err := locker.Lock(context.Background(), filepath.Join(t.TempDir(), "a"), 0)
	if !errors.Is(err, fs.ErrInvalidTimeout) {
		t.Fatalf("err=%v, want ErrInvalidTimeout", err)
	}
}

func Test_ExistenceStrategy_Blocks_When_Stale_Sentinel_Exists(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "a.yaml")
	writeFile(t, fs.SentinelPath(target), "12345\n")

	strategy := fs.ExistenceStrategy()
	if !strategy.Weak() {
		t.Fatal("existence strategy must report Weak")
	}

	locker := fs.NewLocker(fs.NewReal(), strategy).WithRetryInterval(5 * time.Millisecond)

	_, err := locker.Lock(context.Background(), target, 30*time.Millisecond)
	if !errors.Is(err, fs.ErrLockTimeout) {
		t.Fatalf("err=%v, want ErrLockTimeout", err)
	}
}

func Test_StrategyByName_Resolves_Known_Names(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "auto", "existence", fs.DefaultStrategy().Name()} {
		s, err := fs.StrategyByName(name)
		if err != nil {
			t.Fatalf("StrategyByName(%q): %v", name, err)
		}

		if s == nil {
			t.Fatalf("StrategyByName(%q) returned nil", name)
		}
	}

	_, err := fs.StrategyByName("carrier-pigeon")
	if !errors.Is(err, fs.ErrUnknownStrategy) {
		t.Fatalf("err=%v, want ErrUnknownStrategy", err)
	}
}
