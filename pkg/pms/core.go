// Package pms persists project-management documents as plain files.
//
// A [Core] is the single context object of the package: construct one per
// process with [New] and share it. It resolves symbolic scopes ("blueprint",
// "backlog_f2", ...) to paths, serializes writers with advisory file locks,
// writes through temp-file + rename, stamps and verifies blueprint hashes,
// and wraps saves in transactions that can be rolled back to the exact prior
// bytes (or prior absence).
//
// Readers never lock. A load racing a save sees the old or the new file,
// never a torn one.
//
// Basic usage:
//
//	core, err := pms.New(pms.Options{Root: "/project"})
//	if err != nil {
//		return err
//	}
//
//	err = core.Save(ctx, pms.ScopeBlueprint, []byte("# Architecture\n"), pms.SaveOptions{Transactional: true})
//	doc, err := core.Load(ctx, pms.ScopeBlueprint)
//
// Every error returned is a [*Error]; classify it with [KindOf].
package pms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/calvinalkan/pms/pkg/fs"
)

// DefaultLockTimeout bounds how long a writer waits for a document lock.
const DefaultLockTimeout = 30 * time.Second

// DefaultAuthor is recorded in changelog rows written by blueprint saves.
const DefaultAuthor = "PMS_Core"

// Options configures [New].
type Options struct {
	// Root is the project root. Required.
	Root string

	// FS defaults to [fs.NewReal].
	FS fs.FS

	// Logger defaults to a logger that discards everything.
	Logger *slog.Logger

	// LockTimeout defaults to [DefaultLockTimeout].
	LockTimeout time.Duration

	// LockRetryInterval defaults to [fs.DefaultRetryInterval].
	LockRetryInterval time.Duration

	// LockStrategy names the lock primitive ("auto", "flock", "lockfileex",
	// "existence"). Empty selects the platform default.
	LockStrategy string

	// SchemaPolicy defaults to [PolicyPermissive].
	SchemaPolicy SchemaPolicy

	// Author defaults to [DefaultAuthor].
	Author string

	// Clock defaults to time.Now.
	Clock func() time.Time

	// NewID generates transaction id suffixes. Defaults to 8 hex chars of a
	// random UUID.
	NewID func() string
}

// Core is the persistence context. Safe for concurrent use.
type Core struct {
	layout      Layout
	fs          fs.FS
	logger      *slog.Logger
	locker      *fs.Locker
	writer      *fs.AtomicWriter
	index       *indexCache
	resolver    *Resolver
	validator   *Validator
	tx          *TxManager
	lockTimeout time.Duration
	author      string
	clock       func() time.Time
}

// New builds a Core rooted at opts.Root. Nothing is read or written until the
// first call that needs it.
func New(opts Options) (*Core, error) {
	if opts.Root == "" {
		return nil, &Error{Op: "new", Err: fmt.Errorf("%w: root is empty", ErrInvalid)}
	}

	switch opts.SchemaPolicy {
	case "":
		opts.SchemaPolicy = PolicyPermissive
	case PolicyPermissive, PolicyStrict:
	default:
		return nil, &Error{Op: "new", Err: fmt.Errorf("%w: unknown schema policy %q", ErrInvalid, opts.SchemaPolicy)}
	}

	strategy, err := fs.StrategyByName(opts.LockStrategy)
	if err != nil {
		return nil, &Error{Op: "new", Err: fmt.Errorf("%w: %w", ErrInvalid, err)}
	}

	if opts.FS == nil {
		opts.FS = fs.NewReal()
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}

	if opts.Author == "" {
		opts.Author = DefaultAuthor
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString()[:8] }
	}

	layout := NewLayout(opts.Root)
	logger := opts.Logger

	if strategy.Weak() {
		logger.Warn("lock strategy gives weak guarantees: a crashed writer leaves a stale .lock file behind",
			"strategy", strategy.Name())
	}

	c := &Core{
		layout:      layout,
		fs:          opts.FS,
		logger:      logger,
		locker:      fs.NewLocker(opts.FS, strategy).WithRetryInterval(opts.LockRetryInterval),
		writer:      fs.NewAtomicWriter(opts.FS, layout.TempDir()),
		index:       newIndexCache(opts.FS, layout.IndexPath(), logger),
		lockTimeout: opts.LockTimeout,
		author:      opts.Author,
		clock:       opts.Clock,
	}

	c.resolver = newResolver(layout, c.index, logger)
	c.validator = &Validator{policy: opts.SchemaPolicy, index: c.index, load: c.load}
	c.tx = newTxManager(txDeps{
		fs:          c.fs,
		writer:      c.writer,
		locker:      c.locker,
		layout:      layout,
		resolve:     c.resolver.Resolve,
		check:       c.validator.CheckScope,
		logger:      logger,
		clock:       opts.Clock,
		newID:       opts.NewID,
		lockTimeout: opts.LockTimeout,
	})

	logger.Debug("pms core ready", "root", layout.Root, "lock_strategy", strategy.Name(), "schema_policy", string(opts.SchemaPolicy))

	return c, nil
}

// Layout returns the project layout.
func (c *Core) Layout() Layout { return c.layout }

// Resolver returns the scope resolver.
func (c *Core) Resolver() *Resolver { return c.resolver }

// Validator returns the integrity validator.
func (c *Core) Validator() *Validator { return c.validator }

// Transactions returns the transaction manager.
func (c *Core) Transactions() *TxManager { return c.tx }

// LockStrategy returns the name of the active lock strategy.
func (c *Core) LockStrategy() string { return c.locker.Strategy().Name() }

// Resolve maps scope to its path.
func (c *Core) Resolve(scope string) (string, error) {
	p, err := c.resolver.Resolve(scope)

	return p, withContext(err, "resolve", scope, "")
}

// Index returns the memory index, loading it on first use.
func (c *Core) Index() (*MemoryIndex, error) {
	idx, err := c.index.get()

	return idx, withContext(err, "index", ScopeMemoryIndex, c.layout.IndexPath())
}

// Invalidate drops the cached memory index. The next call that needs it
// reads it again.
func (c *Core) Invalidate() {
	c.index.invalidate()
	c.logger.Debug("memory index invalidated")
}

// Reload drops the cached memory index and reads it again.
func (c *Core) Reload(ctx context.Context) (*MemoryIndex, error) {
	if err := ctx.Err(); err != nil {
		return nil, withContext(err, "reload", ScopeMemoryIndex, "")
	}

	c.Invalidate()

	return c.Index()
}

// Validate runs the full integrity check of scope: it must exist, load with a
// matching hash, and satisfy its configured schema.
func (c *Core) Validate(ctx context.Context, scope string) error {
	if err := ctx.Err(); err != nil {
		return withContext(err, "validate", scope, "")
	}

	return withContext(c.validator.CheckScope(scope), "validate", scope, "")
}

// Begin starts a transaction on scope. See [TxManager.Begin].
func (c *Core) Begin(ctx context.Context, scope string) (string, error) {
	return c.tx.Begin(ctx, scope)
}

// Commit commits a transaction. See [TxManager.Commit].
func (c *Core) Commit(ctx context.Context, id string) error {
	return c.tx.Commit(ctx, id)
}

// Rollback rolls back a transaction. See [TxManager.Rollback].
func (c *Core) Rollback(ctx context.Context, id string) error {
	return c.tx.Rollback(ctx, id)
}

// RollbackToVersion undoes the last committed transaction of scope. See
// [TxManager.RollbackToVersion].
func (c *Core) RollbackToVersion(ctx context.Context, scope, version string) error {
	return c.tx.RollbackToVersion(ctx, scope, version)
}

// History returns the transactions recorded for scope, oldest first.
func (c *Core) History(scope string) []Transaction {
	return c.tx.History(scope)
}

func (c *Core) lock(ctx context.Context, path string) (*fs.Lock, error) {
	lk, err := c.locker.Lock(ctx, path, c.lockTimeout)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("lock acquired", "path", path)

	return lk, nil
}

func (c *Core) unlock(lk *fs.Lock) {
	err := lk.Close()
	if err != nil {
		c.logger.Warn("releasing lock", "path", lk.Target(), "error", err)

		return
	}

	c.logger.Debug("lock released", "path", lk.Target())
}

func (c *Core) write(path string, data []byte) error {
	return atomicWrite(c.writer, c.logger, path, data)
}

// atomicWrite writes data to path through w. A failed directory sync after
// the rename leaves the new content in place, so it is logged, not returned.
func atomicWrite(w *fs.AtomicWriter, logger *slog.Logger, path string, data []byte) error {
	err := w.Write(path, bytes.NewReader(data), w.DefaultOptions())
	if err != nil && errors.Is(err, fs.ErrAtomicWriteDirSync) {
		logger.Warn("directory sync after write failed", "path", path, "error", err)

		return nil
	}

	return err
}
