package pms

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/calvinalkan/pms/pkg/fs"
)

// TxStatus is the state of a transaction. Only active transactions change
// state; the other three are terminal.
type TxStatus string

// Transaction states.
const (
	TxActive         TxStatus = "active"
	TxCommitted      TxStatus = "committed"
	TxRolledBack     TxStatus = "rolled_back"
	TxFailedRollback TxStatus = "failed_rollback"
)

// Terminal reports whether s can no longer change.
func (s TxStatus) Terminal() bool {
	return s != TxActive
}

// VersionLatest selects the most recent committed transaction in
// [TxManager.RollbackToVersion].
const VersionLatest = "latest"

// Transaction is one entry of the in-memory transaction log.
type Transaction struct {
	ID    string
	Scope string
	Path  string

	// BackupPath holds the pre-image while the transaction is active. For an
	// undo record it is the undo snapshot that was restored.
	BackupPath string

	Timestamp time.Time
	Status    TxStatus

	// PreExisted records whether Path existed when the transaction began.
	PreExisted bool

	// UndoOf is set on records created by RollbackToVersion and names the
	// committed transaction that was undone.
	UndoOf string
}

// undoSnapshot is the pre-image of the last committed transaction of a path.
type undoSnapshot struct {
	txID       string
	path       string
	preExisted bool

	// lost is set when the pre-image could not be kept at commit.
	lost error
}

type txDeps struct {
	fs          fs.FS
	writer      *fs.AtomicWriter
	locker      *fs.Locker
	layout      Layout
	resolve     func(scope string) (string, error)
	check       func(scope string) error
	logger      *slog.Logger
	clock       func() time.Time
	newID       func() string
	lockTimeout time.Duration
}

// TxManager wraps saves with pre-image backups.
//
// Begin copies the target to <memory>/temp/transactions/<id>_<scope>.backup.
// Commit validates the written target and keeps the pre-image as the undo
// snapshot of the document (one per document, replaced by every commit).
// Rollback restores the pre-image, or deletes the target when it did not exist
// before.
//
// The log lives in memory for the lifetime of the Core. Callers hold the
// document lock between Begin and Commit/Rollback; the manager only takes it
// itself in RollbackToVersion.
type TxManager struct {
	txDeps

	mu   sync.Mutex
	log  []*Transaction
	byID map[string]*Transaction
	undo map[string]undoSnapshot // keyed by path
}

func newTxManager(deps txDeps) *TxManager {
	return &TxManager{
		txDeps: deps,
		byID:   make(map[string]*Transaction),
		undo:   make(map[string]undoSnapshot),
	}
}

// Begin records the current state of scope's target and returns a new
// transaction id of the form txn_<unix>_<8 hex>.
func (m *TxManager) Begin(ctx context.Context, scope string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", withContext(err, "begin", scope, "")
	}

	path, err := m.resolve(scope)
	if err != nil {
		return "", withContext(err, "begin", scope, "")
	}

	return m.begin(scope, path)
}

func (m *TxManager) begin(scope, path string) (string, error) {
	now := m.clock()
	id := fmt.Sprintf("txn_%d_%s", now.Unix(), m.newID())

	tx := &Transaction{
		ID:         id,
		Scope:      scope,
		Path:       path,
		BackupPath: filepath.Join(m.layout.TxDir(), id+"_"+fileKey(scope)+backupExtension),
		Timestamp:  now,
		Status:     TxActive,
	}

	data, err := m.fs.ReadFile(path)

	switch {
	case err == nil:
		tx.PreExisted = true

		err = atomicWrite(m.writer, m.logger, tx.BackupPath, data)
		if err != nil {
			return "", withContext(fmt.Errorf("writing backup: %w", err), "begin", scope, path)
		}
	case errors.Is(err, iofs.ErrNotExist):
		tx.BackupPath = ""
	default:
		return "", withContext(fmt.Errorf("reading pre-image: %w", err), "begin", scope, path)
	}

	m.mu.Lock()
	m.log = append(m.log, tx)
	m.byID[id] = tx
	m.mu.Unlock()

	m.logger.Debug("transaction begun", "tx", id, "scope", scope, "pre_existed", tx.PreExisted)

	return id, nil
}

// Commit validates the target of transaction id (hash and schema). On
// failure the transaction is rolled back and a transaction error wrapping the
// cause is returned; a transaction is never left committed and invalid.
func (m *TxManager) Commit(ctx context.Context, id string) error {
	tx, err := m.active(id)
	if err != nil {
		return withContext(err, "commit", "", "")
	}

	if err := ctx.Err(); err != nil {
		return withContext(err, "commit", tx.Scope, tx.Path)
	}

	checkErr := m.check(tx.Scope)
	if checkErr != nil {
		rbErr := m.rollback(tx)
		if rbErr != nil {
			return withContext(fmt.Errorf("%w: commit %s failed validation (%w) and rollback failed: %w",
				ErrTransaction, id, checkErr, rbErr), "commit", tx.Scope, tx.Path)
		}

		return withContext(fmt.Errorf("%w: commit %s failed validation, rolled back: %w",
			ErrTransaction, id, checkErr), "commit", tx.Scope, tx.Path)
	}

	err = m.keepUndo(tx)
	if err != nil {
		// The write itself is valid; losing the undo snapshot only limits
		// RollbackToVersion.
		m.logger.Warn("keeping undo snapshot", "tx", id, "error", err)

		m.mu.Lock()
		m.undo[tx.Path] = undoSnapshot{txID: tx.ID, path: tx.Path, lost: err}
		m.mu.Unlock()
	}

	m.setStatus(tx, TxCommitted)
	m.logger.Info("transaction committed", "tx", id, "scope", tx.Scope)

	return nil
}

// Rollback restores the pre-image of transaction id: the backup bytes, or
// absence if the target did not exist at Begin. A failed restore marks the
// transaction failed_rollback and is not retried.
//
// Cancellation is ignored: a started restore always runs to completion.
func (m *TxManager) Rollback(_ context.Context, id string) error {
	tx, err := m.active(id)
	if err != nil {
		return withContext(err, "rollback", "", "")
	}

	return withContext(m.rollback(tx), "rollback", tx.Scope, tx.Path)
}

func (m *TxManager) rollback(tx *Transaction) error {
	err := m.restore(tx.Path, tx.BackupPath, tx.PreExisted)
	if err != nil {
		m.setStatus(tx, TxFailedRollback)
		m.logger.Error("rollback failed, document may be inconsistent",
			"tx", tx.ID, "scope", tx.Scope, "path", tx.Path, "error", err)

		return fmt.Errorf("%w: rollback of %s failed: %w", ErrTransaction, tx.ID, err)
	}

	m.removeBestEffort(tx.BackupPath)
	m.setStatus(tx, TxRolledBack)
	m.logger.Info("transaction rolled back", "tx", tx.ID, "scope", tx.Scope)

	return nil
}

// RollbackToVersion undoes the most recent committed transaction of scope by
// restoring its undo snapshot under the document lock.
//
// Only one step of history is kept, so version must be "", "latest" or the id
// of that transaction. The undo is recorded as a new transaction whose UndoOf
// names the committed one; committed records never change.
func (m *TxManager) RollbackToVersion(ctx context.Context, scope, version string) error {
	path, err := m.resolve(scope)
	if err != nil {
		return withContext(err, "rollback_to_version", scope, "")
	}

	lk, err := m.locker.Lock(ctx, path, m.lockTimeout)
	if err != nil {
		return withContext(err, "rollback_to_version", scope, path)
	}

	defer func() {
		if cerr := lk.Close(); cerr != nil {
			m.logger.Warn("releasing lock", "path", path, "error", cerr)
		}
	}()

	committed, snap, err := m.undoTarget(scope, path, version)
	if err != nil {
		return withContext(err, "rollback_to_version", scope, path)
	}

	now := m.clock()
	tx := &Transaction{
		ID:         fmt.Sprintf("txn_%d_%s", now.Unix(), m.newID()),
		Scope:      scope,
		Path:       path,
		BackupPath: m.undoPath(path),
		Timestamp:  now,
		Status:     TxActive,
		PreExisted: snap.preExisted,
		UndoOf:     committed.ID,
	}

	if !snap.preExisted {
		tx.BackupPath = ""
	}

	m.mu.Lock()
	m.log = append(m.log, tx)
	m.byID[tx.ID] = tx
	// Consumed whether or not the restore works; a second undo of the same
	// commit is never attempted.
	delete(m.undo, path)
	m.mu.Unlock()

	err = m.rollback(tx)
	if err != nil {
		return withContext(err, "rollback_to_version", scope, path)
	}

	m.logger.Info("committed transaction undone", "tx", tx.ID, "undo_of", committed.ID, "scope", scope)

	return nil
}

func (m *TxManager) undoTarget(scope, path, version string) (Transaction, undoSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var committed *Transaction

	for i := len(m.log) - 1; i >= 0; i-- {
		if m.log[i].Path == path && m.log[i].Status == TxCommitted {
			committed = m.log[i]

			break
		}
	}

	if committed == nil {
		return Transaction{}, undoSnapshot{}, fmt.Errorf("%w: no committed transaction for %s", ErrTransaction, scope)
	}

	if version != "" && version != VersionLatest && version != committed.ID {
		return Transaction{}, undoSnapshot{}, fmt.Errorf(
			"%w: version %q not retained, only the latest committed transaction (%s) can be undone",
			ErrTransaction, version, committed.ID)
	}

	snap, ok := m.undo[path]
	if ok && snap.txID == committed.ID && snap.lost != nil {
		return Transaction{}, undoSnapshot{}, fmt.Errorf("%w: transaction %s committed but its undo snapshot could not be kept: %w",
			ErrTransaction, committed.ID, snap.lost)
	}

	if !ok || snap.txID != committed.ID {
		return Transaction{}, undoSnapshot{}, fmt.Errorf("%w: transaction %s has no undo snapshot (already undone?)",
			ErrTransaction, committed.ID)
	}

	return *committed, snap, nil
}

// History returns copies of the transactions recorded for scope, oldest
// first.
func (m *TxManager) History(scope string) []Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []Transaction{}

	for _, tx := range m.log {
		if tx.Scope == scope {
			out = append(out, *tx)
		}
	}

	return out
}

// Get returns a copy of transaction id.
func (m *TxManager) Get(id string) (Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.byID[id]
	if !ok {
		return Transaction{}, false
	}

	return *tx, true
}

func (m *TxManager) active(id string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown transaction %q", ErrTransaction, id)
	}

	if tx.Status.Terminal() {
		return nil, fmt.Errorf("%w: transaction %s is already %s", ErrTransaction, id, tx.Status)
	}

	return tx, nil
}

func (m *TxManager) setStatus(tx *Transaction, status TxStatus) {
	m.mu.Lock()
	tx.Status = status
	m.mu.Unlock()
}

// restore puts path back to its pre-image.
func (m *TxManager) restore(path, backup string, preExisted bool) error {
	if !preExisted {
		err := m.fs.Remove(path)
		if err != nil && !errors.Is(err, iofs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", path, err)
		}

		return nil
	}

	data, err := m.fs.ReadFile(backup)
	if err != nil {
		return fmt.Errorf("reading backup: %w", err)
	}

	err = atomicWrite(m.writer, m.logger, path, data)
	if err != nil {
		return fmt.Errorf("restoring %s: %w", path, err)
	}

	return nil
}

// keepUndo turns the backup of a committing transaction into the undo
// snapshot of its path.
func (m *TxManager) keepUndo(tx *Transaction) error {
	undoPath := m.undoPath(tx.Path)

	if tx.PreExisted {
		err := m.fs.MkdirAll(filepath.Dir(undoPath), 0o755)
		if err != nil {
			return fmt.Errorf("creating undo dir: %w", err)
		}

		err = m.fs.Rename(tx.BackupPath, undoPath)
		if err != nil {
			m.removeBestEffort(tx.BackupPath)

			return fmt.Errorf("moving backup to undo snapshot: %w", err)
		}
	} else {
		m.removeBestEffort(undoPath)
	}

	m.mu.Lock()
	m.undo[tx.Path] = undoSnapshot{txID: tx.ID, path: tx.Path, preExisted: tx.PreExisted}
	m.mu.Unlock()

	return nil
}

func (m *TxManager) undoPath(path string) string {
	rel, err := filepath.Rel(m.layout.Root, path)
	if err != nil {
		rel = path
	}

	return filepath.Join(m.layout.UndoDir(), fileKey(filepath.ToSlash(rel))+backupExtension)
}

func (m *TxManager) removeBestEffort(path string) {
	if path == "" {
		return
	}

	err := m.fs.Remove(path)
	if err != nil && !errors.Is(err, iofs.ErrNotExist) {
		m.logger.Warn("removing backup", "path", path, "error", err)
	}
}
