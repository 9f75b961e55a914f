package fs

import (
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"syscall"
)

// Write failure classes. Every error returned by [AtomicWriter.Write] wraps
// exactly one of ErrDiskFull, ErrPermission or ErrWriteFailed, so callers can
// map failures without inspecting errno values.
var (
	// ErrDiskFull reports that the device ran out of space (ENOSPC).
	ErrDiskFull = errors.New("disk full")

	// ErrPermission reports that the target or a required directory is not writable.
	ErrPermission = errors.New("permission denied")

	// ErrWriteFailed reports any other I/O failure during an atomic write.
	ErrWriteFailed = errors.New("write failed")

	// ErrDirCreate marks failures creating the target or temp directory.
	// It is always wrapped together with ErrPermission or ErrWriteFailed.
	ErrDirCreate = errors.New("create directory")
)

// ErrAtomicWriteDirSync indicates the parent directory could not be synced after rename.
//
// When returned, the new file is in place but durability is not guaranteed.
// Callers can detect this with errors.Is(err, ErrAtomicWriteDirSync).
var ErrAtomicWriteDirSync = errors.New("dir sync")

const dirPerm = 0o755

// AtomicWriter writes files atomically using a temp file and rename.
//
// Temp files are created in a dedicated temp directory rather than next to the
// target. That directory must live on the same filesystem as every target the
// writer is used for, otherwise the final rename fails with EXDEV.
type AtomicWriter struct {
	fs      FS
	tempDir string
}

// NewAtomicWriter creates an AtomicWriter that stages temp files in tempDir.
// An empty tempDir stages next to the target. Panics if fs is nil.
func NewAtomicWriter(fs FS, tempDir string) *AtomicWriter {
	if fs == nil {
		panic("fs is nil")
	}

	return &AtomicWriter{fs: fs, tempDir: tempDir}
}

// TempDir returns the staging directory ("" when staging next to targets).
func (w *AtomicWriter) TempDir() string {
	return w.tempDir
}

// AtomicWriteOptions configures Write behavior.
type AtomicWriteOptions struct {
	// SyncDir controls whether the parent directory is synced after rename.
	SyncDir bool

	// Perm specifies the file permissions. Must be non-zero.
	// The file is always explicitly chmod'd to this mode, regardless of umask.
	Perm os.FileMode
}

// Write writes data from r to path atomically.
//
// It creates the parent and temp directories, writes and syncs a uniquely
// named temp file, replaces path with it, then syncs the parent directory
// (if opts.SyncDir is true). The old content of path stays intact on every
// failure before the rename; the temp file is removed best-effort.
func (w *AtomicWriter) Write(path string, reader io.Reader, opts AtomicWriteOptions) error {
	if reader == nil {
		panic("reader is nil")
	}

	if path == "" {
		return fmt.Errorf("%w: path is empty", ErrWriteFailed)
	}

	if opts.Perm == 0 {
		return fmt.Errorf("%w: opts.Perm must be non-zero", ErrWriteFailed)
	}

	dir, base := filepath.Split(path)
	if base == "" || base == string(os.PathSeparator) || base == "." {
		return fmt.Errorf("%w: path is invalid: %q", ErrWriteFailed, path)
	}

	if dir == "" {
		dir = "."
	}

	dir = filepath.Clean(dir)

	stageDir := w.tempDir
	if stageDir == "" {
		stageDir = dir
	}

	err := w.mkdir(stageDir)
	if err != nil {
		return err
	}

	err = w.mkdir(dir)
	if err != nil {
		return err
	}

	tmpFile, tmpPath, err := createAtomicTempFile(w.fs, stageDir, base, opts.Perm)
	if err != nil {
		return classify(err, "create temp file for %s", path)
	}

	closed := false
	cleanup := func() {
		if !closed {
			_ = tmpFile.Close()
		}

		_ = removeTempFile(w.fs, tmpPath)
	}

	chmodErr := tmpFile.Chmod(opts.Perm)
	if chmodErr != nil {
		cleanup()

		return classify(chmodErr, "chmod temp file %q", tmpPath)
	}

	writeErr := writeAndSyncTempFile(tmpFile, tmpPath, reader)
	if writeErr != nil {
		cleanup()

		return classify(writeErr, "writing %s", path)
	}

	closeErr := tmpFile.Close()
	closed = true

	if closeErr != nil {
		cleanup()

		return classify(closeErr, "close temp file %q", tmpPath)
	}

	permErr := w.checkWritable(path)
	if permErr != nil {
		cleanup()

		return permErr
	}

	renameErr := w.fs.Rename(tmpPath, path)
	if renameErr != nil {
		cleanup()

		return classify(renameErr, "rename onto %s", path)
	}

	if opts.SyncDir {
		return fsyncDir(w.fs, dir)
	}

	return nil
}

// WriteWithDefaults writes content atomically using default options.
func (w *AtomicWriter) WriteWithDefaults(path string, r io.Reader) error {
	return w.Write(path, r, w.DefaultOptions())
}

// DefaultOptions returns the default atomic write options.
// Directory sync is skipped on Windows, where directories cannot be fsynced.
func (*AtomicWriter) DefaultOptions() AtomicWriteOptions {
	return AtomicWriteOptions{
		SyncDir: runtime.GOOS != "windows",
		Perm:    0o644,
	}
}

func (w *AtomicWriter) mkdir(dir string) error {
	err := w.fs.MkdirAll(dir, dirPerm)
	if err == nil {
		return nil
	}

	if errors.Is(err, iofs.ErrPermission) {
		return fmt.Errorf("%w: %w %q: %w", ErrPermission, ErrDirCreate, dir, err)
	}

	return fmt.Errorf("%w: %w %q: %w", ErrWriteFailed, ErrDirCreate, dir, err)
}

// checkWritable rejects targets that exist but cannot be opened for writing.
// A rename would silently replace a read-only file on most platforms.
func (w *AtomicWriter) checkWritable(path string) error {
	f, err := w.fs.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil
		}

		if errors.Is(err, iofs.ErrPermission) {
			return fmt.Errorf("%w: writing %s: %w", ErrPermission, path, err)
		}

		// Directories and other oddities surface on rename.
		return nil
	}

	_ = f.Close()

	return nil
}

// classify wraps err with the failure class it belongs to.
func classify(err error, format string, args ...any) error {
	class := ErrWriteFailed

	switch {
	case errors.Is(err, syscall.ENOSPC):
		class = ErrDiskFull
	case errors.Is(err, iofs.ErrPermission):
		class = ErrPermission
	}

	return fmt.Errorf("%w: %s: %w", class, fmt.Sprintf(format, args...), err)
}

func writeAndSyncTempFile(file File, path string, r io.Reader) error {
	_, copyErr := io.Copy(file, r)
	if copyErr != nil {
		return fmt.Errorf("write temp file %q: %w", path, copyErr)
	}

	err := file.Sync()
	if err != nil {
		return fmt.Errorf("sync temp file %q: %w", path, err)
	}

	return nil
}

const atomicWriteMaxAttempts = 10000

var atomicWriteCounter atomic.Uint64

func createAtomicTempFile(fs FS, dir, base string, perm os.FileMode) (File, string, error) {
	pid := os.Getpid()

	for range atomicWriteMaxAttempts {
		seq := atomicWriteCounter.Add(1)
		path := filepath.Join(dir, fmt.Sprintf(".%s.%d-%d.tmp", base, pid, seq))

		file, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err == nil {
			return file, path, nil
		}

		if os.IsExist(err) {
			continue
		}

		return nil, "", err
	}

	return nil, "", fmt.Errorf("exhausted temp file attempts in %q", dir)
}

func fsyncDir(fs FS, dirPath string) error {
	dirFd, err := fs.Open(dirPath)
	if err != nil {
		return errors.Join(ErrAtomicWriteDirSync, fmt.Errorf("open dir %q: %w", dirPath, err))
	}

	syncErr := dirFd.Sync()
	closeErr := dirFd.Close()

	if syncErr == nil && closeErr == nil {
		return nil
	}

	return errors.Join(ErrAtomicWriteDirSync, syncErr, closeErr)
}

func removeTempFile(fs FS, path string) error {
	err := fs.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp file %q: %w", path, err)
	}

	return nil
}
