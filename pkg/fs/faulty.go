package fs

import (
	"os"
	"slices"
	"strings"
	"sync"
	"syscall"
)

// FaultOp identifies an operation [Faulty] can fail.
type FaultOp string

// Operations that can be failed.
const (
	FaultOpen      FaultOp = "open"
	FaultOpenFile  FaultOp = "openfile"
	FaultReadFile  FaultOp = "readfile"
	FaultMkdirAll  FaultOp = "mkdirall"
	FaultStat      FaultOp = "stat"
	FaultRemove    FaultOp = "remove"
	FaultRename    FaultOp = "rename"
	FaultFileWrite FaultOp = "file.write"
	FaultFileSync  FaultOp = "file.sync"
)

// Faulty wraps an [FS] and fails selected operations with errno-style errors.
//
// Unlike a random chaos filesystem, rules are deterministic: a rule fails
// every matching call until it is removed. Injected errors are
// *os.PathError / *os.LinkError values carrying a [syscall.Errno], so
// errors.Is(err, syscall.ENOSPC) and os.IsPermission keep working.
//
// Example:
//
//	faulty := fs.NewFaulty(fs.NewReal())
//	faulty.Fail(fs.FaultRename, "blueprint.md", syscall.EIO)
//
// Safe for concurrent use.
type Faulty struct {
	inner FS

	mu    sync.Mutex
	rules []faultRule
	calls map[FaultOp]int
}

type faultRule struct {
	op    FaultOp
	match string
	errno syscall.Errno

	// remaining is the number of failures left; 0 means unlimited.
	remaining int
}

// NewFaulty wraps inner. Panics if inner is nil.
func NewFaulty(inner FS) *Faulty {
	if inner == nil {
		panic("inner fs is nil")
	}

	return &Faulty{inner: inner, calls: make(map[FaultOp]int)}
}

// Fail makes every op whose path contains match fail with errno.
// An empty match applies to every path.
func (f *Faulty) Fail(op FaultOp, match string, errno syscall.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = append(f.rules, faultRule{op: op, match: match, errno: errno})
}

// FailTimes is like [Faulty.Fail] but the rule is dropped after it has
// failed n calls.
func (f *Faulty) FailTimes(op FaultOp, match string, errno syscall.Errno, n int) {
	if n <= 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = append(f.rules, faultRule{op: op, match: match, errno: errno, remaining: n})
}

// Clear removes all rules.
func (f *Faulty) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = nil
}

// Calls returns how many times op was attempted (failed or not).
func (f *Faulty) Calls(op FaultOp) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[op]
}

func (f *Faulty) check(op FaultOp, paths ...string) (syscall.Errno, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[op]++

	for i, rule := range f.rules {
		if rule.op != op {
			continue
		}

		for _, p := range paths {
			if !strings.Contains(p, rule.match) {
				continue
			}

			if rule.remaining > 0 {
				f.rules[i].remaining--
				if f.rules[i].remaining == 0 {
					f.rules = slices.Delete(f.rules, i, i+1)
				}
			}

			return rule.errno, true
		}
	}

	return 0, false
}

func (f *Faulty) Open(path string) (File, error) {
	if errno, ok := f.check(FaultOpen, path); ok {
		return nil, &os.PathError{Op: "open", Path: path, Err: errno}
	}

	file, err := f.inner.Open(path)
	if err != nil {
		return nil, err
	}

	return &faultyFile{File: file, fs: f, path: path}, nil
}

func (f *Faulty) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if errno, ok := f.check(FaultOpenFile, path); ok {
		return nil, &os.PathError{Op: "open", Path: path, Err: errno}
	}

	file, err := f.inner.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &faultyFile{File: file, fs: f, path: path}, nil
}

func (f *Faulty) ReadFile(path string) ([]byte, error) {
	if errno, ok := f.check(FaultReadFile, path); ok {
		return nil, &os.PathError{Op: "read", Path: path, Err: errno}
	}

	return f.inner.ReadFile(path)
}

func (f *Faulty) MkdirAll(path string, perm os.FileMode) error {
	if errno, ok := f.check(FaultMkdirAll, path); ok {
		return &os.PathError{Op: "mkdir", Path: path, Err: errno}
	}

	return f.inner.MkdirAll(path, perm)
}

func (f *Faulty) Stat(path string) (os.FileInfo, error) {
	if errno, ok := f.check(FaultStat, path); ok {
		return nil, &os.PathError{Op: "stat", Path: path, Err: errno}
	}

	return f.inner.Stat(path)
}

func (f *Faulty) Exists(path string) (bool, error) {
	if errno, ok := f.check(FaultStat, path); ok {
		return false, &os.PathError{Op: "stat", Path: path, Err: errno}
	}

	return f.inner.Exists(path)
}

func (f *Faulty) Remove(path string) error {
	if errno, ok := f.check(FaultRemove, path); ok {
		return &os.PathError{Op: "remove", Path: path, Err: errno}
	}

	return f.inner.Remove(path)
}

func (f *Faulty) Rename(oldpath, newpath string) error {
	if errno, ok := f.check(FaultRename, oldpath, newpath); ok {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: errno}
	}

	return f.inner.Rename(oldpath, newpath)
}

type faultyFile struct {
	File

	fs   *Faulty
	path string
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	if errno, ok := ff.fs.check(FaultFileWrite, ff.path); ok {
		return 0, &os.PathError{Op: "write", Path: ff.path, Err: errno}
	}

	return ff.File.Write(p)
}

func (ff *faultyFile) Sync() error {
	if errno, ok := ff.fs.check(FaultFileSync, ff.path); ok {
		return &os.PathError{Op: "sync", Path: ff.path, Err: errno}
	}

	return ff.File.Sync()
}

// Compile-time interface check.
var _ FS = (*Faulty)(nil)
