package pms

import (
	"errors"
	"strings"

	"github.com/calvinalkan/pms/pkg/fs"
	"github.com/calvinalkan/pms/pkg/pms/codec"
)

// Sentinel errors. Every error returned by the public API matches exactly one
// [Kind], see [KindOf].
var (
	// ErrScopeResolution reports an unknown, unsupported or malformed scope.
	ErrScopeResolution = errors.New("scope resolution")

	// ErrNotFound reports that the resolved path does not exist.
	ErrNotFound = errors.New("not found")

	// ErrLockTimeout reports writer contention past the lock timeout.
	ErrLockTimeout = fs.ErrLockTimeout

	// ErrIntegrity reports a hash mismatch (possible tampering) or a schema
	// violation.
	ErrIntegrity = errors.New("integrity")

	// ErrDiskFull reports that the device ran out of space during a write.
	ErrDiskFull = fs.ErrDiskFull

	// ErrPermission reports that the target or a required directory is not
	// writable.
	ErrPermission = fs.ErrPermission

	// ErrWrite reports any other I/O failure during an atomic write.
	ErrWrite = fs.ErrWriteFailed

	// ErrTransaction reports a failed commit (after rollback) or a failed
	// rollback, and misuse of transaction ids.
	ErrTransaction = errors.New("transaction")

	// ErrDecode reports content that cannot be decoded in its format.
	ErrDecode = codec.ErrDecode

	// ErrInvalid reports invalid arguments such as an unsupported save mode.
	ErrInvalid = errors.New("invalid argument")
)

// Kind classifies an error for exhaustive handling.
type Kind int

// Error kinds, one per sentinel.
const (
	KindUnknown Kind = iota
	KindScopeResolution
	KindNotFound
	KindLockTimeout
	KindIntegrity
	KindDiskFull
	KindPermission
	KindWrite
	KindTransaction
	KindDecode
	KindInvalid
)

var kindNames = [...]string{
	KindUnknown:         "unknown",
	KindScopeResolution: "scope_resolution",
	KindNotFound:        "not_found",
	KindLockTimeout:     "lock_timeout",
	KindIntegrity:       "integrity",
	KindDiskFull:        "disk_full",
	KindPermission:      "permission",
	KindWrite:           "write",
	KindTransaction:     "transaction",
	KindDecode:          "decode",
	KindInvalid:         "invalid",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}

	return kindNames[k]
}

// Retryable reports whether a caller may retry the operation with backoff.
// Only lock contention is transient.
func (k Kind) Retryable() bool {
	return k == KindLockTimeout
}

// Order matters: a failed commit wraps the integrity error that caused it, and
// a transaction error must win over its cause.
var kindOrder = []struct {
	kind Kind
	err  error
}{
	{KindTransaction, ErrTransaction},
	{KindLockTimeout, ErrLockTimeout},
	{KindIntegrity, ErrIntegrity},
	{KindDiskFull, ErrDiskFull},
	{KindPermission, ErrPermission},
	{KindWrite, ErrWrite},
	{KindNotFound, ErrNotFound},
	{KindScopeResolution, ErrScopeResolution},
	{KindDecode, ErrDecode},
	{KindInvalid, ErrInvalid},
}

// KindOf returns the kind of err. nil and unrecognised errors are
// [KindUnknown].
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	for _, entry := range kindOrder {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}

	return KindUnknown
}

// Error is the uniform error type returned by all public APIs.
//
// The underlying error message appears first, followed by context:
//
//	integrity: sha1 mismatch, possible tampering (op=load scope=blueprint path=/p/docs/blueprint.md)
//
// Use [errors.As] to extract the fields and [errors.Is] or [KindOf] to
// classify.
type Error struct {
	// Op is the public operation that failed ("load", "save", "commit", ...).
	Op string

	// Scope is the scope as passed by the caller.
	Scope string

	// Path is the resolved filesystem path, when resolution succeeded.
	Path string

	// Err is the underlying cause.
	Err error
}

// Error formats as "<cause> (op=X scope=Y path=Z)".
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}

	suffix := e.suffix()

	switch {
	case suffix == "":
		return cause
	case cause == "":
		return suffix
	default:
		return cause + " " + suffix
	}
}

// Unwrap returns the underlying error for use with [errors.Is] and [errors.As].
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// Kind returns [KindOf] the wrapped error.
func (e *Error) Kind() Kind {
	return KindOf(e)
}

func (e *Error) suffix() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}

	if e.Scope != "" {
		parts = append(parts, "scope="+e.Scope)
	}

	if e.Path != "" {
		parts = append(parts, "path="+e.Path)
	}

	if len(parts) == 0 {
		return ""
	}

	return "(" + strings.Join(parts, " ") + ")"
}

// withContext attaches operation context at API boundaries and returns *Error.
// If err is already an *Error, missing fields are filled in place.
func withContext(err error, op, scope, path string) error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) && error(existing) == err {
		if existing.Op == "" {
			existing.Op = op
		}

		if existing.Scope == "" {
			existing.Scope = scope
		}

		if existing.Path == "" {
			existing.Path = path
		}

		return existing
	}

	return &Error{Op: op, Scope: scope, Path: path, Err: err}
}
