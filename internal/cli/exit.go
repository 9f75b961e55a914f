package cli

import (
	"errors"

	"github.com/calvinalkan/pms/pkg/pms"
)

// Exit codes. Each pms error kind has its own code so scripts can branch
// without parsing stderr.
const (
	ExitOK          = 0
	ExitUsage       = 1
	ExitScope       = 2
	ExitNotFound    = 3
	ExitLockTimeout = 4
	ExitIntegrity   = 5
	ExitDiskFull    = 6
	ExitPermission  = 7
	ExitWrite       = 8
	ExitTransaction = 9
	ExitDecode      = 10
)

var (
	errScopeRequired       = errors.New("scope required")
	errTooManyArgs         = errors.New("too many arguments")
	errDescriptionRequired = errors.New("description required (-d)")
	errUnknownSubcommand   = errors.New("unknown subcommand")
)

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	switch pms.KindOf(err) {
	case pms.KindScopeResolution:
		return ExitScope
	case pms.KindNotFound:
		return ExitNotFound
	case pms.KindLockTimeout:
		return ExitLockTimeout
	case pms.KindIntegrity:
		return ExitIntegrity
	case pms.KindDiskFull:
		return ExitDiskFull
	case pms.KindPermission:
		return ExitPermission
	case pms.KindWrite:
		return ExitWrite
	case pms.KindTransaction:
		return ExitTransaction
	case pms.KindDecode:
		return ExitDecode
	default:
		return ExitUsage
	}
}

// Hint returns a one-line suggestion for err, or "".
func Hint(err error) string {
	switch pms.KindOf(err) {
	case pms.KindScopeResolution:
		return "known scopes are memory_index, project_status, blueprint, blueprint_changes and backlog_f<N>; paths containing / are used as is"
	case pms.KindNotFound:
		return "run 'pms init' to create the project layout"
	case pms.KindLockTimeout:
		return "another writer holds the document lock; retry, or remove a stale .lock file if no writer is running"
	case pms.KindIntegrity:
		return "document may have been tampered with or corrupted externally"
	case pms.KindDiskFull:
		return "free disk space and retry; the previous content is unchanged"
	case pms.KindPermission:
		return "check ownership and permissions of the project directory"
	case pms.KindTransaction:
		return "a failed transaction restores the previous content; the error names the rollback outcome"
	default:
		return ""
	}
}
