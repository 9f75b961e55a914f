package pms

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// Built-in and index-driven scopes.
const (
	ScopeMemoryIndex      = "memory_index"
	ScopeProjectStatus    = "project_status"
	ScopeBlueprint        = "blueprint"
	ScopeBlueprintChanges = "blueprint_changes"
	ScopeBacklog          = "backlog"
	ScopeRaw              = "raw"

	backlogPhasePrefix = "backlog_f"
)

// Resolver maps scopes to filesystem paths.
//
// memory_index and project_status resolve without reading the index, so they
// work before bootstrap. Every other symbolic scope consults the cached
// memory index and falls back to a built-in default only for its own key.
// Unknown scopes are an error and never resolve to a default path.
type Resolver struct {
	layout Layout
	index  *indexCache
	logger *slog.Logger
}

func newResolver(layout Layout, index *indexCache, logger *slog.Logger) *Resolver {
	return &Resolver{layout: layout, index: index, logger: logger}
}

// IsDirectPath reports whether scope is a filesystem path rather than a
// symbolic name: absolute, or containing a path separator.
func IsDirectPath(scope string) bool {
	return filepath.IsAbs(scope) ||
		strings.ContainsRune(scope, '/') ||
		strings.ContainsRune(scope, filepath.Separator)
}

// Resolve returns the path for scope. Direct paths bypass resolution; relative
// ones are taken relative to the project root.
func (r *Resolver) Resolve(scope string) (string, error) {
	if scope == "" {
		return "", fmt.Errorf("%w: empty scope", ErrScopeResolution)
	}

	if IsDirectPath(scope) {
		return r.layout.FromRoot(scope), nil
	}

	switch scope {
	case ScopeMemoryIndex:
		return r.layout.IndexPath(), nil
	case ScopeProjectStatus:
		return r.layout.StatusPath(), nil
	case ScopeBacklog:
		return "", fmt.Errorf("%w: scope %q needs a phase, use %s<N>", ErrScopeResolution, scope, backlogPhasePrefix)
	case ScopeRaw:
		return "", fmt.Errorf("%w: scope %q is not supported, pass a path instead", ErrScopeResolution, scope)
	}

	var (
		p   string
		err error
	)

	switch {
	case scope == ScopeBlueprint:
		p, err = r.indexPath(DefaultBlueprintPath, PathBlueprintYAML, PathBlueprint)
	case scope == ScopeBlueprintChanges:
		p, err = r.indexPath(DefaultBlueprintChangesPath, PathBlueprintChanges)
	case strings.HasPrefix(scope, backlogPhasePrefix):
		p, err = r.backlogPath(scope)
	default:
		return "", fmt.Errorf("%w: unknown scope %q", ErrScopeResolution, scope)
	}

	if err != nil {
		return "", err
	}

	r.logger.Debug("scope resolved", "scope", scope, "path", p)

	return p, nil
}

func (r *Resolver) backlogPath(scope string) (string, error) {
	phase := strings.TrimPrefix(scope, backlogPhasePrefix)
	if !isDigits(phase) {
		return "", fmt.Errorf("%w: malformed backlog phase in %q, want %s<N>", ErrScopeResolution, scope, backlogPhasePrefix)
	}

	dir, err := r.BacklogDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, scope+".yaml"), nil
}

// BacklogDir returns the directory holding backlog_f<N>.yaml files.
func (r *Resolver) BacklogDir() (string, error) {
	return r.indexPath(DefaultBacklogDir, PathBacklogModular, PathBacklogDir)
}

// indexPath returns the first of keys present under paths:, else def.
func (r *Resolver) indexPath(def string, keys ...string) (string, error) {
	idx, err := r.index.get()
	if err != nil {
		return "", err
	}

	for _, key := range keys {
		if p, ok := idx.Path(key); ok {
			return r.layout.FromMemory(p), nil
		}
	}

	return r.layout.FromMemory(def), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}

	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}

	return true
}
