package pms

import (
	"path/filepath"
	"strings"
)

// Directory and file names of the on-disk layout:
//
//	<root>/
//	  memory/
//	    memory_index.yaml
//	    project_status.md
//	    temp/                 atomic-write staging
//	      transactions/       per-transaction pre-images
//	      undo/               last committed pre-image per document
//	  docs/
//	    blueprint.md
//	    blueprint_changes.csv
//	    05_backlog/backlog_f<N>.yaml
const (
	memoryDirName   = "memory"
	docsDirName     = "docs"
	tempDirName     = "temp"
	txDirName       = "transactions"
	undoDirName     = "undo"
	indexFileName   = "memory_index.yaml"
	statusFileName  = "project_status.md"
	gitignoreName   = ".gitignore"
	backupExtension = ".backup"
)

// Defaults for index-driven paths, relative to the memory directory.
const (
	DefaultBlueprintPath        = "../docs/blueprint.md"
	DefaultBlueprintChangesPath = "../docs/blueprint_changes.csv"
	DefaultBacklogDir           = "../docs/05_backlog/"
)

// Layout computes the fixed paths under a project root.
type Layout struct {
	Root string
}

// NewLayout returns the layout of root, made absolute when possible.
func NewLayout(root string) Layout {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	return Layout{Root: filepath.Clean(root)}
}

// MemoryDir is where the index and status document live.
func (l Layout) MemoryDir() string { return filepath.Join(l.Root, memoryDirName) }

// DocsDir holds blueprint, changelog and backlogs by default.
func (l Layout) DocsDir() string { return filepath.Join(l.Root, docsDirName) }

// TempDir is the atomic writer's staging directory. It lives under the
// project so renames never cross filesystems.
func (l Layout) TempDir() string { return filepath.Join(l.MemoryDir(), tempDirName) }

// TxDir holds transaction backups.
func (l Layout) TxDir() string { return filepath.Join(l.TempDir(), txDirName) }

// UndoDir holds the pre-image of the last committed transaction per document.
func (l Layout) UndoDir() string { return filepath.Join(l.TempDir(), undoDirName) }

// IndexPath is the memory index file.
func (l Layout) IndexPath() string { return filepath.Join(l.MemoryDir(), indexFileName) }

// StatusPath is the project status document.
func (l Layout) StatusPath() string { return filepath.Join(l.MemoryDir(), statusFileName) }

// GitignorePath is the project's .gitignore.
func (l Layout) GitignorePath() string { return filepath.Join(l.Root, gitignoreName) }

// FromMemory resolves an index path value. Relative values are relative to
// the memory directory.
func (l Layout) FromMemory(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}

	return filepath.Join(l.MemoryDir(), filepath.FromSlash(p))
}

// FromRoot resolves a direct path. Relative values are relative to the root.
func (l Layout) FromRoot(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}

	return filepath.Join(l.Root, filepath.FromSlash(p))
}

// fileKey flattens a scope or path into a single file name component.
func fileKey(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_").Replace(s)
}
