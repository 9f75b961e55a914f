package pms

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	pmsfs "github.com/calvinalkan/pms/pkg/fs"
	"github.com/calvinalkan/pms/pkg/pms/codec"
)

// Well-known keys under paths: in the memory index.
const (
	PathBlueprintYAML    = "blueprint_yaml"
	PathBlueprint        = "blueprint"
	PathBlueprintChanges = "blueprint_changes"
	PathBacklogModular   = "backlog_modular"
	PathBacklogDir       = "backlog_dir"
)

// Defaults for task-list schemas.
const (
	DefaultTaskField = "historias"
)

// DefaultTaskFields are the keys every task record must carry.
var DefaultTaskFields = []string{"id", "status", "priority"}

// Schema declares the structure a document must have.
type Schema struct {
	RequiredFields   []string `yaml:"required_fields"`
	RequiredSections []string `yaml:"required_sections"`

	// A schema declaring status or priority values is a task-list schema.
	StatusValues   []string `yaml:"status_values"`
	PriorityValues []string `yaml:"priority_values"`

	// TaskField names the key holding task records. Default "historias".
	TaskField string `yaml:"task_field"`

	// TaskFields are the keys each task must carry. Default id, status, priority.
	TaskFields []string `yaml:"task_fields"`
}

// IsTaskList reports whether records must be checked against closed sets.
func (s Schema) IsTaskList() bool {
	return len(s.StatusValues) > 0 || len(s.PriorityValues) > 0
}

func (s Schema) taskField() string {
	if s.TaskField == "" {
		return DefaultTaskField
	}

	return s.TaskField
}

func (s Schema) taskFields() []string {
	if len(s.TaskFields) == 0 {
		return DefaultTaskFields
	}

	return s.TaskFields
}

// ScopeConfig is the per-scope entry under scopes:.
type ScopeConfig struct {
	Schema string `yaml:"schema"`
}

// MemoryIndex is the manifest mapping names to paths and scopes to schemas.
//
//	paths:
//	  blueprint: ../docs/blueprint.md
//	  backlog_modular: ../docs/05_backlog/
//	schemas:
//	  backlog_v1:
//	    required_fields: [historias]
//	    status_values: [pending, done]
//	scopes:
//	  backlog_f*:
//	    schema: backlog_v1
type MemoryIndex struct {
	Paths   map[string]string      `yaml:"paths"`
	Schemas map[string]Schema      `yaml:"schemas"`
	Scopes  map[string]ScopeConfig `yaml:"scopes"`
}

// ParseMemoryIndex decodes an index document. Empty input is an empty index.
func ParseMemoryIndex(data []byte) (*MemoryIndex, error) {
	// Reject non-mapping documents with the same error as any YAML document.
	_, err := codec.DecodeYAML(data)
	if err != nil {
		return nil, fmt.Errorf("memory index: %w", err)
	}

	idx := &MemoryIndex{}

	err = yaml.Unmarshal(data, idx)
	if err != nil {
		return nil, fmt.Errorf("%w: memory index: %w", ErrDecode, err)
	}

	return idx, nil
}

// Path returns the value of paths.<name>.
func (idx *MemoryIndex) Path(name string) (string, bool) {
	if idx == nil {
		return "", false
	}

	p, ok := idx.Paths[name]
	if !ok || p == "" {
		return "", false
	}

	return p, true
}

// Schema returns a registered schema.
func (idx *MemoryIndex) Schema(name string) (Schema, bool) {
	if idx == nil {
		return Schema{}, false
	}

	s, ok := idx.Schemas[name]

	return s, ok
}

// SchemaFor returns the schema name configured for scope. An exact key wins;
// otherwise glob keys (e.g. "backlog_f*") are tried in lexical order.
func (idx *MemoryIndex) SchemaFor(scope string) (string, bool) {
	if idx == nil {
		return "", false
	}

	if cfg, ok := idx.Scopes[scope]; ok && cfg.Schema != "" {
		return cfg.Schema, true
	}

	keys := make([]string, 0, len(idx.Scopes))
	for k := range idx.Scopes {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	for _, pattern := range keys {
		matched, err := path.Match(pattern, scope)
		if err == nil && matched && idx.Scopes[pattern].Schema != "" {
			return idx.Scopes[pattern].Schema, true
		}
	}

	return "", false
}

// indexCache loads the memory index lazily and keeps it until invalidated.
// Concurrent first loads are collapsed into one read.
type indexCache struct {
	fs     pmsfs.FS
	path   string
	logger *slog.Logger

	flight singleflight.Group

	mu  sync.RWMutex
	idx *MemoryIndex
	gen uint64
}

func newIndexCache(fsys pmsfs.FS, path string, logger *slog.Logger) *indexCache {
	return &indexCache{fs: fsys, path: path, logger: logger}
}

// get returns the cached index, loading it on first use. A missing index
// file is an empty index.
func (c *indexCache) get() (*MemoryIndex, error) {
	c.mu.RLock()
	idx, gen := c.idx, c.gen
	c.mu.RUnlock()

	if idx != nil {
		return idx, nil
	}

	v, err, _ := c.flight.Do(c.path, func() (any, error) {
		loaded, err := c.read()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		// An Invalidate during the read means the result may be stale.
		if c.gen == gen {
			c.idx = loaded
		}
		c.mu.Unlock()

		return loaded, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*MemoryIndex), nil
}

func (c *indexCache) read() (*MemoryIndex, error) {
	data, err := c.fs.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("memory index missing, using defaults", "path", c.path)

			return &MemoryIndex{}, nil
		}

		return nil, fmt.Errorf("reading memory index: %w", err)
	}

	idx, err := ParseMemoryIndex(data)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("memory index loaded",
		"path", c.path,
		"paths", len(idx.Paths),
		"schemas", len(idx.Schemas),
		"scopes", len(idx.Scopes))

	return idx, nil
}

// invalidate drops the cached index; the next get reloads it.
func (c *indexCache) invalidate() {
	c.mu.Lock()
	c.idx = nil
	c.gen++
	c.mu.Unlock()
}
