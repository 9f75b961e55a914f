package pms

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"strings"

	"github.com/calvinalkan/pms/pkg/pms/codec"
)

// DefaultProjectName is used by [Core.Init] when no name is given.
const DefaultProjectName = "project"

const indexTemplate = `paths:
  blueprint: "../docs/blueprint.md"
  blueprint_changes: "../docs/blueprint_changes.csv"
  backlog_modular: "../docs/05_backlog/"
schemas:
  blueprint_v2:
    required_fields: [last_modified, sha1_hash]
  project_status_v1:
    required_sections: ["## Current State"]
  backlog_v1:
    required_fields: [historias]
    status_values: [pending, in_progress, blocked, failed, done]
    priority_values: [high, medium, low]
scopes:
  blueprint:
    schema: blueprint_v2
  project_status:
    schema: project_status_v1
  "backlog_f*":
    schema: backlog_v1
config:
  rollback_dual: true
  sha_validation: true
`

const statusTemplate = `---
version: 1.0
last_updated: {{timestamp}}
---

# Project Status - {{project}}

## Current State

` + "```yaml" + `
current_state:
  phase: 1
  sprint: 1
  last_task_id: ""
  metrics:
    total_tasks: 0
    done: 0
    in_progress: 0
    blocked: 0
    failed: 0
    pending: 0
` + "```" + `

## Changes

### {{date}} - Project initialized
- **Project**: {{project}} created
- **Next**: define the blueprint and the first backlog
`

const gitignoreTemplate = `# PMS temporary files
memory/temp/
*.lock
*.tmp

# OS generated files
.DS_Store
Thumbs.db
`

// InitOptions configures [Core.Init].
type InitOptions struct {
	// ProjectName is written into the status document. Defaults to
	// [DefaultProjectName].
	ProjectName string

	// Force overwrites the memory index and status document. .gitignore is
	// never overwritten.
	Force bool
}

// InitResult lists what [Core.Init] did.
type InitResult struct {
	Created []string
	Skipped []string
}

// Init bootstraps the project layout: memory, staging, docs and backlog
// directories, the memory index, the project status document and a
// .gitignore. Existing files are kept unless opts.Force. Both documents must
// load afterwards.
func (c *Core) Init(ctx context.Context, opts InitOptions) (InitResult, error) {
	var res InitResult

	if err := ctx.Err(); err != nil {
		return res, withContext(err, "init", "", c.layout.Root)
	}

	name := opts.ProjectName
	if name == "" {
		name = DefaultProjectName
	}

	for _, dir := range []string{c.layout.MemoryDir(), c.layout.TempDir(), c.layout.DocsDir()} {
		err := c.mkdir(dir)
		if err != nil {
			return res, withContext(err, "init", "", dir)
		}
	}

	now := c.clock().UTC()
	status := strings.NewReplacer(
		"{{timestamp}}", now.Format(codec.TimestampLayout),
		"{{date}}", now.Format("2006-01-02"),
		"{{project}}", name,
	).Replace(statusTemplate)

	files := []struct {
		scope   string
		path    string
		content string
		force   bool
	}{
		{ScopeMemoryIndex, c.layout.IndexPath(), indexTemplate, opts.Force},
		{ScopeProjectStatus, c.layout.StatusPath(), status, opts.Force},
		{"", c.layout.GitignorePath(), gitignoreTemplate, false},
	}

	for _, f := range files {
		created, err := c.writeIfMissing(ctx, f.path, []byte(f.content), f.force)
		if err != nil {
			return res, withContext(err, "init", f.scope, f.path)
		}

		if created {
			res.Created = append(res.Created, f.path)
		} else {
			res.Skipped = append(res.Skipped, f.path)
		}
	}

	c.Invalidate()

	backlog, err := c.resolver.BacklogDir()
	if err != nil {
		return res, withContext(err, "init", ScopeMemoryIndex, c.layout.IndexPath())
	}

	err = c.mkdir(backlog)
	if err != nil {
		return res, withContext(err, "init", "", backlog)
	}

	for _, scope := range []string{ScopeMemoryIndex, ScopeProjectStatus} {
		_, err := c.load(scope)
		if err != nil {
			return res, withContext(fmt.Errorf("bootstrap verification: %w", err), "init", scope, c.pathOf(scope))
		}
	}

	c.logger.Info("pms initialized", "root", c.layout.Root, "project", name,
		"created", len(res.Created), "skipped", len(res.Skipped))

	return res, nil
}

func (c *Core) mkdir(dir string) error {
	err := c.fs.MkdirAll(dir, 0o755)
	if err == nil {
		return nil
	}

	if errors.Is(err, iofs.ErrPermission) {
		return fmt.Errorf("%w: creating %s: %w", ErrPermission, dir, err)
	}

	return fmt.Errorf("%w: creating %s: %w", ErrWrite, dir, err)
}

// writeIfMissing writes data to path under its lock unless the file exists
// and force is false. It reports whether it wrote.
func (c *Core) writeIfMissing(ctx context.Context, path string, data []byte, force bool) (bool, error) {
	lk, err := c.lock(ctx, path)
	if err != nil {
		return false, err
	}
	defer c.unlock(lk)

	if !force {
		exists, err := c.fs.Exists(path)
		if err != nil {
			return false, fmt.Errorf("checking %s: %w", path, err)
		}

		if exists {
			c.logger.Debug("bootstrap file kept", "path", path)

			return false, nil
		}
	}

	err = c.write(path, data)
	if err != nil {
		return false, err
	}

	return true, nil
}
