package pms_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/pms/pkg/pms"
)

func Test_Resolver_Resolves_Defaults_When_Index_Is_Missing(t *testing.T) {
	t.Parallel()

	core, root := newTestCore(t)

	tests := []struct {
		scope string
		want  string
	}{
		{scope: pms.ScopeMemoryIndex, want: filepath.Join(root, "memory", "memory_index.yaml")},
		{scope: pms.ScopeProjectStatus, want: filepath.Join(root, "memory", "project_status.md")},
		{scope: pms.ScopeBlueprint, want: filepath.Join(root, "docs", "blueprint.md")},
		{scope: pms.ScopeBlueprintChanges, want: filepath.Join(root, "docs", "blueprint_changes.csv")},
		{scope: "backlog_f3", want: filepath.Join(root, "docs", "05_backlog", "backlog_f3.yaml")},
		{scope: "backlog_f12", want: filepath.Join(root, "docs", "05_backlog", "backlog_f12.yaml")},
		{scope: "docs/notes.md", want: filepath.Join(root, "docs", "notes.md")},
		{scope: "/abs/file.yaml", want: filepath.Clean("/abs/file.yaml")},
	}

	for _, tt := range tests {
		got, err := core.Resolve(tt.scope)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tt.scope, err)
		}

		if got != tt.want {
			t.Fatalf("Resolve(%q)=%q, want=%q", tt.scope, got, tt.want)
		}
	}
}

func Test_Resolver_Returns_Scope_Error_When_Scope_Is_Unknown_Or_Malformed(t *testing.T) {
	t.Parallel()

	core, _ := newTestCore(t)

	for _, scope := range []string{"", "backlog", "raw", "backlog_f", "backlog_fx", "backlog_f1a", "roadmap", "Blueprint"} {
		_, err := core.Resolve(scope)
		if got, want := pms.KindOf(err), pms.KindScopeResolution; got != want {
			t.Fatalf("Resolve(%q) kind=%s, want=%s (err=%v)", scope, got, want, err)
		}
	}
}

func Test_Resolver_Uses_Index_Paths_When_Present(t *testing.T) {
	t.Parallel()

	core, root := newTestCore(t)

	writeFile(t, filepath.Join(root, "memory", "memory_index.yaml"), `paths:
  blueprint: ../docs/old_blueprint.md
  blueprint_yaml: ../docs/architecture/blueprint.md
  blueprint_changes: /var/changes.csv
  backlog_dir: ../docs/backlog/
`)

	tests := []struct {
		scope string
		want  string
	}{
		{scope: pms.ScopeBlueprint, want: filepath.Join(root, "docs", "architecture", "blueprint.md")},
		{scope: pms.ScopeBlueprintChanges, want: filepath.Clean("/var/changes.csv")},
		{scope: "backlog_f1", want: filepath.Join(root, "docs", "backlog", "backlog_f1.yaml")},
	}

	for _, tt := range tests {
		got, err := core.Resolve(tt.scope)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tt.scope, err)
		}

		if got != tt.want {
			t.Fatalf("Resolve(%q)=%q, want=%q", tt.scope, got, tt.want)
		}
	}
}

func Test_Resolver_Prefers_Backlog_Modular_Over_Backlog_Dir(t *testing.T) {
	t.Parallel()

	core, root := newTestCore(t)

	writeFile(t, filepath.Join(root, "memory", "memory_index.yaml"),
		"paths:\n  backlog_dir: ../docs/backlog/\n  backlog_modular: ../plan/\n")

	got, err := core.Resolve("backlog_f2")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if want := filepath.Join(root, "plan", "backlog_f2.yaml"); got != want {
		t.Fatalf("Resolve=%q, want=%q", got, want)
	}
}

func Test_Resolver_Returns_Decode_Error_When_Index_Is_Malformed(t *testing.T) {
	t.Parallel()

	core, root := newTestCore(t)
	indexPath := filepath.Join(root, "memory", "memory_index.yaml")

	writeFile(t, indexPath, "paths: [not, a, mapping\n")

	_, err := core.Resolve(pms.ScopeBlueprint)
	assertKind(t, err, pms.KindDecode)

	// Built-in scopes never need the index.
	got, err := core.Resolve(pms.ScopeMemoryIndex)
	if err != nil {
		t.Fatalf("Resolve memory_index: %v", err)
	}

	if got != indexPath {
		t.Fatalf("Resolve memory_index=%q, want=%q", got, indexPath)
	}

	// A failed load is not cached: fixing the file is enough.
	writeFile(t, indexPath, "paths:\n  blueprint: ../bp.md\n")

	got, err = core.Resolve(pms.ScopeBlueprint)
	if err != nil {
		t.Fatalf("Resolve after fix: %v", err)
	}

	if want := filepath.Join(root, "bp.md"); got != want {
		t.Fatalf("Resolve=%q, want=%q", got, want)
	}
}

func Test_Core_Reload_Picks_Up_Index_Edited_Outside_The_Core(t *testing.T) {
	t.Parallel()

	core, root := newTestCore(t)
	indexPath := filepath.Join(root, "memory", "memory_index.yaml")

	writeFile(t, indexPath, "paths:\n  blueprint: ../a.md\n")

	got, _ := core.Resolve(pms.ScopeBlueprint)
	if want := filepath.Join(root, "a.md"); got != want {
		t.Fatalf("Resolve=%q, want=%q", got, want)
	}

	writeFile(t, indexPath, "paths:\n  blueprint: ../b.md\n")

	got, _ = core.Resolve(pms.ScopeBlueprint)
	if want := filepath.Join(root, "a.md"); got != want {
		t.Fatalf("cached Resolve=%q, want=%q", got, want)
	}

	idx, err := core.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if p, _ := idx.Path(pms.PathBlueprint); p != "../b.md" {
		t.Fatalf("reloaded paths.blueprint=%q, want=../b.md", p)
	}

	got, _ = core.Resolve(pms.ScopeBlueprint)
	if want := filepath.Join(root, "b.md"); got != want {
		t.Fatalf("Resolve after Reload=%q, want=%q", got, want)
	}
}
