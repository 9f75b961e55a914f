package pms_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calvinalkan/pms/pkg/pms"
)

func Test_Core_Watch_Reloads_Index_When_File_Changes_On_Disk(t *testing.T) {
	t.Parallel()

	core, root := newTestCore(t)
	indexPath := filepath.Join(root, "memory", "memory_index.yaml")

	writeFile(t, indexPath, "paths:\n  blueprint: ../a.md\n")

	// Prime the cache so a stale value would be visible.
	if _, err := core.Resolve(pms.ScopeBlueprint); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan string, 64)
	done := make(chan error, 1)

	go func() {
		done <- core.Watch(ctx, func(idx *pms.MemoryIndex, err error) {
			if err != nil {
				return
			}

			p, _ := idx.Path(pms.PathBlueprint)
			select {
			case reloaded <- p:
			default:
			}
		})
	}()

	// The watch is registered asynchronously; rewrite until it is seen.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for seen := false; !seen; {
		select {
		case p := <-reloaded:
			seen = p == "../b.md"
		case <-tick.C:
			// Rename into place so no reload ever sees a truncated file.
			staged := filepath.Join(root, "staged.yaml")
			writeFile(t, staged, "paths:\n  blueprint: ../b.md\n")

			if err := os.Rename(staged, indexPath); err != nil {
				t.Fatalf("rename: %v", err)
			}
		case <-deadline:
			t.Fatal("no reload observed within 5s")
		}
	}

	got, err := core.Resolve(pms.ScopeBlueprint)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if want := filepath.Join(root, "b.md"); got != want {
		t.Fatalf("Resolve after watch=%q, want=%q", got, want)
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func Test_Core_Watch_Returns_Error_When_Memory_Dir_Is_Missing(t *testing.T) {
	t.Parallel()

	core, _ := newTestCore(t)

	err := core.Watch(context.Background(), nil)
	if err == nil {
		t.Fatal("Watch on missing dir returned nil")
	}
}
