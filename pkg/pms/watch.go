package pms

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// indexEvents are the operations that can change the memory index. Atomic
// writes show up as a Create (rename onto the name); in-place editors Write.
const indexEvents = fsnotify.Create | fsnotify.Write | fsnotify.Rename | fsnotify.Remove

// Watch invalidates the cached memory index whenever the index file changes
// on disk and calls onReload with the reloaded index (or the load error).
//
// The memory directory is watched rather than the file, so the watch survives
// the rename performed by atomic writes. Watch blocks until ctx is done and
// then returns nil. onReload may be nil.
func (c *Core) Watch(ctx context.Context, onReload func(*MemoryIndex, error)) error {
	dir := c.layout.MemoryDir()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return withContext(fmt.Errorf("creating watcher: %w", err), "watch", ScopeMemoryIndex, dir)
	}

	defer func() {
		if cerr := watcher.Close(); cerr != nil {
			c.logger.Warn("closing watcher", "error", cerr)
		}
	}()

	err = watcher.Add(dir)
	if err != nil {
		return withContext(fmt.Errorf("watching %s: %w", dir, err), "watch", ScopeMemoryIndex, dir)
	}

	c.logger.Debug("watching memory index", "dir", dir)

	target := filepath.Clean(c.layout.IndexPath())

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != target || event.Op&indexEvents == 0 {
				continue
			}

			c.Invalidate()
			c.logger.Info("memory index changed on disk", "op", event.Op.String())

			if onReload != nil {
				idx, err := c.Index()
				onReload(idx, err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			c.logger.Warn("watcher error", "error", err)
		case <-ctx.Done():
			return nil
		}
	}
}
