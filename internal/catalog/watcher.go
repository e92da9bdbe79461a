package catalog

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the catalog when the persisted file changes on disk, so a
// human edit (pruning stale entries) takes effect without a restart. The
// directory is watched rather than the file: our own atomic persist and
// most editors replace the file by rename, which a file watch would lose.
func (c *Catalog) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	name := filepath.Base(path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != name {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				// Let the writer finish before reading.
				time.Sleep(100 * time.Millisecond)
				if err := c.Reload(path); err != nil {
					log.Printf("[WARN] Catalog: reload after file change failed: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[WARN] Catalog: watcher error: %v", err)
			}
		}
	}()
	return nil
}
