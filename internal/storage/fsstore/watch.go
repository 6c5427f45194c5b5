package fsstore

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reports changes to the store root: the directory being removed,
// renamed or recreated. In-memory stores never fire.
func (s *Store) Watch(ctx context.Context) (<-chan struct{}, error) {
	if s.root == "" {
		return nil, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// The parent sees the root disappear; watching the root itself as well
	// catches unmounts that only emit events on the mount point.
	if err := w.Add(filepath.Dir(s.root)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(s.root), err)
	}
	_ = w.Add(s.root)

	ch := make(chan struct{}, 1)
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != s.root {
					continue
				}
				if !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Create) {
					continue
				}
				select {
				case ch <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("storage watcher error", "store", s.name, "error", err)
			}
		}
	}()

	return ch, nil
}
