package observer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of file events into one check.
const DefaultDebounce = 200 * time.Millisecond

var newWatcher = fsnotify.NewWatcher

// WatchFile runs a debounced CheckAll whenever the database file at path or
// its -wal/-journal companions are written. It complements polling for
// writes made by other processes. The watch ends when ctx is cancelled or
// the returned function is called.
func (o *Observer) WatchFile(ctx context.Context, path string) (func(), error) {
	watcher, err := newWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	base := filepath.Base(path)
	names := map[string]bool{
		base:              true,
		base + "-wal":     true,
		base + "-journal": true,
	}
	checkCtx := context.WithoutCancel(ctx)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	debounced := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(DefaultDebounce, func() {
			o.CheckAll(checkCtx)
		})
	}

	stopCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer func() {
			_ = watcher.Close()
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			close(done)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !names[filepath.Base(event.Name)] {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				debounced()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				o.logger.Warn("file watcher error", "path", path, "error", err)
			}
		}
	}()

	o.logger.InfoContext(ctx, "watching database file", "path", path)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopCh)
			<-done
		})
	}, nil
}
