package flags

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/sraphaz/araponga/pkg/observability"
)

// WatchedProvider serves flags from a YAML file and reloads it when the file
// changes. Reads never block on a reload; a malformed edit keeps the last
// good snapshot.
type WatchedProvider struct {
	path    string
	current atomic.Pointer[StaticProvider]
	watcher *fsnotify.Watcher
	logger  *observability.Logger
	done    chan struct{}
}

// WatchFile loads the flag file and keeps reloading it on change. Close must
// be called to release the watcher.
func WatchFile(path string, logger *observability.Logger) (*WatchedProvider, error) {
	provider, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create flag watcher: %w", err)
	}
	// Watch the directory, not the file: editors and config mounts replace
	// the file by rename, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch flag file: %w", err)
	}

	w := &WatchedProvider{
		path:    path,
		watcher: watcher,
		logger:  logger,
		done:    make(chan struct{}),
	}
	w.current.Store(provider)
	go w.run()
	return w, nil
}

// Enabled reports whether the flag is on for the territory, per the latest
// successfully loaded snapshot.
func (w *WatchedProvider) Enabled(ctx context.Context, territoryID, flag string) bool {
	return w.current.Load().Enabled(ctx, territoryID, flag)
}

// Close stops watching the file.
func (w *WatchedProvider) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *WatchedProvider) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.WithError(err).Warn("flag watcher error")
			}
		}
	}
}

func (w *WatchedProvider) reload() {
	provider, err := LoadFile(w.path)
	if err != nil {
		if w.logger != nil {
			w.logger.WithError(err).WithField("path", w.path).Warn("flag reload failed, keeping previous snapshot")
		}
		return
	}
	w.current.Store(provider)
	if w.logger != nil {
		w.logger.WithField("path", w.path).Info("reloaded flag file")
	}
}
