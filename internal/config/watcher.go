package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc is invoked after changes in a watched directory settle.
type ReloadFunc func() error

// Watcher reloads directory-backed resources (workflow templates, persona
// profiles) when their files change on disk. Events are debounced per
// directory so an editor writing several files triggers one reload.
type Watcher struct {
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	handlers map[string]ReloadFunc
	pending  map[string]*time.Timer

	debounce time.Duration
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewWatcher creates an idle watcher; register directories then Start it.
func NewWatcher(logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	return &Watcher{
		logger:   logger,
		watcher:  fsw,
		handlers: make(map[string]ReloadFunc),
		pending:  make(map[string]*time.Timer),
		debounce: 300 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}, nil
}

// Watch registers a directory with its reload handler.
func (w *Watcher) Watch(dir string, reload ReloadFunc) error {
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.mu.Lock()
	w.handlers[dir] = reload
	w.mu.Unlock()
	w.logger.Info("Watching directory", zap.String("dir", dir))
	return nil
}

// Start consumes events until the context ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					w.schedule(event.Name)
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("Watcher error", zap.Error(err))
			}
		}
	}()
}

// Stop closes the underlying watcher.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
	})
	return err
}

// schedule arms (or re-arms) the debounce timer for the directory owning
// the changed path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for dir, reload := range w.handlers {
		if !within(dir, path) {
			continue
		}
		if timer, ok := w.pending[dir]; ok {
			timer.Reset(w.debounce)
			return
		}
		dir := dir
		reload := reload
		w.pending[dir] = time.AfterFunc(w.debounce, func() {
			w.mu.Lock()
			delete(w.pending, dir)
			w.mu.Unlock()

			if err := reload(); err != nil {
				w.logger.Error("Reload failed",
					zap.String("dir", dir),
					zap.Error(err),
				)
				return
			}
			w.logger.Info("Reloaded after file change", zap.String("dir", dir))
		})
		return
	}
}

func within(dir, path string) bool {
	return len(path) >= len(dir) && path[:len(dir)] == dir
}
