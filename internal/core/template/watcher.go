package template

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dkjsiogu/Arsenal-Graft-sub000/internal/core/observability/log"
)

const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads the registry when definition files under a directory
// change. Bursts of events within the debounce window cause one reload.
type Watcher struct {
	dir      string
	loader   *Loader
	registry *Registry
	logger   log.Log
	debounce time.Duration
	// OnReload, when set, is called after every reload attempt.
	OnReload func(err error)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewWatcher(dir string, loader *Loader, registry *Registry, logger log.Log) *Watcher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Watcher{
		dir:      dir,
		loader:   loader,
		registry: registry,
		logger:   logger.Named("template-watcher"),
		debounce: DefaultDebounce,
	}
}

// SetDebounce changes the debounce window; it must be called before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start begins watching dir and every subdirectory. It returns immediately.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	err = filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
	if err != nil {
		fw.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.watcher = fw
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(ctx, fw, w.done)

	w.logger.Info("watching templates", log.String("dir", w.dir))
	return nil
}

// Stop ends the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fw, cancel, done := w.watcher, w.cancel, w.done
	w.watcher, w.cancel, w.done = nil, nil, nil
	w.mu.Unlock()

	if fw == nil {
		return
	}
	cancel()
	<-done
	if err := fw.Close(); err != nil {
		w.logger.Warn("closing watcher", log.Error(err))
	}
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fw.Add(event.Name); err != nil {
						w.logger.Warn("watch new directory", log.String("path", event.Name), log.Error(err))
					}
					timer.Reset(w.debounce)
					continue
				}
			}
			if !relevant(event) {
				continue
			}
			w.logger.Debug("template file changed", log.String("path", event.Name), log.String("op", event.Op.String()))
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", log.Error(err))

		case <-timer.C:
			err := w.loader.Reload(ctx, w.dir, w.registry)
			if err != nil {
				w.logger.Error("template reload failed", log.Error(err))
			} else {
				w.logger.Info("templates reloaded", log.Int("templates", w.registry.Len()))
			}
			if w.OnReload != nil {
				w.OnReload(err)
			}
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	switch strings.ToLower(filepath.Ext(event.Name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
