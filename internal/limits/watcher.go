package limits

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher refreshes a provider as soon as the config file changes,
// instead of waiting out the provider's TTL.
type Watcher struct {
	path     string
	provider *Provider
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(path string, provider *Provider) *Watcher {
	return &Watcher{
		path:     path,
		provider: provider,
		done:     make(chan struct{}),
	}
}

// Start begins watching. The parent directory is watched rather than the
// file itself: editors and config managers replace the file on save, and
// a watch on the old inode would go dead after the first change. Call
// Stop to clean up.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("limits: cannot watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = fw

	go w.loop()
	log.Printf("limits: watching %s for tuning changes", w.path)
	return nil
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() {
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.concerns(evt) {
				continue
			}
			if err := w.provider.Refresh(context.Background()); err != nil {
				log.Printf("WARNING: limits: config changed but refresh failed, keeping previous values: %v", err)
				continue
			}
			log.Printf("limits: refreshed from %s", w.path)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("limits: watcher error: %v", err)
		}
	}
}

// concerns reports whether the event is a content change of the watched
// file. Chmod-only events are noise.
func (w *Watcher) concerns(evt fsnotify.Event) bool {
	if filepath.Clean(evt.Name) != filepath.Clean(w.path) {
		return false
	}
	return evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}
