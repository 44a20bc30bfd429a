// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workspace

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openclaw/serve/internal/storage"
)

// DefaultDebounce coalesces bursts of write events per file.
const DefaultDebounce = 500 * time.Millisecond

// debounceTick is how often pending changes are swept.
const debounceTick = 100 * time.Millisecond

// Watcher keeps ingested workspace files current: a changed file is
// re-read and re-embedded, a deleted one is removed from storage.
// Editors produce bursts of events per save, so changes are debounced
// before re-ingest.
type Watcher struct {
	store    *storage.Store
	embedder storage.Embedder
	ingestor *Ingestor
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]time.Time

	cancel context.CancelFunc
}

// NewWatcher creates a watcher sharing the ingestor's embedding
// throttle.
func NewWatcher(store *storage.Store, embedder storage.Embedder) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		store:    store,
		embedder: embedder,
		ingestor: NewIngestor(store, embedder),
		watcher:  fsw,
		debounce: DefaultDebounce,
		pending:  make(map[string]time.Time),
	}, nil
}

// WithDebounce overrides the debounce window. Returns the watcher for
// chaining.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Watch starts watching the given roots and their subdirectories.
// Runs until Stop or ctx cancellation.
func (w *Watcher) Watch(ctx context.Context, roots ...string) error {
	for _, root := range roots {
		if err := w.addRecursive(root); err != nil {
			return err
		}
	}

	ctx, w.cancel = context.WithCancel(ctx)

	go w.processEvents(ctx)
	go w.processPending(ctx)
	return nil
}

// Stop ends watching and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	return w.watcher.Close()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if skipDirs[filepath.Base(path)] {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			// Non-fatal, keep walking.
			log.Printf("workspace: cannot watch %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && Ingestable(event.Name) {
				w.mu.Lock()
				w.pending[event.Name] = time.Now()
				w.mu.Unlock()
			}

			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.mu.Lock()
				delete(w.pending, event.Name)
				w.mu.Unlock()
				if err := w.store.DeleteWorkspaceFileByPath(event.Name); err != nil {
					log.Printf("workspace: remove %s: %v", event.Name, err)
				}
			}

			// New subdirectories join the watch set.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addRecursive(event.Name)
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("workspace: watch error: %v", err)
		}
	}
}

func (w *Watcher) processPending(ctx context.Context) {
	ticker := time.NewTicker(debounceTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()
			w.mu.Lock()
			var ripe []string
			for path, changed := range w.pending {
				if now.Sub(changed) >= w.debounce {
					ripe = append(ripe, path)
					delete(w.pending, path)
				}
			}
			w.mu.Unlock()

			for _, path := range ripe {
				w.refresh(ctx, path)
			}
		}
	}
}

// refresh re-reads and re-embeds one changed file. A file that
// vanished between the event and the sweep is treated as deleted.
func (w *Watcher) refresh(ctx context.Context, path string) {
	content, err := ReadTextFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if derr := w.store.DeleteWorkspaceFileByPath(path); derr != nil {
				log.Printf("workspace: remove %s: %v", path, derr)
			}
			return
		}
		log.Printf("workspace: reread %s: %v", path, err)
		return
	}

	vec := w.ingestor.embedPrefix(ctx, content)
	if err := w.store.UpdateWorkspaceFileByPath(path, content, vec); err != nil {
		log.Printf("workspace: update %s: %v", path, err)
	}
}
