package library

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/fwbuilder/internal/logfields"
)

// IndexWatcher monitors the on-disk library index and reloads the store's
// snapshot when the file changes, so an operator can drop in a curated index
// without restarting the service.
type IndexWatcher struct {
	indexPath    string
	store        *Store
	watcher      *fsnotify.Watcher
	mu           sync.Mutex
	stopChan     chan struct{}
	reloadChan   chan struct{}
	debounceTime time.Duration
}

// NewIndexWatcher creates a watcher over the given index file.
func NewIndexWatcher(indexPath string, store *Store) (*IndexWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(indexPath)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to resolve index path: %w", err)
	}

	return &IndexWatcher{
		indexPath:    absPath,
		store:        store,
		watcher:      watcher,
		stopChan:     make(chan struct{}),
		reloadChan:   make(chan struct{}, 1),
		debounceTime: 2 * time.Second,
	}, nil
}

// Start begins monitoring the index file. Watching the parent directory is
// more reliable than watching the file itself across editors and renames.
func (w *IndexWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	indexDir := filepath.Dir(w.indexPath)
	if err := w.watcher.Add(indexDir); err != nil {
		return fmt.Errorf("failed to watch index directory %s: %w", indexDir, err)
	}

	slog.Info("Starting library index watcher", logfields.Path(w.indexPath))

	go w.watchLoop(ctx)
	go w.reloadLoop(ctx)

	return nil
}

// Stop stops the watcher.
func (w *IndexWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	slog.Info("Stopping library index watcher")
	close(w.stopChan)
	return w.watcher.Close()
}

func (w *IndexWatcher) watchLoop(ctx context.Context) {
	indexFile := filepath.Base(w.indexPath)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != indexFile {
				continue
			}
			switch {
			case event.Op.Has(fsnotify.Write), event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Rename):
				slog.Debug("Library index change detected", logfields.Path(event.Name))
				w.triggerReload()
			case event.Op.Has(fsnotify.Remove):
				slog.Warn("Library index file removed", logfields.Path(event.Name))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Library index watcher error", logfields.Error(err))
		}
	}
}

func (w *IndexWatcher) reloadLoop(ctx context.Context) {
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			return
		case <-w.stopChan:
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			return
		case <-w.reloadChan:
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(w.debounceTime, w.performReload)
		}
	}
}

func (w *IndexWatcher) triggerReload() {
	select {
	case w.reloadChan <- struct{}{}:
	default:
		// reload already pending
	}
}

func (w *IndexWatcher) performReload() {
	slog.Info("Reloading library index", logfields.Path(w.indexPath))

	idx, err := LoadIndex(w.indexPath)
	if err != nil {
		slog.Error("Failed to reload library index", logfields.Error(err))
		return
	}

	w.store.SwapIndex(idx)
	slog.Info("Library index reloaded", slog.Int("libraries", idx.Len()))
}
