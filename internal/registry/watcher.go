package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("registry: failed to initialize filesystem watcher")

// defaultDebounce batches the event bursts editors produce on save.
const defaultDebounce = 200 * time.Millisecond

// Watcher reloads the catalog when the file changes on disk, so edits
// made outside the API take effect without a restart.
type Watcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	stop     chan struct{}
	debounce time.Duration
}

// NewWatcher creates a watcher for the registry's catalog file.
func NewWatcher(registry *Registry, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		registry: registry,
		watcher:  fsWatcher,
		logger:   logger,
		stop:     make(chan struct{}),
		debounce: defaultDebounce,
	}, nil
}

// Start begins watching for catalog changes.
//
// The parent directory is watched rather than the file itself because
// atomic saves replace the file by rename, which would orphan a watch
// on the old inode.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.registry.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("registry: watching catalog directory: %w", err)
	}

	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and cleans up resources.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		// Already stopped
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

// processEvents debounces filesystem events and triggers reloads.
func (w *Watcher) processEvents(ctx context.Context) {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			// Restart the debounce window on every burst member.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			if err := w.registry.Reload(); err != nil {
				w.logger.Warn("model catalog reload failed, keeping current catalog",
					zap.String("path", w.registry.Path()),
					zap.Error(err))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("catalog watcher error", zap.Error(err))
		}
	}
}

// relevant reports whether an event touches the catalog file.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != filepath.Base(w.registry.Path()) {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}
