package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Watcher invalidates a DirProvider's cache when knowledge files change
// on disk. Running without a watcher is fine; snapshots are then cached
// for the life of the process.
type Watcher struct {
	provider *DirProvider
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	stop     chan struct{}
}

// NewWatcher creates a watcher over the provider's root.
func NewWatcher(provider *DirProvider, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		provider: provider,
		watcher:  fsw,
		logger:   logger,
		stop:     make(chan struct{}),
	}, nil
}

// Start watches the root and each domain directory. New domain
// directories are picked up as they appear.
func (w *Watcher) Start(ctx context.Context) error {
	root := w.provider.Root()
	if err := w.watcher.Add(root); err != nil {
		return fmt.Errorf("watching %s: %w", root, err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("reading knowledge root: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			if err := w.watcher.Add(filepath.Join(root, e.Name())); err != nil {
				w.logger.Warn("watching domain failed",
					zap.String("domain", e.Name()),
					zap.Error(err),
				)
			}
		}
	}

	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

func (w *Watcher) processEvents(ctx context.Context) {
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
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("knowledge watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	const ops = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename
	if event.Op&ops == 0 {
		return
	}

	rel, err := filepath.Rel(w.provider.Root(), event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	domain := parts[0]

	if len(parts) == 1 {
		// Root-level change: a domain directory appeared or vanished.
		if event.Op&fsnotify.Create != 0 {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				_ = w.watcher.Add(event.Name)
			}
		}
		w.provider.Invalidate(domain)
		w.logger.Debug("knowledge domain invalidated", zap.String("domain", domain))
		return
	}

	w.provider.Invalidate(domain)
	w.logger.Debug("knowledge domain invalidated",
		zap.String("domain", domain),
		zap.String("file", rel),
	)
}
