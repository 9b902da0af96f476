// Package watch observes a content directory for markdown changes.
//
// The watcher emits the paths of created or modified .md files so callers can
// queue re-validation. Subdirectories are watched recursively, including ones
// created after the watcher starts.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Change describes one observed markdown change.
type Change struct {
	// Path is the path of the created or modified file.
	Path string

	// Timestamp is when the change was observed.
	Timestamp time.Time
}

// Watcher watches a content directory tree for markdown changes.
type Watcher struct {
	root    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	changes chan Change
	stop    chan struct{}
}

// NewWatcher creates a watcher over the directory tree rooted at dir.
func NewWatcher(dir string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat content dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("content path %s is not a directory", dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create filesystem watcher: %w", err)
	}

	return &Watcher{
		root:    dir,
		watcher: fw,
		logger:  logger,
		changes: make(chan Change, 64),
		stop:    make(chan struct{}),
	}, nil
}

// Start registers the directory tree and begins processing events in a
// background goroutine. Call Stop to clean up resources.
func (w *Watcher) Start(ctx context.Context) error {
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch content tree: %w", err)
	}

	go w.processEvents(ctx)

	w.logger.Info("content watcher started", zap.String("dir", w.root))
	return nil
}

// Stop stops the watcher and cleans up resources.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

// Changes returns the channel of observed markdown changes.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
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
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		// New directories need their own watch to stay recursive.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory",
					zap.String("dir", event.Name), zap.Error(err))
			}
			return
		}
	}

	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !strings.HasSuffix(event.Name, ".md") {
		return
	}

	change := Change{Path: event.Name, Timestamp: time.Now()}

	// Non-blocking send, a full channel drops the change.
	select {
	case w.changes <- change:
	default:
		w.logger.Warn("change channel full, dropping event", zap.String("path", event.Name))
	}
}
