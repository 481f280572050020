// Package stopfile ends a session when a marker file appears.
package stopfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher watches the directory of a stop file and calls onStop once when
// the file is created or written.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	onStop  func()
	once    sync.Once
	logger  *logrus.Entry
}

// New creates a Watcher for path. A stop file left over from an earlier
// session is removed.
func New(path string, onStop func(), logger *logrus.Entry) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve stop file: %w", err)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create stop file directory: %w", err)
	}
	if _, err := os.Stat(abs); err == nil {
		logger.WithField("path", abs).Warn("Removing stale stop file")
		if err := os.Remove(abs); err != nil {
			return nil, fmt.Errorf("failed to remove stale stop file: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// fsnotify cannot watch a file that does not exist yet, so watch its directory.
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	return &Watcher{watcher: watcher, path: abs, onStop: onStop, logger: logger}, nil
}

// Path returns the watched stop file.
func (w *Watcher) Path() string {
	return w.path
}

// Start processes events until ctx is cancelled. It blocks.
func (w *Watcher) Start(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.logger.Debugf("fsnotify event: %s op=%v", event.Name, event.Op)
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			w.once.Do(func() {
				w.logger.WithField("path", w.path).Info("Stop file detected")
				w.onStop()
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("Watcher error: %v", err)
		case <-ctx.Done():
			w.watcher.Close()
			return
		}
	}
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
