package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/modhub/pkg/observability"
	"github.com/platinummonkey/modhub/pkg/sources"
)

// Marker is notified with the key of a source whose folder changed
type Marker interface {
	MarkChanged(key string) int
}

// Watcher flags the records of local sources as pending update when their folder changes
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	marker    Marker
	logger    *logrus.Logger

	mu sync.RWMutex
	// folders maps a watched folder to its source key
	folders map[string]string
}

// NewWatcher creates a watcher reporting to marker
func NewWatcher(marker Marker, logger *logrus.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	return &Watcher{
		fsWatcher: fsWatcher,
		marker:    marker,
		logger:    observability.OrDefault(logger),
		folders:   make(map[string]string),
	}, nil
}

// Watch adds the folder of a local source, and every non-hidden directory below a hub.
// Other kinds are ignored.
func (w *Watcher) Watch(src *sources.Source) error {
	if src.Kind != sources.KindLocalHub && src.Kind != sources.KindLocalPlugin {
		return nil
	}
	root, err := filepath.Abs(src.Folder)
	if err != nil {
		return fmt.Errorf("getting absolute path: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if src.Kind == sources.KindLocalPlugin {
		return w.add(root, src.Key())
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.add(p, src.Key())
	})
}

func (w *Watcher) add(dir, key string) error {
	if _, ok := w.folders[dir]; ok {
		return nil
	}
	if err := w.fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	w.folders[dir] = key
	return nil
}

// keyFor returns the source owning path, matching the deepest watched folder
func (w *Watcher) keyFor(path string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for dir := path; ; {
		if key, ok := w.folders[dir]; ok {
			return key, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// Run dispatches events until ctx is done or the watcher is closed
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("File watcher error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	key, ok := w.keyFor(event.Name)
	if !ok {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !strings.HasPrefix(info.Name(), ".") {
			w.mu.Lock()
			if err := w.add(event.Name, key); err != nil {
				w.logger.WithError(err).Warn("Failed to watch new folder")
			}
			w.mu.Unlock()
		}
	}
	w.logger.WithFields(logrus.Fields{
		"source": key,
		"file":   event.Name,
		"op":     event.Op.String(),
	}).Debug("Local source changed")
	w.marker.MarkChanged(key)
}

// Close stops watching
func (w *Watcher) Close() error {
	return w.fsWatcher.Close()
}
