package localstore

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultTick   = 500 * time.Millisecond
	defaultSettle = 300 * time.Millisecond
)

// ChangeFunc receives filenames that changed on disk once they have been
// quiet for the settle period. Names are sorted and unique.
type ChangeFunc func(ctx context.Context, names []string)

// Watcher reports changes to handled files in the store directory.
type Watcher struct {
	store    *Store
	logger   *slog.Logger
	onChange ChangeFunc

	tick   time.Duration
	settle time.Duration
}

// NewWatcher creates a watcher for store that calls onChange with each
// settled batch of changed filenames.
func NewWatcher(store *Store, logger *slog.Logger, onChange ChangeFunc) *Watcher {
	return &Watcher{
		store:    store,
		logger:   logger,
		onChange: onChange,
		tick:     defaultTick,
		settle:   defaultSettle,
	}
}

// Watch blocks until ctx is cancelled. Rapid events for the same file
// are coalesced into a single notification.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.store.Dir()); err != nil {
		return fmt.Errorf("watching %s: %w", w.store.Dir(), err)
	}

	w.logger.Info("file watcher started", slog.String("dir", w.store.Dir()))

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			name, ok := w.nameFor(event.Name)
			if !ok {
				continue
			}

			// Chmod alone never changes content or mtime we care about.
			if event.Op == fsnotify.Chmod {
				continue
			}

			pending[name] = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			if batch := settled(pending, time.Now(), w.settle); len(batch) > 0 {
				w.logger.Debug("watcher: changes settled", slog.Int("files", len(batch)))
				w.onChange(ctx, batch)
			}
		}
	}
}

// nameFor maps an event path to a handled filename.
func (w *Watcher) nameFor(path string) (string, bool) {
	if filepath.Dir(path) != w.store.Dir() {
		return "", false
	}

	name := normalizeName(filepath.Base(path))
	if strings.HasPrefix(name, tempPrefix) || name == lockFile {
		return "", false
	}

	return name, w.store.CanHandle(name)
}

// settled removes and returns the names that have been quiet for at
// least settle.
func settled(pending map[string]time.Time, now time.Time, settle time.Duration) []string {
	var out []string

	for name, t := range pending {
		if now.Sub(t) < settle {
			continue
		}

		delete(pending, name)

		out = append(out, name)
	}

	slices.Sort(out)

	return out
}
