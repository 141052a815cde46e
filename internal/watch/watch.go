// Package watch triggers syncs when the annotation database changes.
//
// SQLite writes land in the main file, its -wal and its -shm sidecars, often
// as bursts of events. Events are debounced so one burst yields one sync.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last event before a sync.
const DefaultDebounce = 2 * time.Second

// Watcher watches directories and calls a handler after changes settle.
type Watcher struct {
	// Dirs are watched non-recursively.
	Dirs []string

	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration

	// Match selects relevant files by base name. Nil matches everything.
	Match func(name string) bool

	Logger *slog.Logger
}

// SQLiteFiles matches a database file and its journal sidecars.
func SQLiteFiles(name string) bool {
	for _, ext := range []string{".sqlite", ".sqlite-wal", ".sqlite-shm", ".sqlite-journal"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Run blocks until ctx is done, calling onChange once per settled burst of
// events. Handler errors are logged and do not stop the watch.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context) error) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	for _, dir := range w.Dirs {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		logger.Info("watching", "dir", dir)
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			logger.Debug("change detected", "path", event.Name, "op", event.Op.String())
			timer.Reset(debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)

		case <-timer.C:
			if err := onChange(ctx); err != nil {
				logger.Error("sync after change failed", "error", err)
			}
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if w.Match == nil {
		return true
	}
	return w.Match(filepath.Base(event.Name))
}
