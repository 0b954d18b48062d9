package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchTargets holds callbacks that fire when specific config-adjacent files
// change, enabling hot-reload without a process restart.
type WatchTargets struct {
	// OnRedactionRulesChange fires when the pipeline's redaction rules file
	// is written or created. Typically triggers the redaction processor's
	// Reload() to pick up new rules.
	OnRedactionRulesChange func()

	// OnConfigChange fires when config.toml itself is written. The caller
	// decides what, if anything, can be safely hot-applied versus requiring
	// a restart (e.g. bind_addr cannot be hot-reloaded; feature toggles can).
	OnConfigChange func()
}

// Watcher monitors a directory for file changes using fsnotify and dispatches
// by filename, mirroring the teacher's config-directory watcher.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
}

// NewWatcher creates a file watcher on the given directory (typically
// <user-config-dir>/aspy) and starts processing events in a background
// goroutine. Call Close to stop it.
func NewWatcher(dir string, targets WatchTargets) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}

	w := &Watcher{
		fsWatcher: fw,
		done:      make(chan struct{}),
	}

	go w.processEvents(targets)

	slog.Info("config watcher started", "dir", dir)
	return w, nil
}

func (w *Watcher) processEvents(targets WatchTargets) {
	for {
		select {
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			switch filepath.Base(ev.Name) {
			case "config.toml":
				slog.Info("config.toml changed, triggering reload")
				if targets.OnConfigChange != nil {
					targets.OnConfigChange()
				}
			case "redaction.yaml":
				slog.Info("redaction.yaml changed, triggering reload")
				if targets.OnRedactionRulesChange != nil {
					targets.OnRedactionRulesChange()
				}
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher goroutine. Safe to call multiple times.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.fsWatcher.Close()
}
