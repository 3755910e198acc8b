package persona

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lmittmann/tint"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher serves a persona file and reloads it when the file changes.
// A reload that fails validation keeps the previous snapshot.
type Watcher struct {
	path     string
	debounce time.Duration
	onReload func(Persona, error)

	mu      sync.RWMutex
	current Persona
	reloads atomic.Uint32
}

// NewWatcher loads path once; Run must be called to pick up later edits.
func NewWatcher(path string, onReload func(Persona, error)) (*Watcher, error) {
	p, err := LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial persona: %w", err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: defaultDebounce,
		onReload: onReload,
		current:  p,
	}, nil
}

// Current returns the latest valid persona.
func (w *Watcher) Current() Persona {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// ReloadCount returns the number of reload attempts.
func (w *Watcher) ReloadCount() uint32 {
	return w.reloads.Load()
}

// Run watches the persona file's directory until ctx is done. Editors that
// save by rename replace the inode, so the directory is watched, not the file.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("persona: create file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("persona: watch %s: %w", w.path, err)
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Error("Persona watcher error", tint.Err(err))
		}
	}
}

func (w *Watcher) reload() {
	count := w.reloads.Add(1)
	slog.Info("Reloading persona", "path", w.path, "count", count)

	p, err := LoadFile(w.path)
	if err != nil {
		slog.Error("Failed to reload persona", "path", w.path, tint.Err(err))
		if w.onReload != nil {
			w.onReload(Persona{}, err)
		}
		return
	}

	w.mu.Lock()
	w.current = p
	w.mu.Unlock()

	slog.Info("Persona reloaded", "name", p.Name, "count", count)
	if w.onReload != nil {
		w.onReload(p, nil)
	}
}
