// SPDX-License-Identifier: MIT

// Package watch observes the shared folders and invalidates the tree
// when files appear, change or vanish.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/trelleck/mediatree/internal/log"
	"github.com/trelleck/mediatree/internal/updateclock"
)

// DefaultDebounce collapses the event bursts editors and copy tools
// produce into one invalidation per path.
const DefaultDebounce = 250 * time.Millisecond

// Invalidator receives change notifications for filesystem paths.
// Implemented by the resource tree.
type Invalidator interface {
	InvalidatePath(path string)
}

// Watcher drives fsnotify over the share roots.
type Watcher struct {
	fsw      *fsnotify.Watcher
	target   Invalidator
	clock    *updateclock.Clock
	debounce time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a watcher covering each share root recursively. Clock may
// be nil when no change counter should be bumped.
func New(target Invalidator, clock *updateclock.Clock, roots []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	w := &Watcher{
		fsw:      fsw,
		target:   target,
		clock:    clock,
		debounce: DefaultDebounce,
		logger:   log.WithComponent("watch"),
		pending:  make(map[string]*time.Timer),
	}
	for _, root := range roots {
		if err := w.addRecursive(root); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			w.logger.Warn().Err(err).Str(log.FieldPath, path).Msg("skipping unreadable path")
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Run consumes events until the context is cancelled. Call in its own
// goroutine.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

// Close stops the underlying watcher and cancels pending debounces.
func (w *Watcher) Close() error {
	w.mu.Lock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	return w.fsw.Close()
}

func (w *Watcher) handle(ev fsnotify.Event) {
	const ops = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	if ev.Op&ops == 0 {
		return
	}

	// New directories join the watch set immediately; their contents
	// arrive as further events.
	if ev.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := w.fsw.Add(ev.Name); err != nil {
				w.logger.Warn().Err(err).Str(log.FieldPath, ev.Name).Msg("watch new directory failed")
			}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, queued := w.pending[ev.Name]; queued {
		return
	}
	path := ev.Name
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		w.logger.Debug().Str(log.FieldPath, path).Str(log.FieldEvent, "tree.invalidate").Msg("share changed")
		w.target.InvalidatePath(path)
		if w.clock != nil {
			w.clock.Bump()
		}
	})
}
