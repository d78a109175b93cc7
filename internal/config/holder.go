// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/trelleck/mediatree/internal/log"
)

// Holder provides thread-safe access to the current configuration and
// supports hot reloading from file. Reloads are atomic: a config that
// fails validation is discarded and the previous one stays active.
type Holder struct {
	mu         sync.RWMutex
	current    Config
	configPath string
	watcher    *fsnotify.Watcher
	logger     zerolog.Logger

	listenerMu sync.RWMutex
	listeners  []chan<- Config
}

// NewHolder creates a holder with the given initial configuration.
func NewHolder(initial Config, configPath string) *Holder {
	return &Holder{
		current:    initial,
		configPath: configPath,
		logger:     log.WithComponent("config"),
	}
}

// Get returns the current configuration.
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Subscribe registers a channel that receives each successfully applied
// configuration.
func (h *Holder) Subscribe(ch chan<- Config) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

// Reload reloads configuration from file and applies it if valid.
func (h *Holder) Reload(_ context.Context) error {
	newCfg, err := Load(h.configPath)
	if err != nil {
		h.logger.Error().Err(err).
			Str(log.FieldEvent, "config.reload_failed").
			Msg("keeping previous configuration")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	h.current = newCfg
	h.mu.Unlock()

	h.notify(newCfg)
	h.logger.Info().
		Str(log.FieldEvent, "config.reload_success").
		Msg("configuration reloaded")
	return nil
}

func (h *Holder) notify(cfg Config) {
	h.listenerMu.RLock()
	defer h.listenerMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			// Listener not keeping up; it will pick up the next reload.
		}
	}
}

// StartWatcher watches the config file and reloads on write. A no-op when
// no config path is set (env-only configuration).
func (h *Holder) StartWatcher(ctx context.Context) error {
	if h.configPath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(h.configPath); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}
	h.watcher = watcher

	go h.watchLoop(ctx)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context) {
	// Editors often emit several write events for one save; debounce them.
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
		_ = h.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(250*time.Millisecond, func() {
				_ = h.Reload(ctx)
			})
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}
