// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/bitergia/sortinghat-openinfra/internal/log"
)

// ConfigHolder holds the configuration with atomic reloading. Reads are
// thread-safe; Reload swaps the full config only when the new one
// validates, so the daemon never runs on a half-applied config.
type ConfigHolder struct {
	mu         sync.RWMutex
	current    AppConfig
	loader     *Loader
	configPath string
	watcher    *fsnotify.Watcher
	logger     zerolog.Logger

	reloadMu        sync.RWMutex
	reloadListeners []chan<- AppConfig
}

// NewConfigHolder creates a holder around an initial configuration.
func NewConfigHolder(initial AppConfig, loader *Loader, configPath string) *ConfigHolder {
	return &ConfigHolder{
		current:    initial,
		loader:     loader,
		configPath: configPath,
		logger:     log.WithComponent("config"),
	}
}

// Get returns the current configuration.
func (h *ConfigHolder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload reloads the configuration from disk and environment. On any
// load or validation error the previous configuration stays active.
func (h *ConfigHolder) Reload(_ context.Context) error {
	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")

	newCfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "config.reload_failed").
			Msg("keeping previous configuration")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	h.current = newCfg
	h.mu.Unlock()

	h.notifyListeners(newCfg)

	h.logger.Info().
		Str("event", "config.reload_success").
		Msg("configuration reloaded")
	return nil
}

// StartWatcher watches the config file and reloads on changes. Without a
// config file (ENV-only setup) this is a no-op.
func (h *ConfigHolder) StartWatcher(ctx context.Context) error {
	if h.configPath == "" {
		h.logger.Info().
			Str("event", "config.watcher_disabled").
			Msg("no config file, watcher disabled")
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

	h.logger.Info().
		Str("event", "config.watcher_started").
		Str("path", h.configPath).
		Msg("watching config file")

	go h.watchLoop(ctx)
	return nil
}

func (h *ConfigHolder) watchLoop(ctx context.Context) {
	// Debounce rapid write bursts from editors.
	var debounce *time.Timer
	const debounceDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			_ = h.watcher.Close()
			return

		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					if err := h.Reload(ctx); err != nil {
						h.logger.Error().
							Err(err).
							Str("event", "config.auto_reload_failed").
							Msg("automatic reload failed")
					}
				})
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().
				Err(err).
				Str("event", "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// Stop closes the file watcher if one is running.
func (h *ConfigHolder) Stop() {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
}

// RegisterListener registers a channel that receives the new config after
// every successful reload. Sends are non-blocking; a full channel is
// skipped.
func (h *ConfigHolder) RegisterListener(ch chan<- AppConfig) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	h.reloadListeners = append(h.reloadListeners, ch)
}

func (h *ConfigHolder) notifyListeners(newCfg AppConfig) {
	h.reloadMu.RLock()
	defer h.reloadMu.RUnlock()
	for _, ch := range h.reloadListeners {
		select {
		case ch <- newCfg:
		default:
			h.logger.Warn().
				Str("event", "config.listener_skip").
				Msg("listener channel full, skipped")
		}
	}
}
