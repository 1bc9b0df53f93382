// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/videocatalog/videocatalog/internal/log"
)

// Holder keeps the current Config snapshot and swaps it atomically when
// settings.json changes on disk.
type Holder struct {
	paths   Paths
	current atomic.Pointer[Config]
}

// NewHolder wraps an initial configuration.
func NewHolder(paths Paths, initial Config) *Holder {
	h := &Holder{paths: paths}
	h.current.Store(&initial)
	return h
}

// Current returns the active configuration snapshot.
func (h *Holder) Current() *Config {
	return h.current.Load()
}

// Reload re-reads settings.json and swaps the snapshot on success.
func (h *Holder) Reload() error {
	settings, err := LoadSettings(h.paths)
	if err != nil {
		return err
	}
	cfg := FromSettings(h.paths, settings)
	h.current.Store(&cfg)
	return nil
}

// Watch blocks until ctx is done, reloading on settings file writes.
func (h *Holder) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(h.paths.Root); err != nil {
		return err
	}
	logger := log.WithComponent("config")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != h.paths.SettingsPath() {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := h.Reload(); err != nil {
				logger.Warn().Err(err).Msg("settings reload failed, keeping previous snapshot")
				continue
			}
			logger.Info().Str("event", "settings.reloaded").Msg("settings reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("settings watcher error")
		}
	}
}
