// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config when the file changes on disk.
//
// # Description
//
// Watches the config file's directory (editors replace the file rather
// than write in place, so watching the path itself misses renames) and
// re-reads the file on write or create events. A file that fails to
// parse or validate is rejected and the previous config stays in
// effect.
//
// # Thread Safety
//
// Safe for concurrent use. Start should only be called once.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	callback func(EnvisConfig)
}

// NewWatcher creates a config file watcher.
//
// # Inputs
//
//   - path: Config file path to watch.
//   - callback: Invoked with the new config after a valid reload.
//
// # Outputs
//
//   - *Watcher: Ready-to-start watcher.
//   - error: Non-nil if watcher creation fails.
func NewWatcher(path string, callback func(EnvisConfig)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     path,
		watcher:  watcher,
		callback: callback,
	}, nil
}

// Start begins watching for config changes.
//
// # Description
//
// Blocks until the context is cancelled. Should be run in a goroutine.
//
// # Example
//
//	w, _ := config.NewWatcher(path, onReload)
//	go w.Start(ctx)
func (w *Watcher) Start(ctx context.Context) {
	defer w.watcher.Close()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		slog.Warn("Failed to watch config directory",
			"path", w.path,
			"error", err)
		return
	}

	slog.Debug("Started watching config", "path", w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Config watcher error", "error", err)

		case <-ctx.Done():
			slog.Debug("Config watcher stopping")
			return
		}
	}
}

// handleEvent processes a single fsnotify event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}

	cfg, err := ReadFile(w.path)
	if err != nil {
		slog.Warn("Config changed but reload rejected",
			"path", w.path,
			"error", err)
		return
	}

	slog.Info("Config reloaded", "path", w.path)
	Replace(cfg)
	if w.callback != nil {
		w.callback(cfg)
	}
}
