// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// RegistryWatcher reloads an external registry file when it changes.
//
// # Description
//
// Sessions capture the registry when they are created, so a reload only
// affects sessions created afterwards. A reload that fails validation keeps
// the previous registry.
//
// # Thread Safety
//
// Safe for concurrent use. Start should only be called once.
type RegistryWatcher struct {
	path     string
	current  atomic.Pointer[Registry]
	watcher  *fsnotify.Watcher
	onReload func(*Registry)
}

// NewRegistryWatcher loads path and prepares a watcher for it.
//
// # Inputs
//
//   - ctx: Context for the initial load.
//   - path: External registry file.
//   - onReload: Optional callback after each successful reload.
//
// # Outputs
//
//   - *RegistryWatcher: Ready-to-start watcher.
//   - error: Non-nil if the initial load or watcher creation fails.
func NewRegistryWatcher(ctx context.Context, path string, onReload func(*Registry)) (*RegistryWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	reg, err := LoadRegistry(ctx, absPath)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	w := &RegistryWatcher{
		path:     absPath,
		watcher:  watcher,
		onReload: onReload,
	}
	w.current.Store(reg)
	return w, nil
}

// Current returns the most recently loaded registry.
func (w *RegistryWatcher) Current() *Registry {
	return w.current.Load()
}

// Start watches the registry file. Blocks until ctx is cancelled or the
// watcher is stopped. Should be run in a goroutine.
func (w *RegistryWatcher) Start(ctx context.Context) {
	// Watch the directory so editors that replace the file are seen.
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		slog.Warn("failed to watch routing registry directory",
			"path", dir,
			"error", err)
		return
	}

	slog.Debug("started watching routing registry", "path", w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("routing registry watcher error", "error", err)

		case <-ctx.Done():
			slog.Debug("routing registry watcher stopping")
			return
		}
	}
}

func (w *RegistryWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	reg, err := LoadRegistry(ctx, w.path)
	if err != nil {
		slog.Warn("routing registry reload failed, keeping previous",
			"path", w.path,
			"error", err)
		return
	}
	w.current.Store(reg)
	slog.Info("routing registry reloaded",
		"path", w.path,
		"rules", len(reg.rules))

	if w.onReload != nil {
		w.onReload(reg)
	}
}

// Stop releases the watcher. Safe to call multiple times.
func (w *RegistryWatcher) Stop() error {
	return w.watcher.Close()
}
