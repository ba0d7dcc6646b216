// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a config file when it changes and hands every valid
// result to a callback. Invalid files are logged and ignored; the previous
// config stays in effect.
//
// The parent directory is watched rather than the file so that editors
// that save via rename keep triggering reloads.
type Watcher struct {
	path     string
	lookup   LookupFunc
	onChange func(Config)
	debounce time.Duration

	fsw     *fsnotify.Watcher
	done    chan struct{}
	stopped chan struct{}
	mu      sync.Mutex
	running bool
}

// NewWatcher creates a Watcher for path. onChange runs on the watcher
// goroutine and must not block for long.
func NewWatcher(path string, onChange func(Config)) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	if onChange == nil {
		return nil, errors.New("onChange callback is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return &Watcher{
		path:     abs,
		lookup:   os.LookupEnv,
		onChange: onChange,
		debounce: DefaultDebounce,
	}, nil
}

// Start begins watching. It returns an error if already running or the
// directory cannot be watched.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("config watcher is already running")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	w.fsw = fsw
	w.done = make(chan struct{})
	w.stopped = make(chan struct{})
	w.running = true

	slog.Info("Config watcher started", "path", w.path)
	go w.loop(ctx)
	return nil
}

// Close stops watching and waits for the loop to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.done)
	stopped := w.stopped
	fsw := w.fsw
	w.mu.Unlock()

	<-stopped
	return fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.stopped)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("Config watcher error", "error", err)
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadWithEnv(w.path, w.lookup)
	if err != nil {
		slog.Warn("Config reload rejected, keeping previous config", "path", w.path, "error", err)
		return
	}
	slog.Info("Config reloaded", "path", w.path)
	w.onChange(cfg)
}
