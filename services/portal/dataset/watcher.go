// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dataset

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the dataset when its file changes on disk.
//
// # Description
//
// Watches the dataset file's parent directory (editors and config
// pushes typically replace the file, which surfaces as create/rename
// on the directory) and re-runs Load after a debounce window. A failed
// reload keeps the previous snapshot.
//
// # Thread Safety
//
// Safe for concurrent use. Snapshot swaps go through Store.Replace.
type Watcher struct {
	path            string
	store           *Store
	maxContextBytes int
	debounce        time.Duration
	watcher         *fsnotify.Watcher
	done            chan struct{}
	stopOnce        sync.Once
}

// NewWatcher creates a watcher for the dataset file feeding store.
func NewWatcher(path string, store *Store, maxContextBytes int) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:            path,
		store:           store,
		maxContextBytes: maxContextBytes,
		debounce:        500 * time.Millisecond,
		watcher:         fsWatcher,
		done:            make(chan struct{}),
	}, nil
}

// Start begins watching. Blocks until ctx is canceled or Stop is
// called, so run it inside the service's errgroup.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	slog.Info("Watching dataset file for changes", "path", w.path)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			w.reload()
			timer = nil
			timerC = nil
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("Dataset watcher error", "error", err)
		}
	}
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *Watcher) reload() {
	snapshot, err := Load(w.path, w.maxContextBytes)
	if err != nil {
		slog.Error("Dataset reload failed, keeping previous snapshot",
			"path", w.path, "error", err)
		return
	}
	w.store.Replace(snapshot)
	slog.Info("Dataset reloaded", "path", w.path, "records", len(snapshot.Records))
}
