// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package document

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change is one debounced filesystem change.
type Change struct {
	// Path is the absolute path of the changed file.
	Path string

	// Op is the kind of change.
	Op Op

	// Time is when the change was observed.
	Time time.Time
}

// Op is the kind of filesystem change.
type Op int

const (
	// OpCreate indicates a file or directory was created.
	OpCreate Op = iota

	// OpWrite indicates a file was modified.
	OpWrite

	// OpRemove indicates a file was deleted.
	OpRemove

	// OpRename indicates a file was renamed.
	OpRename
)

// String returns the lowercase name of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Handler receives a deduplicated batch of changes after the debounce
// window closes. Called from a single goroutine.
type Handler func(changes []Change)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce is how long to wait for further changes before a batch
	// is delivered. Zero selects the default.
	Debounce time.Duration

	// IgnorePatterns name path segments to skip, matched exactly or as
	// a glob against each segment. Zero-length selects the defaults.
	IgnorePatterns []string

	// BufferSize is the pending-change channel capacity. Zero selects
	// the default.
	BufferSize int
}

// DefaultWatcherOptions returns the defaults: a 100ms window and the
// ignore set for version control and Rust build output.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		Debounce:       100 * time.Millisecond,
		IgnorePatterns: []string{".git", "target", ".idea", "*.swp", "*.tmp"},
		BufferSize:     1000,
	}
}

// Watcher reports debounced filesystem changes under workspace roots.
//
// Description:
//
//	Wraps fsnotify with recursive directory registration and a debounce
//	window, so a save storm collapses into one handler call. The session
//	layer turns batches into cache invalidation by URI prefix.
//
// Thread Safety:
//
//	Safe for concurrent use. The handler runs on one goroutine.
type Watcher struct {
	roots    []string
	fsw      *fsnotify.Watcher
	handler  Handler
	debounce time.Duration
	ignore   []string

	changes  chan Change
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
}

// NewWatcher creates a Watcher over roots. Call Start to begin watching
// and Stop to release the underlying fsnotify resources.
func NewWatcher(roots []string, handler Handler, opts *WatcherOptions) (*Watcher, error) {
	if len(roots) == 0 {
		return nil, errors.New("watcher needs at least one root")
	}
	options := DefaultWatcherOptions()
	if opts != nil {
		if opts.Debounce > 0 {
			options.Debounce = opts.Debounce
		}
		if len(opts.IgnorePatterns) > 0 {
			options.IgnorePatterns = opts.IgnorePatterns
		}
		if opts.BufferSize > 0 {
			options.BufferSize = opts.BufferSize
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		roots:    roots,
		fsw:      fsw,
		handler:  handler,
		debounce: options.Debounce,
		ignore:   options.IgnorePatterns,
		changes:  make(chan Change, options.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Start registers all roots recursively and begins delivering batches.
// Returns immediately; watching continues until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	for _, root := range w.roots {
		if err := w.addRecursive(root); err != nil {
			return fmt.Errorf("watching %s: %w", root, err)
		}
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops watching and closes the underlying watcher. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if err := w.fsw.Close(); err != nil {
			slog.Debug("closing fsnotify watcher", slog.String("error", err.Error()))
		}

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the watcher is active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// addRecursive registers root and every non-ignored subdirectory.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// shouldIgnore reports whether any path segment matches an ignore
// pattern. Patterns match whole segments, never substrings, so ".git"
// skips the repository directory but not a ".gitignore" file.
func (w *Watcher) shouldIgnore(path string) bool {
	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == "" {
			continue
		}
		for _, pattern := range w.ignore {
			if segment == pattern {
				return true
			}
			if matched, _ := filepath.Match(pattern, segment); matched {
				return true
			}
		}
	}
	return false
}

// processEvents converts fsnotify events into Changes on the pending
// channel and registers newly created directories.
func (w *Watcher) processEvents(ctx context.Context) {
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
			if w.shouldIgnore(event.Name) {
				continue
			}
			// Permission-only changes do not invalidate text.
			if event.Op == fsnotify.Chmod {
				continue
			}

			change := Change{
				Path: event.Name,
				Op:   convertOp(event.Op),
				Time: time.Now(),
			}
			select {
			case w.changes <- change:
				watcherEventsTotal.Inc()
			default:
				slog.Warn("watcher change buffer full, dropping event",
					slog.String("path", event.Name),
					slog.String("op", change.Op.String()))
			}

			if event.Has(fsnotify.Create) && isDir(event.Name) {
				if err := w.fsw.Add(event.Name); err != nil {
					slog.Debug("watching created directory",
						slog.String("path", event.Name),
						slog.String("error", err.Error()))
				}
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("filesystem watcher error", slog.String("error", err.Error()))
		}
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// convertOp maps an fsnotify op bitmask to the dominant Op.
func convertOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpWrite
	}
}

// debounceLoop batches pending changes and delivers them once the
// debounce window passes without new activity.
func (w *Watcher) debounceLoop(ctx context.Context) {
	var batch []Change
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 {
			deduped := dedupeChanges(batch)
			if len(deduped) > 0 && w.handler != nil {
				watcherBatchesTotal.Inc()
				w.handler(deduped)
			}
			batch = batch[:0]
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case change := <-w.changes:
			batch = append(batch, change)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// dedupeChanges keeps the newest change per path, preserving first-seen
// order.
func dedupeChanges(changes []Change) []Change {
	seen := make(map[string]int, len(changes))
	result := make([]Change, 0, len(changes))
	for _, change := range changes {
		if idx, ok := seen[change.Path]; ok {
			result[idx] = change
			continue
		}
		seen[change.Path] = len(result)
		result = append(result, change)
	}
	return result
}
