package dirtyset

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// FsWatcher abstracts filesystem event monitoring. Satisfied by
// *fsnotify.Watcher; tests inject a fake.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

// fsnotifyWrapper adapts *fsnotify.Watcher to FsWatcher: fsnotify exposes
// Events and Errors as public fields, not methods.
type fsnotifyWrapper struct {
	w *fsnotify.Watcher
}

func (fw *fsnotifyWrapper) Add(name string) error         { return fw.w.Add(name) }
func (fw *fsnotifyWrapper) Remove(name string) error      { return fw.w.Remove(name) }
func (fw *fsnotifyWrapper) Close() error                  { return fw.w.Close() }
func (fw *fsnotifyWrapper) Events() <-chan fsnotify.Event { return fw.w.Events }
func (fw *fsnotifyWrapper) Errors() <-chan error          { return fw.w.Errors }

// NewOSWatcher wraps a real *fsnotify.Watcher as an FsWatcher.
func NewOSWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &fsnotifyWrapper{w: w}, nil
}

// Feed reads events from w until ctx is canceled or w's channels close,
// classifying each into a Tracker mutation. Event paths are relativized
// against root (the vault root on disk) and normalized to forward
// slashes; an empty root passes paths through untouched. Rename events
// arrive from fsnotify as a paired Rename+Create on most platforms; Feed
// treats a bare Rename as a delete since the create half carries the new
// path.
func Feed(ctx context.Context, w FsWatcher, t *Tracker, root string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	var dropped atomic.Int64

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			classify(ev, t, root)
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			dropped.Add(1)
			logger.Warn("dirtyset: watcher error", "error", err)
		}
	}
}

func classify(ev fsnotify.Event, t *Tracker, root string) {
	name, ok := vaultRelative(ev.Name, root)
	if !ok {
		return
	}
	switch {
	case ev.Op&fsnotify.Remove != 0:
		t.MarkDeleted(name)
	case ev.Op&fsnotify.Rename != 0:
		t.MarkDeleted(name)
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		t.MarkDirty(name)
	}
}

// vaultRelative converts an OS event path into the vault-relative,
// forward-slash form the rest of the engine speaks.
func vaultRelative(name, root string) (string, bool) {
	if root == "" {
		return name, true
	}
	rel, err := filepath.Rel(root, name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
