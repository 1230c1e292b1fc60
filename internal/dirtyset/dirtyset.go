// Package dirtyset tracks the set of vault-relative paths needing a push,
// fed by filesystem events and consulted by the smart-sync pipeline.
package dirtyset

import (
	"log/slog"
	"strings"
	"sync"
)

// IndexChecker is the narrow view of the index store dirtyset needs: does a
// path have a recorded entry. Satisfied by *index.Store.
type IndexChecker interface {
	Has(path string) bool
}

// Filter reports whether a path should never be tracked (ignore patterns).
type Filter interface {
	Ignored(path string) bool
}

// Tracker holds the dirty set, the in-flight syncing set, and the ignore
// filter that gates both. All methods are safe for concurrent use; the
// scheduler's single-writer invariant means in practice only one goroutine
// calls the mutating methods at a time, but events may arrive from an
// fsnotify goroutine concurrently with a push cycle consulting Syncing.
type Tracker struct {
	mu      sync.Mutex
	dirty   map[string]struct{}
	syncing map[string]struct{}
	idx     IndexChecker
	filter  Filter
	logger  *slog.Logger
}

// New constructs a Tracker. idx is consulted for markDeleted/markRenamed
// semantics; filter may be nil (nothing is ignored). A nil logger defaults
// to slog.Default().
func New(idx IndexChecker, filter Filter, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		dirty:   make(map[string]struct{}),
		syncing: make(map[string]struct{}),
		idx:     idx,
		filter:  filter,
		logger:  logger,
	}
}

// MarkSyncing adds path to the in-flight syncing set, suppressing event-driven
// dirtying for it until UnmarkSyncing is called. Callers insert the target
// path before starting a download and remove it after the index is updated.
func (t *Tracker) MarkSyncing(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.syncing[path] = struct{}{}
}

// UnmarkSyncing removes path from the in-flight syncing set.
func (t *Tracker) UnmarkSyncing(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.syncing, path)
}

func (t *Tracker) ignored(path string) bool {
	return t.filter != nil && t.filter.Ignored(path)
}

// MarkDirty adds path to the dirty set unless it is currently being synced
// or matches an ignore pattern.
func (t *Tracker) MarkDirty(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, inFlight := t.syncing[path]; inFlight {
		return
	}
	if t.ignored(path) {
		return
	}
	t.dirty[path] = struct{}{}
}

// MarkDeleted adds path to the dirty set only if it is present in the
// index; an unindexed local creation deleted before its first sync is a
// no-op (there is nothing on remote to remove).
func (t *Tracker) MarkDeleted(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.idx != nil && !t.idx.Has(path) {
		return
	}
	t.dirty[path] = struct{}{}
}

// MarkRenamed applies the rename semantics: if old was dirty and
// unindexed, the rename is a no-op for old (created-then-renamed before
// first sync); otherwise old is treated as deleted. new is always marked
// dirty.
func (t *Tracker) MarkRenamed(oldPath, newPath string) {
	t.mu.Lock()
	_, oldDirty := t.dirty[oldPath]
	oldIndexed := t.idx != nil && t.idx.Has(oldPath)
	t.mu.Unlock()

	switch {
	case oldDirty && !oldIndexed:
		t.mu.Lock()
		delete(t.dirty, oldPath)
		t.mu.Unlock()
	default:
		t.MarkDeleted(oldPath)
	}

	t.mu.Lock()
	if !t.ignored(newPath) {
		t.dirty[newPath] = struct{}{}
	}
	t.mu.Unlock()
}

// MarkFolderDeleted applies MarkDeleted to every indexed path under prefix.
func (t *Tracker) MarkFolderDeleted(prefix string, indexedPaths []string) {
	for _, p := range indexedPaths {
		if withinFolder(prefix, p) {
			t.MarkDeleted(p)
		}
	}
}

// MarkFolderRenamed applies MarkRenamed to every indexed path under
// oldPrefix, rewriting the prefix to newPrefix for the renamed half.
func (t *Tracker) MarkFolderRenamed(oldPrefix, newPrefix string, indexedPaths []string) {
	for _, p := range indexedPaths {
		if !withinFolder(oldPrefix, p) {
			continue
		}
		rel := strings.TrimPrefix(p, oldPrefix)
		t.MarkRenamed(p, newPrefix+rel)
	}
}

func withinFolder(prefix, path string) bool {
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/")
}

// Dirty returns a snapshot of the current dirty set.
func (t *Tracker) Dirty() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.dirty))
	for p := range t.dirty {
		out = append(out, p)
	}
	return out
}

// ClearDirty removes path from the dirty set, called once its push
// completes successfully.
func (t *Tracker) ClearDirty(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.dirty, path)
}

// Len returns the number of dirty paths.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dirty)
}
