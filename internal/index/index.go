// Package index implements the persistent path→IndexEntry store: the
// reconciliation engine's durable record of what was last known to be
// synchronized for every file, plus the remote change cursor.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/quietloop/vaultsync/internal/content"
)

// Action is what produced an IndexEntry's current state.
type Action string

const (
	ActionPull  Action = "pull"
	ActionPush  Action = "push"
	ActionMerge Action = "merge"
)

// Entry is one synchronized path's metadata.
// Hash and Size always describe the bytes the remote stores (ciphertext
// when E2EE is on); PlainHash describes the local plaintext, which is
// how the engine detects local modification when encryption makes the
// ciphertext non-reproducible (a fresh IV per encryption means hashing
// the re-encrypted file never matches Hash even for unchanged content).
type Entry struct {
	FileID       string `json:"fileId"`
	MTime        int64  `json:"mtime"`
	Size         int64  `json:"size"`
	Hash         string `json:"hash"`
	PlainHash    string `json:"plainHash,omitempty"`
	AncestorHash string `json:"ancestorHash,omitempty"`
	LastAction   Action `json:"lastAction"`
}

// document is the literal on-disk/on-remote JSON shape.
type document struct {
	Index          map[string]Entry `json:"index"`
	StartPageToken *string          `json:"startPageToken"`
}

// Sentinel errors for the safety invariants guarding index replacement.
var (
	ErrRemoteCorruption = errors.New("index: remote corruption detected")
	ErrSafetyHalt       = errors.New("index: safety halt")
)

// Store is the in-memory index guarded by a single mutex, mirrored to disk
// as a JSON+gzip document. Only one writer mutates it at a time (the
// scheduler's single-writer invariant); Store itself just enforces that
// with a mutex rather than relying on callers.
type Store struct {
	mu     sync.RWMutex
	path   string
	logger *slog.Logger

	entries        map[string]Entry
	startPageToken *string
}

// New constructs an empty Store persisted at path. A nil logger defaults to
// slog.Default().
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:    path,
		logger:  logger,
		entries: make(map[string]Entry),
	}
}

func rawPath(path string) string {
	return path + "_raw"
}

// Load attempts the canonical file first, falling back to the uncompressed
// `_raw` sibling, and starting empty if both are missing or corrupt.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data, err := os.ReadFile(s.path); err == nil {
		if doc, decodeErr := decodeDocument(data); decodeErr == nil {
			s.entries = doc.Index
			s.startPageToken = doc.StartPageToken
			return nil
		} else {
			s.logger.Warn("index: canonical file corrupt, falling back to raw backup", "error", decodeErr)
		}
	}

	if data, err := os.ReadFile(rawPath(s.path)); err == nil {
		if doc, decodeErr := decodeDocument(data); decodeErr == nil {
			s.entries = doc.Index
			s.startPageToken = doc.StartPageToken
			return nil
		} else {
			s.logger.Warn("index: raw backup corrupt, starting empty", "error", decodeErr)
		}
	}

	s.entries = make(map[string]Entry)
	s.startPageToken = nil
	return nil
}

func decodeDocument(data []byte) (document, error) {
	plain, err := content.Decompress(data)
	if err != nil {
		return document{}, err
	}

	var doc document
	if err := json.Unmarshal(plain, &doc); err != nil {
		return document{}, fmt.Errorf("index: unmarshal: %w", err)
	}
	if doc.Index == nil {
		doc.Index = make(map[string]Entry)
	}
	return doc, nil
}

// RemoteDocument is a parsed snapshot of a remote index file's content,
// used by the smart-sync pipeline's index-diff fallback path without
// mutating this Store's own state.
type RemoteDocument struct {
	Entries        map[string]Entry
	StartPageToken *string
}

// DecodeRemoteDocument parses raw bytes fetched from the remote copy of the
// index file (gzip or raw, detected the same way Load detects its local
// sibling) into a standalone snapshot the pipeline can diff against this
// Store's Paths()/Get() without ever replacing this Store's state directly.
func DecodeRemoteDocument(data []byte) (RemoteDocument, error) {
	doc, err := decodeDocument(data)
	if err != nil {
		return RemoteDocument{}, err
	}
	return RemoteDocument{Entries: doc.Index, StartPageToken: doc.StartPageToken}, nil
}

// EncodeSelf renders the current in-memory index as the literal JSON+gzip
// document bytes Save would write, plus the uncompressed raw form, so the
// pipeline can upload the index as a synchronized file using the same
// encoding Save persists locally.
func (s *Store) EncodeSelf() (gzipped, raw []byte, err error) {
	s.mu.RLock()
	doc := document{Index: s.entries, StartPageToken: s.startPageToken}
	s.mu.RUnlock()

	raw, err = json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("index: marshal: %w", err)
	}
	gzipped, err = content.Compress(raw)
	if err != nil {
		return nil, nil, err
	}
	return gzipped, raw, nil
}

// Save atomically writes the canonical gzip-compressed JSON and an
// uncompressed `_raw` sibling.
func (s *Store) Save() error {
	s.mu.RLock()
	doc := document{Index: s.entries, StartPageToken: s.startPageToken}
	s.mu.RUnlock()

	plain, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("index: marshal: %w", err)
	}

	compressed, err := content.Compress(plain)
	if err != nil {
		return err
	}

	if err := atomicWrite(s.path, compressed); err != nil {
		return fmt.Errorf("index: writing canonical file: %w", err)
	}
	if err := atomicWrite(rawPath(s.path), plain); err != nil {
		return fmt.Errorf("index: writing raw backup: %w", err)
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Reset clears the in-memory index. Callers are expected to Save afterward.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
	s.startPageToken = nil
}

// Get returns the entry for path, if any.
func (s *Store) Get(path string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[path]
	return e, ok
}

// Has reports whether path is tracked in the index.
func (s *Store) Has(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[path]
	return ok
}

// Put upserts the entry for path.
func (s *Store) Put(path string, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[path] = entry
}

// Delete removes the entry for path, if present.
func (s *Store) Delete(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, path)
}

// Paths returns a snapshot of every indexed path.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for p := range s.entries {
		out = append(out, p)
	}
	return out
}

// Len returns the number of indexed paths.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// StartPageToken returns the stored remote change cursor, if any.
func (s *Store) StartPageToken() *string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startPageToken
}

// SetStartPageToken stores the remote change cursor.
func (s *Store) SetStartPageToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startPageToken = &token
}

// ReplaceAllCheck validates a full-index replace against the safety
// invariants before the caller commits newPaths as the new entry
// set. remoteReportedBytes and remoteEntryCount describe what the remote
// side claimed about itself, independent of the new path set's size.
func (s *Store) ReplaceAllCheck(newPaths map[string]Entry, remoteReportedBytes int64, remoteEntryCount int) error {
	s.mu.RLock()
	oldCount := len(s.entries)
	s.mu.RUnlock()

	newCount := len(newPaths)

	if oldCount > 0 {
		removedFraction := float64(oldCount-newCount) / float64(oldCount)
		if removedFraction > 0.5 && remoteReportedBytes > 200 && remoteEntryCount > 0 {
			return fmt.Errorf("%w: replacing index would drop %d of %d paths (%.0f%%)",
				ErrRemoteCorruption, oldCount-newCount, oldCount, removedFraction*100)
		}
	}

	if remoteEntryCount == 0 && oldCount > 20 {
		return fmt.Errorf("%w: remote index is empty but %d local files are tracked", ErrSafetyHalt, oldCount)
	}

	return nil
}
