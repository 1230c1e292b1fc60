// Package history is the revision/history facade: list, fetch with
// content integrity verification, pin, and delete.
package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quietloop/vaultsync/internal/conflict"
	"github.com/quietloop/vaultsync/internal/content"
)

// ErrIntegrity is returned when a fetched revision's content hash does not
// match the hash the backend reported for it. The content is never
// handed to the caller when this occurs.
var ErrIntegrity = errors.New("history: revision content hash mismatch")

// Revision is one retained remote version of a file. Author and
// KeepForever are optional; backends that don't report them leave the
// fields zero.
type Revision struct {
	ID           string
	ModifiedTime time.Time
	Size         int64
	Author       string
	KeepForever  bool
	Hash         string
}

// Backend is the capability surface history needs from the remote vault
// adapter: everything conflict.History already defines, plus pin/delete.
// internal/cloudapi.RESTAdapter implements this directly.
type Backend interface {
	conflict.History
	PinRevision(ctx context.Context, remotePath, revisionID string) error
	DeleteRevision(ctx context.Context, remotePath, revisionID string) error
}

// Facade lists, fetches, pins, and deletes revisions of a single remote
// path, verifying content integrity on fetch.
type Facade struct {
	backend Backend
}

// New returns a Facade backed by backend.
func New(backend Backend) *Facade {
	return &Facade{backend: backend}
}

// List returns every retained revision of remotePath. Order follows
// whatever the backend reports; callers sort if display order matters.
func (f *Facade) List(remotePath string) ([]Revision, error) {
	revs, err := f.backend.ListRevisions(remotePath)
	if err != nil {
		return nil, fmt.Errorf("history: listing revisions for %s: %w", remotePath, err)
	}

	out := make([]Revision, 0, len(revs))
	for _, r := range revs {
		out = append(out, Revision{ID: r.ID, ModifiedTime: r.ModifiedTime, Size: r.Size, Hash: r.Hash})
	}
	return out, nil
}

// Fetch retrieves one revision's content and verifies it against the hash
// the backend reported for it (if any). Returns ErrIntegrity, with no
// content, on a mismatch; the caller must not write the bytes to disk.
func (f *Facade) Fetch(remotePath string, rev Revision) ([]byte, error) {
	data, err := f.backend.GetRevisionContent(remotePath, rev.ID)
	if err != nil {
		return nil, fmt.Errorf("history: fetching revision %s of %s: %w", rev.ID, remotePath, err)
	}

	if rev.Hash == "" {
		return data, nil
	}

	got, err := content.HashReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("history: hashing fetched revision %s: %w", rev.ID, err)
	}
	if got != rev.Hash {
		return nil, fmt.Errorf("history: revision %s of %s: %w", rev.ID, remotePath, ErrIntegrity)
	}
	return data, nil
}

// Pin marks a revision to be kept indefinitely, bypassing the backend's
// normal retention expiry.
func (f *Facade) Pin(ctx context.Context, remotePath, revisionID string) error {
	if err := f.backend.PinRevision(ctx, remotePath, revisionID); err != nil {
		return fmt.Errorf("history: pinning revision %s of %s: %w", revisionID, remotePath, err)
	}
	return nil
}

// Delete removes a single retained or pinned revision.
func (f *Facade) Delete(ctx context.Context, remotePath, revisionID string) error {
	if err := f.backend.DeleteRevision(ctx, remotePath, revisionID); err != nil {
		return fmt.Errorf("history: deleting revision %s of %s: %w", revisionID, remotePath, err)
	}
	return nil
}
