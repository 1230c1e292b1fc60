package cloudapi

import (
	"context"
	"io"

	"github.com/quietloop/vaultsync/internal/conflict"
)

// Capabilities reports which optional capability surfaces a backend
// supports, discoverable at runtime: the smart
// sync pipeline consults SupportsChanges before attempting the
// change-cursor fast path, falling back to the index-hash/full-diff path
// when it is false.
type Capabilities struct {
	SupportsChanges bool // getStartPageToken/getChanges change-cursor feed
	SupportsHash    bool // backend reports a content hash in Item.Hash
	SupportsHistory bool // listRevisions/getRevisionContent/revisions
}

// Adapter is the full capability surface the smart sync pipeline needs
// from a remote vault backend: item CRUD, content transfer, the
// change-cursor feed, and (via conflict.History) revision listing. Kept
// as a single named interface so the pipeline depends on one
// capability rather than importing RESTAdapter directly.
type Adapter interface {
	Capabilities() Capabilities
	StatByPath(ctx context.Context, remotePath string) (Item, bool, error)
	ListChildren(ctx context.Context, parentID string) ([]Item, error)
	CreateFolder(ctx context.Context, parentID, name string) (Item, error)
	Move(ctx context.Context, itemID, newParentID, newName string) (Item, error)
	Delete(ctx context.Context, itemID string) error
	Download(ctx context.Context, itemID string, w io.Writer) (int64, error)
	Upload(ctx context.Context, parentID, name string, size int64, r io.Reader) (Item, error)
	GetChanges(ctx context.Context, cursor string) (ChangeSet, error)

	conflict.History
}

var _ Adapter = (*RESTAdapter)(nil)
