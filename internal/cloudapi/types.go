package cloudapi

import "time"

// Item is a normalized remote file or folder, independent of the
// backend's wire format.
type Item struct {
	ID   string
	Name string
	// Path is the item's vault-relative, forward-slash-delimited path.
	// Populated on every listing/change response so the pipeline never
	// needs to reconstruct it from a parent-ID chain; the backend
	// addresses items by opaque ID, but every operation the pipeline
	// performs is keyed by path, so the adapter reports both.
	Path        string
	ParentID    string
	Size        int64
	Hash        string
	IsFolder    bool
	IsDeleted   bool
	ModifiedAt  time.Time
	DownloadURL string
}

// ChangeSet is one page of the remote change-cursor feed (component I's
// "change-cursor fast path").
type ChangeSet struct {
	Items       []Item
	NextCursor  string
	MoreResults bool
}
