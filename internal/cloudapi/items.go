package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// listPageSize is the page size for paginated listing requests.
const listPageSize = 200

// ErrInvalidPath is returned when a remote path is empty or has a leading
// slash; both produce malformed backend URLs.
var ErrInvalidPath = errors.New("cloudapi: invalid remote path (empty or has leading slash)")

func validateRemotePath(remotePath string) error {
	if remotePath == "" || strings.HasPrefix(remotePath, "/") {
		return ErrInvalidPath
	}
	return nil
}

// encodePathSegments URL-encodes each segment of a slash-separated path so
// the result is safe for interpolation into backend URLs.
func encodePathSegments(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

// itemResponse mirrors the backend's item JSON shape. Unexported; callers
// use Item via toItem() normalization.
type itemResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	Hash         string `json:"hash"`
	IsFolder     bool   `json:"isFolder"`
	IsDeleted    bool   `json:"isDeleted"`
	ParentID     string `json:"parentId"`
	ModifiedTime string `json:"modifiedTime"`
	DownloadURL  string `json:"downloadUrl"`
}

func (r *itemResponse) toItem() Item {
	item := Item{
		ID:          r.ID,
		Name:        r.Name,
		Path:        r.Path,
		Size:        r.Size,
		Hash:        r.Hash,
		IsFolder:    r.IsFolder,
		IsDeleted:   r.IsDeleted,
		ParentID:    r.ParentID,
		DownloadURL: r.DownloadURL,
	}
	if t, err := time.Parse(time.RFC3339, r.ModifiedTime); err == nil {
		item.ModifiedAt = t
	} else {
		item.ModifiedAt = time.Now().UTC()
	}
	return item
}

type listResponse struct {
	Items      []itemResponse `json:"items"`
	NextCursor string         `json:"nextCursor"`
}

type createFolderRequest struct {
	Name             string `json:"name"`
	ParentID         string `json:"parentId"`
	ConflictBehavior string `json:"conflictBehavior"`
}

type moveItemRequest struct {
	NewParentID string `json:"newParentId,omitempty"`
	NewName     string `json:"newName,omitempty"`
}

// RESTAdapter implements Adapter against a generic opaque-file-ID REST
// backend over Client.
type RESTAdapter struct {
	client *Client
}

// NewRESTAdapter wraps client as an Adapter.
func NewRESTAdapter(client *Client) *RESTAdapter {
	return &RESTAdapter{client: client}
}

// Capabilities reports the REST backend's fixed capability set: it always
// supports the change-cursor feed, reports content hashes, and exposes
// revision history. The pipeline still takes the index-hash path on a pull
// that has no stored change cursor yet. Other Adapter implementations
// (a backend without a changes API) would return a narrower set.
func (a *RESTAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsChanges: true, SupportsHash: true, SupportsHistory: true}
}

func (a *RESTAdapter) fetchItem(ctx context.Context, apiPath string) (*Item, error) {
	resp, err := a.client.Do(ctx, http.MethodGet, apiPath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ir itemResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return nil, fmt.Errorf("cloudapi: decoding item response: %w", err)
	}
	item := ir.toItem()
	return &item, nil
}

// StatByPath retrieves item metadata for a path relative to the vault root.
// Returns ok=false (not an error) if the backend reports not-found.
func (a *RESTAdapter) StatByPath(ctx context.Context, remotePath string) (Item, bool, error) {
	if err := validateRemotePath(remotePath); err != nil {
		return Item{}, false, err
	}
	item, err := a.fetchItem(ctx, fmt.Sprintf("/root:/%s", encodePathSegments(remotePath)))
	if errors.Is(err, ErrNotFound) {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, err
	}
	if item.Path == "" {
		item.Path = remotePath
	}
	return *item, true, nil
}

// ListChildren lists every child of the folder identified by parentID,
// handling pagination automatically.
func (a *RESTAdapter) ListChildren(ctx context.Context, parentID string) ([]Item, error) {
	apiPath := fmt.Sprintf("/items/%s/children?limit=%d", parentID, listPageSize)

	var items []Item
	for apiPath != "" {
		resp, err := a.client.Do(ctx, http.MethodGet, apiPath, nil)
		if err != nil {
			return nil, err
		}

		var lr listResponse
		decErr := json.NewDecoder(resp.Body).Decode(&lr)
		resp.Body.Close()
		if decErr != nil {
			return nil, fmt.Errorf("cloudapi: decoding children response: %w", decErr)
		}

		for i := range lr.Items {
			items = append(items, lr.Items[i].toItem())
		}

		if lr.NextCursor == "" {
			break
		}
		apiPath = fmt.Sprintf("/items/%s/children?limit=%d&cursor=%s", parentID, listPageSize, url.QueryEscape(lr.NextCursor))
	}
	return items, nil
}

// CreateFolder creates a folder under parentID, failing on a name
// collision (ErrConflict).
func (a *RESTAdapter) CreateFolder(ctx context.Context, parentID, name string) (Item, error) {
	reqBody := createFolderRequest{Name: name, ParentID: parentID, ConflictBehavior: "fail"}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Item{}, fmt.Errorf("cloudapi: marshaling create folder request: %w", err)
	}

	resp, err := a.client.Do(ctx, http.MethodPost, "/items", bytes.NewReader(bodyBytes))
	if err != nil {
		return Item{}, err
	}
	defer resp.Body.Close()

	var ir itemResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return Item{}, fmt.Errorf("cloudapi: decoding create folder response: %w", err)
	}
	return ir.toItem(), nil
}

// ErrMoveNoChanges is returned when Move is called with both newParentID
// and newName empty.
var ErrMoveNoChanges = errors.New("cloudapi: move requires at least one of newParentID or newName")

// Move moves and/or renames itemID. At least one of newParentID or
// newName must be non-empty.
func (a *RESTAdapter) Move(ctx context.Context, itemID, newParentID, newName string) (Item, error) {
	if newParentID == "" && newName == "" {
		return Item{}, ErrMoveNoChanges
	}

	reqBody := moveItemRequest{NewParentID: newParentID, NewName: newName}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Item{}, fmt.Errorf("cloudapi: marshaling move request: %w", err)
	}

	resp, err := a.client.Do(ctx, http.MethodPatch, fmt.Sprintf("/items/%s", itemID), bytes.NewReader(bodyBytes))
	if err != nil {
		return Item{}, err
	}
	defer resp.Body.Close()

	var ir itemResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return Item{}, fmt.Errorf("cloudapi: decoding move response: %w", err)
	}
	return ir.toItem(), nil
}

// Delete removes itemID.
func (a *RESTAdapter) Delete(ctx context.Context, itemID string) error {
	resp, err := a.client.Do(ctx, http.MethodDelete, fmt.Sprintf("/items/%s", itemID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("cloudapi: draining delete response body: %w", err)
	}
	return nil
}

// ErrNoDownloadURL is returned when an item has no pre-authenticated
// download URL (folders or zero-byte items may lack one).
var ErrNoDownloadURL = errors.New("cloudapi: item has no download URL")

// Download streams itemID's content to w, returning bytes written.
func (a *RESTAdapter) Download(ctx context.Context, itemID string, w io.Writer) (int64, error) {
	item, err := a.fetchItem(ctx, fmt.Sprintf("/items/%s", itemID))
	if err != nil {
		return 0, fmt.Errorf("cloudapi: getting item for download: %w", err)
	}
	if item.DownloadURL == "" {
		return 0, ErrNoDownloadURL
	}
	return a.client.DownloadFromURL(ctx, item.DownloadURL, w)
}

// Upload streams content from r to a new or existing item at the given
// parent/name, overwriting any existing content.
func (a *RESTAdapter) Upload(ctx context.Context, parentID, name string, size int64, r io.Reader) (Item, error) {
	resp, err := a.client.Do(ctx, http.MethodPut,
		fmt.Sprintf("/items:upload?parentId=%s&name=%s", url.QueryEscape(parentID), url.QueryEscape(name)), r)
	if err != nil {
		return Item{}, err
	}
	defer resp.Body.Close()

	var ir itemResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return Item{}, fmt.Errorf("cloudapi: decoding upload response: %w", err)
	}
	return ir.toItem(), nil
}

// GetChanges returns the next page of the remote change-cursor feed,
// starting from cursor ("" to start from the current state, as the
// change-cursor fast path does on first run).
func (a *RESTAdapter) GetChanges(ctx context.Context, cursor string) (ChangeSet, error) {
	path := "/changes"
	if cursor != "" {
		path = "/changes?cursor=" + url.QueryEscape(cursor)
	}

	resp, err := a.client.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return ChangeSet{}, err
	}
	defer resp.Body.Close()

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return ChangeSet{}, fmt.Errorf("cloudapi: decoding changes response: %w", err)
	}

	items := make([]Item, 0, len(lr.Items))
	for i := range lr.Items {
		items = append(items, lr.Items[i].toItem())
	}
	return ChangeSet{Items: items, NextCursor: lr.NextCursor, MoreResults: lr.NextCursor != ""}, nil
}
