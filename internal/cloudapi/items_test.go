package cloudapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, url string) *RESTAdapter {
	t.Helper()
	return NewRESTAdapter(newTestClient(t, url))
}

func TestStatByPathFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/root:/docs/notes.txt", r.URL.Path)
		json.NewEncoder(w).Encode(itemResponse{
			ID: "item-1", Name: "notes.txt", Size: 42, Hash: "abc",
			ModifiedTime: "2026-01-01T00:00:00Z",
		})
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	item, ok, err := a.StatByPath(context.Background(), "docs/notes.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "item-1", item.ID)
	assert.Equal(t, int64(42), item.Size)
}

func TestStatByPathNotFoundReturnsFalseNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	_, ok, err := a.StatByPath(context.Background(), "missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatByPathRejectsLeadingSlash(t *testing.T) {
	a := newTestAdapter(t, "http://unused.invalid")
	_, _, err := a.StatByPath(context.Background(), "/docs/notes.txt")
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestListChildrenFollowsPagination(t *testing.T) {
	pages := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		if r.URL.Query().Get("cursor") == "" {
			json.NewEncoder(w).Encode(listResponse{
				Items:      []itemResponse{{ID: "a", Name: "a.txt"}},
				NextCursor: "page2",
			})
			return
		}
		json.NewEncoder(w).Encode(listResponse{
			Items: []itemResponse{{ID: "b", Name: "b.txt"}},
		})
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	items, err := a.ListChildren(context.Background(), "folder-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "b", items[1].ID)
	assert.Equal(t, 2, pages)
}

func TestCreateFolderSendsConflictBehaviorFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req createFolderRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "fail", req.ConflictBehavior)
		assert.Equal(t, "newdir", req.Name)
		json.NewEncoder(w).Encode(itemResponse{ID: "folder-2", Name: "newdir", IsFolder: true})
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	item, err := a.CreateFolder(context.Background(), "parent-1", "newdir")
	require.NoError(t, err)
	assert.True(t, item.IsFolder)
}

func TestMoveRequiresAtLeastOneChange(t *testing.T) {
	a := newTestAdapter(t, "http://unused.invalid")
	_, err := a.Move(context.Background(), "item-1", "", "")
	assert.ErrorIs(t, err, ErrMoveNoChanges)
}

func TestMoveSendsPatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		var req moveItemRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "renamed.txt", req.NewName)
		json.NewEncoder(w).Encode(itemResponse{ID: "item-1", Name: "renamed.txt"})
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	item, err := a.Move(context.Background(), "item-1", "", "renamed.txt")
	require.NoError(t, err)
	assert.Equal(t, "renamed.txt", item.Name)
}

func TestDownloadWithNoURLFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(itemResponse{ID: "item-1", Name: "x"})
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	_, err := a.Download(context.Background(), "item-1", discardWriter{})
	assert.ErrorIs(t, err, ErrNoDownloadURL)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestGetChangesReportsMoreResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(listResponse{
			Items:      []itemResponse{{ID: "c", Name: "c.txt"}},
			NextCursor: "cursor-2",
		})
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	cs, err := a.GetChanges(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, cs.MoreResults)
	assert.Equal(t, "cursor-2", cs.NextCursor)
	require.Len(t, cs.Items, 1)
}

func TestUploadRoundTripsItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Contains(t, r.URL.RawQuery, fmt.Sprintf("parentId=%s", "root"))
		json.NewEncoder(w).Encode(itemResponse{ID: "item-9", Name: "up.txt", Size: 3})
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	item, err := a.Upload(context.Background(), "root", "up.txt", 3, nil)
	require.NoError(t, err)
	assert.Equal(t, "item-9", item.ID)
}
