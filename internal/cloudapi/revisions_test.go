package cloudapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListRevisionsReturnsEmptyForMissingItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	revs, err := a.ListRevisions("missing.txt")
	require.NoError(t, err)
	assert.Nil(t, revs)
}

func TestListRevisionsDecodesEachEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/revisions") {
			json.NewEncoder(w).Encode(listRevisionsResponse{
				Revisions: []revisionResponse{
					{ID: "rev-1", Size: 10, Hash: "h1", ModifiedTime: "2026-01-01T00:00:00Z"},
					{ID: "rev-2", Size: 20, Hash: "h2", ModifiedTime: "2026-01-02T00:00:00Z"},
				},
			})
			return
		}
		json.NewEncoder(w).Encode(itemResponse{ID: "item-1", Name: "notes.txt"})
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	revs, err := a.ListRevisions("notes.txt")
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, "rev-1", revs[0].ID)
	assert.Equal(t, int64(20), revs[1].Size)
}

func TestGetRevisionContentReturnsNotFoundForMissingItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	_, err := a.GetRevisionContent("missing.txt", "rev-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetRevisionContentReturnsBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/content") {
			w.Write([]byte("old file contents"))
			return
		}
		json.NewEncoder(w).Encode(itemResponse{ID: "item-1", Name: "notes.txt"})
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	data, err := a.GetRevisionContent("notes.txt", "rev-1")
	require.NoError(t, err)
	assert.Equal(t, "old file contents", string(data))
}

func TestPinRevisionPosts(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/pin") {
			gotMethod = r.Method
			return
		}
		json.NewEncoder(w).Encode(itemResponse{ID: "item-1", Name: "notes.txt"})
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	err := a.PinRevision(context.Background(), "notes.txt", "rev-1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
}

func TestDeleteRevisionSendsDelete(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/revisions/rev-1") {
			gotMethod = r.Method
			return
		}
		json.NewEncoder(w).Encode(itemResponse{ID: "item-1", Name: "notes.txt"})
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	err := a.DeleteRevision(context.Background(), "notes.txt", "rev-1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
}
