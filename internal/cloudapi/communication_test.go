package cloudapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommunicationFileReadMissingReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	cf := NewCommunicationFile(a, "root-id")
	_, err := cf.Read()
	require.Error(t, err)
}

func TestCommunicationFileReadReturnsContent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/content", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"leases":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/items/comm-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(itemResponse{
			ID: "comm-1", Name: "communication.json", DownloadURL: srv.URL + "/content",
		})
	})
	mux.HandleFunc("/root:/.vaultsync/communication.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(itemResponse{ID: "comm-1", Name: "communication.json"})
	})

	a := newTestAdapter(t, srv.URL)
	cf := NewCommunicationFile(a, "root-id")
	data, err := cf.Read()
	require.NoError(t, err)
	assert.JSONEq(t, `{"leases":[]}`, string(data))
}

func TestCommunicationFileWriteUploads(t *testing.T) {
	var uploaded []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploaded, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(itemResponse{ID: "comm-1", Name: "communication.json"})
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	cf := NewCommunicationFile(a, "root-id")
	err := cf.Write([]byte(`{"leases":[{"path":"a"}]}`))
	require.NoError(t, err)
	assert.Contains(t, string(uploaded), "leases")
}
