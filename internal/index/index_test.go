package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json.gz")

	s := New(path, nil)
	s.Put("docs/a.txt", Entry{FileID: "f1", MTime: 100, Size: 5, Hash: "abc", LastAction: ActionPush})
	s.SetStartPageToken("token-1")
	require.NoError(t, s.Save())

	loaded := New(path, nil)
	require.NoError(t, loaded.Load())

	e, ok := loaded.Get("docs/a.txt")
	require.True(t, ok)
	assert.Equal(t, "f1", e.FileID)
	assert.Equal(t, ActionPush, e.LastAction)
	require.NotNil(t, loaded.StartPageToken())
	assert.Equal(t, "token-1", *loaded.StartPageToken())
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json.gz")

	s := New(path, nil)
	require.NoError(t, s.Load())
	assert.Equal(t, 0, s.Len())
}

func TestLoadFallsBackToRawWhenCanonicalCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json.gz")

	s := New(path, nil)
	s.Put("a.txt", Entry{FileID: "f1", Hash: "h1"})
	require.NoError(t, s.Save())

	require.NoError(t, os.WriteFile(path, []byte("not valid gzip or json"), 0o600))

	loaded := New(path, nil)
	require.NoError(t, loaded.Load())
	e, ok := loaded.Get("a.txt")
	require.True(t, ok)
	assert.Equal(t, "h1", e.Hash)
}

func TestLoadStartsEmptyWhenBothFilesCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json.gz")

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))
	require.NoError(t, os.WriteFile(rawPath(path), []byte("also garbage"), 0o600))

	s := New(path, nil)
	require.NoError(t, s.Load())
	assert.Equal(t, 0, s.Len())
}

func TestReplaceAllCheckBlocksBigDelete(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "index.json.gz"), nil)

	for i := 0; i < 100; i++ {
		s.Put(filepath.Join("d", string(rune('a'+i%26)), "f"), Entry{Hash: "x"})
	}

	newPaths := map[string]Entry{"only-one": {Hash: "x"}}
	err := s.ReplaceAllCheck(newPaths, 1000, 50)
	assert.ErrorIs(t, err, ErrRemoteCorruption)
}

func TestReplaceAllCheckBlocksSafetyHaltOnEmptyRemote(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "index.json.gz"), nil)
	for i := 0; i < 25; i++ {
		s.Put(filepath.Join("d", string(rune('a'+i))), Entry{Hash: "x"})
	}

	err := s.ReplaceAllCheck(map[string]Entry{}, 0, 0)
	assert.ErrorIs(t, err, ErrSafetyHalt)
}

func TestReplaceAllCheckAllowsNormalUpdate(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "index.json.gz"), nil)
	s.Put("a", Entry{Hash: "1"})
	s.Put("b", Entry{Hash: "2"})

	err := s.ReplaceAllCheck(map[string]Entry{"a": {Hash: "1"}, "b": {Hash: "2"}, "c": {Hash: "3"}}, 500, 3)
	assert.NoError(t, err)
}

func TestDeleteAndPaths(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "index.json.gz"), nil)
	s.Put("a", Entry{Hash: "1"})
	s.Put("b", Entry{Hash: "2"})
	s.Delete("a")

	assert.Equal(t, []string{"b"}, s.Paths())
}
