package keystore

import (
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "secrets.json"))
}

func TestFileStoreGetMissingReturnsErrNotFound(t *testing.T) {
	fs := newTestFileStore(t)
	_, err := fs.GetSecret("password")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreSetThenGetRoundTrips(t *testing.T) {
	fs := newTestFileStore(t)
	require.NoError(t, fs.SetSecret("password", "s3cr3t"))

	got, err := fs.GetSecret("password")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", got)
}

func TestFileStoreSetOverwritesExisting(t *testing.T) {
	fs := newTestFileStore(t)
	require.NoError(t, fs.SetSecret("password", "first"))
	require.NoError(t, fs.SetSecret("password", "second"))

	got, err := fs.GetSecret("password")
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestFileStoreDeleteRemovesSecret(t *testing.T) {
	fs := newTestFileStore(t)
	require.NoError(t, fs.SetSecret("password", "s3cr3t"))
	require.NoError(t, fs.DeleteSecret("password"))

	_, err := fs.GetSecret("password")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreDeleteOnMissingSecretIsNoop(t *testing.T) {
	fs := newTestFileStore(t)
	require.NoError(t, fs.DeleteSecret("never-set"))
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.json")

	require.NoError(t, NewFileStore(path).SetSecret("password", "s3cr3t"))

	got, err := NewFileStore(path).GetSecret("password")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", got)
}

func TestFileStoreKeepsSecretsIndependent(t *testing.T) {
	fs := newTestFileStore(t)
	require.NoError(t, fs.SetSecret("password", "a"))
	require.NoError(t, fs.SetSecret("recovery-key", "b"))

	a, err := fs.GetSecret("password")
	require.NoError(t, err)
	b, err := fs.GetSecret("recovery-key")
	require.NoError(t, err)

	assert.Equal(t, "a", a)
	assert.Equal(t, "b", b)
}

// fakePrimary simulates an unavailable OS keyring backend for testing
// FallbackStore's fallback path without touching the real OS keyring.
type fakePrimary struct {
	err error
}

func (p fakePrimary) SetSecret(name, value string) error { return p.err }
func (p fakePrimary) GetSecret(name string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return "", ErrNotFound
}
func (p fakePrimary) DeleteSecret(name string) error { return p.err }

func TestFallbackStoreFallsBackWhenPrimaryErrors(t *testing.T) {
	store := &FallbackStore{
		primary:  fakePrimary{err: errors.New("no secret-service provider")},
		fallback: newTestFileStore(t),
	}
	store.logger = slog.Default()

	require.NoError(t, store.SetSecret("password", "s3cr3t"))

	got, err := store.GetSecret("password")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", got)
}

func TestFallbackStorePropagatesNotFoundFromPrimary(t *testing.T) {
	store := &FallbackStore{
		primary:  fakePrimary{},
		fallback: newTestFileStore(t),
	}
	store.logger = slog.Default()

	_, err := store.GetSecret("password")
	require.ErrorIs(t, err, ErrNotFound)
}
