package cloudapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// tokenFilePerms restricts the saved token to owner-only read/write, since
// it grants full access to the remote vault.
const tokenFilePerms = 0o600
const tokenDirPerms = 0o700

// tokenFile is the on-disk format: the OAuth2 token plus any cached
// metadata (account display name, etc.) alongside it.
type tokenFile struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// loadToken reads a saved token file. Returns (nil, nil, nil) if the file
// does not exist.
func loadToken(path string) (*oauth2.Token, map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("cloudapi: reading token file %s: %w", path, err)
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, nil, fmt.Errorf("cloudapi: decoding token file %s: %w", path, err)
	}
	if tf.Token == nil {
		return nil, nil, fmt.Errorf("cloudapi: %s missing token field (re-login required)", path)
	}
	return tf.Token, tf.Meta, nil
}

// saveToken writes a token file atomically (write-to-temp + rename) at
// 0600. Never logs the token value.
func saveToken(path string, tok *oauth2.Token, meta map[string]string) error {
	tf := tokenFile{Token: tok, Meta: meta}
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("cloudapi: encoding token file: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, tokenDirPerms); err != nil {
		return fmt.Errorf("cloudapi: creating token directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("cloudapi: creating temp token file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, tokenFilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("cloudapi: setting token file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cloudapi: writing token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cloudapi: closing temp token file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("cloudapi: renaming token file into place: %w", err)
	}
	success = true
	return nil
}
