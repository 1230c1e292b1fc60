// Package keystore provides an opaque get/set/delete store for named
// secrets. The reconciliation engine never imports this package;
// it exists only so a CLI can optionally persist the vault password for
// auto-unlock.
package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

// ErrNotFound is returned when the named secret has no stored value.
var ErrNotFound = errors.New("keystore: secret not found")

// Keystore is the capability interface: set, get, delete, named by an
// opaque string key.
type Keystore interface {
	SetSecret(name, value string) error
	GetSecret(name string) (string, error)
	DeleteSecret(name string) error
}

// serviceName is the OS keyring's service identifier, grouping every
// secret this module stores under one namespace.
const serviceName = "vaultsync"

// filePerms restricts the fallback secrets file to owner-only access,
// since it stores vault unlock material in the clear.
const filePerms = 0o600
const dirPerms = 0o700

// KeyringStore backs Keystore with the OS credential store (macOS
// Keychain, Windows Credential Manager, Linux Secret Service over D-Bus)
// via zalando/go-keyring.
type KeyringStore struct{}

// NewKeyringStore returns a Keystore backed by the OS credential store.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (KeyringStore) SetSecret(name, value string) error {
	if err := keyring.Set(serviceName, name, value); err != nil {
		return fmt.Errorf("keystore: setting %s in OS keyring: %w", name, err)
	}
	return nil
}

func (KeyringStore) GetSecret(name string) (string, error) {
	value, err := keyring.Get(serviceName, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keystore: getting %s from OS keyring: %w", name, err)
	}
	return value, nil
}

func (KeyringStore) DeleteSecret(name string) error {
	if err := keyring.Delete(serviceName, name); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keystore: deleting %s from OS keyring: %w", name, err)
	}
	return nil
}

// secretsFile is the on-disk format for FileStore.
type secretsFile struct {
	Secrets map[string]string `json:"secrets"`
}

// FileStore backs Keystore with a single 0600 JSON file, used on
// platforms with no OS credential store (headless Linux without a
// secret-service provider). Grounded on internal/cloudapi/tokenstore.go's
// atomic write-to-temp-then-rename pattern, reused here for the same
// owner-only-access reasoning.
type FileStore struct {
	path string
}

// NewFileStore returns a Keystore backed by a secrets file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) load() (secretsFile, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return secretsFile{Secrets: map[string]string{}}, nil
	}
	if err != nil {
		return secretsFile{}, fmt.Errorf("keystore: reading %s: %w", f.path, err)
	}
	var sf secretsFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return secretsFile{}, fmt.Errorf("keystore: decoding %s: %w", f.path, err)
	}
	if sf.Secrets == nil {
		sf.Secrets = map[string]string{}
	}
	return sf, nil
}

func (f *FileStore) save(sf secretsFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("keystore: encoding secrets file: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return fmt.Errorf("keystore: creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".secrets-*.tmp")
	if err != nil {
		return fmt.Errorf("keystore: creating temp secrets file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, filePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("keystore: setting secrets file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("keystore: writing secrets file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("keystore: closing temp secrets file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("keystore: renaming secrets file into place: %w", err)
	}
	success = true
	return nil
}

func (f *FileStore) SetSecret(name, value string) error {
	sf, err := f.load()
	if err != nil {
		return err
	}
	sf.Secrets[name] = value
	return f.save(sf)
}

func (f *FileStore) GetSecret(name string) (string, error) {
	sf, err := f.load()
	if err != nil {
		return "", err
	}
	value, ok := sf.Secrets[name]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (f *FileStore) DeleteSecret(name string) error {
	sf, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := sf.Secrets[name]; !ok {
		return nil
	}
	delete(sf.Secrets, name)
	return f.save(sf)
}

// FallbackStore tries the OS keyring first and falls back to a file store
// whenever the keyring backend is unavailable (e.g. no secret-service
// provider running), logging a warning each time it falls back.
type FallbackStore struct {
	primary  Keystore
	fallback *FileStore
	logger   *slog.Logger
}

// New returns a Keystore that prefers the OS credential store and falls
// back to a 0600 file at fallbackPath when the OS store errors.
func New(fallbackPath string, logger *slog.Logger) *FallbackStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackStore{
		primary:  NewKeyringStore(),
		fallback: NewFileStore(fallbackPath),
		logger:   logger,
	}
}

func (s *FallbackStore) SetSecret(name, value string) error {
	if err := s.primary.SetSecret(name, value); err != nil {
		s.logger.Warn("OS keyring unavailable, using file-backed fallback", "error", err.Error())
		return s.fallback.SetSecret(name, value)
	}
	return nil
}

func (s *FallbackStore) GetSecret(name string) (string, error) {
	value, err := s.primary.GetSecret(name)
	if err == nil {
		return value, nil
	}
	if errors.Is(err, ErrNotFound) {
		return "", ErrNotFound
	}
	s.logger.Warn("OS keyring unavailable, using file-backed fallback", "error", err.Error())
	return s.fallback.GetSecret(name)
}

func (s *FallbackStore) DeleteSecret(name string) error {
	if err := s.primary.DeleteSecret(name); err != nil {
		s.logger.Warn("OS keyring unavailable, using file-backed fallback", "error", err.Error())
		return s.fallback.DeleteSecret(name)
	}
	return nil
}

var _ Keystore = (*KeyringStore)(nil)
var _ Keystore = (*FileStore)(nil)
var _ Keystore = (*FallbackStore)(nil)
