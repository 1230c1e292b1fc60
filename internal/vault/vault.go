// Package vault implements the E2EE vault-lock engine: generation,
// wrapping, unlocking, rotation, and recovery of a master content key,
// and the AES-GCM encrypt/decrypt primitives the sync pipeline uses to
// transform bytes at the remote boundary.
//
// The lock-file envelope is doubly encrypted: an inner layer wraps the
// master key under a PBKDF2-derived key, and an outer layer wraps that
// whole structure under a key derived from SHA-256(password) alone. The
// two derivations are independent so that compromising one does not
// reveal the other.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	masterKeySize  = 32 // 256-bit AES-GCM key
	saltSize       = 16
	ivSize         = 12
	pbkdf2Rounds   = 100_000
	envelopeAlgoID = "PBKDF2-SHA256-100k-AES-GCM-256"
)

// Sentinel errors classify vault failures.
var (
	ErrInvalidPassword = errors.New("vault: invalid password")
	ErrLocked          = errors.New("vault: locked")
	ErrIntegrity       = errors.New("vault: integrity check failed")
)

// innerEnvelope is the structure wrapped by the PBKDF2-derived key.
type innerEnvelope struct {
	Salt            string `json:"salt"`
	WrappedMasterKey string `json:"wrappedMasterKey"`
	IV              string `json:"iv"`
	Algo            string `json:"algo"`
}

// Vault holds the in-memory master key, which is all that rewrapping under
// a new password needs. The zero value is locked.
type Vault struct {
	mu         sync.RWMutex
	masterKey  []byte
	logger     *slog.Logger
}

// New constructs a locked Vault. A nil logger defaults to slog.Default().
func New(logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{logger: logger}
}

// InitializeNewVault creates a fresh 256-bit master key, wraps it under
// password, and returns the base64 lock-file blob to persist on remote.
// The new vault is left unlocked with the freshly generated key resident.
func (v *Vault) InitializeNewVault(password string) (string, error) {
	key := make([]byte, masterKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("vault: generating master key: %w", err)
	}

	blob, err := wrapMasterKey(key, password)
	if err != nil {
		return "", err
	}

	v.mu.Lock()
	v.masterKey = key
	v.mu.Unlock()

	v.logger.Info("vault initialized", "fingerprint", fingerprintOf(key))
	return blob, nil
}

// UnlockVault outer-decrypts blob, then inner-unwraps the master key under
// PBKDF2(password, salt), caching it in memory on success.
func (v *Vault) UnlockVault(blob, password string) error {
	key, err := unwrapMasterKey(blob, password)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.masterKey = key
	v.mu.Unlock()

	v.logger.Info("vault unlocked", "fingerprint", fingerprintOf(key))
	return nil
}

// Lock discards the in-memory master key.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.masterKey = nil
}

// Unlocked reports whether a master key is currently resident.
func (v *Vault) Unlocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.masterKey != nil
}

// Encrypt AES-GCM-encrypts plaintext under the resident master key with a
// fresh IV, returning iv||ciphertext. Fails with ErrLocked if no key is
// resident.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	key, err := v.residentKey()
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("vault: generating iv: %w", err)
	}

	return gcm.Seal(iv, iv, plaintext, nil), nil
}

// Decrypt reverses Encrypt: ciphertext must be iv||sealed as Encrypt
// produced it. Fails with ErrLocked if no key is resident, or ErrIntegrity
// if authentication fails.
func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	key, err := v.residentKey()
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < ivSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than iv", ErrIntegrity)
	}
	iv, sealed := ciphertext[:ivSize], ciphertext[ivSize:]

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return plaintext, nil
}

// UpdatePassword rewraps the resident master key under a new salt/IV and
// newPassword, returning a fresh lock-file blob. The master key itself is
// unchanged, so data already encrypted under it remains valid.
func (v *Vault) UpdatePassword(newPassword string) (string, error) {
	key, err := v.residentKey()
	if err != nil {
		return "", err
	}
	return wrapMasterKey(key, newPassword)
}

// ExportRecoveryCode returns the base64 of the raw resident master key.
// Requires the vault to be unlocked; this is the only operation that
// exposes raw key material outside the vault.
func (v *Vault) ExportRecoveryCode() (string, error) {
	key, err := v.residentKey()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// RecoverFromCode imports a raw key previously produced by
// ExportRecoveryCode, makes it resident, and rewraps it under newPassword,
// returning a fresh lock-file blob.
func (v *Vault) RecoverFromCode(code, newPassword string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(code)
	if err != nil {
		return "", fmt.Errorf("vault: decoding recovery code: %w", err)
	}
	if len(key) != masterKeySize {
		return "", fmt.Errorf("%w: recovery code is not a %d-byte key", ErrIntegrity, masterKeySize)
	}

	v.mu.Lock()
	v.masterKey = key
	v.mu.Unlock()

	return v.UpdatePassword(newPassword)
}

// GetKeyFingerprint returns the first 4 bytes of SHA-256 over the raw
// master key, hex-encoded, for display/verification without revealing the
// key itself.
func (v *Vault) GetKeyFingerprint() (string, error) {
	key, err := v.residentKey()
	if err != nil {
		return "", err
	}
	return fingerprintOf(key), nil
}

func (v *Vault) residentKey() ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.masterKey == nil {
		return nil, ErrLocked
	}
	return v.masterKey, nil
}

func fingerprintOf(key []byte) string {
	sum := sha256.Sum256(key)
	return fmt.Sprintf("%x", sum[:4])
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: constructing cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: constructing gcm: %w", err)
	}
	return gcm, nil
}

// outerKey derives the outer wrapping key directly from SHA-256(password),
// independent of the inner PBKDF2 derivation.
func outerKey(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return sum[:]
}

// wrapMasterKey builds the inner envelope (PBKDF2-wrapped master key),
// then outer-encrypts the whole JSON structure under SHA-256(password).
func wrapMasterKey(key []byte, password string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("vault: generating salt: %w", err)
	}

	innerKey := pbkdf2.Key([]byte(password), salt, pbkdf2Rounds, masterKeySize, sha256.New)

	innerGCM, err := newGCM(innerKey)
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("vault: generating iv: %w", err)
	}
	wrapped := innerGCM.Seal(nil, iv, key, nil)

	inner := innerEnvelope{
		Salt:             base64.StdEncoding.EncodeToString(salt),
		WrappedMasterKey: base64.StdEncoding.EncodeToString(wrapped),
		IV:               base64.StdEncoding.EncodeToString(iv),
		Algo:             envelopeAlgoID,
	}

	innerJSON, err := json.Marshal(inner)
	if err != nil {
		return "", fmt.Errorf("vault: marshaling lock-file envelope: %w", err)
	}

	outerGCM, err := newGCM(outerKey(password))
	if err != nil {
		return "", err
	}
	outerIV := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, outerIV); err != nil {
		return "", fmt.Errorf("vault: generating outer iv: %w", err)
	}
	outerSealed := outerGCM.Seal(outerIV, outerIV, innerJSON, nil)

	return base64.StdEncoding.EncodeToString(outerSealed), nil
}

// unwrapMasterKey reverses wrapMasterKey.
func unwrapMasterKey(blob, password string) ([]byte, error) {
	outerSealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed lock-file blob", ErrInvalidPassword)
	}

	outerGCM, err := newGCM(outerKey(password))
	if err != nil {
		return nil, err
	}
	if len(outerSealed) < ivSize {
		return nil, fmt.Errorf("%w: lock-file blob too short", ErrInvalidPassword)
	}
	outerIV, outerCiphertext := outerSealed[:ivSize], outerSealed[ivSize:]

	innerJSON, err := outerGCM.Open(nil, outerIV, outerCiphertext, nil)
	if err != nil {
		return nil, ErrInvalidPassword
	}

	var inner innerEnvelope
	if err := json.Unmarshal(innerJSON, &inner); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	salt, err := base64.StdEncoding.DecodeString(inner.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed salt", ErrIntegrity)
	}
	wrapped, err := base64.StdEncoding.DecodeString(inner.WrappedMasterKey)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed wrapped key", ErrIntegrity)
	}
	iv, err := base64.StdEncoding.DecodeString(inner.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed iv", ErrIntegrity)
	}

	innerKey := pbkdf2.Key([]byte(password), salt, pbkdf2Rounds, masterKeySize, sha256.New)
	innerGCM, err := newGCM(innerKey)
	if err != nil {
		return nil, err
	}

	key, err := innerGCM.Open(nil, iv, wrapped, nil)
	if err != nil {
		return nil, ErrInvalidPassword
	}

	return key, nil
}
