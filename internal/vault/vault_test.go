package vault

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeAndUnlock(t *testing.T) {
	v := New(nil)
	blob, err := v.InitializeNewVault("correct horse battery staple")
	require.NoError(t, err)
	require.NotEmpty(t, blob)
	assert.True(t, v.Unlocked())

	fp, err := v.GetKeyFingerprint()
	require.NoError(t, err)
	assert.Len(t, fp, 8) // 4 bytes hex-encoded

	other := New(nil)
	require.NoError(t, other.UnlockVault(blob, "correct horse battery staple"))
	otherFP, err := other.GetKeyFingerprint()
	require.NoError(t, err)
	assert.Equal(t, fp, otherFP)
}

func TestUnlockWrongPasswordFails(t *testing.T) {
	v := New(nil)
	blob, err := v.InitializeNewVault("right-password")
	require.NoError(t, err)

	other := New(nil)
	err = other.UnlockVault(blob, "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidPassword)
	assert.False(t, other.Unlocked())
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := New(nil)
	_, err := v.InitializeNewVault("p4ssword")
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	ciphertext, err := v.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	back, err := v.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, back)
}

func TestEncryptFailsWhenLocked(t *testing.T) {
	v := New(nil)
	_, err := v.Encrypt([]byte("secret"))
	assert.ErrorIs(t, err, ErrLocked)
}

func TestDecryptDetectsTampering(t *testing.T) {
	v := New(nil)
	_, err := v.InitializeNewVault("p4ssword")
	require.NoError(t, err)

	ciphertext, err := v.Encrypt([]byte("secret"))
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err = v.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestUpdatePasswordPreservesMasterKey(t *testing.T) {
	v := New(nil)
	_, err := v.InitializeNewVault("p1")
	require.NoError(t, err)

	plaintext := []byte("unchanged across rotation")
	ciphertext, err := v.Encrypt(plaintext)
	require.NoError(t, err)

	newBlob, err := v.UpdatePassword("p2")
	require.NoError(t, err)

	back, err := v.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, back)

	other := New(nil)
	require.NoError(t, other.UnlockVault(newBlob, "p2"))
	backFromOther, err := other.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, backFromOther)

	stale := New(nil)
	err = stale.UnlockVault(newBlob, "p1")
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestExportAndRecoverFromCode(t *testing.T) {
	v := New(nil)
	_, err := v.InitializeNewVault("p1")
	require.NoError(t, err)

	code, err := v.ExportRecoveryCode()
	require.NoError(t, err)

	newBlob, err := v.RecoverFromCode(code, "p2")
	require.NoError(t, err)

	recovered := New(nil)
	require.NoError(t, recovered.UnlockVault(newBlob, "p2"))

	origFP, err := v.GetKeyFingerprint()
	require.NoError(t, err)
	recoveredFP, err := recovered.GetKeyFingerprint()
	require.NoError(t, err)
	assert.Equal(t, origFP, recoveredFP)
}

func TestExportRecoveryCodeRequiresUnlocked(t *testing.T) {
	v := New(nil)
	_, err := v.ExportRecoveryCode()
	assert.True(t, errors.Is(err, ErrLocked))
}
