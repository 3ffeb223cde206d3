package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptedKeyStoreWriteReadRoundTrips(t *testing.T) {
	ks, err := NewEncryptedKeyStore(t.TempDir(), []byte("a strong passphrase"))
	require.NoError(t, err)

	plaintext := []byte("identity private key bytes")
	require.NoError(t, ks.WriteEncrypted("identity.key", plaintext))

	got, err := ks.ReadEncrypted("identity.key")
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestEncryptedKeyStoreReadMissingFileFails(t *testing.T) {
	ks, err := NewEncryptedKeyStore(t.TempDir(), []byte("passphrase"))
	require.NoError(t, err)

	_, err = ks.ReadEncrypted("does-not-exist")
	assert.Error(t, err)
}

func TestEncryptedKeyStoreDeleteEncrypted(t *testing.T) {
	ks, err := NewEncryptedKeyStore(t.TempDir(), []byte("passphrase"))
	require.NoError(t, err)

	require.NoError(t, ks.WriteEncrypted("gone.key", []byte("bye")))
	require.NoError(t, ks.DeleteEncrypted("gone.key"))

	_, err = ks.ReadEncrypted("gone.key")
	assert.Error(t, err)
}

func TestEncryptedKeyStoreDeleteMissingFileIsNoop(t *testing.T) {
	ks, err := NewEncryptedKeyStore(t.TempDir(), []byte("passphrase"))
	require.NoError(t, err)
	assert.NoError(t, ks.DeleteEncrypted("never-existed"))
}

func TestNewEncryptedKeyStoreRejectsEmptyPassword(t *testing.T) {
	_, err := NewEncryptedKeyStore(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestEncryptedKeyStoreTwoInstancesSharePersistedSalt(t *testing.T) {
	dir := t.TempDir()

	ks1, err := NewEncryptedKeyStore(dir, []byte("same passphrase"))
	require.NoError(t, err)
	require.NoError(t, ks1.WriteEncrypted("shared.key", []byte("payload")))

	ks2, err := NewEncryptedKeyStore(dir, []byte("same passphrase"))
	require.NoError(t, err)

	got, err := ks2.ReadEncrypted("shared.key")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestEncryptedKeyStoreRotateKeyReencryptsData(t *testing.T) {
	dir := t.TempDir()
	ks, err := NewEncryptedKeyStore(dir, []byte("old passphrase"))
	require.NoError(t, err)

	plaintext := []byte("rotated secret")
	require.NoError(t, ks.WriteEncrypted("rotated.key", plaintext))

	require.NoError(t, ks.RotateKey([]byte("new passphrase")))

	got, err := ks.ReadEncrypted("rotated.key")
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestEncryptedKeyStoreCloseWipesKey(t *testing.T) {
	ks, err := NewEncryptedKeyStore(t.TempDir(), []byte("passphrase"))
	require.NoError(t, err)
	require.NoError(t, ks.WriteEncrypted("x.key", []byte("data")))
	require.NoError(t, ks.Close())

	var zero [32]byte
	assert.Equal(t, zero, ks.encryptionKey)
}
