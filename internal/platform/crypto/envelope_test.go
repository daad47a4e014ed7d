package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMasterKey() []byte {
	return []byte("01234567890123456789012345678901")
}

func TestEncryptDecryptCredential_RoundTrip(t *testing.T) {
	key := testMasterKey()
	ciphertext, err := EncryptCredential(key, "source-1", "access_token", []byte("secret-token"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ciphertext, "v1:"))

	plaintext, err := DecryptCredential(key, "source-1", "access_token", ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", string(plaintext))
}

func TestDecryptCredential_WrongSubjectFails(t *testing.T) {
	key := testMasterKey()
	ciphertext, err := EncryptCredential(key, "source-1", "access_token", []byte("secret-token"))
	require.NoError(t, err)

	_, err = DecryptCredential(key, "source-2", "access_token", ciphertext)
	require.Error(t, err)
}

func TestDecryptCredential_WrongFieldFails(t *testing.T) {
	key := testMasterKey()
	ciphertext, err := EncryptCredential(key, "source-1", "access_token", []byte("secret-token"))
	require.NoError(t, err)

	_, err = DecryptCredential(key, "source-1", "refresh_token", ciphertext)
	require.Error(t, err)
}

func TestEncryptCredential_EmptyPlaintext(t *testing.T) {
	key := testMasterKey()
	ciphertext, err := EncryptCredential(key, "source-1", "access_token", nil)
	require.NoError(t, err)
	assert.Empty(t, ciphertext)
}

func TestEncryptCredential_RejectsShortMasterKey(t *testing.T) {
	_, err := EncryptCredential([]byte("short"), "source-1", "access_token", []byte("x"))
	require.Error(t, err)
}
