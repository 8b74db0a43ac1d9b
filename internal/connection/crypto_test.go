package connection

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *TokenCipher {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, 32)
	cipher, err := NewTokenCipher(key)
	require.NoError(t, err)
	return cipher
}

func TestTokenCipherRoundTrip(t *testing.T) {
	cipher := newTestCipher(t)

	sealed, err := cipher.Seal("refresh-token-material")
	require.NoError(t, err)

	opened, err := cipher.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "refresh-token-material", opened)
}

func TestTokenCipherNoncesDiffer(t *testing.T) {
	cipher := newTestCipher(t)

	first, err := cipher.Seal("same-token")
	require.NoError(t, err)
	second, err := cipher.Seal("same-token")
	require.NoError(t, err)

	require.NotEqual(t, first, second)
}

func TestTokenCipherRejectsTamperedCiphertext(t *testing.T) {
	cipher := newTestCipher(t)

	sealed, err := cipher.Seal("access-token")
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0x01

	_, err = cipher.Open(sealed)
	require.Error(t, err)
}

func TestTokenCipherRejectsShortCiphertext(t *testing.T) {
	cipher := newTestCipher(t)

	_, err := cipher.Open([]byte("short"))
	require.Error(t, err)
}

func TestNewTokenCipherRejectsBadKeySize(t *testing.T) {
	_, err := NewTokenCipher([]byte("too-short"))
	require.Error(t, err)
}
