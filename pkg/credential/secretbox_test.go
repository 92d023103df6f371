package credential

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *[32]byte {
	t.Helper()
	key, err := ParseKey(strings.Repeat("ab", 32))
	require.NoError(t, err)
	return key
}

func TestParseKey(t *testing.T) {
	t.Run("hex", func(t *testing.T) {
		key, err := ParseKey(strings.Repeat("01", 32))
		require.NoError(t, err)
		assert.Equal(t, byte(1), key[0])
	})

	t.Run("base64", func(t *testing.T) {
		key, err := ParseKey("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
		require.NoError(t, err)
		assert.Equal(t, byte(0), key[31])
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := ParseKey(hex.EncodeToString([]byte("short")))
		assert.Error(t, err)
	})
}

func TestSealOpenSecret(t *testing.T) {
	key := testKey(t)

	sealed, err := SealSecret(key, "smtp-password")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, SealedPrefix))
	assert.NotContains(t, sealed, "smtp-password")

	plain, err := OpenSecret(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, "smtp-password", plain)
}

func TestOpenSecret_Plain(t *testing.T) {
	plain, err := OpenSecret(nil, "not-sealed")
	require.NoError(t, err)
	assert.Equal(t, "not-sealed", plain)
}

func TestOpenSecret_Failures(t *testing.T) {
	key := testKey(t)
	sealed, err := SealSecret(key, "value")
	require.NoError(t, err)

	_, err = OpenSecret(nil, sealed)
	assert.ErrorIs(t, err, ErrDecrypt)

	other, err := ParseKey(strings.Repeat("cd", 32))
	require.NoError(t, err)
	_, err = OpenSecret(other, sealed)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = OpenSecret(key, SealedPrefix+"AAAA")
	assert.ErrorIs(t, err, ErrDecrypt)
}
