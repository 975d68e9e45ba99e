package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	t.Run("128-bit tokens are 22 chars", func(t *testing.T) {
		token, err := GenerateToken(TokenSize128)
		require.NoError(t, err)
		require.Len(t, token, 22)
	})

	t.Run("256-bit tokens are 43 chars", func(t *testing.T) {
		token, err := GenerateToken(TokenSize256)
		require.NoError(t, err)
		require.Len(t, token, 43)
	})

	t.Run("tokens are unique", func(t *testing.T) {
		seen := make(map[string]bool)
		for range 100 {
			token, err := GenerateToken(TokenSize128)
			require.NoError(t, err)
			require.False(t, seen[token], "duplicate token generated")
			seen[token] = true
		}
	})

	t.Run("rejects non-positive sizes", func(t *testing.T) {
		_, err := GenerateToken(0)
		require.Error(t, err)

		_, err = GenerateToken(-1)
		require.Error(t, err)
	})
}

func TestFingerprintToken(t *testing.T) {
	t.Parallel()

	t.Run("deterministic", func(t *testing.T) {
		require.Equal(t, FingerprintToken("abc"), FingerprintToken("abc"))
	})

	t.Run("distinct inputs produce distinct fingerprints", func(t *testing.T) {
		require.NotEqual(t, FingerprintToken("abc"), FingerprintToken("abd"))
	})

	t.Run("fingerprint does not contain the token", func(t *testing.T) {
		token := MustGenerateToken(TokenSize256)
		require.NotContains(t, FingerprintToken(token), token)
	})
}
