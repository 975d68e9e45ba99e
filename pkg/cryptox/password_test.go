package cryptox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	t.Run("produces PHC-format argon2id hashes", func(t *testing.T) {
		hash, err := HashPassword("correct horse battery staple")
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))
	})

	t.Run("same password hashes differently", func(t *testing.T) {
		a, err := HashPassword("secret")
		require.NoError(t, err)
		b, err := HashPassword("secret")
		require.NoError(t, err)
		require.NotEqual(t, a, b, "salts must differ")
	})
}

func TestVerifyPassword(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		hash, err := HashPassword("s3cret-passw0rd")
		require.NoError(t, err)
		require.NoError(t, VerifyPassword("s3cret-passw0rd", hash))
	})

	t.Run("wrong password", func(t *testing.T) {
		hash, err := HashPassword("right")
		require.NoError(t, err)
		require.ErrorIs(t, VerifyPassword("wrong", hash), ErrPasswordMismatch)
	})

	t.Run("malformed hash", func(t *testing.T) {
		require.Error(t, VerifyPassword("pw", "not-a-hash"))
		require.Error(t, VerifyPassword("pw", "$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA"))
	})
}

func TestPepper(t *testing.T) {
	defer SetPepper("")

	SetPepper("")
	hash, err := HashPassword("secret")
	require.NoError(t, err)

	SetPepper("extra-server-side-secret")
	require.ErrorIs(t, VerifyPassword("secret", hash), ErrPasswordMismatch,
		"hash made without pepper must not verify once a pepper is set")

	peppered, err := HashPassword("secret")
	require.NoError(t, err)
	require.NoError(t, VerifyPassword("secret", peppered))
}
