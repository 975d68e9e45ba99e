package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradekit/authcore/internal/auth/backend"
	"github.com/tradekit/authcore/internal/auth/store/drivers/sqlite"
	"github.com/tradekit/authcore/pkg/cryptox"
	"github.com/tradekit/authcore/pkg/jwtx"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestBackend(t *testing.T) *Backend {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	signer, err := jwtx.NewSigner([]byte(testSecret), "authcore-test", time.Hour)
	require.NoError(t, err)

	return New(st, signer, 24*time.Hour)
}

func signUp(t *testing.T, b *Backend, email, password string) string {
	t.Helper()
	_, u, err := b.SignUp(context.Background(), email, password, nil)
	require.NoError(t, err)
	return u.ID
}

func TestSignIn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()
		b := newTestBackend(t)
		userID := signUp(t, b, "alice@example.com", "Sup3r$ecret-pw")

		sess, u, err := b.SignIn(ctx, "alice@example.com", "Sup3r$ecret-pw")
		require.NoError(t, err)
		assert.Equal(t, userID, u.ID)
		assert.Equal(t, userID, sess.UserID)
		assert.NotEmpty(t, sess.AccessToken)
		assert.NotEmpty(t, sess.RefreshToken)
		require.NotNil(t, u.LastSignInAt)

		// The issued access token resolves back to the account.
		got, err := b.GetUser(ctx, sess.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, userID, got.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		t.Parallel()
		b := newTestBackend(t)
		signUp(t, b, "alice@example.com", "Sup3r$ecret-pw")

		_, _, err := b.SignIn(ctx, "alice@example.com", "not-the-password")
		require.ErrorIs(t, err, backend.ErrInvalidCredentials)
	})

	t.Run("unknown account gets the same error", func(t *testing.T) {
		t.Parallel()
		b := newTestBackend(t)

		_, _, err := b.SignIn(ctx, "nobody@example.com", "whatever-pw")
		require.ErrorIs(t, err, backend.ErrInvalidCredentials)
	})
}

func TestSignUp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("stores a hash and signs straight in", func(t *testing.T) {
		t.Parallel()
		b := newTestBackend(t)

		sess, u, err := b.SignUp(ctx, "bob@example.com", "Sup3r$ecret-pw", map[string]any{"plan": "free"})
		require.NoError(t, err)
		require.NotNil(t, sess)
		assert.Equal(t, u.ID, sess.UserID)

		stored, err := b.Store.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.NotEqual(t, "Sup3r$ecret-pw", stored.PasswordHash)
		require.NoError(t, cryptox.VerifyPassword("Sup3r$ecret-pw", stored.PasswordHash))
	})

	t.Run("duplicate email", func(t *testing.T) {
		t.Parallel()
		b := newTestBackend(t)
		signUp(t, b, "bob@example.com", "Sup3r$ecret-pw")

		_, _, err := b.SignUp(ctx, "bob@example.com", "An0ther$ecret", nil)
		require.ErrorIs(t, err, backend.ErrUserExists)
	})
}

func TestGetUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := newTestBackend(t)
	signUp(t, b, "alice@example.com", "Sup3r$ecret-pw")

	_, err := b.GetUser(ctx, "not-a-jwt")
	require.ErrorIs(t, err, backend.ErrInvalidToken)

	// A well-formed token for a deleted account is just as invalid.
	orphan, _, err := b.Signer.Sign("ghost-user", "ghost@example.com", time.Now())
	require.NoError(t, err)
	_, err = b.GetUser(ctx, orphan)
	require.ErrorIs(t, err, backend.ErrInvalidToken)
}

func TestRefreshSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("rotates the refresh token", func(t *testing.T) {
		t.Parallel()
		b := newTestBackend(t)
		signUp(t, b, "alice@example.com", "Sup3r$ecret-pw")
		sess, _, err := b.SignIn(ctx, "alice@example.com", "Sup3r$ecret-pw")
		require.NoError(t, err)

		next, u, err := b.RefreshSession(ctx, sess.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, sess.UserID, u.ID)
		assert.NotEqual(t, sess.RefreshToken, next.RefreshToken)

		// The consumed token died with the rotation.
		_, _, err = b.RefreshSession(ctx, sess.RefreshToken)
		require.ErrorIs(t, err, backend.ErrInvalidToken)

		// The replacement works.
		_, _, err = b.RefreshSession(ctx, next.RefreshToken)
		require.NoError(t, err)
	})

	t.Run("unknown token", func(t *testing.T) {
		t.Parallel()
		b := newTestBackend(t)

		_, _, err := b.RefreshSession(ctx, "never-issued")
		require.ErrorIs(t, err, backend.ErrInvalidToken)
	})

	t.Run("expired token", func(t *testing.T) {
		t.Parallel()
		b := newTestBackend(t)
		signUp(t, b, "alice@example.com", "Sup3r$ecret-pw")

		b.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
		sess, _, err := b.SignIn(ctx, "alice@example.com", "Sup3r$ecret-pw")
		require.NoError(t, err)
		b.now = time.Now

		_, _, err = b.RefreshSession(ctx, sess.RefreshToken)
		require.ErrorIs(t, err, backend.ErrInvalidToken)
	})
}

func TestSignOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("revokes every refresh token for the account", func(t *testing.T) {
		t.Parallel()
		b := newTestBackend(t)
		signUp(t, b, "alice@example.com", "Sup3r$ecret-pw")

		first, _, err := b.SignIn(ctx, "alice@example.com", "Sup3r$ecret-pw")
		require.NoError(t, err)
		second, _, err := b.SignIn(ctx, "alice@example.com", "Sup3r$ecret-pw")
		require.NoError(t, err)

		require.NoError(t, b.SignOut(ctx, first.AccessToken))

		_, _, err = b.RefreshSession(ctx, first.RefreshToken)
		require.ErrorIs(t, err, backend.ErrInvalidToken)
		_, _, err = b.RefreshSession(ctx, second.RefreshToken)
		require.ErrorIs(t, err, backend.ErrInvalidToken)
	})

	t.Run("garbage token is a no-op", func(t *testing.T) {
		t.Parallel()
		b := newTestBackend(t)
		require.NoError(t, b.SignOut(ctx, "not-a-jwt"))
	})
}

func TestResetPasswordForEmail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := newTestBackend(t)
	signUp(t, b, "alice@example.com", "Sup3r$ecret-pw")

	require.NoError(t, b.ResetPasswordForEmail(ctx, "alice@example.com"))
	require.NoError(t, b.ResetPasswordForEmail(ctx, "nobody@example.com"), "unknown accounts are indistinguishable")
}

func TestOAuthUnsupported(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := newTestBackend(t)
	_, err := b.SignInWithOAuth(ctx, "github", "")
	require.ErrorIs(t, err, backend.ErrUnsupported)
	_, _, err = b.ExchangeCodeForSession(ctx, "code")
	require.ErrorIs(t, err, backend.ErrUnsupported)
}
