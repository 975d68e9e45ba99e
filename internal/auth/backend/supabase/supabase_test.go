package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradekit/authcore/internal/auth/backend"
)

const testAPIKey = "service-key"

// newGoTrueStub runs a minimal GoTrue lookalike and returns a Backend
// pointed at it.
func newGoTrueStub(t *testing.T, handler http.HandlerFunc) *Backend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, testAPIKey, 5*time.Second)
}

func writeToken(w http.ResponseWriter) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  "jwt-abc",
		"refresh_token": "refresh-abc",
		"expires_in":    3600,
		"user": map[string]any{
			"id":            "user-1",
			"email":         "alice@example.com",
			"created_at":    time.Now().UTC().Format(time.RFC3339),
			"user_metadata": map[string]any{"plan": "free"},
		},
	})
}

func TestSignIn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("password grant", func(t *testing.T) {
		t.Parallel()
		var gotPath, gotAPIKey string
		var gotBody map[string]any
		b := newGoTrueStub(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path + "?" + r.URL.RawQuery
			gotAPIKey = r.Header.Get("apikey")
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			writeToken(w)
		})

		sess, u, err := b.SignIn(ctx, "alice@example.com", "pw")
		require.NoError(t, err)
		assert.Equal(t, "/auth/v1/token?grant_type=password", gotPath)
		assert.Equal(t, testAPIKey, gotAPIKey)
		assert.Equal(t, "alice@example.com", gotBody["email"])
		assert.Equal(t, "jwt-abc", sess.AccessToken)
		assert.Equal(t, "user-1", sess.UserID)
		assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, 5*time.Second)
		assert.Equal(t, "free", u.Metadata["plan"])
	})

	t.Run("invalid grant is 400", func(t *testing.T) {
		t.Parallel()
		b := newGoTrueStub(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
		})

		_, _, err := b.SignIn(ctx, "alice@example.com", "wrong")
		require.ErrorIs(t, err, backend.ErrInvalidCredentials)
		assert.NotContains(t, err.Error(), "invalid_grant", "provider bodies stay server side")
	})
}

func TestSignUp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("immediate session", func(t *testing.T) {
		t.Parallel()
		b := newGoTrueStub(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/auth/v1/signup", r.URL.Path)
			writeToken(w)
		})

		sess, u, err := b.SignUp(ctx, "alice@example.com", "pw", map[string]any{"plan": "free"})
		require.NoError(t, err)
		require.NotNil(t, sess)
		assert.Equal(t, "user-1", u.ID)
	})

	t.Run("confirmation pending returns no session", func(t *testing.T) {
		t.Parallel()
		b := newGoTrueStub(t, func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"user": map[string]any{"id": "user-1", "email": "alice@example.com"},
			})
		})

		sess, u, err := b.SignUp(ctx, "alice@example.com", "pw", nil)
		require.NoError(t, err)
		assert.Nil(t, sess)
		assert.Equal(t, "user-1", u.ID)
	})

	t.Run("duplicate account", func(t *testing.T) {
		t.Parallel()
		b := newGoTrueStub(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"msg":"User already registered"}`, http.StatusUnprocessableEntity)
		})

		_, _, err := b.SignUp(ctx, "alice@example.com", "pw", nil)
		require.ErrorIs(t, err, backend.ErrUserExists)
	})
}

func TestGetUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("bearer is the access token", func(t *testing.T) {
		t.Parallel()
		b := newGoTrueStub(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/auth/v1/user", r.URL.Path)
			assert.Equal(t, "Bearer jwt-abc", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "user-1", "email": "alice@example.com"})
		})

		u, err := b.GetUser(ctx, "jwt-abc")
		require.NoError(t, err)
		assert.Equal(t, "user-1", u.ID)
	})

	t.Run("rejected token maps to the sentinel", func(t *testing.T) {
		t.Parallel()
		b := newGoTrueStub(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"msg":"invalid JWT"}`, http.StatusUnauthorized)
		})

		_, err := b.GetUser(ctx, "expired-jwt")
		require.ErrorIs(t, err, backend.ErrInvalidToken)
	})
}

func TestRefreshSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("refresh grant", func(t *testing.T) {
		t.Parallel()
		var gotBody map[string]any
		b := newGoTrueStub(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "grant_type=refresh_token", r.URL.RawQuery)
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			writeToken(w)
		})

		sess, _, err := b.RefreshSession(ctx, "old-refresh")
		require.NoError(t, err)
		assert.Equal(t, "old-refresh", gotBody["refresh_token"])
		assert.Equal(t, "refresh-abc", sess.RefreshToken)
	})

	t.Run("revoked token", func(t *testing.T) {
		t.Parallel()
		b := newGoTrueStub(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"msg":"refresh token not found"}`, http.StatusNotFound)
		})

		_, _, err := b.RefreshSession(ctx, "revoked")
		require.ErrorIs(t, err, backend.ErrInvalidToken)
	})
}

func TestSignOut(t *testing.T) {
	t.Parallel()

	var gotAuth string
	b := newGoTrueStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/logout", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, b.SignOut(context.Background(), "jwt-abc"))
	assert.Equal(t, "Bearer jwt-abc", gotAuth)
}

func TestResetPasswordForEmail(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	b := newGoTrueStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/recover", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
	})

	require.NoError(t, b.ResetPasswordForEmail(context.Background(), "alice@example.com"))
	assert.Equal(t, "alice@example.com", gotBody["email"])
}

func TestSignInWithOAuth(t *testing.T) {
	t.Parallel()

	b := New("https://project.supabase.co", testAPIKey, 0)

	u, err := b.SignInWithOAuth(context.Background(), "github", "https://app.example.test/after")
	require.NoError(t, err)
	assert.Equal(t,
		"https://project.supabase.co/auth/v1/authorize?provider=github&redirect_to=https%3A%2F%2Fapp.example.test%2Fafter",
		u)

	_, err = b.SignInWithOAuth(context.Background(), "", "")
	require.ErrorIs(t, err, backend.ErrUnsupported)
}

func TestExchangeCodeForSession(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	b := newGoTrueStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "grant_type=pkce", r.URL.RawQuery)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeToken(w)
	})

	sess, _, err := b.ExchangeCodeForSession(context.Background(), "auth-code-1")
	require.NoError(t, err)
	assert.Equal(t, "auth-code-1", gotBody["auth_code"])
	assert.Equal(t, "jwt-abc", sess.AccessToken)
}

func TestProviderOutage(t *testing.T) {
	t.Parallel()

	b := newGoTrueStub(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, _, err := b.SignIn(context.Background(), "alice@example.com", "pw")
	require.Error(t, err)
	require.NotErrorIs(t, err, backend.ErrInvalidCredentials)
	require.NotErrorIs(t, err, backend.ErrInvalidToken)
}
