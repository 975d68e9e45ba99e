package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradekit/authcore/internal/auth/backend"
	"github.com/tradekit/authcore/internal/auth/domain"
	"github.com/tradekit/authcore/internal/auth/service"
	"github.com/tradekit/authcore/internal/auth/store/drivers/sqlite"
	"github.com/tradekit/authcore/pkg/httpx"
	"github.com/tradekit/authcore/pkg/ratestore"
)

// stubBackend is an in-memory identity provider for router tests. It accepts
// a single configured credential pair and tracks calls.
type stubBackend struct {
	mu sync.Mutex

	user     domain.User
	password string
	session  domain.Session

	validTokens map[string]bool
	refreshErr  error

	signInCalls  int
	signUpCalls  int
	signOutCalls int
	refreshCalls int
}

var _ backend.IdentityBackend = (*stubBackend)(nil)

func newStubBackend() *stubBackend {
	return &stubBackend{
		user:     domain.User{ID: "user-1", Email: "alice@example.com", CreatedAt: time.Now().UTC()},
		password: "Sup3r$ecret-pw",
		session: domain.Session{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresAt:    time.Now().Add(time.Hour),
			UserID:       "user-1",
		},
		validTokens: map[string]bool{"access-1": true},
	}
}

func (b *stubBackend) SignIn(_ context.Context, email, password string) (domain.Session, domain.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signInCalls++
	if email != b.user.Email || password != b.password {
		return domain.Session{}, domain.User{}, backend.ErrInvalidCredentials
	}
	return b.session, b.user, nil
}

func (b *stubBackend) SignUp(_ context.Context, email, _ string, _ map[string]any) (*domain.Session, domain.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signUpCalls++
	user := domain.User{ID: "user-new", Email: email, CreatedAt: time.Now().UTC()}
	sess := b.session
	sess.UserID = user.ID
	return &sess, user, nil
}

func (b *stubBackend) GetUser(_ context.Context, accessToken string) (domain.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.validTokens[accessToken] {
		return domain.User{}, backend.ErrInvalidToken
	}
	return b.user, nil
}

func (b *stubBackend) RefreshSession(_ context.Context, refreshToken string) (domain.Session, domain.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshCalls++
	if b.refreshErr != nil {
		return domain.Session{}, domain.User{}, b.refreshErr
	}
	if refreshToken != b.session.RefreshToken {
		return domain.Session{}, domain.User{}, backend.ErrInvalidToken
	}
	next := domain.Session{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		ExpiresAt:    time.Now().Add(time.Hour),
		UserID:       b.user.ID,
	}
	b.validTokens[next.AccessToken] = true
	return next, b.user, nil
}

func (b *stubBackend) SignOut(_ context.Context, accessToken string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signOutCalls++
	delete(b.validTokens, accessToken)
	return nil
}

func (b *stubBackend) ResetPasswordForEmail(context.Context, string) error { return nil }

func (b *stubBackend) SignInWithOAuth(_ context.Context, provider, _ string) (string, error) {
	return "https://id.example.com/authorize?provider=" + provider, nil
}

func (b *stubBackend) ExchangeCodeForSession(_ context.Context, code string) (domain.Session, domain.User, error) {
	if code != "good-code" {
		return domain.Session{}, domain.User{}, backend.ErrInvalidToken
	}
	return b.session, b.user, nil
}

type routerFixture struct {
	router  *Router
	backend *stubBackend
	store   *sqlite.Store
	csrf    *service.CSRFGuard
}

func newTestRouter(t *testing.T, limits map[httpx.RouteClass]httpx.RateLimitConfig) *routerFixture {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	if limits == nil {
		limits = map[httpx.RouteClass]httpx.RateLimitConfig{
			httpx.ClassAuth:    {Requests: 1000, Window: time.Minute},
			httpx.ClassGeneral: {Requests: 1000, Window: time.Minute},
		}
	}

	fb := newStubBackend()
	counters := ratestore.NewMemory()
	creds := service.NewCredentialValidator(counters)
	csrf := service.NewCSRFGuard()
	sessions := service.NewSessionLifecycle(fb, st, creds, time.Second)
	twoFactor := service.NewTwoFactorController(fb, st, "authcore-test", time.Second)

	clientURL, err := url.Parse("https://app.example.test")
	require.NoError(t, err)

	router := NewRouter(
		httpx.NewRateLimiter(counters, limits),
		csrf, sessions, twoFactor,
		clientURL, "test", false,
		slog.New(slog.DiscardHandler),
	)
	router.ApplyRoutes()

	return &routerFixture{router: router, backend: fb, store: st, csrf: csrf}
}

func (f *routerFixture) do(method, path string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func cookieByName(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLogin(t *testing.T) {
	t.Parallel()

	t.Run("valid credentials establish cookies", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)

		rec := f.do(http.MethodPost, "/auth/login",
			map[string]string{"email": "alice@example.com", "password": "Sup3r$ecret-pw"})
		require.Equal(t, http.StatusOK, rec.Code)

		session := cookieByName(t, rec, CookieSession)
		require.NotNil(t, session)
		assert.Equal(t, "access-1", session.Value)
		assert.True(t, session.HttpOnly)
		assert.Equal(t, http.SameSiteStrictMode, session.SameSite)

		refresh := cookieByName(t, rec, CookieRefresh)
		require.NotNil(t, refresh)
		assert.True(t, refresh.HttpOnly)

		csrf := cookieByName(t, rec, CookieCSRF)
		require.NotNil(t, csrf)
		assert.False(t, csrf.HttpOnly, "CSRF cookie must be readable by the client")
		assert.Equal(t, f.csrf.Token(), csrf.Value)

		var resp struct {
			User domain.Projection `json:"user"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "user-1", resp.User.ID)
		assert.NotContains(t, rec.Body.String(), "access-1", "tokens live in cookies only")
	})

	t.Run("wrong password is a generic 401", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)

		rec := f.do(http.MethodPost, "/auth/login",
			map[string]string{"email": "alice@example.com", "password": "wrong-password"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, rec.Result().Cookies())
	})

	t.Run("second factor withholds the session", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)
		now := time.Now().UTC()
		require.NoError(t, f.store.TwoFactorProfiles().UpsertProfile(context.Background(), domain.TwoFactorProfile{
			UserID: "user-1", TOTPSecret: "JBSWY3DPEHPK3PXP", Enabled: true, Verified: true,
			CreatedAt: now, UpdatedAt: now,
		}))

		rec := f.do(http.MethodPost, "/auth/login",
			map[string]string{"email": "alice@example.com", "password": "Sup3r$ecret-pw"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Requires2FA bool `json:"requires2FA"`
			User        struct {
				ID string `json:"id"`
			} `json:"user"`
			TempToken string `json:"tempToken"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Requires2FA)
		assert.Equal(t, "user-1", resp.User.ID)
		assert.NotEmpty(t, resp.TempToken)

		assert.Nil(t, cookieByName(t, rec, CookieSession), "no session cookie before the second factor")
		assert.Nil(t, cookieByName(t, rec, CookieRefresh))
	})
}

func TestRegister(t *testing.T) {
	t.Parallel()

	t.Run("weak password never reaches the backend", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)

		rec := f.do(http.MethodPost, "/auth/register",
			map[string]string{"email": "bob@example.com", "password": "short"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, f.backend.signUpCalls)
	})

	t.Run("successful sign up establishes cookies", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)

		rec := f.do(http.MethodPost, "/auth/register",
			map[string]string{"email": "bob@example.com", "password": "Sup3r$ecret-pw"})
		require.Equal(t, http.StatusCreated, rec.Code)
		require.NotNil(t, cookieByName(t, rec, CookieSession))
		require.NotNil(t, cookieByName(t, rec, CookieRefresh))
	})
}

func TestLogout(t *testing.T) {
	t.Parallel()

	withSession := func(f *routerFixture) func(*http.Request) {
		return func(r *http.Request) {
			r.Header.Set(CSRFHeader, f.csrf.Token())
			r.AddCookie(&http.Cookie{Name: CookieSession, Value: "access-1"})
			r.AddCookie(&http.Cookie{Name: CookieRefresh, Value: "refresh-1"})
		}
	}

	t.Run("missing CSRF header rejects before side effects", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)

		rec := f.do(http.MethodPost, "/auth/logout", nil, func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: CookieSession, Value: "access-1"})
		})
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Zero(t, f.backend.signOutCalls)
		assert.Empty(t, rec.Result().Cookies(), "a rejected logout must not touch cookies")
	})

	t.Run("mismatched CSRF header rejects", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)

		rec := f.do(http.MethodPost, "/auth/logout", nil, func(r *http.Request) {
			r.Header.Set(CSRFHeader, "not-the-token")
		})
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Zero(t, f.backend.signOutCalls)
	})

	t.Run("clears all cookies and revokes", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)

		rec := f.do(http.MethodPost, "/auth/logout", nil, withSession(f))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, f.backend.signOutCalls)

		for _, name := range []string{CookieSession, CookieRefresh, CookieCSRF} {
			c := cookieByName(t, rec, name)
			require.NotNil(t, c, name)
			assert.Negative(t, c.MaxAge, "%s must be expired", name)
		}
	})

	t.Run("repeat logout still succeeds", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)

		first := f.do(http.MethodPost, "/auth/logout", nil, withSession(f))
		require.Equal(t, http.StatusOK, first.Code)

		second := f.do(http.MethodPost, "/auth/logout", nil, func(r *http.Request) {
			r.Header.Set(CSRFHeader, f.csrf.Token())
		})
		require.Equal(t, http.StatusOK, second.Code)
	})
}

func TestSessionEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("anonymous is not an error", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)

		rec := f.do(http.MethodGet, "/auth/session", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"authenticated": false}`, rec.Body.String())
	})

	t.Run("live token reports the user", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)

		rec := f.do(http.MethodGet, "/auth/session", nil, func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: CookieSession, Value: "access-1"})
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Authenticated bool               `json:"authenticated"`
			User          *domain.Projection `json:"user"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Authenticated)
		require.NotNil(t, resp.User)
		assert.Equal(t, "user-1", resp.User.ID)
		assert.Zero(t, f.backend.refreshCalls)
	})

	t.Run("expired token refreshes once and re-issues cookies", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)

		rec := f.do(http.MethodGet, "/auth/session", nil, func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: CookieSession, Value: "stale-access"})
			r.AddCookie(&http.Cookie{Name: CookieRefresh, Value: "refresh-1"})
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, f.backend.refreshCalls)

		session := cookieByName(t, rec, CookieSession)
		require.NotNil(t, session)
		assert.Equal(t, "access-2", session.Value)
		refresh := cookieByName(t, rec, CookieRefresh)
		require.NotNil(t, refresh)
		assert.Equal(t, "refresh-2", refresh.Value)

		assert.NotContains(t, rec.Body.String(), "access-2", "tokens never appear in the body")
	})

	t.Run("dead session clears both cookies", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)

		rec := f.do(http.MethodGet, "/auth/session", nil, func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: CookieSession, Value: "stale-access"})
			r.AddCookie(&http.Cookie{Name: CookieRefresh, Value: "stale-refresh"})
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		for _, name := range []string{CookieSession, CookieRefresh} {
			c := cookieByName(t, rec, name)
			require.NotNil(t, c, name)
			assert.Negative(t, c.MaxAge)
		}
	})
}

func TestSecondFactorLoginFlow(t *testing.T) {
	t.Parallel()
	f := newTestRouter(t, nil)

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "authcore-test", AccountName: "alice@example.com"})
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, f.store.TwoFactorProfiles().UpsertProfile(context.Background(), domain.TwoFactorProfile{
		UserID: "user-1", TOTPSecret: key.Secret(), Enabled: true, Verified: true,
		CreatedAt: now, UpdatedAt: now,
	}))

	login := f.do(http.MethodPost, "/auth/login",
		map[string]string{"email": "alice@example.com", "password": "Sup3r$ecret-pw"})
	require.Equal(t, http.StatusOK, login.Code)

	var challenge struct {
		TempToken string `json:"tempToken"`
	}
	require.NoError(t, json.Unmarshal(login.Body.Bytes(), &challenge))
	require.NotEmpty(t, challenge.TempToken)

	// Completing before validating must fail.
	premature := f.do(http.MethodPost, "/auth/2fa/complete-login",
		map[string]string{"tempToken": challenge.TempToken})
	require.Equal(t, http.StatusUnauthorized, premature.Code)

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)
	validate := f.do(http.MethodPost, "/auth/2fa/validate",
		map[string]string{"tempToken": challenge.TempToken, "code": code})
	require.Equal(t, http.StatusOK, validate.Code)
	assert.JSONEq(t, `{"valid": true, "recoveryCodeUsed": false}`, validate.Body.String())

	complete := f.do(http.MethodPost, "/auth/2fa/complete-login",
		map[string]string{"tempToken": challenge.TempToken})
	require.Equal(t, http.StatusOK, complete.Code)

	session := cookieByName(t, complete, CookieSession)
	require.NotNil(t, session)
	assert.Equal(t, "access-1", session.Value)
	require.NotNil(t, cookieByName(t, complete, CookieRefresh))

	// The temp token is single use.
	replay := f.do(http.MethodPost, "/auth/2fa/complete-login",
		map[string]string{"tempToken": challenge.TempToken})
	require.Equal(t, http.StatusUnauthorized, replay.Code)
}

func TestOAuthEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("redirect target must match the client origin", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)

		rec := f.do(http.MethodPost, "/auth/oauth",
			map[string]string{"provider": "github", "redirectTo": "https://evil.example/steal"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("matching origin returns the authorize URL", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)

		rec := f.do(http.MethodPost, "/auth/oauth",
			map[string]string{"provider": "github", "redirectTo": "https://app.example.test/after"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			URL string `json:"url"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp.URL, "provider=github")
	})

	t.Run("callback exchanges the code and redirects", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)

		rec := f.do(http.MethodGet, "/auth/callback?code=good-code", nil)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "https://app.example.test", rec.Header().Get("Location"))
		require.NotNil(t, cookieByName(t, rec, CookieSession))
	})
}

func TestRateLimitedLogin(t *testing.T) {
	t.Parallel()
	f := newTestRouter(t, map[httpx.RouteClass]httpx.RateLimitConfig{
		httpx.ClassAuth:    {Requests: 3, Window: time.Minute},
		httpx.ClassGeneral: {Requests: 1000, Window: time.Minute},
	})

	body := map[string]string{"email": "alice@example.com", "password": "wrong-password"}
	for i := 0; i < 3; i++ {
		rec := f.do(http.MethodPost, "/auth/login", body)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "request %d", i)
	}

	rec := f.do(http.MethodPost, "/auth/login", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestSystemEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("csrf token", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)

		rec := f.do(http.MethodGet, "/csrf-token", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, fmt.Sprintf(`{"csrfToken": %q}`, f.csrf.Token()), rec.Body.String())

		c := cookieByName(t, rec, CookieCSRF)
		require.NotNil(t, c)
		assert.Equal(t, f.csrf.Token(), c.Value)
	})

	t.Run("livez", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)

		rec := f.do(http.MethodGet, "/livez", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Status  string `json:"status"`
			Version string `json:"version"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "test", resp.Version)
	})
}

func TestRequireSessionMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("no cookies at all is 401", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)

		rec := f.do(http.MethodGet, "/auth/2fa/status", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("backend outage does not clear cookies", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)
		f.backend.refreshErr = fmt.Errorf("provider unreachable")

		rec := f.do(http.MethodGet, "/auth/2fa/status", nil, func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: CookieSession, Value: "stale-access"})
			r.AddCookie(&http.Cookie{Name: CookieRefresh, Value: "refresh-1"})
		})
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Empty(t, rec.Result().Cookies(), "an outage must not destroy a possibly good session")
	})

	t.Run("valid session reaches the handler", func(t *testing.T) {
		t.Parallel()
		f := newTestRouter(t, nil)

		rec := f.do(http.MethodGet, "/auth/2fa/status", nil, func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: CookieSession, Value: "access-1"})
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"enabled": false, "verified": false, "pendingSetup": false}`, rec.Body.String())
	})
}
