package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/tradekit/authcore/internal/auth/domain"
	"github.com/tradekit/authcore/internal/auth/service"
	"github.com/tradekit/authcore/pkg/httpx"
	"github.com/tradekit/authcore/pkg/slogx"
)

// CSRFHeader carries the anti-forgery token on state-changing requests.
const CSRFHeader = "X-CSRF-Token"

type ctxKey int

const ctxKeySessionState ctxKey = iota

// sessionFromContext returns the session state injected by requireSession.
func sessionFromContext(ctx context.Context) (domain.SessionState, bool) {
	state, ok := ctx.Value(ctxKeySessionState).(domain.SessionState)
	return state, ok
}

// requireCSRF rejects state-changing requests whose X-CSRF-Token header does
// not match the issued token. Rejection happens before any handler side
// effects. GET/read routes never get this middleware.
func requireCSRF(guard *service.CSRFGuard) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !guard.Validate(r.Header.Get(CSRFHeader)) {
				slogx.FromContext(r.Context()).Warn("request rejected: CSRF token missing or mismatched",
					"endpoint", r.URL.Path,
				)
				writeDomainError(r.Context(), w, domain.ErrCSRFRejected)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireSession validates the session cookies and injects the resulting
// state into the request context. When the access token was expired and the
// single refresh attempt succeeded, both cookies are re-issued here; when
// validation fails outright, both are cleared and the request is rejected
// with 401.
func requireSession(sessions *service.SessionLifecycle, secureCookies bool) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accessToken := readCookie(r, CookieSession)
			refreshToken := readCookie(r, CookieRefresh)

			if accessToken == "" && refreshToken == "" {
				httpx.WriteError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			state, err := sessions.ValidateSession(r.Context(), accessToken, refreshToken)
			if err != nil {
				// A dead session invalidates both cookies together. A
				// backend outage does not: the session may still be good.
				var derr *domain.Error
				if errors.As(err, &derr) && derr.Kind == domain.KindAuthentication {
					clearSessionCookies(w, secureCookies)
				}
				writeDomainError(r.Context(), w, err)
				return
			}

			if state.Refreshed && state.Session != nil {
				setSessionCookies(w, state.Session.AccessToken, state.Session.RefreshToken, secureCookies)
			}

			ctx := context.WithValue(r.Context(), ctxKeySessionState, state)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
