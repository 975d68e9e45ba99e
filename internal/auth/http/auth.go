package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/tradekit/authcore/internal/auth/domain"
	"github.com/tradekit/authcore/internal/auth/service"
	"github.com/tradekit/authcore/pkg/httpx"
	"github.com/tradekit/authcore/pkg/slogx"
)

// AuthHandler owns the session-lifecycle endpoints: login, register, logout,
// session introspection, password reset and the OAuth pair.
type AuthHandler struct {
	Sessions      *service.SessionLifecycle
	CSRF          *service.CSRFGuard
	SecureCookies bool
	ClientURL     *url.URL
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type secondFactorRequiredResponse struct {
	Requires2FA bool           `json:"requires2FA"`
	User        challengedUser `json:"user"`
	TempToken   string         `json:"tempToken"`
}

type challengedUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type userResponse struct {
	User domain.Projection `json:"user"`
}

// HandleLogin handles POST /auth/login.
//
// A 2FA-enabled account never receives session cookies here; it gets the
// temp token envelope and must finish via the 2FA validate/complete pair.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	outcome, err := h.Sessions.Login(ctx, req.Email, req.Password, r.UserAgent())
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	if outcome.SecondFactor != nil {
		httpx.WriteJSON(w, http.StatusOK, secondFactorRequiredResponse{
			Requires2FA: true,
			User: challengedUser{
				ID:    outcome.SecondFactor.User.ID,
				Email: outcome.SecondFactor.User.Email,
			},
			TempToken: outcome.SecondFactor.TempToken,
		})
		return
	}

	setSessionCookies(w, outcome.Session.AccessToken, outcome.Session.RefreshToken, h.SecureCookies)
	setCSRFCookie(w, h.CSRF.Token(), h.SecureCookies)
	httpx.WriteJSON(w, http.StatusOK, userResponse{User: outcome.User.Project()})
}

type registerRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Metadata map[string]any `json:"metadata"`
}

type registerResponse struct {
	User    domain.Projection `json:"user"`
	Message string            `json:"message,omitempty"`
}

// HandleRegister handles POST /auth/register. Password policy failures are
// rejected before any backend call.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sess, user, err := h.Sessions.Register(ctx, req.Email, req.Password, req.Metadata)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	resp := registerResponse{User: user.Project()}
	if sess != nil {
		setSessionCookies(w, sess.AccessToken, sess.RefreshToken, h.SecureCookies)
		setCSRFCookie(w, h.CSRF.Token(), h.SecureCookies)
	} else {
		resp.Message = "check your email to confirm your account"
	}

	httpx.WriteJSON(w, http.StatusCreated, resp)
}

// HandleLogout handles POST /auth/logout. Logout is locally effective no
// matter what: cookies are cleared even when there is no live session or the
// backend revocation fails, so repeating it is harmless.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.Sessions.Logout(r.Context(), readCookie(r, CookieSession))

	clearAuthCookies(w, h.SecureCookies)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

type sessionResponse struct {
	Authenticated bool               `json:"authenticated"`
	User          *domain.Projection `json:"user,omitempty"`
}

// HandleSession handles GET /auth/session. The body never carries token
// values; a refreshed session shows up only as re-issued cookies.
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accessToken := readCookie(r, CookieSession)
	refreshToken := readCookie(r, CookieRefresh)

	if accessToken == "" && refreshToken == "" {
		httpx.WriteJSON(w, http.StatusOK, sessionResponse{Authenticated: false})
		return
	}

	state, err := h.Sessions.ValidateSession(ctx, accessToken, refreshToken)
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) && derr.Kind == domain.KindAuthentication {
			clearSessionCookies(w, h.SecureCookies)
		}
		writeDomainError(ctx, w, err)
		return
	}

	if state.Refreshed && state.Session != nil {
		setSessionCookies(w, state.Session.AccessToken, state.Session.RefreshToken, h.SecureCookies)
	}

	projection := state.User.Project()
	httpx.WriteJSON(w, http.StatusOK, sessionResponse{Authenticated: true, User: &projection})
}

type resetPasswordRequest struct {
	Email string `json:"email"`
}

// HandleResetPassword handles POST /auth/reset-password. The response is
// identical for known and unknown emails.
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.Sessions.ResetPassword(ctx, req.Email); err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "if an account exists for that email, a reset link has been sent",
	})
}

type oauthRequest struct {
	Provider   string `json:"provider"`
	RedirectTo string `json:"redirectTo"`
}

// HandleOAuth handles POST /auth/oauth. The redirect target must sit on the
// configured client origin; anything else is rejected as an open-redirect
// attempt.
func (h *AuthHandler) HandleOAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req oauthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Provider == "" {
		httpx.WriteError(w, http.StatusBadRequest, "provider is required")
		return
	}

	redirectTo := h.ClientURL.String()
	if req.RedirectTo != "" {
		target, err := url.Parse(req.RedirectTo)
		if err != nil || target.Scheme != h.ClientURL.Scheme || target.Host != h.ClientURL.Host {
			slogx.FromContext(ctx).Warn("oauth redirect target rejected", "endpoint", r.URL.Path)
			httpx.WriteError(w, http.StatusBadRequest, "redirect target is not allowed")
			return
		}
		redirectTo = target.String()
	}

	authorizeURL, err := h.Sessions.OAuthURL(ctx, req.Provider, redirectTo)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"url": authorizeURL})
}

// HandleCallback handles GET /auth/callback: exchanges the provider code for
// a session, sets cookies and bounces the browser back to the client app.
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, _, err := h.Sessions.ExchangeCode(ctx, r.URL.Query().Get("code"))
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	setSessionCookies(w, sess.AccessToken, sess.RefreshToken, h.SecureCookies)
	setCSRFCookie(w, h.CSRF.Token(), h.SecureCookies)
	http.Redirect(w, r, h.ClientURL.String(), http.StatusFound)
}
