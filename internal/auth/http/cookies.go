package http

import (
	"net/http"
	"time"
)

// Transport cookie names. Session and refresh cookies are httpOnly; the CSRF
// cookie must stay readable from JS so the client can echo it back in the
// X-CSRF-Token header.
const (
	CookieSession = "session_token"
	CookieRefresh = "refresh_token"
	CookieCSRF    = "csrf_token"

	cookieMaxAge = int(7 * 24 * time.Hour / time.Second)
)

func sessionCookies(accessToken, refreshToken string, secure bool) []*http.Cookie {
	return []*http.Cookie{
		{
			Name:     CookieSession,
			Value:    accessToken,
			Path:     "/",
			MaxAge:   cookieMaxAge,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteStrictMode,
		},
		{
			Name:     CookieRefresh,
			Value:    refreshToken,
			Path:     "/",
			MaxAge:   cookieMaxAge,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteStrictMode,
		},
	}
}

func setSessionCookies(w http.ResponseWriter, accessToken, refreshToken string, secure bool) {
	for _, c := range sessionCookies(accessToken, refreshToken, secure) {
		http.SetCookie(w, c)
	}
}

func setCSRFCookie(w http.ResponseWriter, token string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieCSRF,
		Value:    token,
		Path:     "/",
		MaxAge:   cookieMaxAge,
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearSessionCookies expires the session and refresh cookies together.
// Partial clearing would violate the pairing invariant.
func clearSessionCookies(w http.ResponseWriter, secure bool) {
	for _, name := range []string{CookieSession, CookieRefresh} {
		clearCookie(w, name, true, secure)
	}
}

// clearAuthCookies expires all three auth cookies, for logout.
func clearAuthCookies(w http.ResponseWriter, secure bool) {
	clearSessionCookies(w, secure)
	clearCookie(w, CookieCSRF, false, secure)
}

func clearCookie(w http.ResponseWriter, name string, httpOnly, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: httpOnly,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// readCookie returns the named cookie's value, or "" when absent.
func readCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
