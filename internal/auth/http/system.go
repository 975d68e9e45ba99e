package http

import (
	"net/http"
	"time"

	"github.com/tradekit/authcore/internal/auth/service"
	"github.com/tradekit/authcore/pkg/httpx"
)

type csrfTokenResponse struct {
	CSRFToken string `json:"csrfToken"`
}

// CSRFTokenHandler handles GET /csrf-token: delivers the process token in
// both the response body and the JS-readable cookie.
func CSRFTokenHandler(guard *service.CSRFGuard, secureCookies bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := guard.Token()
		setCSRFCookie(w, token, secureCookies)
		httpx.WriteJSON(w, http.StatusOK, csrfTokenResponse{CSRFToken: token})
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// LivezHandler is the liveness probe. Always 200 while the process runs.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, healthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}
