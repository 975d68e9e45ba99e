package http

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tradekit/authcore/internal/auth/service"
	"github.com/tradekit/authcore/pkg/httpx"
	"github.com/tradekit/authcore/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers and registers the route
// table. Middleware ordering on every route is rate limit first, then CSRF
// where the route mutates state, then session validation where required.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	logger        *slog.Logger
	startTime     time.Time
	buildVersion  string
	secureCookies bool
	clientURL     *url.URL

	Limiter   *httpx.RateLimiter
	CSRF      *service.CSRFGuard
	Sessions  *service.SessionLifecycle
	TwoFactor *service.TwoFactorController
}

// NewRouter wires the router. Handlers are registered by ApplyRoutes.
func NewRouter(
	limiter *httpx.RateLimiter,
	csrf *service.CSRFGuard,
	sessions *service.SessionLifecycle,
	twoFactor *service.TwoFactorController,
	clientURL *url.URL,
	buildVersion string,
	secureCookies bool,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:           http.NewServeMux(),
		logger:        logger,
		startTime:     time.Now(),
		buildVersion:  buildVersion,
		secureCookies: secureCookies,
		clientURL:     clientURL,
		Limiter:       limiter,
		CSRF:          csrf,
		Sessions:      sessions,
		TwoFactor:     twoFactor,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

// ApplyRoutes registers the full route table on the mux.
func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerTwoFactor()
	r.registerSystem()
}

// ServeHTTP implements http.Handler and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{
		Sessions:      r.Sessions,
		CSRF:          r.CSRF,
		SecureCookies: r.secureCookies,
		ClientURL:     r.clientURL,
	}

	// Credential-bearing routes get the strict auth window.
	r.Mux.Handle("POST /auth/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			r.Limiter.ByIP(httpx.ClassAuth),
		),
	)
	r.Mux.Handle("POST /auth/register",
		httpx.Chain(http.HandlerFunc(h.HandleRegister),
			r.Limiter.ByIP(httpx.ClassAuth),
		),
	)
	r.Mux.Handle("POST /auth/reset-password",
		httpx.Chain(http.HandlerFunc(h.HandleResetPassword),
			r.Limiter.ByIP(httpx.ClassAuth),
		),
	)

	// Logout needs the CSRF proof but not a live session: it must succeed
	// repeatably even after the session is already gone.
	r.Mux.Handle("POST /auth/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout),
			r.Limiter.ByIP(httpx.ClassGeneral),
			requireCSRF(r.CSRF),
		),
	)

	// Session introspection validates cookies itself so it can report
	// authenticated:false instead of rejecting anonymous callers.
	r.Mux.Handle("GET /auth/session",
		httpx.Chain(http.HandlerFunc(h.HandleSession),
			r.Limiter.ByIP(httpx.ClassGeneral),
		),
	)

	r.Mux.Handle("POST /auth/oauth",
		httpx.Chain(http.HandlerFunc(h.HandleOAuth),
			r.Limiter.ByIP(httpx.ClassGeneral),
		),
	)
	r.Mux.Handle("GET /auth/callback",
		httpx.Chain(http.HandlerFunc(h.HandleCallback),
			r.Limiter.ByIP(httpx.ClassGeneral),
		),
	)
}

func (r *Router) registerTwoFactor() {
	h := &TwoFactorHandler{
		TwoFactor:     r.TwoFactor,
		CSRF:          r.CSRF,
		SecureCookies: r.secureCookies,
	}

	session := requireSession(r.Sessions, r.secureCookies)

	r.Mux.Handle("POST /auth/2fa/setup",
		httpx.Chain(http.HandlerFunc(h.HandleSetup),
			r.Limiter.ByIP(httpx.ClassGeneral),
			requireCSRF(r.CSRF),
			session,
		),
	)
	r.Mux.Handle("POST /auth/2fa/verify",
		httpx.Chain(http.HandlerFunc(h.HandleVerify),
			r.Limiter.ByIP(httpx.ClassGeneral),
			requireCSRF(r.CSRF),
			session,
		),
	)
	r.Mux.Handle("POST /auth/2fa/disable",
		httpx.Chain(http.HandlerFunc(h.HandleDisable),
			r.Limiter.ByIP(httpx.ClassGeneral),
			requireCSRF(r.CSRF),
			session,
		),
	)
	r.Mux.Handle("GET /auth/2fa/status",
		httpx.Chain(http.HandlerFunc(h.HandleStatus),
			r.Limiter.ByIP(httpx.ClassGeneral),
			session,
		),
	)

	// Mid-login routes: no session exists yet, the temp token carries the
	// authentication instead.
	r.Mux.Handle("POST /auth/2fa/validate",
		httpx.Chain(http.HandlerFunc(h.HandleValidate),
			r.Limiter.ByIP(httpx.ClassGeneral),
		),
	)
	r.Mux.Handle("POST /auth/2fa/complete-login",
		httpx.Chain(http.HandlerFunc(h.HandleCompleteLogin),
			r.Limiter.ByIP(httpx.ClassGeneral),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /csrf-token",
		httpx.Chain(CSRFTokenHandler(r.CSRF, r.secureCookies),
			r.Limiter.ByIP(httpx.ClassGeneral),
		),
	)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			r.Limiter.ByIP(httpx.ClassGeneral),
		),
	)
}
