package httpx

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tradekit/authcore/pkg/ratestore"
	"github.com/tradekit/authcore/pkg/slogx"
)

// RouteClass partitions routes into independent rate windows.
type RouteClass string

const (
	// ClassAuth covers authentication-sensitive routes (login, register,
	// password reset).
	ClassAuth RouteClass = "auth"
	// ClassGeneral covers everything else.
	ClassGeneral RouteClass = "general"
)

// RateLimitConfig defines one fixed window: Requests per Window per key.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Default profiles. Override via RATELIMIT_AUTH_* / RATELIMIT_GENERAL_* env
// vars (useful for testing).
var (
	AuthLimit    = RateLimitConfig{Requests: 10, Window: 60 * time.Minute}
	GeneralLimit = RateLimitConfig{Requests: 100, Window: 15 * time.Minute}
)

// ParseRateLimitFromEnv reads RATELIMIT_{prefix}_REQUESTS and
// RATELIMIT_{prefix}_WINDOW_SEC, falling back to the given defaults.
func ParseRateLimitFromEnv(prefix string, defaults RateLimitConfig) RateLimitConfig {
	cfg := defaults

	if val := os.Getenv("RATELIMIT_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests > 0 {
			cfg.Requests = requests
		}
	}
	if val := os.Getenv("RATELIMIT_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			cfg.Window = time.Duration(windowSec) * time.Second
		}
	}

	return cfg
}

// DefaultLimits returns the per-class profiles with env overrides applied.
func DefaultLimits() map[RouteClass]RateLimitConfig {
	return map[RouteClass]RateLimitConfig{
		ClassAuth:    ParseRateLimitFromEnv("AUTH", AuthLimit),
		ClassGeneral: ParseRateLimitFromEnv("GENERAL", GeneralLimit),
	}
}

// KeyExtractor derives the rate-limit key from a request (typically the
// client IP).
type KeyExtractor func(*http.Request) string

// IPKeyExtractor extracts the client IP, honoring X-Forwarded-For and
// X-Real-IP for proxied requests before falling back to RemoteAddr.
func IPKeyExtractor(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ips := strings.Split(xff, ","); len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// RateLimiter enforces per-key fixed windows on top of an injected counter
// store. It holds no state of its own beyond configuration, so a shared
// store (e.g. Redis) makes the limits instance-global.
type RateLimiter struct {
	counters ratestore.Counters
	limits   map[RouteClass]RateLimitConfig
}

// NewRateLimiter builds a limiter over the given store and per-class limits.
func NewRateLimiter(counters ratestore.Counters, limits map[RouteClass]RateLimitConfig) *RateLimiter {
	return &RateLimiter{counters: counters, limits: limits}
}

// Allow records one request for key under the given class and reports
// whether it is within budget. Counter mutation is the only side effect.
// Store failures fail open: rate limiting is an abuse mitigation, not a
// correctness requirement.
func (rl *RateLimiter) Allow(r *http.Request, key string, class RouteClass) bool {
	cfg, ok := rl.limits[class]
	if !ok {
		return true
	}

	count, err := rl.counters.Increment(r.Context(), string(class)+":"+key, cfg.Window)
	if err != nil {
		slogx.FromContext(r.Context()).Warn("rate limit store unavailable, allowing request", "err", err)
		return true
	}

	return count <= cfg.Requests
}

// Middleware enforces the class limit keyed by extract. Rejections are a
// generic 429 that never mentions the identifier.
func (rl *RateLimiter) Middleware(class RouteClass, extract KeyExtractor) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := slogx.FromContext(r.Context())

			key := extract(r)
			if key == "" {
				log.Warn("rate limit: unable to extract key, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			if !rl.Allow(r, key, class) {
				cfg := rl.limits[class]

				w.Header().Set("Retry-After", strconv.Itoa(int(cfg.Window.Seconds())))
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Requests))
				w.Header().Set("X-RateLimit-Window", cfg.Window.String())

				log.Warn("rate limit exceeded",
					"class", string(class),
					"endpoint", r.URL.Path,
				)

				WriteError(w, http.StatusTooManyRequests, "too many requests, please try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ByIP enforces the class limit keyed by client IP.
func (rl *RateLimiter) ByIP(class RouteClass) Middleware {
	return rl.Middleware(class, IPKeyExtractor)
}
