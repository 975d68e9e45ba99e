package service

import (
	"crypto/subtle"
	"sync"

	"github.com/tradekit/authcore/pkg/cryptox"
)

// CSRFGuard issues one anti-forgery token per guard lifetime and checks
// candidates against it. It is an explicit value owned by the application,
// not ambient state; the token rotates only through Rotate.
//
// The token is never written to logs.
type CSRFGuard struct {
	mu    sync.RWMutex
	token string
}

// NewCSRFGuard generates the guard's token (256 bits of entropy).
func NewCSRFGuard() *CSRFGuard {
	return &CSRFGuard{token: cryptox.MustGenerateToken(cryptox.TokenSize256)}
}

// Token returns the issued token for delivery to the client.
func (g *CSRFGuard) Token() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token
}

// Validate checks a candidate in constant time. An absent candidate or an
// uninitialized guard is invalid, never "skip the check".
func (g *CSRFGuard) Validate(candidate string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if candidate == "" || g.token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(g.token)) == 1
}

// Rotate reissues the token. Explicit re-initialization only; nothing
// rotates mid-session.
func (g *CSRFGuard) Rotate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.token = cryptox.MustGenerateToken(cryptox.TokenSize256)
	return g.token
}
