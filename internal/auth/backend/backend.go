// Package backend defines the identity-provider boundary. The auth core
// never assumes a concrete provider; it only consumes this interface.
package backend

import (
	"context"
	"errors"

	"github.com/tradekit/authcore/internal/auth/domain"
)

var (
	// ErrInvalidCredentials means the email/password pair was rejected.
	// Callers surface a generic message; the provider never reveals which
	// part failed.
	ErrInvalidCredentials = errors.New("backend: invalid credentials")
	// ErrInvalidToken means the access or refresh token was rejected.
	ErrInvalidToken = errors.New("backend: invalid token")
	// ErrUserExists means sign-up hit an already-registered email.
	ErrUserExists = errors.New("backend: user already exists")
	// ErrUnsupported means the operation is not available on this backend.
	ErrUnsupported = errors.New("backend: operation not supported")
)

// IdentityBackend is the external identity provider consumed by the core.
// Every call must honor ctx cancellation and deadlines; the core wraps each
// call in a bounded timeout so a hung provider cannot pin server threads.
type IdentityBackend interface {
	// SignIn authenticates an email/password pair and returns a fresh
	// session plus the account.
	SignIn(ctx context.Context, email, password string) (domain.Session, domain.User, error)

	// SignUp registers a new account. The returned session is nil when the
	// provider requires out-of-band confirmation before first sign-in.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domain.Session, domain.User, error)

	// GetUser resolves the account behind a live access token.
	GetUser(ctx context.Context, accessToken string) (domain.User, error)

	// RefreshSession exchanges a refresh token for a new session. Providers
	// may rotate the refresh token; callers must adopt the returned pair.
	RefreshSession(ctx context.Context, refreshToken string) (domain.Session, domain.User, error)

	// SignOut invalidates the session behind the access token.
	SignOut(ctx context.Context, accessToken string) error

	// ResetPasswordForEmail triggers the provider's password recovery flow.
	// Implementations must not reveal whether the email exists.
	ResetPasswordForEmail(ctx context.Context, email string) error

	// SignInWithOAuth returns the provider authorization URL to redirect
	// the client to.
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error)

	// ExchangeCodeForSession completes an OAuth flow, exchanging the
	// callback code for a session.
	ExchangeCodeForSession(ctx context.Context, code string) (domain.Session, domain.User, error)
}
