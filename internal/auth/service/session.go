package service

import (
	"context"
	"errors"
	"time"

	"github.com/tradekit/authcore/internal/auth/backend"
	"github.com/tradekit/authcore/internal/auth/domain"
	"github.com/tradekit/authcore/internal/auth/store"
	"github.com/tradekit/authcore/pkg/cryptox"
	"github.com/tradekit/authcore/pkg/idx"
	"github.com/tradekit/authcore/pkg/slogx"
)

// DefaultPendingTTL bounds how long a login may sit awaiting its second
// factor.
const DefaultPendingTTL = 5 * time.Minute

// SessionLifecycle drives the login / refresh / logout state machine against
// the identity backend. It holds no per-request state; the shared pieces
// (lockout counters, pending logins) live in injected stores.
type SessionLifecycle struct {
	Backend     backend.IdentityBackend
	Store       store.Store
	Credentials *CredentialValidator

	// BackendTimeout bounds every identity backend call so a hung provider
	// cannot exhaust server threads.
	BackendTimeout time.Duration
	PendingTTL     time.Duration

	now func() time.Time
}

// NewSessionLifecycle wires the lifecycle with defaults applied.
func NewSessionLifecycle(be backend.IdentityBackend, st store.Store, creds *CredentialValidator, backendTimeout time.Duration) *SessionLifecycle {
	if backendTimeout <= 0 {
		backendTimeout = 15 * time.Second
	}
	return &SessionLifecycle{
		Backend:        be,
		Store:          st,
		Credentials:    creds,
		BackendTimeout: backendTimeout,
		PendingTTL:     DefaultPendingTTL,
		now:            time.Now,
	}
}

func (s *SessionLifecycle) backendCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.BackendTimeout)
}

// Login authenticates an email/password pair. All credential failures map to
// the same generic error so callers cannot probe for accounts; lockout and
// suspicion checks run before any backend call.
//
// When the account has a second factor enabled, no session is established:
// the backend session is parked server-side and only an opaque temp token is
// returned.
func (s *SessionLifecycle) Login(ctx context.Context, email, password, userAgent string) (domain.LoginOutcome, error) {
	log := slogx.FromContext(ctx)

	normalized, err := s.Credentials.ValidateLoginInput(email, password)
	if err != nil {
		return domain.LoginOutcome{}, err
	}

	if s.Credentials.IsBlocked(ctx, normalized) {
		log.Warn("login rejected: identifier locked out")
		return domain.LoginOutcome{}, domain.ErrInvalidCredentials
	}

	if s.Credentials.LooksSuspicious(normalized, userAgent) {
		log.Warn("login rejected: suspicious activity heuristic tripped")
		return domain.LoginOutcome{}, domain.ErrInvalidCredentials
	}

	bctx, cancel := s.backendCtx(ctx)
	defer cancel()

	sess, user, err := s.Backend.SignIn(bctx, normalized, password)
	if err != nil {
		if errors.Is(err, backend.ErrInvalidCredentials) {
			s.Credentials.RecordFailure(ctx, normalized)
			return domain.LoginOutcome{}, domain.ErrInvalidCredentials
		}
		return domain.LoginOutcome{}, domain.Wrap(domain.KindUpstream, "internal server error", err)
	}

	s.Credentials.RecordSuccess(ctx, normalized)

	enabled, err := s.secondFactorEnabled(ctx, user.ID)
	if err != nil {
		return domain.LoginOutcome{}, domain.Wrap(domain.KindUpstream, "internal server error", err)
	}

	if !enabled {
		s.audit(ctx, user.ID, domain.AuditLogin, "")
		return domain.LoginOutcome{User: user, Session: &sess}, nil
	}

	challenge, err := s.parkSession(ctx, user, sess)
	if err != nil {
		return domain.LoginOutcome{}, domain.Wrap(domain.KindUpstream, "internal server error", err)
	}
	return domain.LoginOutcome{User: user, SecondFactor: &challenge}, nil
}

// parkSession stores the backend session server-side and mints the opaque
// temp token the client must bring back with a second-factor code.
func (s *SessionLifecycle) parkSession(ctx context.Context, user domain.User, sess domain.Session) (domain.SecondFactorChallenge, error) {
	tempToken, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.SecondFactorChallenge{}, err
	}

	now := s.now()
	expiresAt := now.Add(s.PendingTTL)

	err = s.Store.PendingLogins().CreatePendingLogin(ctx, domain.PendingLogin{
		ID:           cryptox.FingerprintToken(tempToken),
		UserID:       user.ID,
		Email:        user.Email,
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		SessionExp:   sess.ExpiresAt,
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
	})
	if err != nil {
		return domain.SecondFactorChallenge{}, err
	}

	return domain.SecondFactorChallenge{
		TempToken: tempToken,
		User:      domain.Projection{ID: user.ID, Email: user.Email},
		ExpiresAt: expiresAt,
	}, nil
}

// ValidateSession checks an inbound access token and, when it is invalid or
// expired and a refresh token is present, makes exactly one refresh attempt.
// Refresh failure invalidates the whole session: the caller must clear both
// cookies together.
func (s *SessionLifecycle) ValidateSession(ctx context.Context, accessToken, refreshToken string) (domain.SessionState, error) {
	if accessToken != "" {
		bctx, cancel := s.backendCtx(ctx)
		user, err := s.Backend.GetUser(bctx, accessToken)
		cancel()
		if err == nil {
			return domain.SessionState{User: user}, nil
		}
		if !errors.Is(err, backend.ErrInvalidToken) {
			return domain.SessionState{}, domain.Wrap(domain.KindUpstream, "internal server error", err)
		}
		// Fall through to the single refresh attempt.
	}

	if refreshToken == "" {
		return domain.SessionState{}, domain.ErrSessionExpired
	}

	bctx, cancel := s.backendCtx(ctx)
	defer cancel()

	sess, user, err := s.Backend.RefreshSession(bctx, refreshToken)
	if err != nil {
		if errors.Is(err, backend.ErrInvalidToken) {
			return domain.SessionState{}, domain.ErrSessionExpired
		}
		return domain.SessionState{}, domain.Wrap(domain.KindUpstream, "internal server error", err)
	}

	return domain.SessionState{User: user, Refreshed: true, Session: &sess}, nil
}

// Logout invalidates the backend session. It never fails from the caller's
// perspective: backend errors are logged and swallowed so logout stays
// locally effective, and repeating it is harmless.
func (s *SessionLifecycle) Logout(ctx context.Context, accessToken string) {
	if accessToken == "" {
		return
	}

	bctx, cancel := s.backendCtx(ctx)
	defer cancel()

	if err := s.Backend.SignOut(bctx, accessToken); err != nil {
		slogx.FromContext(ctx).Warn("backend sign-out failed, clearing session anyway", "err", err)
		return
	}
	s.audit(ctx, "", domain.AuditLogout, "")
}

// Register creates a new account. The returned session is nil when the
// backend requires confirmation before first sign-in.
func (s *SessionLifecycle) Register(ctx context.Context, email, password string, metadata map[string]any) (*domain.Session, domain.User, error) {
	normalized, err := s.Credentials.ValidateRegistrationInput(email, password)
	if err != nil {
		return nil, domain.User{}, err
	}

	bctx, cancel := s.backendCtx(ctx)
	defer cancel()

	sess, user, err := s.Backend.SignUp(bctx, normalized, password, metadata)
	if err != nil {
		if errors.Is(err, backend.ErrUserExists) {
			// Same shape as a bad login: registration must not confirm
			// which emails have accounts.
			return nil, domain.User{}, domain.E(domain.KindConflict, "unable to register with these details")
		}
		return nil, domain.User{}, domain.Wrap(domain.KindUpstream, "internal server error", err)
	}

	s.audit(ctx, user.ID, domain.AuditRegistered, "")
	return sess, user, nil
}

// ResetPassword triggers the backend recovery flow. The outcome is identical
// for known and unknown emails.
func (s *SessionLifecycle) ResetPassword(ctx context.Context, email string) error {
	normalized := NormalizeEmail(email)
	if !emailPattern.MatchString(normalized) {
		return domain.E(domain.KindValidation, "a valid email address is required")
	}

	bctx, cancel := s.backendCtx(ctx)
	defer cancel()

	if err := s.Backend.ResetPasswordForEmail(bctx, normalized); err != nil {
		// Log and swallow: a reset request must not leak backend state.
		slogx.FromContext(ctx).Warn("password reset request failed", "err", err)
	}
	s.audit(ctx, "", domain.AuditResetRequested, "")
	return nil
}

// OAuthURL asks the backend for the provider authorization URL.
func (s *SessionLifecycle) OAuthURL(ctx context.Context, provider, redirectTo string) (string, error) {
	bctx, cancel := s.backendCtx(ctx)
	defer cancel()

	u, err := s.Backend.SignInWithOAuth(bctx, provider, redirectTo)
	if err != nil {
		if errors.Is(err, backend.ErrUnsupported) {
			return "", domain.E(domain.KindValidation, "oauth sign-in is not available")
		}
		return "", domain.Wrap(domain.KindUpstream, "internal server error", err)
	}
	return u, nil
}

// ExchangeCode completes an OAuth callback.
func (s *SessionLifecycle) ExchangeCode(ctx context.Context, code string) (domain.Session, domain.User, error) {
	if code == "" {
		return domain.Session{}, domain.User{}, domain.E(domain.KindValidation, "missing authorization code")
	}

	bctx, cancel := s.backendCtx(ctx)
	defer cancel()

	sess, user, err := s.Backend.ExchangeCodeForSession(bctx, code)
	if err != nil {
		if errors.Is(err, backend.ErrInvalidToken) || errors.Is(err, backend.ErrInvalidCredentials) {
			return domain.Session{}, domain.User{}, domain.ErrInvalidCredentials
		}
		return domain.Session{}, domain.User{}, domain.Wrap(domain.KindUpstream, "internal server error", err)
	}

	s.audit(ctx, user.ID, domain.AuditLogin, "oauth")
	return sess, user, nil
}

func (s *SessionLifecycle) secondFactorEnabled(ctx context.Context, userID string) (bool, error) {
	profile, err := s.Store.TwoFactorProfiles().GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return profile.Enabled, nil
}

func (s *SessionLifecycle) audit(ctx context.Context, userID, event, detail string) {
	appendAudit(ctx, s.Store, s.now(), userID, event, detail)
}

// appendAudit records a security event; failures are logged, never surfaced.
func appendAudit(ctx context.Context, st store.Store, at time.Time, userID, event, detail string) {
	err := st.Audit().AppendAuditRecord(ctx, domain.AuditRecord{
		ID:        idx.New().String(),
		UserID:    userID,
		Event:     event,
		Detail:    detail,
		CreatedAt: at,
	})
	if err != nil {
		slogx.FromContext(ctx).Warn("failed to append audit record", "event", event, "err", err)
	}
}
