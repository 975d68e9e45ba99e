package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/tradekit/authcore/internal/auth/domain"
	"github.com/tradekit/authcore/pkg/ratestore"
	"github.com/tradekit/authcore/pkg/slogx"
	"golang.org/x/time/rate"
)

// Lockout policy: this many recorded failures within the window blocks the
// identifier until the window lapses.
const (
	LockoutThreshold = 5
	LockoutWindow    = 15 * time.Minute
)

// Login passwords only gate a network call (the backend re-validates), so
// the minimum is intentionally weaker than the registration policy.
const (
	MinLoginPasswordLen    = 8
	MinRegisterPasswordLen = 12
)

// RFC-lite: local@domain.tld with a sane character set. Full RFC 5322 is
// deliberately out of scope; the backend is the authority.
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

const passwordSpecials = "@$!%*?&"

// CredentialValidator applies local heuristics before any backend call:
// input shape, per-identifier lockout and a best-effort suspicion signal.
// Lockout counters live in the injected store so multi-instance deployments
// can share them.
type CredentialValidator struct {
	Counters ratestore.Counters

	// suspects holds one token bucket per identifier+user-agent pair.
	// Best-effort only: it adds friction to rapid hammering but is not a
	// security boundary; the lockout and rate limiter are.
	suspects sync.Map // map[string]*rate.Limiter
}

// NewCredentialValidator builds a validator over the given counter store.
func NewCredentialValidator(counters ratestore.Counters) *CredentialValidator {
	return &CredentialValidator{Counters: counters}
}

// NormalizeEmail canonicalizes an email so lockout and rate keys are stable.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateLoginInput checks shape only. Returns the normalized email or a
// validation error with a client-safe message.
func (v *CredentialValidator) ValidateLoginInput(email, password string) (string, error) {
	normalized := NormalizeEmail(email)
	if !emailPattern.MatchString(normalized) {
		return "", domain.E(domain.KindValidation, "a valid email address is required")
	}
	if len(password) < MinLoginPasswordLen {
		return "", domain.E(domain.KindValidation, "password must be at least 8 characters")
	}
	return normalized, nil
}

// ValidateRegistrationInput enforces the full password policy: length >= 12
// with at least one uppercase, one lowercase, one digit and one of @$!%*?&.
func (v *CredentialValidator) ValidateRegistrationInput(email, password string) (string, error) {
	normalized := NormalizeEmail(email)
	if !emailPattern.MatchString(normalized) {
		return "", domain.E(domain.KindValidation, "a valid email address is required")
	}
	if err := checkPasswordPolicy(password); err != nil {
		return "", err
	}
	return normalized, nil
}

func checkPasswordPolicy(password string) error {
	if len(password) < MinRegisterPasswordLen {
		return domain.E(domain.KindValidation,
			"password must be at least 12 characters and include an uppercase letter, a lowercase letter, a digit and one of @$!%*?&")
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		return domain.E(domain.KindValidation,
			"password must include an uppercase letter, a lowercase letter, a digit and one of @$!%*?&")
	}
	return nil
}

// IsBlocked reports whether the identifier has hit the lockout threshold in
// the current window. Store failures fail open with a warning: lockout is an
// abuse mitigation, and the backend still validates credentials.
func (v *CredentialValidator) IsBlocked(ctx context.Context, identifier string) bool {
	count, err := v.Counters.Get(ctx, lockoutKey(identifier))
	if err != nil {
		slogx.FromContext(ctx).Warn("lockout store unavailable", "err", err)
		return false
	}
	return count >= LockoutThreshold
}

// RecordFailure counts one failed attempt against the identifier.
func (v *CredentialValidator) RecordFailure(ctx context.Context, identifier string) {
	if _, err := v.Counters.Increment(ctx, lockoutKey(identifier), LockoutWindow); err != nil {
		slogx.FromContext(ctx).Warn("failed to record login failure", "err", err)
	}
}

// RecordSuccess clears the failure history immediately.
func (v *CredentialValidator) RecordSuccess(ctx context.Context, identifier string) {
	if err := v.Counters.Reset(ctx, lockoutKey(identifier)); err != nil {
		slogx.FromContext(ctx).Warn("failed to clear login failures", "err", err)
	}
}

// LooksSuspicious reports rapid repeat attempts for the same identifier and
// user agent. It consumes one token per call; exhausting the bucket (burst 3,
// refill one per 2s) trips the signal.
func (v *CredentialValidator) LooksSuspicious(identifier, userAgent string) bool {
	key := suspectKey(identifier, userAgent)

	limiter, ok := v.suspects.Load(key)
	if !ok {
		limiter, _ = v.suspects.LoadOrStore(key, rate.NewLimiter(rate.Every(2*time.Second), 3))
	}
	return !limiter.(*rate.Limiter).Allow()
}

func lockoutKey(identifier string) string {
	return "lockout:" + identifier
}

func suspectKey(identifier, userAgent string) string {
	sum := sha256.Sum256([]byte(userAgent))
	return identifier + ":" + base64.RawURLEncoding.EncodeToString(sum[:8])
}
