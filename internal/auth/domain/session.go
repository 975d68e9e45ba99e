package domain

import "time"

// Session is the access/refresh token pair issued by the identity backend.
// Owned exclusively by the session lifecycle; handlers only ever mirror it
// into httpOnly cookies. Invariant: a non-expired AccessToken always has a
// corresponding valid RefreshToken; refresh failure invalidates both.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UserID       string
}

// SecondFactorChallenge is returned instead of a Session when the account
// has a second factor enabled. TempToken is opaque, short-lived, and only
// accepted by the 2FA validate and complete-login operations.
type SecondFactorChallenge struct {
	TempToken string
	User      Projection
	ExpiresAt time.Time
}

// LoginOutcome is the explicit result of a login. Exactly one of Session or
// SecondFactor is set.
type LoginOutcome struct {
	User         User
	Session      *Session
	SecondFactor *SecondFactorChallenge
}

// SessionState reports the outcome of validating an inbound session.
type SessionState struct {
	User User
	// Refreshed is set when the access token was expired and the session
	// was re-issued via the single refresh attempt. Callers must re-write
	// both cookies.
	Refreshed bool
	Session   *Session
}
