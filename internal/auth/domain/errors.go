package domain

import "fmt"

// ErrorKind classifies failures for the HTTP boundary. Only the outermost
// handler layer translates kinds into status codes; everything below returns
// plain errors.
type ErrorKind int

const (
	// KindValidation is malformed input; specific client-facing message.
	KindValidation ErrorKind = iota + 1
	// KindAuthentication is bad credentials or an expired session; the
	// client-facing message is always generic to prevent enumeration.
	KindAuthentication
	// KindAuthorization is a CSRF failure or missing session on a protected
	// route.
	KindAuthorization
	// KindRateLimited is too many requests; generic message, no identifier.
	KindRateLimited
	// KindUpstream is an identity backend failure; detail is logged
	// server-side only.
	KindUpstream
	// KindConflict is an invalid state transition (e.g. 2FA already
	// enabled); specific message since it leaks no secret.
	KindConflict
)

// Error is a classified core error.
type Error struct {
	Kind    ErrorKind
	Message string // client-facing
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// E builds a classified error with a client-facing message.
func E(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a classified error carrying an underlying cause. The cause is
// for server-side logs; clients only ever see Message.
func Wrap(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Canonical client-facing messages. Authentication failures share one string
// regardless of whether the identifier exists.
var (
	ErrInvalidCredentials = E(KindAuthentication, "invalid email or password")
	ErrSessionExpired     = E(KindAuthentication, "session expired")
	ErrInvalidSecondCode  = E(KindAuthentication, "invalid token")
	ErrCSRFRejected       = E(KindAuthorization, "invalid or missing CSRF token")
	ErrNotAuthenticated   = E(KindAuthorization, "authentication required")
	ErrTooManyRequests    = E(KindRateLimited, "too many requests, please try again later")
	ErrBackendFailure     = E(KindUpstream, "internal server error")
	ErrAlreadyEnabled     = E(KindConflict, "two-factor authentication is already enabled")
	ErrNotEnabled         = E(KindConflict, "two-factor authentication is not enabled")
)
