// Package jwtx signs and verifies the HS256 access tokens minted by the
// local identity backend. Keys are symmetric; the signing secret never
// leaves the process.
package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token lifetimes.
const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

var (
	// ErrInvalidToken reports a token that failed signature or structural
	// validation.
	ErrInvalidToken = errors.New("jwtx: invalid token")
	// ErrExpiredToken reports a structurally valid token past its expiry.
	ErrExpiredToken = errors.New("jwtx: token expired")
)

// Claims are the claims embedded in access tokens.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Signer mints and verifies HS256 access tokens.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewSigner returns a Signer. The secret must be at least 32 bytes.
func NewSigner(secret []byte, issuer string, ttl time.Duration) (*Signer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwtx: signing secret too short (%d bytes, need >= 32)", len(secret))
	}
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	return &Signer{secret: secret, issuer: issuer, ttl: ttl}, nil
}

// Sign mints an access token for the given subject.
func (s *Signer) Sign(subject, email string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.ttl)
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwtx: failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a token, returning its claims.
func (s *Signer) Verify(raw string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
