package store

import (
	"context"
	"errors"
	"time"

	"github.com/tradekit/authcore/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers implement this.
// Sub-repositories keep concerns tidy and stop callers from accidentally
// nesting transactions.
type Store interface {
	Users() Users
	RefreshTokens() RefreshTokens
	TwoFactorProfiles() TwoFactorProfiles
	RecoveryCodes() RecoveryCodes
	PendingLogins() PendingLogins
	Audit() Audit

	// WithTx executes fn within a transaction, handling commit/rollback.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Tx is a transaction-scoped view of the store.
type Tx interface {
	Users() Users
	RefreshTokens() RefreshTokens
	TwoFactorProfiles() TwoFactorProfiles
	RecoveryCodes() RecoveryCodes
	PendingLogins() PendingLogins
	Audit() Audit

	Commit() error
	Rollback() error
}

// Users persists local-backend accounts.
type Users interface {
	CreateUser(ctx context.Context, u domain.User) error
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	TouchLastSignIn(ctx context.Context, id string, at time.Time) error
}

// RefreshTokens persists local-backend refresh tokens by fingerprint.
type RefreshTokens interface {
	CreateRefreshToken(ctx context.Context, rt RefreshTokenRecord) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (RefreshTokenRecord, error)
	RevokeRefreshToken(ctx context.Context, id string) error
	RevokeRefreshTokensForUser(ctx context.Context, userID string) error
	DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) error
}

// RefreshTokenRecord is the stored refresh token row.
type RefreshTokenRecord struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// TwoFactorProfiles persists TOTP enrollments.
type TwoFactorProfiles interface {
	UpsertProfile(ctx context.Context, p domain.TwoFactorProfile) error
	GetProfile(ctx context.Context, userID string) (domain.TwoFactorProfile, error)
	EnableProfile(ctx context.Context, userID string) error
	DeleteProfile(ctx context.Context, userID string) error
}

// RecoveryCodes persists single-use recovery codes as fingerprints. Consume
// must remove the code in the same statement that matches it, so a code can
// never be accepted twice.
type RecoveryCodes interface {
	CreateRecoveryCode(ctx context.Context, userID, codeHash string) error
	ConsumeRecoveryCode(ctx context.Context, userID, codeHash string) (bool, error)
	DeleteAllRecoveryCodes(ctx context.Context, userID string) error
	CountRecoveryCodes(ctx context.Context, userID string) (int, error)
}

// PendingLogins persists parked backend sessions awaiting a second factor.
type PendingLogins interface {
	CreatePendingLogin(ctx context.Context, p domain.PendingLogin) error
	GetPendingLogin(ctx context.Context, id string) (domain.PendingLogin, error)
	MarkPendingLoginVerified(ctx context.Context, id string) error
	IncrementPendingLoginAttempts(ctx context.Context, id string) (domain.PendingLogin, error)
	DeletePendingLogin(ctx context.Context, id string) error
	DeleteExpiredPendingLogins(ctx context.Context, before time.Time) error
}

// Audit is the append-only security event log.
type Audit interface {
	AppendAuditRecord(ctx context.Context, rec domain.AuditRecord) error
	ListAuditRecordsForUser(ctx context.Context, userID string, limit int) ([]domain.AuditRecord, error)
}
