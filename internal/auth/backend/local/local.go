// Package local is the reference identity backend: accounts live in the
// core's own store, passwords are argon2id hashes, access tokens are HS256
// JWTs and refresh tokens are opaque values rotated on every refresh.
//
// It exists so the service runs self-contained (dev, tests, small deploys);
// it is not a full identity provider.
package local

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradekit/authcore/internal/auth/backend"
	"github.com/tradekit/authcore/internal/auth/domain"
	"github.com/tradekit/authcore/internal/auth/store"
	"github.com/tradekit/authcore/pkg/cryptox"
	"github.com/tradekit/authcore/pkg/idx"
	"github.com/tradekit/authcore/pkg/jwtx"
	"github.com/tradekit/authcore/pkg/slogx"
)

type Backend struct {
	Store      store.Store
	Signer     *jwtx.Signer
	RefreshTTL time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// New builds a local backend over the given store and token signer.
func New(st store.Store, signer *jwtx.Signer, refreshTTL time.Duration) *Backend {
	if refreshTTL <= 0 {
		refreshTTL = jwtx.DefaultRefreshTokenTTL
	}
	return &Backend{Store: st, Signer: signer, RefreshTTL: refreshTTL, now: time.Now}
}

var _ backend.IdentityBackend = (*Backend)(nil)

func (b *Backend) SignIn(ctx context.Context, email, password string) (domain.Session, domain.User, error) {
	u, err := b.Store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn a hash comparison anyway so response timing does not
			// distinguish unknown accounts.
			_ = cryptox.VerifyPassword(password, unknownUserHash)
			return domain.Session{}, domain.User{}, backend.ErrInvalidCredentials
		}
		return domain.Session{}, domain.User{}, err
	}

	if err := cryptox.VerifyPassword(password, u.PasswordHash); err != nil {
		return domain.Session{}, domain.User{}, backend.ErrInvalidCredentials
	}

	now := b.now()
	if err := b.Store.Users().TouchLastSignIn(ctx, u.ID, now); err != nil {
		return domain.Session{}, domain.User{}, err
	}
	u.LastSignInAt = &now

	sess, err := b.issueSession(ctx, u, now)
	if err != nil {
		return domain.Session{}, domain.User{}, err
	}
	return sess, u, nil
}

func (b *Backend) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domain.Session, domain.User, error) {
	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return nil, domain.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	now := b.now()
	u := domain.User{
		ID:           idx.New().String(),
		Email:        email,
		PasswordHash: hash,
		Metadata:     metadata,
		CreatedAt:    now,
	}

	if err := b.Store.Users().CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, domain.User{}, backend.ErrUserExists
		}
		return nil, domain.User{}, err
	}

	// No confirmation flow locally; sign the account straight in.
	sess, err := b.issueSession(ctx, u, now)
	if err != nil {
		return nil, domain.User{}, err
	}
	return &sess, u, nil
}

func (b *Backend) GetUser(ctx context.Context, accessToken string) (domain.User, error) {
	claims, err := b.Signer.Verify(accessToken)
	if err != nil {
		return domain.User{}, backend.ErrInvalidToken
	}

	u, err := b.Store.Users().GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, backend.ErrInvalidToken
		}
		return domain.User{}, err
	}
	return u, nil
}

func (b *Backend) RefreshSession(ctx context.Context, refreshToken string) (domain.Session, domain.User, error) {
	now := b.now()

	fp := cryptox.FingerprintToken(refreshToken)
	rt, err := b.Store.RefreshTokens().GetRefreshTokenByHash(ctx, fp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, domain.User{}, backend.ErrInvalidToken
		}
		return domain.Session{}, domain.User{}, err
	}
	if rt.Revoked || now.After(rt.ExpiresAt) {
		return domain.Session{}, domain.User{}, backend.ErrInvalidToken
	}

	u, err := b.Store.Users().GetUserByID(ctx, rt.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, domain.User{}, backend.ErrInvalidToken
		}
		return domain.Session{}, domain.User{}, err
	}

	// Rotation: the old refresh token dies with the refresh that used it.
	access, expiresAt, err := b.Signer.Sign(u.ID, u.Email, now)
	if err != nil {
		return domain.Session{}, domain.User{}, err
	}
	newOpaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.Session{}, domain.User{}, err
	}

	err = b.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().RevokeRefreshToken(ctx, rt.ID); err != nil {
			return err
		}
		return tx.RefreshTokens().CreateRefreshToken(ctx, store.RefreshTokenRecord{
			ID:        idx.New().String(),
			UserID:    u.ID,
			TokenHash: cryptox.FingerprintToken(newOpaque),
			ExpiresAt: now.Add(b.RefreshTTL),
			CreatedAt: now,
		})
	})
	if err != nil {
		return domain.Session{}, domain.User{}, err
	}

	return domain.Session{
		AccessToken:  access,
		RefreshToken: newOpaque,
		ExpiresAt:    expiresAt,
		UserID:       u.ID,
	}, u, nil
}

func (b *Backend) SignOut(ctx context.Context, accessToken string) error {
	claims, err := b.Signer.Verify(accessToken)
	if err != nil {
		// Already invalid; nothing to revoke.
		return nil
	}
	return b.Store.RefreshTokens().RevokeRefreshTokensForUser(ctx, claims.Subject)
}

func (b *Backend) ResetPasswordForEmail(ctx context.Context, email string) error {
	// No mail transport locally. Record the request and return success
	// either way so the caller cannot probe for accounts.
	if _, err := b.Store.Users().GetUserByEmail(ctx, email); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	slogx.FromContext(ctx).Info("password reset requested for local account")
	return nil
}

func (b *Backend) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	return "", backend.ErrUnsupported
}

func (b *Backend) ExchangeCodeForSession(ctx context.Context, code string) (domain.Session, domain.User, error) {
	return domain.Session{}, domain.User{}, backend.ErrUnsupported
}

func (b *Backend) issueSession(ctx context.Context, u domain.User, now time.Time) (domain.Session, error) {
	access, expiresAt, err := b.Signer.Sign(u.ID, u.Email, now)
	if err != nil {
		return domain.Session{}, err
	}

	refreshOpaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.Session{}, err
	}

	err = b.Store.RefreshTokens().CreateRefreshToken(ctx, store.RefreshTokenRecord{
		ID:        idx.New().String(),
		UserID:    u.ID,
		TokenHash: cryptox.FingerprintToken(refreshOpaque),
		ExpiresAt: now.Add(b.RefreshTTL),
		CreatedAt: now,
	})
	if err != nil {
		return domain.Session{}, err
	}

	return domain.Session{
		AccessToken:  access,
		RefreshToken: refreshOpaque,
		ExpiresAt:    expiresAt,
		UserID:       u.ID,
	}, nil
}

// unknownUserHash is a throwaway argon2id hash used to equalize response
// timing for unknown identifiers.
var unknownUserHash = func() string {
	h, err := cryptox.HashPassword(cryptox.MustGenerateToken(cryptox.TokenSize128))
	if err != nil {
		panic(err)
	}
	return h
}()
