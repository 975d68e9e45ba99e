package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/tradekit/authcore/internal/auth/backend"
	"github.com/tradekit/authcore/internal/auth/domain"
	"github.com/tradekit/authcore/internal/auth/store"
	"github.com/tradekit/authcore/pkg/cryptox"
	"github.com/tradekit/authcore/pkg/slogx"
)

const (
	recoveryCodeBytes = cryptox.TokenSize128

	// MaxSecondFactorAttempts caps code guesses against a single pending
	// login before it is discarded.
	MaxSecondFactorAttempts = 5

	qrCodeSizePx = 200
)

// TwoFactorController manages TOTP enrollment and second-factor validation
// during login. Secrets and recovery code fingerprints are held in the core
// store regardless of which identity backend is active.
type TwoFactorController struct {
	Backend backend.IdentityBackend
	Store   store.Store
	Issuer  string

	// BackendTimeout bounds identity backend calls made while finalizing a
	// two-factor login.
	BackendTimeout time.Duration

	now func() time.Time
}

// NewTwoFactorController wires the controller with defaults applied.
func NewTwoFactorController(be backend.IdentityBackend, st store.Store, issuer string, backendTimeout time.Duration) *TwoFactorController {
	if backendTimeout <= 0 {
		backendTimeout = 15 * time.Second
	}
	return &TwoFactorController{
		Backend:        be,
		Store:          st,
		Issuer:         issuer,
		BackendTimeout: backendTimeout,
		now:            time.Now,
	}
}

// Setup generates a fresh TOTP secret for the user and returns the
// provisioning payload. The second factor is NOT active yet: the user must
// prove possession via Verify first. Calling Setup again before verification
// replaces the pending secret.
func (c *TwoFactorController) Setup(ctx context.Context, userID, email string) (domain.TwoFactorSetup, error) {
	profile, err := c.Store.TwoFactorProfiles().GetProfile(ctx, userID)
	switch {
	case err == nil:
		if profile.Enabled {
			return domain.TwoFactorSetup{}, domain.ErrAlreadyEnabled
		}
	case errors.Is(err, store.ErrNotFound):
		// first enrollment
	default:
		return domain.TwoFactorSetup{}, domain.Wrap(domain.KindUpstream, "internal server error", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      c.Issuer,
		AccountName: email,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return domain.TwoFactorSetup{}, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	now := c.now()
	err = c.Store.TwoFactorProfiles().UpsertProfile(ctx, domain.TwoFactorProfile{
		UserID:     userID,
		TOTPSecret: key.Secret(),
		Enabled:    false,
		Verified:   false,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return domain.TwoFactorSetup{}, fmt.Errorf("failed to store TOTP secret: %w", err)
	}

	return domain.TwoFactorSetup{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		QRCode:     c.qrDataURI(ctx, key),
		Issuer:     c.Issuer,
		Account:    email,
	}, nil
}

// qrDataURI renders the provisioning QR code as a PNG data URI. A render
// failure is not fatal; clients can fall back to the otpauth URL.
func (c *TwoFactorController) qrDataURI(ctx context.Context, key *otp.Key) string {
	img, err := key.Image(qrCodeSizePx, qrCodeSizePx)
	if err != nil {
		slogx.FromContext(ctx).Warn("failed to render TOTP QR code", "err", err)
		return ""
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		slogx.FromContext(ctx).Warn("failed to encode TOTP QR code", "err", err)
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

// Verify checks the first TOTP code against the pending secret and, on
// success, activates the second factor and issues recovery codes. The
// plaintext codes are returned exactly once; only fingerprints are stored.
func (c *TwoFactorController) Verify(ctx context.Context, userID, code string) ([]string, error) {
	profile, err := c.Store.TwoFactorProfiles().GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrNotEnabled
		}
		return nil, domain.Wrap(domain.KindUpstream, "internal server error", err)
	}
	if profile.Enabled {
		return nil, domain.ErrAlreadyEnabled
	}

	if !totp.Validate(code, profile.TOTPSecret) {
		return nil, domain.ErrInvalidSecondCode
	}

	codes := make([]string, domain.RecoveryCodeCount)
	for i := range codes {
		code, err := cryptox.GenerateToken(recoveryCodeBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to generate recovery code: %w", err)
		}
		codes[i] = code
	}

	err = c.Store.WithTx(ctx, func(tx store.Tx) error {
		// A repeated Setup may have left codes from an older enrollment.
		if err := tx.RecoveryCodes().DeleteAllRecoveryCodes(ctx, userID); err != nil {
			return fmt.Errorf("failed to clear stale recovery codes: %w", err)
		}
		for _, code := range codes {
			hash := cryptox.FingerprintToken(code)
			if err := tx.RecoveryCodes().CreateRecoveryCode(ctx, userID, hash); err != nil {
				return fmt.Errorf("failed to store recovery code: %w", err)
			}
		}
		if err := tx.TwoFactorProfiles().EnableProfile(ctx, userID); err != nil {
			return fmt.Errorf("failed to enable second factor: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, domain.Wrap(domain.KindUpstream, "internal server error", err)
	}

	appendAudit(ctx, c.Store, c.now(), userID, domain.AuditTwoFactorOn, "")
	return codes, nil
}

// ValidateDuringLogin checks a second-factor code against a pending login.
// Recovery codes are tried before TOTP so a code that happens to look like a
// TOTP value still burns exactly once. Returns whether a recovery code was
// consumed. All failures map to the same generic error.
func (c *TwoFactorController) ValidateDuringLogin(ctx context.Context, tempToken, code string) (bool, error) {
	pending, err := c.loadPending(ctx, tempToken)
	if err != nil {
		return false, err
	}

	pending, err = c.Store.PendingLogins().IncrementPendingLoginAttempts(ctx, pending.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, domain.ErrInvalidSecondCode
		}
		return false, domain.Wrap(domain.KindUpstream, "internal server error", err)
	}
	if pending.Attempts > MaxSecondFactorAttempts {
		c.discardPending(ctx, pending.ID)
		return false, domain.ErrInvalidSecondCode
	}

	consumed, err := c.Store.RecoveryCodes().ConsumeRecoveryCode(ctx, pending.UserID, cryptox.FingerprintToken(code))
	if err != nil {
		return false, domain.Wrap(domain.KindUpstream, "internal server error", err)
	}
	if consumed {
		if err := c.Store.PendingLogins().MarkPendingLoginVerified(ctx, pending.ID); err != nil {
			return false, domain.Wrap(domain.KindUpstream, "internal server error", err)
		}
		remaining, err := c.Store.RecoveryCodes().CountRecoveryCodes(ctx, pending.UserID)
		if err != nil {
			remaining = -1
		}
		appendAudit(ctx, c.Store, c.now(), pending.UserID, domain.AuditRecoveryUsed, fmt.Sprintf("remaining=%d", remaining))
		return true, nil
	}

	profile, err := c.Store.TwoFactorProfiles().GetProfile(ctx, pending.UserID)
	if err != nil || !profile.Enabled {
		return false, domain.ErrInvalidSecondCode
	}
	if !totp.Validate(code, profile.TOTPSecret) {
		return false, domain.ErrInvalidSecondCode
	}
	if err := c.Store.PendingLogins().MarkPendingLoginVerified(ctx, pending.ID); err != nil {
		return false, domain.Wrap(domain.KindUpstream, "internal server error", err)
	}
	return false, nil
}

// CompleteLogin exchanges a verified temp token for the parked session. The
// pending login is deleted whether or not the user lookup succeeds; the token
// is single-use.
func (c *TwoFactorController) CompleteLogin(ctx context.Context, tempToken string) (domain.User, domain.Session, error) {
	pending, err := c.loadPending(ctx, tempToken)
	if err != nil {
		return domain.User{}, domain.Session{}, err
	}
	if !pending.Verified {
		return domain.User{}, domain.Session{}, domain.ErrInvalidSecondCode
	}

	if err := c.Store.PendingLogins().DeletePendingLogin(ctx, pending.ID); err != nil {
		return domain.User{}, domain.Session{}, domain.Wrap(domain.KindUpstream, "internal server error", err)
	}

	session := domain.Session{
		AccessToken:  pending.AccessToken,
		RefreshToken: pending.RefreshToken,
		ExpiresAt:    pending.SessionExp,
		UserID:       pending.UserID,
	}

	user := domain.User{ID: pending.UserID, Email: pending.Email}
	bctx, cancel := context.WithTimeout(ctx, c.BackendTimeout)
	defer cancel()
	if full, err := c.Backend.GetUser(bctx, session.AccessToken); err == nil {
		user = full
	} else {
		slogx.FromContext(ctx).Warn("user lookup failed after second factor", "err", err)
	}

	appendAudit(ctx, c.Store, c.now(), pending.UserID, domain.AuditLogin2FA, "")
	return user, session, nil
}

// Disable turns the second factor off after proof of possession. Either a
// current TOTP code or an unused recovery code is accepted.
func (c *TwoFactorController) Disable(ctx context.Context, userID, code string) error {
	profile, err := c.Store.TwoFactorProfiles().GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ErrNotEnabled
		}
		return domain.Wrap(domain.KindUpstream, "internal server error", err)
	}
	if !profile.Enabled {
		return domain.ErrNotEnabled
	}

	if !totp.Validate(code, profile.TOTPSecret) {
		consumed, err := c.Store.RecoveryCodes().ConsumeRecoveryCode(ctx, userID, cryptox.FingerprintToken(code))
		if err != nil {
			return domain.Wrap(domain.KindUpstream, "internal server error", err)
		}
		if !consumed {
			return domain.ErrInvalidSecondCode
		}
	}

	err = c.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RecoveryCodes().DeleteAllRecoveryCodes(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete recovery codes: %w", err)
		}
		if err := tx.TwoFactorProfiles().DeleteProfile(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete second factor profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Wrap(domain.KindUpstream, "internal server error", err)
	}

	appendAudit(ctx, c.Store, c.now(), userID, domain.AuditTwoFactorOff, "")
	return nil
}

// Status reports the user's enrollment state. Absence of a profile is not an
// error.
func (c *TwoFactorController) Status(ctx context.Context, userID string) (domain.TwoFactorStatus, error) {
	profile, err := c.Store.TwoFactorProfiles().GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TwoFactorStatus{}, nil
		}
		return domain.TwoFactorStatus{}, domain.Wrap(domain.KindUpstream, "internal server error", err)
	}
	return domain.TwoFactorStatus{
		Enabled:      profile.Enabled,
		Verified:     profile.Verified,
		PendingSetup: !profile.Enabled && profile.TOTPSecret != "",
	}, nil
}

// loadPending resolves a temp token to its live pending login. Expired rows
// are removed eagerly.
func (c *TwoFactorController) loadPending(ctx context.Context, tempToken string) (domain.PendingLogin, error) {
	if tempToken == "" {
		return domain.PendingLogin{}, domain.ErrInvalidSecondCode
	}
	id := cryptox.FingerprintToken(tempToken)
	pending, err := c.Store.PendingLogins().GetPendingLogin(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.PendingLogin{}, domain.ErrInvalidSecondCode
		}
		return domain.PendingLogin{}, domain.Wrap(domain.KindUpstream, "internal server error", err)
	}
	if c.now().After(pending.ExpiresAt) {
		c.discardPending(ctx, pending.ID)
		return domain.PendingLogin{}, domain.ErrInvalidSecondCode
	}
	return pending, nil
}

func (c *TwoFactorController) discardPending(ctx context.Context, id string) {
	if err := c.Store.PendingLogins().DeletePendingLogin(ctx, id); err != nil {
		slogx.FromContext(ctx).Warn("failed to discard pending login", "err", err)
	}
}
