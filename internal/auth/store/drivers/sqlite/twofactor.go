package sqlite

import (
	"context"
	"database/sql"

	"github.com/tradekit/authcore/internal/auth/domain"
)

type twoFactorRepo struct {
	q querier
}

func (r *twoFactorRepo) UpsertProfile(ctx context.Context, p domain.TwoFactorProfile) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO twofactor_profiles (user_id, totp_secret, enabled, verified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			totp_secret = excluded.totp_secret,
			enabled = excluded.enabled,
			verified = excluded.verified,
			updated_at = excluded.updated_at`,
		p.UserID, p.TOTPSecret, p.Enabled, p.Verified, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	return err
}

func (r *twoFactorRepo) GetProfile(ctx context.Context, userID string) (domain.TwoFactorProfile, error) {
	var p domain.TwoFactorProfile
	err := r.q.QueryRowContext(ctx, `
		SELECT user_id, totp_secret, enabled, verified, created_at, updated_at
		FROM twofactor_profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.TOTPSecret, &p.Enabled, &p.Verified, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.TwoFactorProfile{}, mapNotFound(err)
	}
	return p, nil
}

func (r *twoFactorRepo) EnableProfile(ctx context.Context, userID string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE twofactor_profiles
		SET enabled = 1, verified = 1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ?`, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return mapNotFound(sql.ErrNoRows)
	}
	return nil
}

func (r *twoFactorRepo) DeleteProfile(ctx context.Context, userID string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM twofactor_profiles WHERE user_id = ?`, userID)
	return err
}
