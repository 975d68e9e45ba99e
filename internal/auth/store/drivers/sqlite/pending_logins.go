package sqlite

import (
	"context"
	"time"

	"github.com/tradekit/authcore/internal/auth/domain"
)

type pendingLoginsRepo struct {
	q querier
}

const pendingLoginColumns = `id, user_id, email, access_token, refresh_token,
	session_exp, verified, attempts, expires_at, created_at`

func (r *pendingLoginsRepo) CreatePendingLogin(ctx context.Context, p domain.PendingLogin) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO pending_logins (`+pendingLoginColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Email, p.AccessToken, p.RefreshToken,
		p.SessionExp.UTC(), p.Verified, p.Attempts, p.ExpiresAt.UTC(), p.CreatedAt.UTC(),
	)
	return err
}

func (r *pendingLoginsRepo) GetPendingLogin(ctx context.Context, id string) (domain.PendingLogin, error) {
	var p domain.PendingLogin
	err := r.q.QueryRowContext(ctx,
		`SELECT `+pendingLoginColumns+` FROM pending_logins WHERE id = ?`, id,
	).Scan(&p.ID, &p.UserID, &p.Email, &p.AccessToken, &p.RefreshToken,
		&p.SessionExp, &p.Verified, &p.Attempts, &p.ExpiresAt, &p.CreatedAt)
	if err != nil {
		return domain.PendingLogin{}, mapNotFound(err)
	}
	return p, nil
}

func (r *pendingLoginsRepo) MarkPendingLoginVerified(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE pending_logins SET verified = 1 WHERE id = ?`, id)
	return err
}

func (r *pendingLoginsRepo) IncrementPendingLoginAttempts(ctx context.Context, id string) (domain.PendingLogin, error) {
	_, err := r.q.ExecContext(ctx,
		`UPDATE pending_logins SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return domain.PendingLogin{}, err
	}
	return r.GetPendingLogin(ctx, id)
}

func (r *pendingLoginsRepo) DeletePendingLogin(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM pending_logins WHERE id = ?`, id)
	return err
}

func (r *pendingLoginsRepo) DeleteExpiredPendingLogins(ctx context.Context, before time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM pending_logins WHERE expires_at < ?`, before.UTC())
	return err
}
