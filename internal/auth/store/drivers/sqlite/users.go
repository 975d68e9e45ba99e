package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/tradekit/authcore/internal/auth/domain"
	"github.com/tradekit/authcore/internal/auth/store"
)

type usersRepo struct {
	q querier
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	meta, err := encodeMetadata(u.Metadata)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, meta, u.CreatedAt.UTC(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return r.scanUser(r.q.QueryRowContext(ctx, `
		SELECT id, email, password_hash, metadata, created_at, last_sign_in_at
		FROM users WHERE id = ?`, id))
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.scanUser(r.q.QueryRowContext(ctx, `
		SELECT id, email, password_hash, metadata, created_at, last_sign_in_at
		FROM users WHERE email = ?`, email))
}

func (r *usersRepo) TouchLastSignIn(ctx context.Context, id string, at time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE users SET last_sign_in_at = ? WHERE id = ?`, at.UTC(), id)
	return err
}

func (r *usersRepo) scanUser(row *sql.Row) (domain.User, error) {
	var (
		u        domain.User
		meta     string
		lastSign sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &meta, &u.CreatedAt, &lastSign)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.Metadata = decodeMetadata(meta)
	u.LastSignInAt = mapNullTimePtr(lastSign)
	return u, nil
}
