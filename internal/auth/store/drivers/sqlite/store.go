// Package sqlite is the SQLite driver for the auth core store. Queries are
// hand-written against database/sql; schema changes go through the embedded
// migrations.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/tradekit/authcore/internal/auth/store"

	_ "modernc.org/sqlite"
)

// querier is satisfied by both *sql.DB and *sql.Tx so repositories work
// inside and outside transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
}

// NewStore opens the SQLite database at dsn. Callers should pass a file DSN
// with busy timeout and WAL enabled, or ":memory:" in tests.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Each pooled connection to ":memory:" opens a distinct database, so the
	// pool must be pinned to a single connection for the schema to survive.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	t := &txStore{tx: tx}

	// Rollback is safe to call after commit.
	defer func() { _ = t.Rollback() }()

	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

func (s *Store) Users() store.Users                         { return &usersRepo{q: s.db} }
func (s *Store) RefreshTokens() store.RefreshTokens         { return &refreshTokensRepo{q: s.db} }
func (s *Store) TwoFactorProfiles() store.TwoFactorProfiles { return &twoFactorRepo{q: s.db} }
func (s *Store) RecoveryCodes() store.RecoveryCodes         { return &recoveryCodesRepo{q: s.db} }
func (s *Store) PendingLogins() store.PendingLogins         { return &pendingLoginsRepo{q: s.db} }
func (s *Store) Audit() store.Audit                         { return &auditRepo{q: s.db} }

type txStore struct {
	tx *sql.Tx
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

func (t *txStore) Users() store.Users                         { return &usersRepo{q: t.tx} }
func (t *txStore) RefreshTokens() store.RefreshTokens         { return &refreshTokensRepo{q: t.tx} }
func (t *txStore) TwoFactorProfiles() store.TwoFactorProfiles { return &twoFactorRepo{q: t.tx} }
func (t *txStore) RecoveryCodes() store.RecoveryCodes         { return &recoveryCodesRepo{q: t.tx} }
func (t *txStore) PendingLogins() store.PendingLogins         { return &pendingLoginsRepo{q: t.tx} }
func (t *txStore) Audit() store.Audit                         { return &auditRepo{q: t.tx} }

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func mapNullTimePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		val := nt.Time
		return &val
	}
	return nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMetadata(s string) map[string]any {
	if s == "" || s == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
