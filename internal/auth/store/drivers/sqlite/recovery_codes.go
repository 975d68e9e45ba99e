package sqlite

import "context"

type recoveryCodesRepo struct {
	q querier
}

func (r *recoveryCodesRepo) CreateRecoveryCode(ctx context.Context, userID, codeHash string) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO recovery_codes (user_id, code_hash, created_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)`, userID, codeHash)
	return err
}

// ConsumeRecoveryCode deletes the matching code and reports whether it
// existed. Matching and removal happen in one statement, so concurrent use
// of the same code succeeds at most once.
func (r *recoveryCodesRepo) ConsumeRecoveryCode(ctx context.Context, userID, codeHash string) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM recovery_codes WHERE user_id = ? AND code_hash = ?`,
		userID, codeHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *recoveryCodesRepo) DeleteAllRecoveryCodes(ctx context.Context, userID string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM recovery_codes WHERE user_id = ?`, userID)
	return err
}

func (r *recoveryCodesRepo) CountRecoveryCodes(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recovery_codes WHERE user_id = ?`, userID,
	).Scan(&count)
	return count, err
}
