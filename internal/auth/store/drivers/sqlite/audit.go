package sqlite

import (
	"context"

	"github.com/tradekit/authcore/internal/auth/domain"
)

type auditRepo struct {
	q querier
}

func (r *auditRepo) AppendAuditRecord(ctx context.Context, rec domain.AuditRecord) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, user_id, event, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Event, rec.Detail, rec.CreatedAt.UTC())
	return err
}

func (r *auditRepo) ListAuditRecordsForUser(ctx context.Context, userID string, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, user_id, event, detail, created_at
		FROM audit_log WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Event, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
