package postgres

import (
	"context"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type auditLogsRepo struct{ pool *pgxpool.Pool }

func (r *auditLogsRepo) Create(ctx context.Context, l models.AuditLog) error {
	if l.Details == nil {
		l.Details = map[string]any{}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payment_audit_logs (transaction_id, action, details) VALUES ($1, $2, $3)`,
		l.TransactionID, l.Action, l.Details,
	)
	return err
}

func (r *auditLogsRepo) ListByTransaction(ctx context.Context, transactionID string) ([]models.AuditLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, transaction_id, action, details, created_at
		   FROM payment_audit_logs
		  WHERE transaction_id = $1
		  ORDER BY id`, transactionID)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.AuditLog])
	if out == nil {
		out = []models.AuditLog{}
	}
	return out, err
}
