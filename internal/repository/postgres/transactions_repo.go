package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/models"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type transactionsRepo struct{ pool *pgxpool.Pool }

const txColumns = `id, user_id, payment_config_id, related_entity_type, related_entity_id,
  amount, currency, payment_status, gateway_order_id, gateway_payment_id, gateway_signature,
  payment_method, failure_reason, metadata, completed_at, created_at, updated_at`

func (r *transactionsRepo) Create(ctx context.Context, tx models.PaymentTransaction) (models.PaymentTransaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	const q = `
INSERT INTO payment_transactions (
  id, user_id, payment_config_id, related_entity_type, related_entity_id,
  amount, currency, payment_status, metadata
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING ` + txColumns
	return scanTx(r.pool.QueryRow(ctx, q,
		tx.ID, tx.UserID, tx.PaymentConfigID, tx.RelatedEntityType, tx.RelatedEntityID,
		tx.Amount, tx.Currency, tx.Status, tx.Metadata,
	))
}

func (r *transactionsRepo) GetByID(ctx context.Context, id string) (models.PaymentTransaction, error) {
	return scanTx(r.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM payment_transactions WHERE id = $1`, id))
}

func (r *transactionsRepo) GetByGatewayOrderID(ctx context.Context, orderID string) (models.PaymentTransaction, error) {
	return scanTx(r.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM payment_transactions WHERE gateway_order_id = $1`, orderID))
}

// ListByUser reads the page and the total inside one read-only snapshot so
// the count matches the rows returned.
func (r *transactionsRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.PaymentTransaction, int, error) {
	var (
		out   []models.PaymentTransaction
		total int
	)
	err := r.withTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM payment_transactions WHERE user_id = $1`, userID).Scan(&total); err != nil {
			return err
		}
		rows, err := tx.Query(ctx,
			`SELECT `+txColumns+`
			   FROM payment_transactions
			  WHERE user_id = $1
			  ORDER BY created_at DESC, id DESC
			  LIMIT $2 OFFSET $3`,
			userID, limit, offset,
		)
		if err != nil {
			return err
		}
		out, err = collectTx(rows)
		return err
	})
	return out, total, err
}

func (r *transactionsRepo) ListStale(ctx context.Context, status models.PaymentStatus, createdBefore time.Time, limit int) ([]models.PaymentTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+txColumns+`
		   FROM payment_transactions
		  WHERE payment_status = $1 AND created_at < $2
		  ORDER BY created_at
		  LIMIT $3`,
		status, createdBefore, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectTx(rows)
}

func (r *transactionsRepo) AttachOrder(ctx context.Context, id, gatewayOrderID string) (models.PaymentTransaction, error) {
	return r.transition(ctx, id,
		`UPDATE payment_transactions
		    SET gateway_order_id = $2, payment_status = 'pending', updated_at = now()
		  WHERE id = $1 AND payment_status = 'initiated' AND gateway_order_id IS NULL
		  RETURNING `+txColumns,
		id, gatewayOrderID)
}

func (r *transactionsRepo) MarkSuccess(ctx context.Context, id string, u models.SuccessUpdate) (models.PaymentTransaction, error) {
	var sig *string
	if u.GatewaySignature != "" {
		sig = &u.GatewaySignature
	}
	return r.transition(ctx, id,
		`UPDATE payment_transactions
		    SET payment_status = 'success',
		        gateway_payment_id = $2,
		        gateway_signature = $3,
		        payment_method = $4,
		        completed_at = $5,
		        updated_at = now()
		  WHERE id = $1
		    AND payment_status IN ('initiated', 'pending')
		    AND gateway_payment_id IS NULL
		  RETURNING `+txColumns,
		id, u.GatewayPaymentID, sig, u.PaymentMethod, u.CompletedAt)
}

func (r *transactionsRepo) MarkFailed(ctx context.Context, id, reason string) (models.PaymentTransaction, error) {
	return r.transition(ctx, id,
		`UPDATE payment_transactions
		    SET payment_status = 'failed', failure_reason = $2, updated_at = now()
		  WHERE id = $1 AND payment_status IN ('initiated', 'pending')
		  RETURNING `+txColumns,
		id, reason)
}

func (r *transactionsRepo) Statistics(ctx context.Context, from, to *time.Time) (models.PaymentStatistics, error) {
	var s models.PaymentStatistics
	err := r.pool.QueryRow(ctx, `
SELECT count(*),
       count(*) FILTER (WHERE payment_status = 'success'),
       count(*) FILTER (WHERE payment_status = 'failed'),
       count(*) FILTER (WHERE payment_status IN ('initiated', 'pending')),
       COALESCE(sum(amount) FILTER (WHERE payment_status = 'success'), 0),
       COALESCE(avg(amount) FILTER (WHERE payment_status = 'success'), 0)
  FROM payment_transactions
 WHERE ($1::timestamptz IS NULL OR created_at >= $1)
   AND ($2::timestamptz IS NULL OR created_at < $2)`,
		from, to,
	).Scan(&s.TotalTransactions, &s.SuccessfulPayments, &s.FailedPayments, &s.PendingPayments,
		&s.TotalRevenue, &s.AverageValue)
	if err != nil {
		return s, err
	}
	s.AverageValue = s.AverageValue.Round(2)
	if s.TotalTransactions > 0 {
		s.SuccessRate = float64(s.SuccessfulPayments) / float64(s.TotalTransactions)
	}
	return s, nil
}

func (r *transactionsRepo) UserSummary(ctx context.Context, userID string) (models.UserPaymentSummary, error) {
	var s models.UserPaymentSummary
	err := r.pool.QueryRow(ctx, `
SELECT COALESCE(sum(amount) FILTER (WHERE payment_status = 'success'), 0),
       COALESCE(sum(amount) FILTER (WHERE payment_status IN ('initiated', 'pending')), 0),
       COALESCE(sum(amount) FILTER (WHERE payment_status = 'failed'), 0),
       max(completed_at)
  FROM payment_transactions
 WHERE user_id = $1`, userID,
	).Scan(&s.TotalPaid, &s.TotalPending, &s.TotalFailed, &s.LastPaymentDate)
	return s, err
}

// transition runs a conditional UPDATE ... RETURNING. No row back means
// either the id is unknown or the current status forbids the write.
func (r *transactionsRepo) transition(ctx context.Context, id, q string, args ...any) (models.PaymentTransaction, error) {
	tx, err := scanTx(r.pool.QueryRow(ctx, q, args...))
	if !errors.Is(err, repository.ErrNotFound) {
		return tx, err
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM payment_transactions WHERE id = $1)`, id).Scan(&exists); err != nil {
		if missing(err) {
			return models.PaymentTransaction{}, repository.ErrNotFound
		}
		return models.PaymentTransaction{}, err
	}
	if !exists {
		return models.PaymentTransaction{}, repository.ErrNotFound
	}
	return models.PaymentTransaction{}, repository.ErrNoTransition
}

func (r *transactionsRepo) withTx(ctx context.Context, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func scanTx(row pgx.Row) (models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.PaymentConfigID, &tx.RelatedEntityType, &tx.RelatedEntityID,
		&tx.Amount, &tx.Currency, &tx.Status, &tx.GatewayOrderID, &tx.GatewayPaymentID, &tx.GatewaySignature,
		&tx.PaymentMethod, &tx.FailureReason, &tx.Metadata, &tx.CompletedAt, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if missing(err) {
		return tx, repository.ErrNotFound
	}
	return tx, err
}

func collectTx(rows pgx.Rows) ([]models.PaymentTransaction, error) {
	defer rows.Close()
	var out []models.PaymentTransaction
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}
