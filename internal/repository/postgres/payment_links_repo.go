package postgres

import (
	"context"
	"time"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/models"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type paymentLinksRepo struct{ pool *pgxpool.Pool }

const linkColumns = `id, user_id, payment_config_id, amount, currency, secret_hash, expires_at, used, used_at, created_at`

func (r *paymentLinksRepo) Create(ctx context.Context, l models.PaymentLink) (models.PaymentLink, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO payment_links (id, user_id, payment_config_id, amount, currency, secret_hash, expires_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 RETURNING `+linkColumns,
		l.ID, l.UserID, l.PaymentConfigID, l.Amount, l.Currency, l.SecretHash, l.ExpiresAt,
	)
	return scanLink(row)
}

func (r *paymentLinksRepo) GetByID(ctx context.Context, id string) (models.PaymentLink, error) {
	return scanLink(r.pool.QueryRow(ctx, `SELECT `+linkColumns+` FROM payment_links WHERE id = $1`, id))
}

func (r *paymentLinksRepo) MarkUsed(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payment_links SET used = true, used_at = $2 WHERE id = $1 AND used = false`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNoTransition
	}
	return nil
}

func scanLink(row pgx.Row) (models.PaymentLink, error) {
	var l models.PaymentLink
	err := row.Scan(&l.ID, &l.UserID, &l.PaymentConfigID, &l.Amount, &l.Currency, &l.SecretHash,
		&l.ExpiresAt, &l.Used, &l.UsedAt, &l.CreatedAt)
	if missing(err) {
		return l, repository.ErrNotFound
	}
	return l, err
}
