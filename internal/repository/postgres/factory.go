package postgres

import (
	"errors"

	repo "github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// invalidTextRepresentation is raised when a parameter cannot be cast to
// the column type, e.g. "abc" against a uuid column.
const invalidTextRepresentation = "22P02"

type Repositories struct {
	Transactions repo.Transactions
	Entities     repo.RelatedEntities
	AuditLogs    repo.AuditLogs
	PaymentLinks repo.PaymentLinks
}

func NewRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Transactions: &transactionsRepo{pool},
		Entities:     &entitiesRepo{pool},
		AuditLogs:    &auditLogsRepo{pool},
		PaymentLinks: &paymentLinksRepo{pool},
	}
}

// missing reports whether err means no row matched. A value that cannot
// be cast to the key type can never name a row.
func missing(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}
