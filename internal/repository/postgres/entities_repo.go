package postgres

import (
	"context"
	"fmt"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/models"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

// entitiesRepo touches only the payment columns of tables owned by the
// events, membership and donations subsystems.
type entitiesRepo struct{ pool *pgxpool.Pool }

func (r *entitiesRepo) MarkEventRegistrationPaid(ctx context.Context, registrationID, transactionID string) error {
	return r.exec(ctx, "event_registrations", registrationID,
		`UPDATE event_registrations
		    SET payment_status = 'paid',
		        payment_transaction_id = $2,
		        registration_confirmed = true
		  WHERE id = $1`,
		registrationID, transactionID)
}

func (r *entitiesRepo) MarkMembershipPaid(ctx context.Context, profileID, transactionID string) error {
	return r.exec(ctx, "profiles", profileID,
		`UPDATE profiles
		    SET registration_payment_status = 'paid',
		        registration_payment_transaction_id = $2,
		        payment_status = 'completed'
		  WHERE id = $1`,
		profileID, transactionID)
}

func (r *entitiesRepo) MarkDonationCompleted(ctx context.Context, donationID, transactionID string) error {
	return r.exec(ctx, "donations", donationID,
		`UPDATE donations
		    SET payment_status = 'completed',
		        payment_transaction_id = $2
		  WHERE id = $1`,
		donationID, transactionID)
}

func (r *entitiesRepo) GetProfile(ctx context.Context, id string) (models.MemberProfile, error) {
	var p models.MemberProfile
	err := r.pool.QueryRow(ctx,
		`SELECT id, COALESCE(full_name, ''), COALESCE(email, ''), COALESCE(registration_payment_status, '')
		   FROM profiles
		  WHERE id = $1`, id,
	).Scan(&p.ID, &p.FullName, &p.Email, &p.RegistrationPaymentStatus)
	if missing(err) {
		return p, repository.ErrNotFound
	}
	return p, err
}

func (r *entitiesRepo) exec(ctx context.Context, table, id, q string, args ...any) error {
	tag, err := r.pool.Exec(ctx, q, args...)
	if missing(err) {
		return fmt.Errorf("update %s %s: %w", table, id, repository.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update %s %s: %w", table, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s %s: %w", table, id, repository.ErrNotFound)
	}
	return nil
}
