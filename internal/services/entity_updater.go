package services

import (
	"context"
	"log/slog"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/models"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/repository"
)

// EntityUpdater marks the record a payment was made for as paid. Every write
// is a plain overwrite, so applying the same update twice is harmless.
type EntityUpdater struct {
	repo repository.RelatedEntities
	log  *slog.Logger
}

func NewEntityUpdater(r repository.RelatedEntities, log *slog.Logger) *EntityUpdater {
	return &EntityUpdater{repo: r, log: log.With("component", "entity_updater")}
}

func (u *EntityUpdater) UpdateRelatedEntity(ctx context.Context, entityType models.EntityType, entityID, transactionID string) error {
	var err error
	switch entityType {
	case models.EntityEvent:
		err = u.repo.MarkEventRegistrationPaid(ctx, entityID, transactionID)
	case models.EntityRegistration:
		err = u.repo.MarkMembershipPaid(ctx, entityID, transactionID)
	case models.EntityDonation:
		err = u.repo.MarkDonationCompleted(ctx, entityID, transactionID)
	default:
		u.log.Warn("unknown related entity type", "op", "entity_update_skipped",
			"entity_type", entityType, "entity_id", entityID, "transaction_id", transactionID)
		return nil
	}
	if err != nil {
		return err
	}
	u.log.Info("related entity updated", "op", "entity_updated",
		"entity_type", entityType, "entity_id", entityID, "transaction_id", transactionID)
	return nil
}
