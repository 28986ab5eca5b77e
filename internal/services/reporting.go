package services

import (
	"context"
	"fmt"
	"time"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/api/validate"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/models"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

func (s *PaymentService) GetTransaction(ctx context.Context, id string) (models.PaymentTransaction, error) {
	if !validID(id) {
		return models.PaymentTransaction{}, fmt.Errorf("load transaction: %w", ErrNotFound)
	}
	tx, err := s.txs.GetByID(ctx, id)
	if err != nil {
		return models.PaymentTransaction{}, storeErr("load transaction", err)
	}
	return tx, nil
}

// TransactionForUser is GetTransaction restricted to the owner.
func (s *PaymentService) TransactionForUser(ctx context.Context, id, userID string) (models.PaymentTransaction, error) {
	tx, err := s.GetTransaction(ctx, id)
	if err != nil {
		return tx, err
	}
	if tx.UserID != userID {
		return models.PaymentTransaction{}, ErrForbidden
	}
	return tx, nil
}

type HistoryPage struct {
	Items    []models.PaymentTransaction `json:"items"`
	Page     int                         `json:"page"`
	PageSize int                         `json:"page_size"`
	Total    int                         `json:"total"`
}

// History lists a user's transactions, newest first. pageSize 0 means the
// default.
func (s *PaymentService) History(ctx context.Context, userID string, page, pageSize int) (HistoryPage, error) {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	var errs validate.Errs
	errs.Add(
		validate.Required("user_id", userID),
		validate.MinInt("page", int64(page), 1),
		validate.MinInt("page_size", int64(pageSize), 1),
		validate.MaxInt("page_size", int64(pageSize), MaxPageSize),
	)
	if err := errs.Err(); err != nil {
		return HistoryPage{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	items, total, err := s.txs.ListByUser(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return HistoryPage{}, storeErr("list transactions", err)
	}
	if items == nil {
		items = []models.PaymentTransaction{}
	}
	return HistoryPage{Items: items, Page: page, PageSize: pageSize, Total: total}, nil
}

// Statistics aggregates transactions created in [from, to). Either bound may
// be nil.
func (s *PaymentService) Statistics(ctx context.Context, from, to *time.Time) (models.PaymentStatistics, error) {
	if from != nil && to != nil && !from.Before(*to) {
		return models.PaymentStatistics{}, fmt.Errorf("%w: %w", ErrValidation,
			validate.Errs{{Field: "from", Msg: "must be before to"}})
	}
	st, err := s.txs.Statistics(ctx, from, to)
	if err != nil {
		return models.PaymentStatistics{}, storeErr("statistics", err)
	}
	return st, nil
}

func (s *PaymentService) UserSummary(ctx context.Context, userID string) (models.UserPaymentSummary, error) {
	if userID == "" {
		return models.UserPaymentSummary{}, fmt.Errorf("%w: %w", ErrValidation, validate.Errs{{Field: "user_id", Msg: "required"}})
	}
	sum, err := s.txs.UserSummary(ctx, userID)
	if err != nil {
		return models.UserPaymentSummary{}, storeErr("user summary", err)
	}
	return sum, nil
}

// AuditTrail returns the history of one transaction, oldest first.
func (s *PaymentService) AuditTrail(ctx context.Context, id string) ([]models.AuditLog, error) {
	if _, err := s.GetTransaction(ctx, id); err != nil {
		return nil, err
	}
	logs, err := s.audits.ListByTransaction(ctx, id)
	if err != nil {
		return nil, storeErr("list audit logs", err)
	}
	return logs, nil
}
