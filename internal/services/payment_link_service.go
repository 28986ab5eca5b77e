package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/api/validate"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/auth"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/models"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentLinkService issues single-use links that let a member pay the
// registration fee without signing in.
type PaymentLinkService struct {
	links    repository.PaymentLinks
	profiles repository.RelatedEntities
	payments *PaymentService
	expiry   time.Duration
	baseURL  string
	log      *slog.Logger
	now      func() time.Time
}

func NewPaymentLinkService(links repository.PaymentLinks, profiles repository.RelatedEntities, payments *PaymentService,
	expiry time.Duration, baseURL string, log *slog.Logger) *PaymentLinkService {
	if expiry <= 0 {
		expiry = 72 * time.Hour
	}
	return &PaymentLinkService{
		links:    links,
		profiles: profiles,
		payments: payments,
		expiry:   expiry,
		baseURL:  strings.TrimRight(baseURL, "/"),
		log:      log.With("component", "payment_links"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateLinkInput struct {
	UserID          string
	Amount          decimal.Decimal
	Currency        string
	PaymentConfigID string
	Actor           string
}

type CreatedLink struct {
	Link  models.PaymentLink `json:"link"`
	Token string             `json:"token"`
	URL   string             `json:"url"`
}

type LinkInfo struct {
	LinkID    string          `json:"link_id"`
	UserID    string          `json:"user_id"`
	FullName  string          `json:"full_name"`
	Email     string          `json:"email"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func (s *PaymentLinkService) Create(ctx context.Context, in CreateLinkInput) (CreatedLink, error) {
	if in.Currency == "" {
		in.Currency = s.payments.opts.DefaultCurrency
	}
	var errs validate.Errs
	errs.Add(
		validate.Required("user_id", in.UserID),
		validate.PositiveAmount("amount", in.Amount),
		validate.CurrencyCode("currency", in.Currency),
	)
	if err := errs.Err(); err != nil {
		return CreatedLink{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	profile, err := s.profiles.GetProfile(ctx, in.UserID)
	if err != nil {
		return CreatedLink{}, storeErr("load profile", err)
	}
	if profile.RegistrationSettled() {
		return CreatedLink{}, fmt.Errorf("%w: registration already %s", ErrConflict, profile.RegistrationPaymentStatus)
	}

	id := uuid.NewString()
	token, hash, err := auth.NewLinkToken(id)
	if err != nil {
		return CreatedLink{}, fmt.Errorf("link token: %w", err)
	}
	link := models.PaymentLink{
		ID:         id,
		UserID:     in.UserID,
		Amount:     in.Amount,
		Currency:   in.Currency,
		SecretHash: hash,
		ExpiresAt:  s.now().Add(s.expiry),
	}
	if in.PaymentConfigID != "" {
		pc := in.PaymentConfigID
		link.PaymentConfigID = &pc
	}
	link, err = s.links.Create(ctx, link)
	if err != nil {
		return CreatedLink{}, storeErr("create payment link", err)
	}
	s.log.Info("payment link created", "op", "link_created", "link_id", link.ID, "user_id", link.UserID, "actor", in.Actor)
	return CreatedLink{Link: link, Token: token, URL: s.baseURL + "/pay/" + token}, nil
}

// resolve authenticates token and returns its link. Used links are
// accepted only when allowUsed is set.
func (s *PaymentLinkService) resolve(ctx context.Context, token string, allowUsed bool) (models.PaymentLink, error) {
	id, secret, err := auth.SplitLinkToken(token)
	if err != nil {
		return models.PaymentLink{}, fmt.Errorf("%w: malformed token", ErrLinkInvalid)
	}
	if !validID(id) {
		return models.PaymentLink{}, fmt.Errorf("%w: unknown link", ErrLinkInvalid)
	}
	link, err := s.links.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return models.PaymentLink{}, fmt.Errorf("%w: unknown link", ErrLinkInvalid)
	}
	if err != nil {
		return models.PaymentLink{}, storeErr("load payment link", err)
	}
	if auth.VerifySecret(secret, link.SecretHash) != nil {
		s.log.Warn("payment link secret mismatch", "op", "link_invalid", "link_id", id)
		return models.PaymentLink{}, fmt.Errorf("%w: unknown link", ErrLinkInvalid)
	}
	if link.Used && !allowUsed {
		return models.PaymentLink{}, fmt.Errorf("%w: link already used", ErrLinkInvalid)
	}
	if !link.Used && link.Expired(s.now()) {
		return models.PaymentLink{}, fmt.Errorf("%w: link expired", ErrLinkInvalid)
	}
	return link, nil
}

// Validate checks that a link can still be paid.
func (s *PaymentLinkService) Validate(ctx context.Context, token string) (LinkInfo, error) {
	link, err := s.resolve(ctx, token, false)
	if err != nil {
		return LinkInfo{}, err
	}
	profile, err := s.profiles.GetProfile(ctx, link.UserID)
	if err != nil {
		return LinkInfo{}, storeErr("load profile", err)
	}
	if profile.RegistrationSettled() {
		return LinkInfo{}, fmt.Errorf("%w: registration already %s", ErrLinkInvalid, profile.RegistrationPaymentStatus)
	}
	return LinkInfo{
		LinkID:    link.ID,
		UserID:    link.UserID,
		FullName:  profile.FullName,
		Email:     profile.Email,
		Amount:    link.Amount,
		Currency:  link.Currency,
		ExpiresAt: link.ExpiresAt,
	}, nil
}

// CreateOrder opens a registration payment for the link's member.
func (s *PaymentLinkService) CreateOrder(ctx context.Context, token string) (CreateOrderResult, error) {
	info, err := s.Validate(ctx, token)
	if err != nil {
		return CreateOrderResult{}, err
	}
	link, err := s.links.GetByID(ctx, info.LinkID)
	if err != nil {
		return CreateOrderResult{}, storeErr("load payment link", err)
	}
	return s.payments.CreatePaymentOrder(ctx, CreateOrderInput{
		UserID:            link.UserID,
		Amount:            link.Amount,
		Currency:          link.Currency,
		RelatedEntityType: models.EntityRegistration,
		RelatedEntityID:   link.UserID,
		PaymentConfigID:   deref(link.PaymentConfigID),
		Metadata:          map[string]any{models.MetaPaymentLinkID: link.ID, "source": "payment_link"},
	})
}

// Verify verifies a checkout callback for a transaction opened through the
// link. A used link is accepted so a repeated callback stays idempotent.
func (s *PaymentLinkService) Verify(ctx context.Context, token string, in VerifyInput) (VerifyResult, error) {
	link, err := s.resolve(ctx, token, true)
	if err != nil {
		return VerifyResult{}, err
	}
	tx, err := s.payments.GetTransaction(ctx, in.TransactionID)
	if err != nil {
		return VerifyResult{}, err
	}
	if linkID, _ := tx.Metadata[models.MetaPaymentLinkID].(string); linkID != link.ID {
		return VerifyResult{}, ErrForbidden
	}
	in.UserID = link.UserID
	return s.payments.VerifyPayment(ctx, in)
}
