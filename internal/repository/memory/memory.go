// Package memory is an in-process implementation of the repository
// interfaces with the same conditional-write rules as the postgres one.
// Service and API tests run against it.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/models"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu     sync.Mutex
	now    func() time.Time
	txs    map[string]models.PaymentTransaction
	links  map[string]models.PaymentLink
	audits []models.AuditLog

	// Related records, keyed by id. Tests seed them with AddEvent etc.
	Events    map[string]EntityRecord
	Profiles  map[string]EntityRecord
	Donations map[string]EntityRecord
	// EntityWrites counts every related-entity write, including repeats.
	EntityWrites int
	// FailEntities makes every related-entity write return this error.
	FailEntities error
	// FailTransactions makes transaction lookups return this error.
	FailTransactions error
}

// EntityRecord is the payment-relevant slice of an event registration,
// member profile or donation row.
type EntityRecord struct {
	PaymentStatus             string
	TransactionID             string
	RegistrationConfirmed     bool
	RegistrationPaymentStatus string
	RegistrationTransactionID string
	FullName                  string
	Email                     string
}

func New() *Store {
	return &Store{
		now:       time.Now,
		txs:       map[string]models.PaymentTransaction{},
		links:     map[string]models.PaymentLink{},
		Events:    map[string]EntityRecord{},
		Profiles:  map[string]EntityRecord{},
		Donations: map[string]EntityRecord{},
	}
}

// SetClock overrides the time source used for created_at/updated_at.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) AddEvent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events[id] = EntityRecord{PaymentStatus: "unpaid"}
}

func (s *Store) AddProfile(id, name, email, registrationStatus string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Profiles[id] = EntityRecord{FullName: name, Email: email, RegistrationPaymentStatus: registrationStatus}
}

func (s *Store) AddDonation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Donations[id] = EntityRecord{PaymentStatus: "pending"}
}

func (s *Store) Event(id string) EntityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Events[id]
}

func (s *Store) Profile(id string) EntityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Profiles[id]
}

func (s *Store) Donation(id string) EntityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Donations[id]
}

func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EntityWrites
}

func (s *Store) AuditTrail() []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditLog(nil), s.audits...)
}

// Transactions

func (s *Store) Create(_ context.Context, tx models.PaymentTransaction) (models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := s.now()
	tx.CreatedAt, tx.UpdatedAt = now, now
	tx.Metadata = cloneMeta(tx.Metadata)
	s.txs[tx.ID] = tx
	return tx, nil
}

func (s *Store) GetByID(_ context.Context, id string) (models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailTransactions != nil {
		return models.PaymentTransaction{}, s.FailTransactions
	}
	tx, ok := s.txs[id]
	if !ok {
		return models.PaymentTransaction{}, repository.ErrNotFound
	}
	return tx, nil
}

func (s *Store) GetByGatewayOrderID(_ context.Context, orderID string) (models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailTransactions != nil {
		return models.PaymentTransaction{}, s.FailTransactions
	}
	for _, tx := range s.txs {
		if tx.GatewayOrderID != nil && *tx.GatewayOrderID == orderID {
			return tx, nil
		}
	}
	return models.PaymentTransaction{}, repository.ErrNotFound
}

func (s *Store) ListByUser(_ context.Context, userID string, limit, offset int) ([]models.PaymentTransaction, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.PaymentTransaction
	for _, tx := range s.txs {
		if tx.UserID == userID {
			all = append(all, tx)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *Store) ListStale(_ context.Context, status models.PaymentStatus, createdBefore time.Time, limit int) ([]models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentTransaction
	for _, tx := range s.txs {
		if tx.Status == status && tx.CreatedAt.Before(createdBefore) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AttachOrder(_ context.Context, id, gatewayOrderID string) (models.PaymentTransaction, error) {
	return s.transition(id, func(tx *models.PaymentTransaction) bool {
		if tx.Status != models.StatusInitiated || tx.GatewayOrderID != nil {
			return false
		}
		tx.GatewayOrderID = &gatewayOrderID
		tx.Status = models.StatusPending
		return true
	})
}

func (s *Store) MarkSuccess(_ context.Context, id string, u models.SuccessUpdate) (models.PaymentTransaction, error) {
	return s.transition(id, func(tx *models.PaymentTransaction) bool {
		if tx.Status.Terminal() || tx.GatewayPaymentID != nil {
			return false
		}
		pid, method, at := u.GatewayPaymentID, u.PaymentMethod, u.CompletedAt
		tx.Status = models.StatusSuccess
		tx.GatewayPaymentID = &pid
		if u.GatewaySignature != "" {
			sig := u.GatewaySignature
			tx.GatewaySignature = &sig
		}
		tx.PaymentMethod = &method
		tx.CompletedAt = &at
		return true
	})
}

func (s *Store) MarkFailed(_ context.Context, id, reason string) (models.PaymentTransaction, error) {
	return s.transition(id, func(tx *models.PaymentTransaction) bool {
		if tx.Status.Terminal() {
			return false
		}
		tx.Status = models.StatusFailed
		tx.FailureReason = &reason
		return true
	})
}

func (s *Store) transition(id string, apply func(*models.PaymentTransaction) bool) (models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailTransactions != nil {
		return models.PaymentTransaction{}, s.FailTransactions
	}
	tx, ok := s.txs[id]
	if !ok {
		return models.PaymentTransaction{}, repository.ErrNotFound
	}
	if !apply(&tx) {
		return models.PaymentTransaction{}, repository.ErrNoTransition
	}
	tx.UpdatedAt = s.now()
	s.txs[id] = tx
	return tx, nil
}

func (s *Store) Statistics(_ context.Context, from, to *time.Time) (models.PaymentStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st models.PaymentStatistics
	for _, tx := range s.txs {
		if from != nil && tx.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && !tx.CreatedAt.Before(*to) {
			continue
		}
		st.TotalTransactions++
		switch tx.Status {
		case models.StatusSuccess:
			st.SuccessfulPayments++
			st.TotalRevenue = st.TotalRevenue.Add(tx.Amount)
		case models.StatusFailed:
			st.FailedPayments++
		default:
			st.PendingPayments++
		}
	}
	if st.SuccessfulPayments > 0 {
		st.AverageValue = st.TotalRevenue.Div(decimal.NewFromInt(st.SuccessfulPayments)).Round(2)
	}
	if st.TotalTransactions > 0 {
		st.SuccessRate = float64(st.SuccessfulPayments) / float64(st.TotalTransactions)
	}
	return st, nil
}

func (s *Store) UserSummary(_ context.Context, userID string) (models.UserPaymentSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum models.UserPaymentSummary
	for _, tx := range s.txs {
		if tx.UserID != userID {
			continue
		}
		switch tx.Status {
		case models.StatusSuccess:
			sum.TotalPaid = sum.TotalPaid.Add(tx.Amount)
			if tx.CompletedAt != nil && (sum.LastPaymentDate == nil || tx.CompletedAt.After(*sum.LastPaymentDate)) {
				at := *tx.CompletedAt
				sum.LastPaymentDate = &at
			}
		case models.StatusFailed:
			sum.TotalFailed = sum.TotalFailed.Add(tx.Amount)
		default:
			sum.TotalPending = sum.TotalPending.Add(tx.Amount)
		}
	}
	return sum, nil
}

// RelatedEntities

func (s *Store) MarkEventRegistrationPaid(_ context.Context, registrationID, transactionID string) error {
	return s.writeEntity(s.Events, registrationID, func(r *EntityRecord) {
		r.PaymentStatus = "paid"
		r.TransactionID = transactionID
		r.RegistrationConfirmed = true
	})
}

func (s *Store) MarkMembershipPaid(_ context.Context, profileID, transactionID string) error {
	return s.writeEntity(s.Profiles, profileID, func(r *EntityRecord) {
		r.RegistrationPaymentStatus = "paid"
		r.RegistrationTransactionID = transactionID
		r.PaymentStatus = "completed"
	})
}

func (s *Store) MarkDonationCompleted(_ context.Context, donationID, transactionID string) error {
	return s.writeEntity(s.Donations, donationID, func(r *EntityRecord) {
		r.PaymentStatus = "completed"
		r.TransactionID = transactionID
	})
}

func (s *Store) GetProfile(_ context.Context, id string) (models.MemberProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Profiles[id]
	if !ok {
		return models.MemberProfile{}, repository.ErrNotFound
	}
	return models.MemberProfile{ID: id, FullName: p.FullName, Email: p.Email, RegistrationPaymentStatus: p.RegistrationPaymentStatus}, nil
}

func (s *Store) writeEntity(table map[string]EntityRecord, id string, apply func(*EntityRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailEntities != nil {
		return s.FailEntities
	}
	r, ok := table[id]
	if !ok {
		return repository.ErrNotFound
	}
	apply(&r)
	table[id] = r
	s.EntityWrites++
	return nil
}

// AuditLogs, exposed through Audit() so the method name does not clash with
// the transaction Create.

type auditLogs struct{ s *Store }

func (s *Store) Audit() repository.AuditLogs { return auditLogs{s} }

func (a auditLogs) Create(_ context.Context, l models.AuditLog) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	l.ID = int64(len(a.s.audits) + 1)
	l.CreatedAt = a.s.now()
	l.Details = cloneMeta(l.Details)
	a.s.audits = append(a.s.audits, l)
	return nil
}

func (a auditLogs) ListByTransaction(_ context.Context, transactionID string) ([]models.AuditLog, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	out := []models.AuditLog{}
	for _, l := range a.s.audits {
		if l.TransactionID == transactionID {
			out = append(out, l)
		}
	}
	return out, nil
}

// PaymentLinks, exposed through Links() for the same reason.

type paymentLinks struct{ s *Store }

func (s *Store) Links() repository.PaymentLinks { return paymentLinks{s} }

func (p paymentLinks) Create(_ context.Context, l models.PaymentLink) (models.PaymentLink, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.CreatedAt = p.s.now()
	p.s.links[l.ID] = l
	return l, nil
}

func (p paymentLinks) GetByID(_ context.Context, id string) (models.PaymentLink, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, ok := p.s.links[id]
	if !ok {
		return models.PaymentLink{}, repository.ErrNotFound
	}
	return l, nil
}

func (p paymentLinks) MarkUsed(_ context.Context, id string, at time.Time) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, ok := p.s.links[id]
	if !ok {
		return repository.ErrNotFound
	}
	if l.Used {
		return repository.ErrNoTransition
	}
	l.Used = true
	l.UsedAt = &at
	p.s.links[id] = l
	return nil
}

func cloneMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
