// Package ledger owns the canonical transaction records: the creation
// contract every insert passes through, and the status state machine.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haldenbank/corebank/internal/domain"
	"github.com/haldenbank/corebank/internal/store"
)

type Service struct {
	store store.Store
	log   *zap.Logger
}

func New(st store.Store, log *zap.Logger) *Service {
	return &Service{store: st, log: log}
}

// Create inserts a transaction under the creation contract: the account
// type is normalized, the posted latch is always zeroed, and the status is
// forced to pending unless the transaction rides an instant channel that
// the caller created as completed.
func (s *Service) Create(ctx context.Context, tx *domain.Transaction) error {
	if tx.Amount.IsNegative() {
		return domain.ErrInvalidAmount
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Reference == "" {
		tx.Reference = domain.NewReference(channelOf(tx))
	}
	if tx.Currency == "" {
		tx.Currency = domain.CurrencyUSD
	}
	tx.AccountType = domain.NormalizeAccountType(tx.AccountType)
	if tx.Date.IsZero() {
		tx.Date = time.Now().UTC()
	}
	if !(tx.Status == domain.StatusCompleted && channelOf(tx).Instant()) {
		tx.Status = domain.StatusPending
	}
	tx.Posted = false
	tx.PostedAt = nil

	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return err
	}
	s.log.Info("transaction created",
		zap.String("id", tx.ID),
		zap.String("reference", tx.Reference),
		zap.String("type", string(tx.Type)),
		zap.String("status", string(tx.Status)))
	return nil
}

// channelOf treats transactions without transfer metadata as internal
// same-day operations.
func channelOf(tx *domain.Transaction) domain.Channel {
	if tx.Transfer == nil {
		return domain.ChannelInternal
	}
	return tx.Transfer.Channel
}

// canTransition encodes the admin-facing state machine. The posting
// engine's approved→completed move happens inside the posting unit and
// does not go through here.
func canTransition(from, to domain.Status) bool {
	switch to {
	case domain.StatusPendingVerification:
		return from == domain.StatusPending
	case domain.StatusApproved:
		return from == domain.StatusPendingVerification
	case domain.StatusRejected:
		return !from.Terminal()
	}
	return false
}

// Transition moves a transaction to a new status with the state machine
// enforced. Rejection requires a reason; a posted transaction can never be
// rejected.
func (s *Service) Transition(ctx context.Context, txID string, to domain.Status, admin, reason string) (*domain.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Posted {
		return nil, &domain.TransitionError{TransactionID: txID, From: tx.Status, To: to}
	}
	if !canTransition(tx.Status, to) {
		return nil, &domain.TransitionError{TransactionID: txID, From: tx.Status, To: to}
	}
	if to == domain.StatusRejected && reason == "" {
		return nil, domain.ErrReasonRequired
	}

	now := time.Now().UTC()
	tx.Status = to
	tx.ReviewedBy = admin
	tx.ReviewedAt = &now
	if to == domain.StatusRejected {
		tx.RejectionReason = reason
	}
	if err := s.store.UpdateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	s.log.Info("transaction transitioned",
		zap.String("id", tx.ID),
		zap.String("status", string(to)),
		zap.String("reviewed_by", admin))
	return tx, nil
}

// EditDate lets an admin correct a transaction's business date. The
// pre-edit value is preserved once and the divergence flagged.
func (s *Service) EditDate(ctx context.Context, txID string, newDate time.Time, admin string) (*domain.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.OriginalDate == nil {
		orig := tx.Date
		tx.OriginalDate = &orig
	}
	tx.Date = newDate
	tx.EditedDateByAdmin = true
	now := time.Now().UTC()
	tx.ReviewedBy = admin
	tx.ReviewedAt = &now
	if err := s.store.UpdateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("date edit failed: %w", err)
	}
	return tx, nil
}

func (s *Service) Get(ctx context.Context, txID string) (*domain.Transaction, error) {
	return s.store.GetTransaction(ctx, txID)
}

func (s *Service) GetByReference(ctx context.Context, ref string) (*domain.Transaction, error) {
	return s.store.GetTransactionByReference(ctx, ref)
}

// List returns a page of the user's history projection with running
// credit/debit totals over the filtered set.
func (s *Service) List(ctx context.Context, userID string, f domain.HistoryFilter, p domain.Page) ([]domain.HistoryEntry, domain.Totals, error) {
	return s.store.ListHistory(ctx, userID, f, p)
}
