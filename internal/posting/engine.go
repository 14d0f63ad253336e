// Package posting applies transaction balance deltas exactly once. All of
// a posting's effects (balance write, history upsert, posted latch) commit
// in a single store unit; retries after a failed attempt are safe because
// the failed unit left nothing behind.
package posting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/haldenbank/corebank/internal/domain"
	"github.com/haldenbank/corebank/internal/store"
)

type Engine struct {
	store store.Store
	log   *zap.Logger
}

func New(st store.Store, log *zap.Logger) *Engine {
	return &Engine{store: st, log: log}
}

// Apply posts a single transaction. It is idempotent: a transaction that
// is not in a postable status, or whose posted latch is already set,
// returns nil without effect, so Apply is safe to call repeatedly or
// concurrently.
func (e *Engine) Apply(ctx context.Context, txID string) error {
	tx, err := e.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	err = e.store.PostUnit(ctx, tx.UserID, func(u store.Unit) error {
		return e.applyInUnit(u, txID)
	})
	if err != nil {
		e.log.Error("posting failed",
			zap.String("transaction_id", txID),
			zap.String("reference", tx.Reference),
			zap.Error(err))
		return &domain.PostingError{Reference: tx.Reference, Err: err}
	}
	return nil
}

// ApplyPair posts a principal and its fee inside one unit on the owning
// account: either both latch or neither does. feeID may be empty for
// fee-free transfers.
func (e *Engine) ApplyPair(ctx context.Context, principalID, feeID string) error {
	tx, err := e.store.GetTransaction(ctx, principalID)
	if err != nil {
		return err
	}
	err = e.store.PostUnit(ctx, tx.UserID, func(u store.Unit) error {
		if err := e.applyInUnit(u, principalID); err != nil {
			return err
		}
		if feeID != "" {
			return e.applyInUnit(u, feeID)
		}
		return nil
	})
	if err != nil {
		e.log.Error("paired posting failed",
			zap.String("principal_id", principalID),
			zap.String("fee_id", feeID),
			zap.String("reference", tx.Reference),
			zap.Error(err))
		return &domain.PostingError{Reference: tx.Reference, Err: err}
	}
	return nil
}

// applyInUnit runs steps 2-5 of the posting contract under the unit's
// account lock. The transaction is re-read inside the unit so the
// idempotence check observes the committed state.
func (e *Engine) applyInUnit(u store.Unit, txID string) error {
	tx, err := u.GetTransaction(txID)
	if err != nil {
		return err
	}
	if tx.Posted {
		return nil
	}
	if tx.Status != domain.StatusApproved && tx.Status != domain.StatusCompleted {
		return nil
	}

	var after decimal.Decimal
	switch tx.Currency {
	case domain.CurrencyUSD:
		after, err = u.ApplyBalanceDelta(tx.AccountType, tx.SignedDelta(domain.CurrencyUSD))
	case domain.CurrencyEUR:
		after, err = u.ApplyEURDelta(tx.SignedDelta(domain.CurrencyEUR))
	default:
		// Unknown currency: record history, move no balance.
		after, err = u.ApplyBalanceDelta(tx.AccountType, decimal.Zero)
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	tx.Posted = true
	tx.PostedAt = &now
	if tx.Status == domain.StatusApproved {
		tx.Status = domain.StatusCompleted
	}

	if err := u.UpsertHistory(domain.HistoryEntry{
		TransactionID: tx.ID,
		Reference:     tx.Reference,
		Type:          tx.Type,
		AccountType:   tx.AccountType,
		Currency:      tx.Currency,
		Amount:        tx.Amount,
		Status:        tx.Status,
		Description:   tx.Description,
		Date:          tx.Date,
		BalanceAfter:  after,
	}); err != nil {
		return err
	}
	if err := u.UpdateTransaction(tx); err != nil {
		return err
	}

	e.log.Info("transaction posted",
		zap.String("transaction_id", tx.ID),
		zap.String("reference", tx.Reference),
		zap.String("balance_after", after.String()))
	return nil
}
