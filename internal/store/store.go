package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/haldenbank/corebank/internal/domain"
)

// Store is the persistence boundary. All reads and writes of accounts,
// transactions and the history projection go through it; posting-critical
// mutations go through PostUnit.
type Store interface {
	CreateAccount(ctx context.Context, acc *domain.Account) error
	GetAccount(ctx context.Context, userID string) (*domain.Account, error)

	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	GetTransactionByReference(ctx context.Context, ref string) (*domain.Transaction, error)
	UpdateTransaction(ctx context.Context, tx *domain.Transaction) error

	UpsertHistory(ctx context.Context, userID string, e domain.HistoryEntry) error
	ListHistory(ctx context.Context, userID string, f domain.HistoryFilter, p domain.Page) ([]domain.HistoryEntry, domain.Totals, error)

	// PostUnit runs fn with exclusive access to the user's account.
	// Every mutation made through the Unit commits atomically when fn
	// returns nil, and none of them when it returns an error. Concurrent
	// units on the same account serialize.
	PostUnit(ctx context.Context, userID string, fn func(Unit) error) error
}

// Unit is the handle fn receives inside PostUnit. It is valid only for the
// duration of the callback.
type Unit interface {
	GetTransaction(id string) (*domain.Transaction, error)
	UpdateTransaction(tx *domain.Transaction) error

	// ApplyBalanceDelta adds delta to the named primary-currency balance
	// and returns the balance after. A zero delta returns the current
	// balance unchanged.
	ApplyBalanceDelta(t domain.AccountType, delta decimal.Decimal) (decimal.Decimal, error)

	// ApplyEURDelta adds delta to the secondary-currency balance.
	ApplyEURDelta(delta decimal.Decimal) (decimal.Decimal, error)

	UpsertHistory(e domain.HistoryEntry) error
}
