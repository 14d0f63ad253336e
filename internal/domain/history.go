package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// HistoryCap bounds the per-user history projection; the oldest entry is
// evicted first once the cap is reached.
const HistoryCap = 100

// HistoryEntry is a denormalized projection of a transaction kept per user
// for fast reads. It is created in pending shape when a transfer is
// initiated and upgraded in place (same TransactionID) once posting
// commits.
type HistoryEntry struct {
	TransactionID string          `json:"transaction_id"`
	Reference     string          `json:"reference"`
	Type          TxType          `json:"type"`
	AccountType   AccountType     `json:"account_type"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	Status        Status          `json:"status"`
	Description   string          `json:"description,omitempty"`
	Date          time.Time       `json:"date"`
	// BalanceAfter is the account balance immediately after this
	// transaction's delta was applied; zero until posted.
	BalanceAfter decimal.Decimal `json:"balance_after"`
}

// HistoryFilter narrows a history listing.
type HistoryFilter struct {
	AccountType AccountType
	Type        TxType
	Status      Status
	From        time.Time
	To          time.Time
}

// Matches reports whether the entry passes every set filter field.
func (f HistoryFilter) Matches(e HistoryEntry) bool {
	if f.AccountType != "" && e.AccountType != f.AccountType {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && e.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Date.After(f.To) {
		return false
	}
	return true
}

// Page is offset pagination for history listings.
type Page struct {
	Offset int
	Limit  int
}

// Totals are the running credit/debit sums over a filtered history page's
// full result set.
type Totals struct {
	Credits decimal.Decimal `json:"credits"`
	Debits  decimal.Decimal `json:"debits"`
}
