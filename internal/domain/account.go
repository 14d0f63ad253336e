package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds one user's product balances. Mutated only by the posting
// engine; every other reader goes through the transaction history.
type Account struct {
	UserID     string          `json:"user_id"`
	Checking   decimal.Decimal `json:"checking"`
	Savings    decimal.Decimal `json:"savings"`
	Investment decimal.Decimal `json:"investment"`
	// EURBalance is the single secondary-currency balance.
	EURBalance decimal.Decimal `json:"eur_balance"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Balance returns the current amount for a product balance.
func (a *Account) Balance(t AccountType) decimal.Decimal {
	switch NormalizeAccountType(t) {
	case AccountSavings:
		return a.Savings
	case AccountInvestment:
		return a.Investment
	default:
		return a.Checking
	}
}

// SetBalance overwrites a product balance. Callers outside the posting
// engine must not use this; they read through history instead.
func (a *Account) SetBalance(t AccountType, v decimal.Decimal) {
	switch NormalizeAccountType(t) {
	case AccountSavings:
		a.Savings = v
	case AccountInvestment:
		a.Investment = v
	default:
		a.Checking = v
	}
}
