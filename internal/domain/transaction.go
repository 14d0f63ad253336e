package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a ledger transaction.
type Status string

const (
	StatusPending             Status = "pending"
	StatusPendingVerification Status = "pending_verification"
	StatusApproved            Status = "approved"
	StatusCompleted           Status = "completed"
	StatusRejected            Status = "rejected"
)

// Terminal reports whether no further transition may leave this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// TxType classifies a transaction and determines the sign of its balance delta.
type TxType string

const (
	TypeDeposit          TxType = "deposit"
	TypeWithdraw         TxType = "withdraw"
	TypeTransferIn       TxType = "transfer_in"
	TypeTransferOut      TxType = "transfer_out"
	TypeFee              TxType = "fee"
	TypeInterest         TxType = "interest"
	TypeAdjustmentCredit TxType = "adjustment_credit"
	TypeAdjustmentDebit  TxType = "adjustment_debit"
)

// IsCredit reports whether the type increases a balance. The sign table is
// fixed: everything not listed here is a debit.
func (t TxType) IsCredit() bool {
	switch t {
	case TypeDeposit, TypeInterest, TypeAdjustmentCredit, TypeTransferIn:
		return true
	}
	return false
}

// IsDebit reports whether the type decreases a balance.
func (t TxType) IsDebit() bool {
	switch t {
	case TypeWithdraw, TypeTransferOut, TypeFee, TypeAdjustmentDebit:
		return true
	}
	return false
}

// AccountType names the product balance a transaction affects.
type AccountType string

const (
	AccountChecking   AccountType = "checking"
	AccountSavings    AccountType = "savings"
	AccountInvestment AccountType = "investment"
)

// NormalizeAccountType maps unknown product names to checking so that
// posting never encounters an invalid balance bucket.
func NormalizeAccountType(t AccountType) AccountType {
	switch t {
	case AccountChecking, AccountSavings, AccountInvestment:
		return t
	}
	return AccountChecking
}

// Currency codes. USD is the primary currency; EUR is the one secondary
// currency carrying its own balance.
const (
	CurrencyUSD = "USD"
	CurrencyEUR = "EUR"
)

// Transaction is the canonical ledger row. Amount is always stored
// non-negative; direction is derived from Type via the sign table.
type Transaction struct {
	ID          string          `json:"id"`
	Reference   string          `json:"reference"`
	UserID      string          `json:"user_id"`
	Type        TxType          `json:"type"`
	Currency    string          `json:"currency"`
	AccountType AccountType     `json:"account_type"`
	Amount      decimal.Decimal `json:"amount"`
	Status      Status          `json:"status"`
	Description string          `json:"description,omitempty"`

	// Posted is a one-way latch: once true this row's delta has been
	// applied to a balance and must never be applied again.
	Posted   bool       `json:"posted"`
	PostedAt *time.Time `json:"posted_at,omitempty"`

	Date              time.Time  `json:"date"`
	EditedDateByAdmin bool       `json:"edited_date_by_admin,omitempty"`
	OriginalDate      *time.Time `json:"original_date,omitempty"`
	ReviewedBy        string     `json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time `json:"reviewed_at,omitempty"`
	RejectionReason   string     `json:"rejection_reason,omitempty"`

	Transfer *TransferDetails `json:"transfer,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// SignedDelta is the balance movement this transaction carries for the
// given balance currency. A transaction in another currency contributes
// zero: it is recorded for history but moves only its own currency's
// balance.
func (tx *Transaction) SignedDelta(currency string) decimal.Decimal {
	if tx.Currency != currency {
		return decimal.Zero
	}
	if tx.Type.IsCredit() {
		return tx.Amount
	}
	return tx.Amount.Neg()
}
