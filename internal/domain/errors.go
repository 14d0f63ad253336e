package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateReference  = errors.New("reference already exists")
	ErrInvalidAmount       = errors.New("amount must be a positive number")
	ErrMissingRecipient    = errors.New("recipient details are incomplete")
	ErrCodeRequired        = errors.New("verification code is required")
	ErrCodeAlreadySet      = errors.New("verification code already attached")
	ErrVerificationPending = errors.New("verification not yet completed")
	ErrReasonRequired      = errors.New("rejection reason is required")
	ErrAdminRequired       = errors.New("admin privileges required")
	ErrNotTransfer         = errors.New("transaction is not a transfer")
)

// InsufficientFundsError reports a debit that would overdraw the source
// balance, with the figures support staff need.
type InsufficientFundsError struct {
	Available decimal.Decimal `json:"available"`
	Required  decimal.Decimal `json:"required"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, required %s, shortfall %s",
		e.Available, e.Required, e.Shortfall)
}

// NewInsufficientFunds builds the error from the available balance and the
// total required (amount plus fee).
func NewInsufficientFunds(available, required decimal.Decimal) *InsufficientFundsError {
	return &InsufficientFundsError{
		Available: available,
		Required:  required,
		Shortfall: required.Sub(available),
	}
}

// AmountRangeError reports an amount outside its channel's bounds.
type AmountRangeError struct {
	Channel Channel
	Amount  decimal.Decimal
	Min     decimal.Decimal
	Max     decimal.Decimal
	// ApprovalRequired marks amounts above the wire ceiling, which need
	// additional approval rather than a different amount.
	ApprovalRequired bool
}

func (e *AmountRangeError) Error() string {
	if e.ApprovalRequired {
		return fmt.Sprintf("%s transfer of %s exceeds %s and requires additional approval",
			e.Channel, e.Amount, e.Max)
	}
	return fmt.Sprintf("%s transfer amount %s outside allowed range %s-%s",
		e.Channel, e.Amount, e.Min, e.Max)
}

// TransitionError reports an illegal state machine transition, naming the
// state the operation expected against the one found.
type TransitionError struct {
	TransactionID string
	From          Status
	To            Status
	Expected      Status
}

func (e *TransitionError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("transaction %s is %s, expected %s", e.TransactionID, e.From, e.Expected)
	}
	return fmt.Sprintf("transaction %s cannot move from %s to %s", e.TransactionID, e.From, e.To)
}

// PostingError wraps a failure inside the atomic posting unit. The whole
// unit has been rolled back; the reference lets support locate the record.
type PostingError struct {
	Reference string
	Err       error
}

func (e *PostingError) Error() string {
	return fmt.Sprintf("posting failed for %s: %v", e.Reference, e.Err)
}

func (e *PostingError) Unwrap() error { return e.Err }
