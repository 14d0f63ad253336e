// Package transfer orchestrates multi-step transfers: fee computation,
// channel-dependent initial status, the out-of-band verification exchange
// for external transfers, and admin approval driving the posting engine.
package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/haldenbank/corebank/internal/domain"
	"github.com/haldenbank/corebank/internal/ledger"
	"github.com/haldenbank/corebank/internal/notify"
	"github.com/haldenbank/corebank/internal/posting"
	"github.com/haldenbank/corebank/internal/store"
)

type Service struct {
	store    store.Store
	ledger   *ledger.Service
	engine   *posting.Engine
	notifier notify.Notifier
	log      *zap.Logger
}

func New(st store.Store, led *ledger.Service, eng *posting.Engine, n notify.Notifier, log *zap.Logger) *Service {
	return &Service{store: st, ledger: led, engine: eng, notifier: n, log: log}
}

// InitiateRequest describes a new transfer. Amount arrives as the caller
// typed it and is parsed here.
type InitiateRequest struct {
	UserID      string                  `json:"-"`
	FromAccount domain.AccountType      `json:"from_account"`
	Amount      string                  `json:"amount"`
	Channel     domain.Channel          `json:"channel"`
	Description string                  `json:"description,omitempty"`
	External    *domain.ExternalDetails `json:"external,omitempty"`
	Wire        *domain.WireDetails     `json:"wire,omitempty"`
}

// InitiateResult reports the created transfer. Status pending means funds
// have not moved yet.
type InitiateResult struct {
	TransactionID string          `json:"transaction_id"`
	Reference     string          `json:"reference"`
	Status        domain.Status   `json:"status"`
	Fee           decimal.Decimal `json:"fee"`
}

// Initiate validates, computes the fee, creates the principal (and fee)
// transactions and the synthetic pending history entries, and posts
// immediately on instant channels. Validation failures create no state.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	details, err := buildDetails(req)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	if err := checkBounds(details.Channel, amount); err != nil {
		return nil, err
	}
	details.Fee = domain.FeeFor(details)

	acc, err := s.store.GetAccount(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	from := domain.NormalizeAccountType(req.FromAccount)
	required := amount.Add(details.Fee)
	if available := acc.Balance(from); available.LessThan(required) {
		return nil, domain.NewInsufficientFunds(available, required)
	}

	status := domain.StatusPending
	if details.Channel.Instant() {
		status = domain.StatusCompleted
	}
	ref := domain.NewReference(details.Channel)
	if details.Fee.IsPositive() {
		details.FeeReference = domain.FeeReference(ref)
	}

	principal := &domain.Transaction{
		Reference:   ref,
		UserID:      req.UserID,
		Type:        domain.TypeTransferOut,
		Currency:    domain.CurrencyUSD,
		AccountType: from,
		Amount:      amount,
		Status:      status,
		Description: req.Description,
		Transfer:    details,
	}
	if err := s.ledger.Create(ctx, principal); err != nil {
		return nil, err
	}

	var feeTx *domain.Transaction
	if details.Fee.IsPositive() {
		feeTx = &domain.Transaction{
			Reference:   details.FeeReference,
			UserID:      req.UserID,
			Type:        domain.TypeFee,
			Currency:    domain.CurrencyUSD,
			AccountType: from,
			Amount:      details.Fee,
			Status:      status,
			Description: fmt.Sprintf("Transfer fee for %s", ref),
			Transfer:    &domain.TransferDetails{Channel: details.Channel, Fee: details.Fee},
		}
		if err := s.ledger.Create(ctx, feeTx); err != nil {
			return nil, err
		}
	}

	// The UI shows the pending debit before posting.
	s.appendPendingHistory(ctx, principal)
	if feeTx != nil {
		s.appendPendingHistory(ctx, feeTx)
	}

	if details.Channel.Instant() {
		feeID := ""
		if feeTx != nil {
			feeID = feeTx.ID
		}
		if err := s.engine.ApplyPair(ctx, principal.ID, feeID); err != nil {
			return nil, err
		}
	}

	s.sendNotification(ctx, principal, "Transfer initiated",
		fmt.Sprintf("Transfer %s for %s has been initiated.", ref, amount))

	final, err := s.ledger.Get(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	return &InitiateResult{
		TransactionID: final.ID,
		Reference:     final.Reference,
		Status:        final.Status,
		Fee:           details.Fee,
	}, nil
}

// AttachVerificationCode stores the out-of-band code on a pending external
// transfer, moves it to pending_verification, and notifies the
// counterparty. An existing code is never overwritten.
func (s *Service) AttachVerificationCode(ctx context.Context, txID, code, admin, notes string) error {
	if code == "" {
		return domain.ErrCodeRequired
	}
	tx, err := s.ledger.Get(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Transfer == nil || tx.Transfer.External == nil {
		return domain.ErrNotTransfer
	}
	if tx.Status != domain.StatusPending {
		return &domain.TransitionError{TransactionID: txID, From: tx.Status, Expected: domain.StatusPending}
	}
	if tx.Transfer.External.VerificationCode != "" {
		return domain.ErrCodeAlreadySet
	}

	tx.Transfer.External.VerificationRequired = true
	tx.Transfer.External.VerificationCode = code
	if notes != "" {
		tx.Description = tx.Description + " | " + notes
	}
	// Code and status land in one write: a failure here leaves the
	// transfer fully pending and the attach retryable, never wedged with
	// a code but no status change.
	now := time.Now().UTC()
	tx.Status = domain.StatusPendingVerification
	tx.ReviewedBy = admin
	tx.ReviewedAt = &now
	if err := s.store.UpdateTransaction(ctx, tx); err != nil {
		return err
	}

	// The fee leg walks the state machine in lock-step with its
	// principal. A failure here is recovered at approval time.
	if tx.Transfer.FeeReference != "" {
		feeTx, err := s.ledger.GetByReference(ctx, tx.Transfer.FeeReference)
		if err == nil && feeTx.Status == domain.StatusPending {
			if _, err := s.ledger.Transition(ctx, feeTx.ID, domain.StatusPendingVerification, admin, ""); err != nil {
				s.log.Warn("fee leg transition failed",
					zap.String("fee_id", feeTx.ID), zap.Error(err))
			}
		}
	}

	s.sendNotification(ctx, tx, "Verification required",
		fmt.Sprintf("A verification code is required to receive transfer %s.", tx.Reference))
	return nil
}

// ConfirmVerification records that the counterparty reported the code back
// through the external channel. It does not move funds. The external
// channel is trusted to have matched the code against the one attached;
// no code is presented or compared here, and approval still requires an
// admin.
func (s *Service) ConfirmVerification(ctx context.Context, txID string) error {
	tx, err := s.ledger.Get(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Transfer == nil || tx.Transfer.External == nil {
		return domain.ErrNotTransfer
	}
	if tx.Status != domain.StatusPendingVerification {
		return &domain.TransitionError{TransactionID: txID, From: tx.Status, Expected: domain.StatusPendingVerification}
	}
	tx.Transfer.External.VerificationCompleted = true
	return s.store.UpdateTransaction(ctx, tx)
}

// Approve clears a verified external transfer and posts principal and fee
// as one unit. On posting failure the caller receives a retryable error
// that preserves the reference; neither leg is marked posted.
func (s *Service) Approve(ctx context.Context, txID, admin string) error {
	tx, err := s.ledger.Get(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Transfer == nil || tx.Transfer.External == nil {
		return domain.ErrNotTransfer
	}
	if !tx.Transfer.External.VerificationCompleted {
		return domain.ErrVerificationPending
	}
	// Already-approved legs are left alone so a retry after a posting
	// failure reaches ApplyPair again.
	if tx.Status != domain.StatusApproved {
		if _, err := s.ledger.Transition(ctx, txID, domain.StatusApproved, admin, ""); err != nil {
			return err
		}
	}

	feeID := ""
	if tx.Transfer.FeeReference != "" {
		feeTx, err := s.ledger.GetByReference(ctx, tx.Transfer.FeeReference)
		if err != nil {
			return fmt.Errorf("fee transaction lookup failed: %w", err)
		}
		if err := s.approveLeg(ctx, feeTx.ID, admin); err != nil {
			return err
		}
		feeID = feeTx.ID
	}

	if err := s.engine.ApplyPair(ctx, txID, feeID); err != nil {
		return err
	}

	s.sendNotification(ctx, tx, "Transfer completed",
		fmt.Sprintf("Transfer %s has been approved and posted.", tx.Reference))
	return nil
}

// approveLeg walks a fee leg to approved. A leg still pending (the
// verification transition did not reach it) is promoted through
// pending_verification first; an already-approved leg is left alone so
// retries reach the posting engine.
func (s *Service) approveLeg(ctx context.Context, txID, admin string) error {
	tx, err := s.ledger.Get(ctx, txID)
	if err != nil {
		return err
	}
	switch tx.Status {
	case domain.StatusApproved:
		return nil
	case domain.StatusPending:
		if _, err := s.ledger.Transition(ctx, txID, domain.StatusPendingVerification, admin, ""); err != nil {
			return err
		}
	}
	_, err = s.ledger.Transition(ctx, txID, domain.StatusApproved, admin, "")
	return err
}

// Reject cancels a transfer at any pre-posted state, fee leg included.
// Reject wins even when verification has completed; only posted
// transactions are out of reach.
func (s *Service) Reject(ctx context.Context, txID, admin, reason string) error {
	tx, err := s.ledger.Transition(ctx, txID, domain.StatusRejected, admin, reason)
	if err != nil {
		return err
	}
	s.markHistoryRejected(ctx, tx)

	if tx.Transfer != nil && tx.Transfer.FeeReference != "" {
		feeTx, err := s.ledger.GetByReference(ctx, tx.Transfer.FeeReference)
		if err == nil && !feeTx.Status.Terminal() {
			if feeTx, err = s.ledger.Transition(ctx, feeTx.ID, domain.StatusRejected, admin, reason); err == nil {
				s.markHistoryRejected(ctx, feeTx)
			}
		}
	}

	s.sendNotification(ctx, tx, "Transfer rejected",
		fmt.Sprintf("Transfer %s was rejected: %s", tx.Reference, reason))
	return nil
}

// ConfirmReceipt records the sender's acknowledgment that the counterparty
// received a completed external transfer.
func (s *Service) ConfirmReceipt(ctx context.Context, txID, userID string) error {
	tx, err := s.ledger.Get(ctx, txID)
	if err != nil {
		return err
	}
	if tx.UserID != userID {
		return domain.ErrTransactionNotFound
	}
	if tx.Transfer == nil || tx.Transfer.External == nil {
		return domain.ErrNotTransfer
	}
	if tx.Status != domain.StatusCompleted {
		return &domain.TransitionError{TransactionID: txID, From: tx.Status, Expected: domain.StatusCompleted}
	}
	tx.Transfer.External.UserConfirmedReceipt = true
	return s.store.UpdateTransaction(ctx, tx)
}

// CreateResult reports a synchronously posted transaction.
type CreateResult struct {
	TransactionID string          `json:"transaction_id"`
	Reference     string          `json:"reference"`
	NewBalance    decimal.Decimal `json:"new_balance"`
}

// CreateTransaction is the synchronous debit/credit path for simple
// internal operations: the transaction is created completed and posted
// before returning.
func (s *Service) CreateTransaction(ctx context.Context, userID string, txType domain.TxType, amountStr string, accountType domain.AccountType, description string) (*CreateResult, error) {
	amount, err := decimal.NewFromString(amountStr)
	if err != nil || !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	accountType = domain.NormalizeAccountType(accountType)

	acc, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if txType.IsDebit() {
		if available := acc.Balance(accountType); available.LessThan(amount) {
			return nil, domain.NewInsufficientFunds(available, amount)
		}
	}

	tx := &domain.Transaction{
		UserID:      userID,
		Type:        txType,
		Currency:    domain.CurrencyUSD,
		AccountType: accountType,
		Amount:      amount,
		Status:      domain.StatusCompleted,
		Description: description,
	}
	if err := s.ledger.Create(ctx, tx); err != nil {
		return nil, err
	}
	if err := s.engine.Apply(ctx, tx.ID); err != nil {
		return nil, err
	}

	updated, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &CreateResult{
		TransactionID: tx.ID,
		Reference:     tx.Reference,
		NewBalance:    updated.Balance(accountType),
	}, nil
}

func buildDetails(req InitiateRequest) (*domain.TransferDetails, error) {
	switch req.Channel {
	case domain.ChannelExternal:
		e := req.External
		if e == nil || e.RecipientName == "" || e.AccountNumber == "" || e.RoutingNumber == "" {
			return nil, domain.ErrMissingRecipient
		}
		if e.Speed == "" {
			e.Speed = domain.SpeedStandard
		}
		return &domain.TransferDetails{Channel: domain.ChannelExternal, External: e}, nil
	case domain.ChannelWire:
		w := req.Wire
		if w == nil || w.RecipientName == "" || w.AccountNumber == "" || w.SwiftCode == "" {
			return nil, domain.ErrMissingRecipient
		}
		return &domain.TransferDetails{Channel: domain.ChannelWire, Wire: w}, nil
	}
	return nil, fmt.Errorf("unsupported transfer channel %q", req.Channel)
}

func checkBounds(c domain.Channel, amount decimal.Decimal) error {
	switch c {
	case domain.ChannelExternal:
		if amount.LessThan(domain.ExternalMin) || amount.GreaterThan(domain.ExternalMax) {
			return &domain.AmountRangeError{Channel: c, Amount: amount, Min: domain.ExternalMin, Max: domain.ExternalMax}
		}
	case domain.ChannelWire:
		if amount.GreaterThan(domain.WireMax) {
			return &domain.AmountRangeError{Channel: c, Amount: amount, Min: domain.WireMin, Max: domain.WireMax, ApprovalRequired: true}
		}
		if amount.LessThan(domain.WireMin) {
			return &domain.AmountRangeError{Channel: c, Amount: amount, Min: domain.WireMin, Max: domain.WireMax}
		}
	}
	return nil
}

func (s *Service) appendPendingHistory(ctx context.Context, tx *domain.Transaction) {
	err := s.store.UpsertHistory(ctx, tx.UserID, domain.HistoryEntry{
		TransactionID: tx.ID,
		Reference:     tx.Reference,
		Type:          tx.Type,
		AccountType:   tx.AccountType,
		Currency:      tx.Currency,
		Amount:        tx.Amount,
		Status:        tx.Status,
		Description:   tx.Description,
		Date:          tx.Date,
		BalanceAfter:  decimal.Zero,
	})
	if err != nil {
		s.log.Warn("pending history write failed",
			zap.String("transaction_id", tx.ID), zap.Error(err))
	}
}

func (s *Service) markHistoryRejected(ctx context.Context, tx *domain.Transaction) {
	err := s.store.UpsertHistory(ctx, tx.UserID, domain.HistoryEntry{
		TransactionID: tx.ID,
		Reference:     tx.Reference,
		Type:          tx.Type,
		AccountType:   tx.AccountType,
		Currency:      tx.Currency,
		Amount:        tx.Amount,
		Status:        domain.StatusRejected,
		Description:   tx.Description,
		Date:          tx.Date,
		BalanceAfter:  decimal.Zero,
	})
	if err != nil {
		s.log.Warn("history rejection update failed",
			zap.String("transaction_id", tx.ID), zap.Error(err))
	}
}

// sendNotification is fire-and-forget: a delivery failure never fails the
// financial operation.
func (s *Service) sendNotification(ctx context.Context, tx *domain.Transaction, subject, body string) {
	to := tx.UserID
	if tx.Transfer != nil && tx.Transfer.External != nil && tx.Transfer.External.RecipientEmail != "" {
		to = tx.Transfer.External.RecipientEmail
	}
	if err := s.notifier.Send(ctx, notify.Notification{
		To:       to,
		Subject:  subject,
		BodyText: body,
	}); err != nil {
		s.log.Warn("notification send failed",
			zap.String("transaction_id", tx.ID), zap.Error(err))
	}
}
