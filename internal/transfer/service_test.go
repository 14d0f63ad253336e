package transfer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haldenbank/corebank/internal/domain"
	"github.com/haldenbank/corebank/internal/ledger"
	"github.com/haldenbank/corebank/internal/notify"
	"github.com/haldenbank/corebank/internal/posting"
	"github.com/haldenbank/corebank/internal/store"
)

// captureNotifier records sends so tests can assert on the side channel
// without a broker.
type captureNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	fail bool
}

func (c *captureNotifier) Send(_ context.Context, n notify.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broker unavailable")
	}
	c.sent = append(c.sent, n)
	return nil
}

type fixture struct {
	svc      *Service
	store    *store.Memory
	notifier *captureNotifier
	userID   string
}

func newFixture(t *testing.T, checking int64) *fixture {
	t.Helper()
	m := store.NewMemory()
	userID := uuid.NewString()
	require.NoError(t, m.CreateAccount(context.Background(), &domain.Account{
		UserID:   userID,
		Checking: decimal.NewFromInt(checking),
	}))

	log := zap.NewNop()
	led := ledger.New(m, log)
	eng := posting.New(m, log)
	cn := &captureNotifier{}
	return &fixture{
		svc:      New(m, led, eng, cn, log),
		store:    m,
		notifier: cn,
		userID:   userID,
	}
}

func (f *fixture) balance(t *testing.T) string {
	t.Helper()
	acc, err := f.store.GetAccount(context.Background(), f.userID)
	require.NoError(t, err)
	return acc.Checking.String()
}

func externalRequest(userID, amount string) InitiateRequest {
	return InitiateRequest{
		UserID:      userID,
		FromAccount: domain.AccountChecking,
		Amount:      amount,
		Channel:     domain.ChannelExternal,
		External: &domain.ExternalDetails{
			RecipientName:  "Dana Whitfield",
			RecipientEmail: "dana@example.com",
			BankName:       "First National",
			AccountNumber:  "000123456789",
			RoutingNumber:  "021000021",
			Speed:          domain.SpeedStandard,
		},
	}
}

func wireRequest(userID, amount string, intl, urgent bool) InitiateRequest {
	return InitiateRequest{
		UserID:      userID,
		FromAccount: domain.AccountChecking,
		Amount:      amount,
		Channel:     domain.ChannelWire,
		Wire: &domain.WireDetails{
			RecipientName: "Omar Castellanos",
			AccountNumber: "DE89370400440532013000",
			SwiftCode:     "COBADEFF",
			International: intl,
			Urgent:        urgent,
		},
	}
}

func TestExternalTransferFullLifecycle(t *testing.T) {
	f := newFixture(t, 4000)
	ctx := context.Background()

	res, err := f.svc.Initiate(ctx, externalRequest(f.userID, "500"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, res.Status)
	assert.True(t, res.Fee.IsZero(), "standard speed carries no fee")
	assert.Equal(t, "4000", f.balance(t), "pending transfer must not move funds")

	// pending debit already visible in history
	entries, _, err := f.store.ListHistory(ctx, f.userID, domain.HistoryFilter{}, domain.Page{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.StatusPending, entries[0].Status)

	require.NoError(t, f.svc.AttachVerificationCode(ctx, res.TransactionID, "1234123412341234", "admin@bank", ""))
	tx, err := f.store.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingVerification, tx.Status)
	assert.Equal(t, "1234123412341234", tx.Transfer.External.VerificationCode)
	assert.Equal(t, "4000", f.balance(t))

	require.NoError(t, f.svc.ConfirmVerification(ctx, res.TransactionID))
	require.NoError(t, f.svc.Approve(ctx, res.TransactionID, "admin@bank"))

	assert.Equal(t, "3500", f.balance(t))
	tx, err = f.store.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, tx.Status)
	assert.True(t, tx.Posted)

	require.NoError(t, f.svc.ConfirmReceipt(ctx, res.TransactionID, f.userID))
	tx, _ = f.store.GetTransaction(ctx, res.TransactionID)
	assert.True(t, tx.Transfer.External.UserConfirmedReceipt)

	// recipient email was notified at each stage
	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	require.NotEmpty(t, f.notifier.sent)
	assert.Equal(t, "dana@example.com", f.notifier.sent[0].To)
}

func TestDomesticWirePostsInstantly(t *testing.T) {
	f := newFixture(t, 4000)
	ctx := context.Background()

	res, err := f.svc.Initiate(ctx, wireRequest(f.userID, "1000", false, false))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, "30", res.Fee.String())
	assert.Equal(t, "2970", f.balance(t), "principal and fee deducted in one step")

	tx, err := f.store.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.True(t, tx.Posted)

	feeTx, err := f.store.GetTransactionByReference(ctx, tx.Transfer.FeeReference)
	require.NoError(t, err)
	assert.True(t, feeTx.Posted)
	assert.Equal(t, "30", feeTx.Amount.String())
}

func TestUrgentInternationalWireFee(t *testing.T) {
	f := newFixture(t, 4000)

	res, err := f.svc.Initiate(context.Background(), wireRequest(f.userID, "1000", true, true))
	require.NoError(t, err)
	assert.Equal(t, "70", res.Fee.String())
	assert.Equal(t, "2930", f.balance(t))
}

func TestInitiateInsufficientFundsCreatesNothing(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	_, err := f.svc.Initiate(ctx, externalRequest(f.userID, "150"))
	var insuf *domain.InsufficientFundsError
	require.ErrorAs(t, err, &insuf)
	assert.Equal(t, "50", insuf.Shortfall.String())

	assert.Equal(t, "100", f.balance(t))
	entries, _, err := f.store.ListHistory(ctx, f.userID, domain.HistoryFilter{}, domain.Page{})
	require.NoError(t, err)
	assert.Empty(t, entries, "a refused transfer leaves no trace")
	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	assert.Empty(t, f.notifier.sent)
}

func TestInitiateFeeCountsTowardFunds(t *testing.T) {
	// 1000 covers the principal but not principal+fee
	f := newFixture(t, 1000)

	req := externalRequest(f.userID, "990")
	req.External.Speed = domain.SpeedExpress // $15 fee
	_, err := f.svc.Initiate(context.Background(), req)
	var insuf *domain.InsufficientFundsError
	require.ErrorAs(t, err, &insuf)
	assert.Equal(t, "5", insuf.Shortfall.String())
}

func TestInitiateBounds(t *testing.T) {
	f := newFixture(t, 1000000)
	ctx := context.Background()

	cases := []struct {
		name             string
		req              InitiateRequest
		approvalRequired bool
	}{
		{"external below minimum", externalRequest(f.userID, "0.50"), false},
		{"external above maximum", externalRequest(f.userID, "50001"), false},
		{"wire below minimum", wireRequest(f.userID, "99", false, false), false},
		{"wire above cap", wireRequest(f.userID, "250001", false, false), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Initiate(ctx, tc.req)
			var rangeErr *domain.AmountRangeError
			require.ErrorAs(t, err, &rangeErr)
			assert.Equal(t, tc.approvalRequired, rangeErr.ApprovalRequired)
		})
	}
	assert.Equal(t, "1000000", f.balance(t))
}

func TestInitiateValidationErrors(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	req := externalRequest(f.userID, "500")
	req.External.RoutingNumber = ""
	_, err := f.svc.Initiate(ctx, req)
	assert.ErrorIs(t, err, domain.ErrMissingRecipient)

	req = wireRequest(f.userID, "500", false, false)
	req.Wire.SwiftCode = ""
	_, err = f.svc.Initiate(ctx, req)
	assert.ErrorIs(t, err, domain.ErrMissingRecipient)

	req = externalRequest(f.userID, "not-a-number")
	_, err = f.svc.Initiate(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestVerificationCodeNeverOverwritten(t *testing.T) {
	f := newFixture(t, 4000)
	ctx := context.Background()

	res, err := f.svc.Initiate(ctx, externalRequest(f.userID, "500"))
	require.NoError(t, err)
	require.NoError(t, f.svc.AttachVerificationCode(ctx, res.TransactionID, "1111222233334444", "admin@bank", ""))

	err = f.svc.AttachVerificationCode(ctx, res.TransactionID, "9999888877776666", "admin@bank", "")
	require.Error(t, err)

	tx, err := f.store.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "1111222233334444", tx.Transfer.External.VerificationCode)
}

func TestApproveRequiresVerification(t *testing.T) {
	f := newFixture(t, 4000)
	ctx := context.Background()

	res, err := f.svc.Initiate(ctx, externalRequest(f.userID, "500"))
	require.NoError(t, err)
	require.NoError(t, f.svc.AttachVerificationCode(ctx, res.TransactionID, "1234123412341234", "admin@bank", ""))

	err = f.svc.Approve(ctx, res.TransactionID, "admin@bank")
	assert.ErrorIs(t, err, domain.ErrVerificationPending)
	assert.Equal(t, "4000", f.balance(t))
}

func TestRejectWinsOverCompletedVerification(t *testing.T) {
	f := newFixture(t, 4000)
	ctx := context.Background()

	req := externalRequest(f.userID, "500")
	req.External.Speed = domain.SpeedExpress
	res, err := f.svc.Initiate(ctx, req)
	require.NoError(t, err)
	require.NoError(t, f.svc.AttachVerificationCode(ctx, res.TransactionID, "1234123412341234", "admin@bank", ""))
	require.NoError(t, f.svc.ConfirmVerification(ctx, res.TransactionID))

	require.NoError(t, f.svc.Reject(ctx, res.TransactionID, "admin@bank", "name mismatch at receiving bank"))

	tx, err := f.store.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, tx.Status)
	assert.Equal(t, "name mismatch at receiving bank", tx.RejectionReason)
	assert.Equal(t, "4000", f.balance(t))

	// the fee leg dies with the principal
	feeTx, err := f.store.GetTransactionByReference(ctx, tx.Transfer.FeeReference)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, feeTx.Status)

	// history entries reflect the rejection
	entries, _, err := f.store.ListHistory(ctx, f.userID, domain.HistoryFilter{}, domain.Page{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, domain.StatusRejected, e.Status)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t, 4000)
	ctx := context.Background()

	res, err := f.svc.Initiate(ctx, externalRequest(f.userID, "500"))
	require.NoError(t, err)

	err = f.svc.Reject(ctx, res.TransactionID, "admin@bank", "")
	assert.ErrorIs(t, err, domain.ErrReasonRequired)
}

func TestApprovePostingFailureIsRetryable(t *testing.T) {
	f := newFixture(t, 4000)
	ctx := context.Background()

	req := externalRequest(f.userID, "500")
	req.External.Speed = domain.SpeedExpress
	res, err := f.svc.Initiate(ctx, req)
	require.NoError(t, err)
	require.NoError(t, f.svc.AttachVerificationCode(ctx, res.TransactionID, "1234123412341234", "admin@bank", ""))
	require.NoError(t, f.svc.ConfirmVerification(ctx, res.TransactionID))

	f.store.CommitHook = func() error { return errors.New("write timeout") }
	err = f.svc.Approve(ctx, res.TransactionID, "admin@bank")
	var postErr *domain.PostingError
	require.ErrorAs(t, err, &postErr)
	assert.Equal(t, res.Reference, postErr.Reference)
	assert.Equal(t, "4000", f.balance(t), "failed posting must leave balances untouched")

	f.store.CommitHook = nil
	require.NoError(t, f.svc.Approve(ctx, res.TransactionID, "admin@bank"))
	assert.Equal(t, "3485", f.balance(t), "500 principal plus 15 express fee")
}

func TestConfirmReceiptRequiresOwnerAndCompletion(t *testing.T) {
	f := newFixture(t, 4000)
	ctx := context.Background()

	res, err := f.svc.Initiate(ctx, externalRequest(f.userID, "500"))
	require.NoError(t, err)

	err = f.svc.ConfirmReceipt(ctx, res.TransactionID, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	var trErr *domain.TransitionError
	err = f.svc.ConfirmReceipt(ctx, res.TransactionID, f.userID)
	require.ErrorAs(t, err, &trErr, "pending transfer cannot be receipted")
}

func TestCreateTransactionPostsSynchronously(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	res, err := f.svc.CreateTransaction(ctx, f.userID, domain.TypeWithdraw, "250", domain.AccountChecking, "ATM withdrawal")
	require.NoError(t, err)
	assert.Equal(t, "750", res.NewBalance.String())
	assert.NotEmpty(t, res.Reference)

	tx, err := f.store.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.True(t, tx.Posted)
	assert.Equal(t, domain.StatusCompleted, tx.Status)
}

func TestCreateTransactionDebitChecksFunds(t *testing.T) {
	f := newFixture(t, 100)

	_, err := f.svc.CreateTransaction(context.Background(), f.userID, domain.TypeWithdraw, "250", domain.AccountChecking, "")
	var insuf *domain.InsufficientFundsError
	require.ErrorAs(t, err, &insuf)
	assert.Equal(t, "150", insuf.Shortfall.String())
}

// flakyStore fails the Nth transaction update, standing in for a write
// that dies mid-workflow.
type flakyStore struct {
	*store.Memory
	failOn int
	calls  int
}

func (f *flakyStore) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	f.calls++
	if f.failOn != 0 && f.calls == f.failOn {
		return errors.New("connection reset")
	}
	return f.Memory.UpdateTransaction(ctx, tx)
}

func newFlakyFixture(t *testing.T, checking int64, failOn int) *fixture {
	t.Helper()
	m := store.NewMemory()
	userID := uuid.NewString()
	require.NoError(t, m.CreateAccount(context.Background(), &domain.Account{
		UserID:   userID,
		Checking: decimal.NewFromInt(checking),
	}))

	fs := &flakyStore{Memory: m, failOn: failOn}
	log := zap.NewNop()
	led := ledger.New(fs, log)
	eng := posting.New(fs, log)
	cn := &captureNotifier{}
	return &fixture{
		svc:      New(fs, led, eng, cn, log),
		store:    m,
		notifier: cn,
		userID:   userID,
	}
}

func TestExpressTransferFeeLegTracksPrincipal(t *testing.T) {
	f := newFixture(t, 4000)
	ctx := context.Background()

	req := externalRequest(f.userID, "500")
	req.External.Speed = domain.SpeedExpress
	res, err := f.svc.Initiate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "15", res.Fee.String())

	principal, err := f.store.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	feeTx, err := f.store.GetTransactionByReference(ctx, principal.Transfer.FeeReference)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, feeTx.Status)

	require.NoError(t, f.svc.AttachVerificationCode(ctx, res.TransactionID, "1234123412341234", "admin@bank", ""))
	feeTx, err = f.store.GetTransaction(ctx, feeTx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingVerification, feeTx.Status, "fee leg must move with its principal")

	require.NoError(t, f.svc.ConfirmVerification(ctx, res.TransactionID))
	require.NoError(t, f.svc.Approve(ctx, res.TransactionID, "admin@bank"))

	assert.Equal(t, "3485", f.balance(t))
	principal, _ = f.store.GetTransaction(ctx, res.TransactionID)
	feeTx, _ = f.store.GetTransaction(ctx, feeTx.ID)
	assert.True(t, principal.Posted)
	assert.True(t, feeTx.Posted)
	assert.Equal(t, domain.StatusCompleted, feeTx.Status)
}

func TestAttachCodeFailureLeavesTransferRetryable(t *testing.T) {
	f := newFlakyFixture(t, 4000, 0)
	ctx := context.Background()

	res, err := f.svc.Initiate(ctx, externalRequest(f.userID, "500"))
	require.NoError(t, err)

	fs := f.svc.store.(*flakyStore)
	fs.failOn = fs.calls + 1 // next write dies
	err = f.svc.AttachVerificationCode(ctx, res.TransactionID, "1234123412341234", "admin@bank", "")
	require.Error(t, err)

	// nothing stuck: still pending, no code, so the attach can be retried
	tx, err := f.store.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, tx.Status)
	assert.Empty(t, tx.Transfer.External.VerificationCode)

	require.NoError(t, f.svc.AttachVerificationCode(ctx, res.TransactionID, "1234123412341234", "admin@bank", ""))
	tx, err = f.store.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingVerification, tx.Status)
	assert.Equal(t, "1234123412341234", tx.Transfer.External.VerificationCode)
}

func TestApproveRecoversFeeLegLeftPending(t *testing.T) {
	f := newFlakyFixture(t, 4000, 0)
	ctx := context.Background()

	req := externalRequest(f.userID, "500")
	req.External.Speed = domain.SpeedExpress
	res, err := f.svc.Initiate(ctx, req)
	require.NoError(t, err)

	fs := f.svc.store.(*flakyStore)
	fs.failOn = fs.calls + 2 // principal write lands, the fee leg's does not
	require.NoError(t, f.svc.AttachVerificationCode(ctx, res.TransactionID, "1234123412341234", "admin@bank", ""))

	principal, err := f.store.GetTransaction(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingVerification, principal.Status)
	feeTx, err := f.store.GetTransactionByReference(ctx, principal.Transfer.FeeReference)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, feeTx.Status)

	require.NoError(t, f.svc.ConfirmVerification(ctx, res.TransactionID))
	require.NoError(t, f.svc.Approve(ctx, res.TransactionID, "admin@bank"))

	assert.Equal(t, "3485", f.balance(t))
	feeTx, _ = f.store.GetTransaction(ctx, feeTx.ID)
	assert.True(t, feeTx.Posted)
}

func TestAttachCodeRequiresCode(t *testing.T) {
	f := newFixture(t, 4000)
	ctx := context.Background()

	res, err := f.svc.Initiate(ctx, externalRequest(f.userID, "500"))
	require.NoError(t, err)

	err = f.svc.AttachVerificationCode(ctx, res.TransactionID, "", "admin@bank", "")
	assert.ErrorIs(t, err, domain.ErrCodeRequired)
	assert.NotErrorIs(t, err, domain.ErrCodeAlreadySet)
}

func TestNotifierFailureDoesNotFailTransfer(t *testing.T) {
	f := newFixture(t, 4000)
	f.notifier.fail = true

	res, err := f.svc.Initiate(context.Background(), wireRequest(f.userID, "1000", false, false))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, "2970", f.balance(t))
}
