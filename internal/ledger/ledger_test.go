package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haldenbank/corebank/internal/domain"
	"github.com/haldenbank/corebank/internal/store"
)

func newService(t *testing.T) (*Service, *store.Memory, string) {
	t.Helper()
	m := store.NewMemory()
	userID := uuid.NewString()
	require.NoError(t, m.CreateAccount(context.Background(), &domain.Account{UserID: userID}))
	return New(m, zap.NewNop()), m, userID
}

func TestCreateForcesPending(t *testing.T) {
	svc, _, userID := newService(t)

	tx := &domain.Transaction{
		UserID:      userID,
		Type:        domain.TypeTransferOut,
		AccountType: domain.AccountChecking,
		Amount:      decimal.NewFromInt(100),
		Status:      domain.StatusCompleted, // caller-supplied status is not honored
		Posted:      true,
		Transfer:    &domain.TransferDetails{Channel: domain.ChannelExternal, External: &domain.ExternalDetails{}},
	}
	require.NoError(t, svc.Create(context.Background(), tx))

	assert.Equal(t, domain.StatusPending, tx.Status)
	assert.False(t, tx.Posted)
	assert.Nil(t, tx.PostedAt)
	assert.NotEmpty(t, tx.ID)
	assert.NotEmpty(t, tx.Reference)
}

func TestCreateAllowsInstantCompleted(t *testing.T) {
	svc, _, userID := newService(t)

	wire := &domain.Transaction{
		UserID:      userID,
		Type:        domain.TypeTransferOut,
		AccountType: domain.AccountChecking,
		Amount:      decimal.NewFromInt(1000),
		Status:      domain.StatusCompleted,
		Transfer:    &domain.TransferDetails{Channel: domain.ChannelWire, Wire: &domain.WireDetails{}},
	}
	require.NoError(t, svc.Create(context.Background(), wire))
	assert.Equal(t, domain.StatusCompleted, wire.Status)
	assert.False(t, wire.Posted, "posted latch is always zeroed on insert")

	// Transactions without transfer metadata ride the internal channel.
	deposit := &domain.Transaction{
		UserID:      userID,
		Type:        domain.TypeDeposit,
		AccountType: domain.AccountChecking,
		Amount:      decimal.NewFromInt(50),
		Status:      domain.StatusCompleted,
	}
	require.NoError(t, svc.Create(context.Background(), deposit))
	assert.Equal(t, domain.StatusCompleted, deposit.Status)
}

func TestCreateNormalizesAccountType(t *testing.T) {
	svc, _, userID := newService(t)

	tx := &domain.Transaction{
		UserID:      userID,
		Type:        domain.TypeDeposit,
		AccountType: "crypto",
		Amount:      decimal.NewFromInt(10),
	}
	require.NoError(t, svc.Create(context.Background(), tx))
	assert.Equal(t, domain.AccountChecking, tx.AccountType)
	assert.Equal(t, domain.CurrencyUSD, tx.Currency)
}

func TestCreateRejectsNegativeAmount(t *testing.T) {
	svc, _, userID := newService(t)
	tx := &domain.Transaction{
		UserID: userID,
		Type:   domain.TypeDeposit,
		Amount: decimal.NewFromInt(-5),
	}
	assert.ErrorIs(t, svc.Create(context.Background(), tx), domain.ErrInvalidAmount)
}

func createPending(t *testing.T, svc *Service, userID string) *domain.Transaction {
	t.Helper()
	tx := &domain.Transaction{
		UserID:      userID,
		Type:        domain.TypeTransferOut,
		AccountType: domain.AccountChecking,
		Amount:      decimal.NewFromInt(100),
		Transfer:    &domain.TransferDetails{Channel: domain.ChannelExternal, External: &domain.ExternalDetails{}},
	}
	require.NoError(t, svc.Create(context.Background(), tx))
	return tx
}

func TestTransitionPath(t *testing.T) {
	svc, _, userID := newService(t)
	tx := createPending(t, svc, userID)
	ctx := context.Background()

	updated, err := svc.Transition(ctx, tx.ID, domain.StatusPendingVerification, "admin-1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingVerification, updated.Status)
	assert.Equal(t, "admin-1", updated.ReviewedBy)
	require.NotNil(t, updated.ReviewedAt)

	updated, err = svc.Transition(ctx, tx.ID, domain.StatusApproved, "admin-1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, updated.Status)
}

func TestTransitionRejectsIllegalMoves(t *testing.T) {
	svc, _, userID := newService(t)
	ctx := context.Background()

	tx := createPending(t, svc, userID)

	// pending cannot jump straight to approved
	_, err := svc.Transition(ctx, tx.ID, domain.StatusApproved, "admin-1", "")
	var transErr *domain.TransitionError
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, domain.StatusPending, transErr.From)

	// approved→completed is the posting engine's move, not an admin's
	_, err = svc.Transition(ctx, tx.ID, domain.StatusCompleted, "admin-1", "")
	require.ErrorAs(t, err, &transErr)
}

func TestRejectRequiresReason(t *testing.T) {
	svc, _, userID := newService(t)
	tx := createPending(t, svc, userID)

	_, err := svc.Transition(context.Background(), tx.ID, domain.StatusRejected, "admin-1", "")
	assert.ErrorIs(t, err, domain.ErrReasonRequired)

	updated, err := svc.Transition(context.Background(), tx.ID, domain.StatusRejected, "admin-1", "suspicious recipient")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, updated.Status)
	assert.Equal(t, "suspicious recipient", updated.RejectionReason)
}

func TestTerminalStatesAreClosed(t *testing.T) {
	svc, _, userID := newService(t)
	ctx := context.Background()

	tx := createPending(t, svc, userID)
	_, err := svc.Transition(ctx, tx.ID, domain.StatusRejected, "admin-1", "fraud")
	require.NoError(t, err)

	for _, to := range []domain.Status{domain.StatusPending, domain.StatusPendingVerification,
		domain.StatusApproved, domain.StatusCompleted, domain.StatusRejected} {
		_, err := svc.Transition(ctx, tx.ID, to, "admin-1", "again")
		assert.Error(t, err, "rejected must be terminal, got transition to %s", to)
	}
}

func TestPostedTransactionCannotBeRejected(t *testing.T) {
	svc, m, userID := newService(t)
	ctx := context.Background()

	tx := createPending(t, svc, userID)
	tx.Posted = true
	now := time.Now()
	tx.PostedAt = &now
	require.NoError(t, m.UpdateTransaction(ctx, tx))

	_, err := svc.Transition(ctx, tx.ID, domain.StatusRejected, "admin-1", "too late")
	var transErr *domain.TransitionError
	assert.ErrorAs(t, err, &transErr)
}

func TestEditDatePreservesOriginal(t *testing.T) {
	svc, _, userID := newService(t)
	ctx := context.Background()

	tx := createPending(t, svc, userID)
	origDate := tx.Date

	newDate := origDate.AddDate(0, 0, -3)
	updated, err := svc.EditDate(ctx, tx.ID, newDate, "admin-1")
	require.NoError(t, err)
	assert.True(t, updated.EditedDateByAdmin)
	require.NotNil(t, updated.OriginalDate)
	assert.True(t, updated.OriginalDate.Equal(origDate))
	assert.True(t, updated.Date.Equal(newDate))

	// a second edit keeps the first original
	updated, err = svc.EditDate(ctx, tx.ID, origDate.AddDate(0, 0, 5), "admin-2")
	require.NoError(t, err)
	assert.True(t, updated.OriginalDate.Equal(origDate))
}
