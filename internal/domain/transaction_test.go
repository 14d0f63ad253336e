package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSignTable(t *testing.T) {
	credits := []TxType{TypeDeposit, TypeInterest, TypeAdjustmentCredit, TypeTransferIn}
	debits := []TxType{TypeWithdraw, TypeTransferOut, TypeFee, TypeAdjustmentDebit}

	for _, c := range credits {
		assert.True(t, c.IsCredit(), "%s should be a credit", c)
		assert.False(t, c.IsDebit(), "%s should not be a debit", c)
	}
	for _, d := range debits {
		assert.True(t, d.IsDebit(), "%s should be a debit", d)
		assert.False(t, d.IsCredit(), "%s should not be a credit", d)
	}
}

func TestSignedDelta(t *testing.T) {
	amount := decimal.NewFromInt(250)

	tests := []struct {
		name     string
		txType   TxType
		currency string
		want     string
	}{
		{"deposit credits", TypeDeposit, CurrencyUSD, "250"},
		{"withdraw debits", TypeWithdraw, CurrencyUSD, "-250"},
		{"transfer out debits", TypeTransferOut, CurrencyUSD, "-250"},
		{"fee debits", TypeFee, CurrencyUSD, "-250"},
		{"interest credits", TypeInterest, CurrencyUSD, "250"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tx := &Transaction{Type: tc.txType, Currency: tc.currency, Amount: amount}
			assert.Equal(t, tc.want, tx.SignedDelta(CurrencyUSD).String())
		})
	}
}

func TestSignedDeltaCurrencyMismatch(t *testing.T) {
	tx := &Transaction{Type: TypeDeposit, Currency: CurrencyEUR, Amount: decimal.NewFromInt(100)}
	assert.True(t, tx.SignedDelta(CurrencyUSD).IsZero())
	assert.Equal(t, "100", tx.SignedDelta(CurrencyEUR).String())
}

func TestNormalizeAccountType(t *testing.T) {
	assert.Equal(t, AccountSavings, NormalizeAccountType(AccountSavings))
	assert.Equal(t, AccountInvestment, NormalizeAccountType(AccountInvestment))
	assert.Equal(t, AccountChecking, NormalizeAccountType(AccountChecking))
	assert.Equal(t, AccountChecking, NormalizeAccountType("retirement"))
	assert.Equal(t, AccountChecking, NormalizeAccountType(""))
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusPendingVerification.Terminal())
	assert.False(t, StatusApproved.Terminal())
}
