package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newroi/ledger-service/internal/models"
)

func TestTraceBalanceConsistentLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.addUser(1, "ALICE", nil, dec("0"))
	f.credit(t, 1, "100")
	f.credit(t, 1, "25.5")
	_, err := f.investments.ActivateFromWallet(ctx, 1, dec("50"))
	require.NoError(t, err)

	trace, err := f.recon.TraceBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, trace.Consistent)
	assert.Nil(t, trace.FirstDivergence)
	assert.Len(t, trace.Steps, 3)
	assert.True(t, trace.ComputedBalance.Equal(dec("75.5")))
	assert.True(t, trace.StoredBalance.Equal(dec("75.5")))
	assert.True(t, trace.Difference.IsZero())
	for _, step := range trace.Steps {
		assert.True(t, step.Matches)
	}
}

func TestTraceBalanceFindsFirstDivergence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.addUser(1, "ALICE", nil, dec("0"))
	f.credit(t, 1, "100")

	// a write that bypassed the ledger
	f.store.data.users[1].Balance = dec("150")
	f.credit(t, 1, "10")

	trace, err := f.recon.TraceBalance(ctx, 1)
	require.NoError(t, err)
	assert.False(t, trace.Consistent)
	assert.True(t, trace.ComputedBalance.Equal(dec("110")))
	assert.True(t, trace.StoredBalance.Equal(dec("160")))
	assert.True(t, trace.Difference.Equal(dec("50")))

	d := trace.FirstDivergence
	require.NotNil(t, d)
	assert.Equal(t, uint64(2), d.Transaction.ID)
	require.NotNil(t, d.Preceding)
	assert.Equal(t, uint64(1), d.Preceding.ID)
	assert.Equal(t, "above", d.Direction)
	assert.True(t, d.Gap.Equal(dec("50")))
	assert.Contains(t, d.Explanation, "after transaction #1 (DEPOSIT)")
	assert.False(t, trace.Steps[1].Matches)
}

func TestTraceBalanceToleratesRoundingNoise(t *testing.T) {
	f := newFixture(t)
	f.store.addUser(1, "ALICE", nil, dec("0"))
	f.credit(t, 1, "100")
	f.store.data.users[1].Balance = dec("100.0005")

	trace, err := f.recon.TraceBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, trace.Consistent)
}

func TestTraceBalanceUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.recon.TraceBalance(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckAllBalances(t *testing.T) {
	f := newFixture(t)
	f.store.addUser(1, "ALICE", nil, dec("0"))
	f.store.addUser(2, "BOB", nil, dec("0"))
	f.credit(t, 1, "100")
	f.credit(t, 2, "40")
	f.store.data.users[1].Balance = dec("90")

	report, err := f.recon.CheckAllBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Failed)
	assert.InDelta(t, 50.0, report.SuccessRate, 0.0001)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, uint64(1), report.Errors[0].UserID)
	assert.True(t, report.Errors[0].Gap.Equal(dec("-10")))

	// nothing was written
	assert.True(t, f.store.balance(1).Equal(dec("90")))
}

func TestCheckAllBalancesEmpty(t *testing.T) {
	f := newFixture(t)
	report, err := f.recon.CheckAllBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Checked)
	assert.Equal(t, 100.0, report.SuccessRate)
}

func TestExpectedBalance(t *testing.T) {
	totals := map[models.TransactionType]decimal.Decimal{
		models.TxDeposit:    dec("100"),
		models.TxROI:        dec("10"),
		models.TxCommission: dec("1"),
		models.TxWithdrawal: dec("30"),
		models.TxInvestment: dec("50"),
		models.TxMissedROI:  dec("5"),
		models.TxFee:        dec("2"),
	}
	assert.True(t, ExpectedBalance(totals).Equal(dec("31")))
	assert.True(t, ExpectedBalance(nil).IsZero())
}
