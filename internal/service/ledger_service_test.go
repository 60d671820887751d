package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newroi/ledger-service/internal/models"
	"newroi/ledger-service/internal/repository"
)

func TestApplyEntryCreditsAndStampsSnapshots(t *testing.T) {
	f := newFixture(t)
	f.store.addUser(1, "ALICE", nil, dec("0"))

	change, err := f.ledger.ApplyEntryTx(context.Background(), Entry{
		UserID:      1,
		Type:        models.TxDeposit,
		Amount:      dec("25.5"),
		Description: "deposit",
		ReferenceID: "DEP-1",
	})
	require.NoError(t, err)

	assert.True(t, change.PreviousBalance.Equal(dec("0")))
	assert.True(t, change.NewBalance.Equal(dec("25.5")))
	assert.True(t, f.store.balance(1).Equal(dec("25.5")))

	rows := f.store.transactionsFor(1, models.TxDeposit)
	require.Len(t, rows, 1)
	assert.Equal(t, models.TxCompleted, rows[0].Status)
	assert.True(t, rows[0].PreviousBalance.Equal(dec("0")))
	assert.True(t, rows[0].NewBalance.Equal(dec("25.5")))
	assert.NotNil(t, rows[0].CompletedAt)
	assert.Equal(t, "DEP-1", rows[0].Reference())
}

func TestApplyEntryRejectsNegativeBalanceWithoutPartialWrite(t *testing.T) {
	f := newFixture(t)
	f.store.addUser(1, "ALICE", nil, dec("0"))
	f.credit(t, 1, "50")
	before := len(f.store.data.transactions)

	_, err := f.ledger.ApplyEntryTx(context.Background(), Entry{
		UserID: 1,
		Type:   models.TxWithdrawal,
		Amount: dec("100"),
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, "Insufficient balance", Reason(err))

	assert.True(t, f.store.balance(1).Equal(dec("50")))
	assert.Len(t, f.store.data.transactions, before)
}

func TestApplyEntryInsideFailingUnitRollsBack(t *testing.T) {
	f := newFixture(t)
	f.store.addUser(1, "ALICE", nil, dec("0"))
	f.credit(t, 1, "10")

	err := f.store.WithinTx(context.Background(), func(tx repository.Store) error {
		if _, err := f.ledger.ApplyEntry(context.Background(), tx, Entry{
			UserID: 1, Type: models.TxROI, Amount: dec("5"),
		}); err != nil {
			return err
		}
		_, err := f.ledger.ApplyEntry(context.Background(), tx, Entry{
			UserID: 1, Type: models.TxWithdrawal, Amount: dec("100"),
		})
		return err
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, f.store.balance(1).Equal(dec("10")))
	assert.Empty(t, f.store.transactionsFor(1, models.TxROI))
}

func TestApplyEntryValidation(t *testing.T) {
	f := newFixture(t)
	f.store.addUser(1, "ALICE", nil, dec("0"))

	tests := []struct {
		name  string
		entry Entry
		want  error
	}{
		{"zero amount", Entry{UserID: 1, Type: models.TxDeposit, Amount: dec("0")}, ErrValidation},
		{"negative amount", Entry{UserID: 1, Type: models.TxDeposit, Amount: dec("-1")}, ErrValidation},
		{"missing type", Entry{UserID: 1, Amount: dec("1")}, ErrValidation},
		{"unknown user", Entry{UserID: 99, Type: models.TxDeposit, Amount: dec("1")}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.ApplyEntryTx(context.Background(), tt.entry)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestApplyEntryDuplicateKeyIsAlreadyProcessed(t *testing.T) {
	f := newFixture(t)
	f.store.addUser(1, "ALICE", nil, dec("0"))

	entry := Entry{UserID: 1, Type: models.TxROI, Amount: dec("1"), IdempotencyKey: "ROI:1:2024-01-01"}
	_, err := f.ledger.ApplyEntryTx(context.Background(), entry)
	require.NoError(t, err)

	_, err = f.ledger.ApplyEntryTx(context.Background(), entry)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.True(t, f.store.balance(1).Equal(dec("1")))
	assert.Len(t, f.store.transactionsFor(1, models.TxROI), 1)
}

func TestSettlePendingAppliesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.addUser(1, "ALICE", nil, dec("0"))
	f.credit(t, 1, "40")

	var pending *models.Transaction
	require.NoError(t, f.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		pending, err = f.ledger.RecordPending(ctx, tx, Entry{UserID: 1, Type: models.TxWithdrawal, Amount: dec("15")})
		return err
	}))
	assert.Equal(t, models.TxPending, pending.Status)
	assert.True(t, pending.PreviousBalance.Equal(dec("40")))
	assert.True(t, pending.NewBalance.Equal(dec("40")))
	assert.True(t, f.store.balance(1).Equal(dec("40")))

	require.NoError(t, f.store.WithinTx(ctx, func(tx repository.Store) error {
		change, err := f.ledger.SettlePending(ctx, tx, pending.ID, map[string]any{"approved_by": 7})
		if err != nil {
			return err
		}
		assert.True(t, change.NewBalance.Equal(dec("25")))
		return nil
	}))
	assert.True(t, f.store.balance(1).Equal(dec("25")))

	err := f.store.WithinTx(ctx, func(tx repository.Store) error {
		_, err := f.ledger.SettlePending(ctx, tx, pending.ID, nil)
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.True(t, f.store.balance(1).Equal(dec("25")))
}

func TestRecordMissedLeavesBalanceUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.addUser(1, "ALICE", nil, dec("0"))
	f.credit(t, 1, "3")

	require.NoError(t, f.store.WithinTx(ctx, func(tx repository.Store) error {
		change, err := f.ledger.RecordMissed(ctx, tx, Entry{UserID: 1, Amount: dec("2"), Description: "missed"})
		if err != nil {
			return err
		}
		assert.True(t, change.PreviousBalance.Equal(change.NewBalance))
		return nil
	}))

	assert.True(t, f.store.balance(1).Equal(dec("3")))
	rows := f.store.transactionsFor(1, models.TxMissedROI)
	require.Len(t, rows, 1)
	assert.Equal(t, models.TxCompleted, rows[0].Status)
	assert.True(t, rows[0].NewBalance.Equal(dec("3")))
}
