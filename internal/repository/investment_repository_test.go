package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newroi/ledger-service/internal/models"
)

var investmentRowColumns = []string{
	"id", "user_id", "amount", "roi_rate", "status", "transaction_id", "approval_method", "approved_by",
	"total_roi_paid", "max_return_percent", "created_at", "updated_at",
}

func TestFindInvestmentsByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewInvestmentRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM investments WHERE status = \? ORDER BY created_at, id`).
		WithArgs(models.InvestmentActive).
		WillReturnRows(sqlmock.NewRows(investmentRowColumns).
			AddRow(1, 2, "1000", "1", "ACTIVE", nil, "WALLET", nil, "30", "0", now, now).
			AddRow(2, 3, "500", "1", "ACTIVE", "0xabc", "ADMIN", 9, "0", "200", now, now))

	invs, err := repo.FindByStatus(context.Background(), models.InvestmentActive)
	require.NoError(t, err)
	require.Len(t, invs, 2)

	assert.Nil(t, invs[0].TransactionID)
	assert.Nil(t, invs[0].ApprovedBy)
	assert.Equal(t, models.ApprovalWallet, *invs[0].ApprovalMethod)
	assert.True(t, invs[0].TotalROIPaid.Equal(decimal.NewFromInt(30)))
	assert.True(t, invs[0].DailyROI().Equal(decimal.NewFromInt(10)))

	assert.Equal(t, "0xabc", *invs[1].TransactionID)
	assert.Equal(t, uint64(9), *invs[1].ApprovedBy)
	assert.True(t, invs[1].MaxReturnPercent.Equal(decimal.NewFromInt(200)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatusIsGuarded(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewInvestmentRepository(db)

	mock.ExpectExec(`UPDATE investments\s+SET status = \?`).
		WithArgs(models.InvestmentCancelled, nil, nil, sqlmock.AnyArg(), uint64(4), models.InvestmentActive).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE investments\s+SET status = \?`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, repo.TransitionStatus(ctx, 4, models.InvestmentActive, models.InvestmentCancelled, nil, nil))
	err = repo.TransitionStatus(ctx, 4, models.InvestmentActive, models.InvestmentCancelled, nil, nil)
	assert.ErrorIs(t, err, ErrNoRowsAffected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInvestment(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewInvestmentRepository(db)

	mock.ExpectExec(`INSERT INTO investments`).
		WillReturnResult(sqlmock.NewResult(12, 1))

	inv := &models.Investment{UserID: 2, Amount: decimal.NewFromInt(100), ROIRate: decimal.NewFromInt(1), Status: models.InvestmentPending}
	require.NoError(t, repo.Create(context.Background(), inv))
	assert.Equal(t, uint64(12), inv.ID)
	assert.False(t, inv.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddROIPaid(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewInvestmentRepository(db)

	mock.ExpectExec(`UPDATE investments SET total_roi_paid = total_roi_paid \+ \?`).
		WithArgs(decimal.NewFromInt(10), sqlmock.AnyArg(), uint64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AddROIPaid(context.Background(), 1, decimal.NewFromInt(10)))
	assert.NoError(t, mock.ExpectationsWereMet())
}
