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

func TestCreateRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRunRepository(db)
	started := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO distribution_runs`).
		WithArgs("run-1", "2024-01-15", true, false, nil, 3, 1, 0, 0,
			decimal.NewFromInt(30), decimal.RequireFromString("1.8"), decimal.Zero, false,
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(5, 1))

	run := &models.DistributionRun{
		RunID:           "run-1",
		RunDate:         time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		IsManual:        true,
		Credited:        3,
		Skipped:         1,
		TotalROI:        decimal.NewFromInt(30),
		TotalCommission: decimal.RequireFromString("1.8"),
		StartedAt:       started,
		FinishedAt:      started.Add(time.Second),
	}
	require.NoError(t, repo.Create(context.Background(), run))
	assert.Equal(t, uint64(5), run.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecentRuns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRunRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM distribution_runs\s+ORDER BY started_at DESC, id DESC\s+LIMIT \?`).
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "run_id", "run_date", "is_manual", "force_rerun", "triggered_by", "credited", "skipped", "missed",
			"failed", "total_roi", "total_commission", "total_missed", "stopped", "started_at", "finished_at",
		}).AddRow(2, "run-2", now, true, true, 9, 1, 0, 0, 0, "10", "0.6", "0", false, now, now))

	runs, err := repo.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].ForceRerun)
	assert.Equal(t, uint64(9), *runs[0].TriggeredBy)
	assert.True(t, runs[0].TotalCommission.Equal(decimal.RequireFromString("0.6")))
	assert.NoError(t, mock.ExpectationsWereMet())
}
