package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newroi/ledger-service/internal/models"
)

var settingsRowColumns = []string{
	"id", "daily_roi_percent", "level_commissions", "level_unlock_thresholds", "admin_wallet",
	"maintenance_mode", "roi_holiday", "min_withdrawal", "withdrawal_fee_percent",
	"min_investment", "max_return_percent", "updated_at",
}

func TestGetSettingsDecodesLevels(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSettingsRepository(db)

	mock.ExpectQuery(`FROM system_settings\s+WHERE id = \?`).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(settingsRowColumns).AddRow(
			1, "1", `["6","3","2","1","1","1","0.5","0.5","0.5","0.5"]`, `[1,2,6,8,10,12,14,16,18,20]`, "TAdmin",
			false, true, "20", "5", "10", "0", time.Now(),
		))

	s, err := repo.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Len(t, s.LevelCommissions, models.CommissionLevels)
	assert.True(t, s.CommissionPercent(7).Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, 6, s.LevelUnlockThresholds[2])
	assert.True(t, s.ROIHoliday)
	assert.True(t, s.PayoutsPaused())
	assert.Equal(t, "TAdmin", s.AdminWallet)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSettingsMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSettingsRepository(db)

	mock.ExpectQuery(`FROM system_settings`).WillReturnError(sql.ErrNoRows)

	s, err := repo.Get(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, s)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSettingsIfMissingIgnoresExistingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSettingsRepository(db)

	defaults := models.DefaultSystemSettings()
	mock.ExpectExec(`INSERT IGNORE INTO system_settings`).
		WithArgs(1, defaults.DailyROIPercent, `["6","3","2","1","1","1","0.5","0.5","0.5","0.5"]`, `[1,2,3,4,5,6,7,8,9,10]`,
			"", false, false, defaults.MinWithdrawal, defaults.WithdrawalFeePercent, defaults.MinInvestment,
			defaults.MaxReturnPercent, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.CreateIfMissing(context.Background(), defaults))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSettings(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSettingsRepository(db)

	mock.ExpectExec(`UPDATE system_settings`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE system_settings`).WillReturnResult(sqlmock.NewResult(0, 0))

	s := models.DefaultSystemSettings()
	require.NoError(t, repo.Update(context.Background(), s))
	assert.ErrorIs(t, repo.Update(context.Background(), s), ErrNoRowsAffected)
	assert.NoError(t, mock.ExpectationsWereMet())
}
