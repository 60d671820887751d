package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"newroi/ledger-service/internal/models"
)

// settingsRowID is the primary key of the singleton settings row
const settingsRowID = 1

type SettingsRepository interface {
	// Get returns nil when the settings row has not been created yet
	Get(ctx context.Context) (*models.SystemSettings, error)
	// CreateIfMissing inserts the row unless another writer created it first
	CreateIfMissing(ctx context.Context, settings *models.SystemSettings) error
	Update(ctx context.Context, settings *models.SystemSettings) error
}

type settingsRepository struct {
	db DBTX
}

// NewSettingsRepository creates a settings repository
func NewSettingsRepository(db DBTX) SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *settingsRepository) Get(ctx context.Context) (*models.SystemSettings, error) {
	query := `
		SELECT id, daily_roi_percent, level_commissions, level_unlock_thresholds, admin_wallet,
		       maintenance_mode, roi_holiday, min_withdrawal, withdrawal_fee_percent,
		       min_investment, max_return_percent, updated_at
		FROM system_settings
		WHERE id = ?
	`
	s := &models.SystemSettings{}
	var commissions, thresholds []byte
	err := r.db.QueryRowContext(ctx, query, settingsRowID).Scan(
		&s.ID, &s.DailyROIPercent, &commissions, &thresholds, &s.AdminWallet,
		&s.MaintenanceMode, &s.ROIHoliday, &s.MinWithdrawal, &s.WithdrawalFeePercent,
		&s.MinInvestment, &s.MaxReturnPercent, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	if err := json.Unmarshal(commissions, &s.LevelCommissions); err != nil {
		return nil, fmt.Errorf("failed to decode level commissions: %w", err)
	}
	if err := json.Unmarshal(thresholds, &s.LevelUnlockThresholds); err != nil {
		return nil, fmt.Errorf("failed to decode unlock thresholds: %w", err)
	}
	return s, nil
}

func encodeLevels(s *models.SystemSettings) (string, string, error) {
	commissions, err := json.Marshal(nonNilDecimals(s.LevelCommissions))
	if err != nil {
		return "", "", fmt.Errorf("failed to encode level commissions: %w", err)
	}
	thresholds := s.LevelUnlockThresholds
	if thresholds == nil {
		thresholds = []int{}
	}
	rawThresholds, err := json.Marshal(thresholds)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode unlock thresholds: %w", err)
	}
	return string(commissions), string(rawThresholds), nil
}

func nonNilDecimals(in []decimal.Decimal) []decimal.Decimal {
	if in == nil {
		return []decimal.Decimal{}
	}
	return in
}

func (r *settingsRepository) CreateIfMissing(ctx context.Context, s *models.SystemSettings) error {
	commissions, thresholds, err := encodeLevels(s)
	if err != nil {
		return err
	}
	query := `
		INSERT IGNORE INTO system_settings (id, daily_roi_percent, level_commissions, level_unlock_thresholds, admin_wallet,
			maintenance_mode, roi_holiday, min_withdrawal, withdrawal_fee_percent, min_investment, max_return_percent, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		settingsRowID, s.DailyROIPercent, commissions, thresholds, s.AdminWallet,
		s.MaintenanceMode, s.ROIHoliday, s.MinWithdrawal, s.WithdrawalFeePercent,
		s.MinInvestment, s.MaxReturnPercent, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create settings: %w", err)
	}
	return nil
}

func (r *settingsRepository) Update(ctx context.Context, s *models.SystemSettings) error {
	commissions, thresholds, err := encodeLevels(s)
	if err != nil {
		return err
	}
	query := `
		UPDATE system_settings
		SET daily_roi_percent = ?, level_commissions = ?, level_unlock_thresholds = ?, admin_wallet = ?,
		    maintenance_mode = ?, roi_holiday = ?, min_withdrawal = ?, withdrawal_fee_percent = ?,
		    min_investment = ?, max_return_percent = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		s.DailyROIPercent, commissions, thresholds, s.AdminWallet,
		s.MaintenanceMode, s.ROIHoliday, s.MinWithdrawal, s.WithdrawalFeePercent,
		s.MinInvestment, s.MaxReturnPercent, time.Now().UTC(), settingsRowID,
	)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	return requireAffected(result)
}
