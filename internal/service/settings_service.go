package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"newroi/ledger-service/internal/models"
	"newroi/ledger-service/internal/repository"
	"newroi/ledger-service/pkg/logger"
)

// SettingsService owns the SystemSettings row. Load is the single place the
// documented defaults are created; callers pass the loaded value on explicitly.
type SettingsService interface {
	Load(ctx context.Context) (*models.SystemSettings, error)
	Update(ctx context.Context, settings *models.SystemSettings) (*models.SystemSettings, error)
}

type settingsService struct {
	store repository.Store
	log   *logger.Logger
}

// NewSettingsService creates a settings loader
func NewSettingsService(store repository.Store, log *logger.Logger) SettingsService {
	return &settingsService{store: store, log: log}
}

func (s *settingsService) Load(ctx context.Context) (*models.SystemSettings, error) {
	settings, err := s.store.Settings().Get(ctx)
	if err != nil {
		return nil, err
	}
	if settings != nil {
		return settings, nil
	}

	if err := s.store.Settings().CreateIfMissing(ctx, models.DefaultSystemSettings()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigurationMissing, err)
	}
	s.log.Info("system settings bootstrapped with defaults")

	settings, err = s.store.Settings().Get(ctx)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return nil, ErrConfigurationMissing
	}
	return settings, nil
}

func (s *settingsService) Update(ctx context.Context, settings *models.SystemSettings) (*models.SystemSettings, error) {
	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	// make sure the row exists before updating it
	if _, err := s.Load(ctx); err != nil {
		return nil, err
	}
	if err := s.store.Settings().Update(ctx, settings); err != nil {
		return nil, err
	}

	s.log.WithField("maintenance_mode", settings.MaintenanceMode).
		WithField("roi_holiday", settings.ROIHoliday).
		Info("system settings updated")
	return s.store.Settings().Get(ctx)
}

var hundred = decimal.NewFromInt(100)

// ValidateSettings checks the shape and ranges of a settings value
func ValidateSettings(s *models.SystemSettings) error {
	if s == nil {
		return userError(ErrValidation, "Settings are required")
	}
	if len(s.LevelCommissions) != models.CommissionLevels {
		return userError(ErrValidation, "Exactly %d level commissions are required", models.CommissionLevels)
	}
	if len(s.LevelUnlockThresholds) != models.CommissionLevels {
		return userError(ErrValidation, "Exactly %d unlock thresholds are required", models.CommissionLevels)
	}
	if s.DailyROIPercent.IsNegative() || s.DailyROIPercent.GreaterThan(hundred) {
		return userError(ErrValidation, "Daily ROI must be between 0 and 100 percent")
	}
	for i, pct := range s.LevelCommissions {
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return userError(ErrValidation, "Level %d commission must be between 0 and 100 percent", i+1)
		}
	}
	for i, threshold := range s.LevelUnlockThresholds {
		if threshold < 0 {
			return userError(ErrValidation, "Level %d unlock threshold cannot be negative", i+1)
		}
		if i > 0 && threshold < s.LevelUnlockThresholds[i-1] {
			return userError(ErrValidation, "Unlock thresholds must not decrease")
		}
	}
	if s.WithdrawalFeePercent.IsNegative() || s.WithdrawalFeePercent.GreaterThanOrEqual(hundred) {
		return userError(ErrValidation, "Withdrawal fee must be between 0 and 100 percent")
	}
	if s.MinWithdrawal.IsNegative() || s.MinInvestment.IsNegative() || s.MaxReturnPercent.IsNegative() {
		return userError(ErrValidation, "Limits cannot be negative")
	}
	return nil
}
