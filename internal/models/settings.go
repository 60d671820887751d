package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommissionLevels is the depth of the referral commission cascade
const CommissionLevels = 10

// SystemSettings is the process-wide configuration row
type SystemSettings struct {
	ID                    uint64            `db:"id"`
	DailyROIPercent       decimal.Decimal   `db:"daily_roi_percent"`
	LevelCommissions      []decimal.Decimal `db:"level_commissions"`       // index 0 = level 1
	LevelUnlockThresholds []int             `db:"level_unlock_thresholds"` // qualified directs needed per level
	AdminWallet           string            `db:"admin_wallet"`
	MaintenanceMode       bool              `db:"maintenance_mode"`
	ROIHoliday            bool              `db:"roi_holiday"`
	MinWithdrawal         decimal.Decimal   `db:"min_withdrawal"`
	WithdrawalFeePercent  decimal.Decimal   `db:"withdrawal_fee_percent"`
	MinInvestment         decimal.Decimal   `db:"min_investment"`
	MaxReturnPercent      decimal.Decimal   `db:"max_return_percent"`
	UpdatedAt             time.Time         `db:"updated_at"`
}

// DefaultSystemSettings is the documented row created when none exists
func DefaultSystemSettings() *SystemSettings {
	return &SystemSettings{
		ID:              1,
		DailyROIPercent: decimal.NewFromInt(1),
		LevelCommissions: []decimal.Decimal{
			decimal.NewFromInt(6),
			decimal.NewFromInt(3),
			decimal.NewFromInt(2),
			decimal.NewFromInt(1),
			decimal.NewFromInt(1),
			decimal.NewFromInt(1),
			decimal.RequireFromString("0.5"),
			decimal.RequireFromString("0.5"),
			decimal.RequireFromString("0.5"),
			decimal.RequireFromString("0.5"),
		},
		LevelUnlockThresholds: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		MinWithdrawal:         decimal.NewFromInt(20),
		WithdrawalFeePercent:  decimal.NewFromInt(5),
		MinInvestment:         decimal.NewFromInt(10),
		MaxReturnPercent:      decimal.Zero,
	}
}

// PayoutsPaused reports whether ROI must be recorded as missed instead of paid
func (s *SystemSettings) PayoutsPaused() bool {
	return s.ROIHoliday || s.MaintenanceMode
}

// CommissionPercent returns the percent for a 1-indexed level, zero when unset
func (s *SystemSettings) CommissionPercent(level int) decimal.Decimal {
	if level < 1 || level > len(s.LevelCommissions) {
		return decimal.Zero
	}
	return s.LevelCommissions[level-1]
}
