package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DistributionRun is the persisted summary of one engine invocation
type DistributionRun struct {
	ID              uint64          `db:"id"`
	RunID           string          `db:"run_id"`
	RunDate         time.Time       `db:"run_date"`
	IsManual        bool            `db:"is_manual"`
	ForceRerun      bool            `db:"force_rerun"`
	TriggeredBy     *uint64         `db:"triggered_by"`
	Credited        int             `db:"credited"`
	Skipped         int             `db:"skipped"`
	Missed          int             `db:"missed"`
	Failed          int             `db:"failed"`
	TotalROI        decimal.Decimal `db:"total_roi"`
	TotalCommission decimal.Decimal `db:"total_commission"`
	TotalMissed     decimal.Decimal `db:"total_missed"`
	Stopped         bool            `db:"stopped"`
	StartedAt       time.Time       `db:"started_at"`
	FinishedAt      time.Time       `db:"finished_at"`
}

type OTPPurpose string

const (
	OTPSignup     OTPPurpose = "SIGNUP"
	OTPWithdrawal OTPPurpose = "WITHDRAWAL"
)

// OTP is a short-lived one-time code bound to a user and purpose
type OTP struct {
	UserID    uint64     `json:"user_id"`
	Purpose   OTPPurpose `json:"purpose"`
	CodeHash  string     `json:"hash"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}
