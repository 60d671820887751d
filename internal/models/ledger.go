package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleUser       Role = "USER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPERADMIN"
)

// RootReferralCode is the referral code of the company account at the top of the tree
const RootReferralCode = "COMPANY"

type User struct {
	ID           uint64          `db:"id"`
	Name         string          `db:"name"`
	Email        string          `db:"email"`
	Balance      decimal.Decimal `db:"balance"`
	ReferralCode string          `db:"referral_code"`
	UplineID     *uint64         `db:"upline_id"`
	Role         Role            `db:"role"`
	IsVerified   bool            `db:"is_verified"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

type InvestmentStatus string

const (
	InvestmentPending   InvestmentStatus = "PENDING"
	InvestmentActive    InvestmentStatus = "ACTIVE"
	InvestmentCancelled InvestmentStatus = "CANCELLED"
	InvestmentCompleted InvestmentStatus = "COMPLETED"
)

type ApprovalMethod string

const (
	ApprovalWallet ApprovalMethod = "WALLET"
	ApprovalAdmin  ApprovalMethod = "ADMIN"
)

type Investment struct {
	ID               uint64           `db:"id"`
	UserID           uint64           `db:"user_id"`
	Amount           decimal.Decimal  `db:"amount"`
	ROIRate          decimal.Decimal  `db:"roi_rate"` // percent per day
	Status           InvestmentStatus `db:"status"`
	TransactionID    *string          `db:"transaction_id"` // deposit tx hash supplied by the user
	ApprovalMethod   *ApprovalMethod  `db:"approval_method"`
	ApprovedBy       *uint64          `db:"approved_by"`
	TotalROIPaid     decimal.Decimal  `db:"total_roi_paid"`
	MaxReturnPercent decimal.Decimal  `db:"max_return_percent"` // 0 = no cap
	CreatedAt        time.Time        `db:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at"`
}

// DailyROI is the amount one distribution credits for this investment
func (i *Investment) DailyROI() decimal.Decimal {
	return i.Amount.Mul(i.ROIRate).Div(decimal.NewFromInt(100)).Round(8)
}

// Exhausted reports whether the investment reached its return cap
func (i *Investment) Exhausted() bool {
	if !i.MaxReturnPercent.IsPositive() {
		return false
	}
	limit := i.Amount.Mul(i.MaxReturnPercent).Div(decimal.NewFromInt(100))
	return i.TotalROIPaid.GreaterThanOrEqual(limit)
}

type TransactionType string

const (
	TxDeposit    TransactionType = "DEPOSIT"
	TxWithdrawal TransactionType = "WITHDRAWAL"
	TxInvestment TransactionType = "INVESTMENT"
	TxROI        TransactionType = "ROI"
	TxCommission TransactionType = "COMMISSION"
	TxMissedROI  TransactionType = "MISSED_ROI"
	TxFee        TransactionType = "FEE"
)

// Sign returns +1 for credits, -1 for debits and 0 for entries without balance effect
func (t TransactionType) Sign() int {
	switch t {
	case TxDeposit, TxROI, TxCommission:
		return 1
	case TxWithdrawal, TxInvestment:
		return -1
	default:
		return 0
	}
}

// Apply returns balance after applying amount with the type's signed rule
func (t TransactionType) Apply(balance, amount decimal.Decimal) decimal.Decimal {
	switch t.Sign() {
	case 1:
		return balance.Add(amount)
	case -1:
		return balance.Sub(amount)
	default:
		return balance
	}
}

type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxCompleted TransactionStatus = "COMPLETED"
	TxRejected  TransactionStatus = "REJECTED"
)

type Transaction struct {
	ID              uint64            `db:"id"`
	UserID          uint64            `db:"user_id"`
	Type            TransactionType   `db:"type"`
	Amount          decimal.Decimal   `db:"amount"`
	PreviousBalance decimal.Decimal   `db:"previous_balance"`
	NewBalance      decimal.Decimal   `db:"new_balance"`
	Status          TransactionStatus `db:"status"`
	Description     string            `db:"description"`
	ReferenceID     *string           `db:"reference_id"`
	LedgerDate      *time.Time        `db:"ledger_date"`
	IdempotencyKey  *string           `db:"idempotency_key"`
	Metadata        map[string]any    `db:"metadata"`
	CreatedAt       time.Time         `db:"created_at"`
	CompletedAt     *time.Time        `db:"completed_at"`
}

// Reference returns the reference id or an empty string
func (t *Transaction) Reference() string {
	if t.ReferenceID == nil {
		return ""
	}
	return *t.ReferenceID
}

// EffectiveAt is the point in time the entry affected the balance
func (t *Transaction) EffectiveAt() time.Time {
	if t.CompletedAt != nil {
		return *t.CompletedAt
	}
	return t.CreatedAt
}
