package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"newroi/ledger-service/internal/models"
	"newroi/ledger-service/internal/repository"
	"newroi/ledger-service/pkg/helpers"
	"newroi/ledger-service/pkg/logger"
)

// ReconciliationEpsilon is the largest gap treated as rounding noise
var ReconciliationEpsilon = decimal.RequireFromString("0.001")

// TraceStep is one replayed transaction
type TraceStep struct {
	TransactionID    uint64                 `json:"transaction_id"`
	Type             models.TransactionType `json:"type"`
	Amount           decimal.Decimal        `json:"amount"`
	EffectiveAt      time.Time              `json:"effective_at"`
	RecordedPrevious decimal.Decimal        `json:"recorded_previous_balance"`
	RecordedNew      decimal.Decimal        `json:"recorded_new_balance"`
	ReplayedPrevious decimal.Decimal        `json:"replayed_previous_balance"`
	ReplayedNew      decimal.Decimal        `json:"replayed_new_balance"`
	Matches          bool                   `json:"matches"`
}

// Divergence is the first point where the recorded chain leaves the replay
type Divergence struct {
	Transaction *models.Transaction `json:"transaction"`
	Preceding   *models.Transaction `json:"preceding,omitempty"`
	Replayed    decimal.Decimal     `json:"replayed_balance"`
	Recorded    decimal.Decimal     `json:"recorded_balance"`
	Gap         decimal.Decimal     `json:"gap"`
	Direction   string              `json:"direction"` // "above" or "below" the replay
	Explanation string              `json:"explanation"`
}

// BalanceTrace is the diagnostic replay of one user's ledger
type BalanceTrace struct {
	UserID          uint64          `json:"user_id"`
	StoredBalance   decimal.Decimal `json:"stored_balance"`
	ComputedBalance decimal.Decimal `json:"computed_balance"`
	Difference      decimal.Decimal `json:"difference"`
	Consistent      bool            `json:"consistent"`
	FirstDivergence *Divergence     `json:"first_divergence,omitempty"`
	Steps           []TraceStep     `json:"steps"`
}

// BalanceCheck is the outcome for one user
type BalanceCheck struct {
	UserID   uint64          `json:"user_id"`
	Email    string          `json:"email"`
	Stored   decimal.Decimal `json:"stored_balance"`
	Expected decimal.Decimal `json:"expected_balance"`
	Gap      decimal.Decimal `json:"gap"`
	Passed   bool            `json:"passed"`
}

// BalanceCheckReport aggregates CheckAllBalances
type BalanceCheckReport struct {
	Checked     int            `json:"checked"`
	Passed      int            `json:"passed"`
	Failed      int            `json:"failed"`
	SuccessRate float64        `json:"success_rate"` // percent
	Results     []BalanceCheck `json:"results"`
	Errors      []BalanceCheck `json:"errors"`
}

// ReconciliationService replays the ledger. It never writes.
type ReconciliationService interface {
	TraceBalance(ctx context.Context, userID uint64) (*BalanceTrace, error)
	CheckAllBalances(ctx context.Context) (*BalanceCheckReport, error)
}

type reconciliationService struct {
	store repository.Store
	log   *logger.Logger
}

// NewReconciliationService creates the read-only balance auditor
func NewReconciliationService(store repository.Store, log *logger.Logger) ReconciliationService {
	return &reconciliationService{store: store, log: log}
}

func withinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(ReconciliationEpsilon)
}

func (s *reconciliationService) TraceBalance(ctx context.Context, userID uint64) (*BalanceTrace, error) {
	user, err := s.store.Users().FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	rows, err := s.store.Transactions().FindCompletedByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	trace := &BalanceTrace{
		UserID:        userID,
		StoredBalance: user.Balance,
		Steps:         make([]TraceStep, 0, len(rows)),
	}

	running := decimal.Zero
	var preceding *models.Transaction
	for _, row := range rows {
		next := row.Type.Apply(running, row.Amount)
		step := TraceStep{
			TransactionID:    row.ID,
			Type:             row.Type,
			Amount:           row.Amount,
			EffectiveAt:      row.EffectiveAt(),
			RecordedPrevious: row.PreviousBalance,
			RecordedNew:      row.NewBalance,
			ReplayedPrevious: running,
			ReplayedNew:      next,
			Matches:          withinEpsilon(row.PreviousBalance, running),
		}
		if !step.Matches && trace.FirstDivergence == nil {
			trace.FirstDivergence = describeDivergence(row, preceding, running)
		}
		trace.Steps = append(trace.Steps, step)
		running = next
		preceding = row
	}

	trace.ComputedBalance = running
	trace.Difference = user.Balance.Sub(running)
	trace.Consistent = trace.FirstDivergence == nil && withinEpsilon(user.Balance, running)
	return trace, nil
}

func describeDivergence(row, preceding *models.Transaction, replayed decimal.Decimal) *Divergence {
	gap := row.PreviousBalance.Sub(replayed)
	d := &Divergence{
		Transaction: row,
		Preceding:   preceding,
		Replayed:    replayed,
		Recorded:    row.PreviousBalance,
		Gap:         gap.Abs(),
	}

	after := "the start of the ledger"
	if preceding != nil {
		after = fmt.Sprintf("transaction #%d (%s)", preceding.ID, preceding.Type)
	}
	if gap.IsPositive() {
		d.Direction = "above"
		d.Explanation = fmt.Sprintf(
			"Transaction #%d (%s) starts from %s but the replay reaches %s: the balance rose by %s after %s without a ledger entry",
			row.ID, row.Type, helpers.FormatMoney(row.PreviousBalance), helpers.FormatMoney(replayed),
			helpers.FormatMoney(d.Gap), after)
	} else {
		d.Direction = "below"
		d.Explanation = fmt.Sprintf(
			"Transaction #%d (%s) starts from %s but the replay reaches %s: the balance fell by %s after %s without a ledger entry",
			row.ID, row.Type, helpers.FormatMoney(row.PreviousBalance), helpers.FormatMoney(replayed),
			helpers.FormatMoney(d.Gap), after)
	}
	return d
}

// ExpectedBalance folds per-type totals by the signed rule. MISSED_ROI and
// FEE have no balance effect.
func ExpectedBalance(totals map[models.TransactionType]decimal.Decimal) decimal.Decimal {
	expected := decimal.Zero
	for txType, total := range totals {
		expected = txType.Apply(expected, total)
	}
	return expected
}

func (s *reconciliationService) CheckAllBalances(ctx context.Context) (*BalanceCheckReport, error) {
	users, err := s.store.Users().FindAll(ctx)
	if err != nil {
		return nil, err
	}
	sums, err := s.store.Transactions().SumCompletedByUserAndType(ctx)
	if err != nil {
		return nil, err
	}

	report := &BalanceCheckReport{
		Results: make([]BalanceCheck, 0, len(users)),
		Errors:  []BalanceCheck{},
	}
	for _, user := range users {
		expected := ExpectedBalance(sums[user.ID])
		check := BalanceCheck{
			UserID:   user.ID,
			Email:    user.Email,
			Stored:   user.Balance,
			Expected: expected,
			Gap:      user.Balance.Sub(expected),
			Passed:   withinEpsilon(user.Balance, expected),
		}
		report.Checked++
		if check.Passed {
			report.Passed++
		} else {
			report.Failed++
			report.Errors = append(report.Errors, check)
		}
		report.Results = append(report.Results, check)
	}

	report.SuccessRate = 100
	if report.Checked > 0 {
		report.SuccessRate = float64(report.Passed) * 100 / float64(report.Checked)
	}

	s.log.WithField("checked", report.Checked).
		WithField("failed", report.Failed).
		Info("balance check finished")
	return report, nil
}
