package service

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"newroi/ledger-service/internal/models"
	"newroi/ledger-service/internal/repository"
	"newroi/ledger-service/pkg/logger"
)

type RemediationPolicy string

// PolicyKeepEarliest keeps the earliest created investment of each duplicate group
const PolicyKeepEarliest RemediationPolicy = "keep-earliest"

// AmountGroup is a user's ACTIVE investments sharing one principal, earliest first
type AmountGroup struct {
	Amount      decimal.Decimal      `json:"amount"`
	Investments []*models.Investment `json:"investments"`
}

// IsDuplicate reports whether the group holds more than one investment
func (g AmountGroup) IsDuplicate() bool {
	return len(g.Investments) > 1
}

// UserDuplicates lists a user holding more than one ACTIVE investment
type UserDuplicates struct {
	UserID      uint64        `json:"user_id"`
	ActiveCount int           `json:"active_count"`
	Groups      []AmountGroup `json:"groups"`
}

// DuplicateGroups returns only the groups that are true duplicates
func (u UserDuplicates) DuplicateGroups() []AmountGroup {
	var out []AmountGroup
	for _, g := range u.Groups {
		if g.IsDuplicate() {
			out = append(out, g)
		}
	}
	return out
}

// RemediationReport describes what CancelDuplicates did or would do
type RemediationReport struct {
	Policy        RemediationPolicy `json:"policy"`
	DryRun        bool              `json:"dry_run"`
	UsersAffected int               `json:"users_affected"`
	Kept          []uint64          `json:"kept"`
	Cancelled     []uint64          `json:"cancelled"`
}

// RemediationService cancels duplicated ACTIVE investments going forward.
// Transactions and paid ROI are never touched.
type RemediationService interface {
	FindDuplicateActiveInvestments(ctx context.Context) ([]UserDuplicates, error)
	CancelDuplicates(ctx context.Context, policy RemediationPolicy, dryRun bool) (*RemediationReport, error)
}

type remediationService struct {
	store repository.Store
	log   *logger.Logger
}

// NewRemediationService creates the duplicate investment cleanup
func NewRemediationService(store repository.Store, log *logger.Logger) RemediationService {
	return &remediationService{store: store, log: log}
}

func (s *remediationService) FindDuplicateActiveInvestments(ctx context.Context) ([]UserDuplicates, error) {
	active, err := s.store.Investments().FindByStatus(ctx, models.InvestmentActive)
	if err != nil {
		return nil, err
	}
	return GroupActiveInvestments(active), nil
}

// GroupActiveInvestments flags users with more than one ACTIVE investment and
// groups their investments by principal.
func GroupActiveInvestments(investments []*models.Investment) []UserDuplicates {
	byUser := make(map[uint64][]*models.Investment)
	var order []uint64
	for _, inv := range investments {
		if inv.Status != models.InvestmentActive {
			continue
		}
		if _, ok := byUser[inv.UserID]; !ok {
			order = append(order, inv.UserID)
		}
		byUser[inv.UserID] = append(byUser[inv.UserID], inv)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	var out []UserDuplicates
	for _, userID := range order {
		invs := byUser[userID]
		if len(invs) < 2 {
			continue
		}
		sort.SliceStable(invs, func(i, j int) bool {
			if !invs[i].CreatedAt.Equal(invs[j].CreatedAt) {
				return invs[i].CreatedAt.Before(invs[j].CreatedAt)
			}
			return invs[i].ID < invs[j].ID
		})

		index := make(map[string]int)
		var groups []AmountGroup
		for _, inv := range invs {
			key := inv.Amount.String()
			pos, ok := index[key]
			if !ok {
				pos = len(groups)
				index[key] = pos
				groups = append(groups, AmountGroup{Amount: inv.Amount})
			}
			groups[pos].Investments = append(groups[pos].Investments, inv)
		}
		out = append(out, UserDuplicates{UserID: userID, ActiveCount: len(invs), Groups: groups})
	}
	return out
}

func (s *remediationService) CancelDuplicates(ctx context.Context, policy RemediationPolicy, dryRun bool) (*RemediationReport, error) {
	if policy == "" {
		policy = PolicyKeepEarliest
	}
	if policy != PolicyKeepEarliest {
		return nil, userError(ErrValidation, "Unknown remediation policy %q", policy)
	}

	flagged, err := s.FindDuplicateActiveInvestments(ctx)
	if err != nil {
		return nil, err
	}

	report := &RemediationReport{Policy: policy, DryRun: dryRun, Kept: []uint64{}, Cancelled: []uint64{}}
	for _, user := range flagged {
		groups := user.DuplicateGroups()
		if len(groups) == 0 {
			continue
		}

		var cancelled []uint64
		for _, group := range groups {
			report.Kept = append(report.Kept, group.Investments[0].ID)
			for _, inv := range group.Investments[1:] {
				if dryRun {
					cancelled = append(cancelled, inv.ID)
					continue
				}
				changed, err := s.cancel(ctx, inv.ID)
				if err != nil {
					return report, err
				}
				if changed {
					cancelled = append(cancelled, inv.ID)
				}
			}
		}
		if len(cancelled) > 0 {
			report.UsersAffected++
			report.Cancelled = append(report.Cancelled, cancelled...)
			s.log.WithUserID(user.UserID).WithField("cancelled", cancelled).
				WithField("dry_run", dryRun).Info("duplicate investments cancelled")
		}
	}
	return report, nil
}

// cancel moves one investment ACTIVE->CANCELLED; false means someone else
// already changed it.
func (s *remediationService) cancel(ctx context.Context, investmentID uint64) (bool, error) {
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		return tx.Investments().TransitionStatus(ctx, investmentID,
			models.InvestmentActive, models.InvestmentCancelled, nil, nil)
	})
	if errors.Is(err, repository.ErrNoRowsAffected) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
