package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"newroi/ledger-service/internal/models"
	"newroi/ledger-service/internal/repository"
	"newroi/ledger-service/pkg/logger"
)

// NetworkView is a user's downline with per-level member counts
type NetworkView struct {
	Root             *DownlineNode
	LevelCounts      []int // index 0 = level 1
	TotalMembers     int
	QualifiedDirects int
	UnlockedLevel    int
	NetworkInvested  decimal.Decimal
}

type ReferralService interface {
	// LoadTree performs the bulk fetch every walk is answered from
	LoadTree(ctx context.Context) (*ReferralTree, error)
	WalkUpline(ctx context.Context, userID uint64, maxDepth int) ([]UplineNode, error)
	WalkDownline(ctx context.Context, userID uint64, maxDepth int) (*DownlineNode, error)
	// AssignUpline attaches a user without an upline to the owner of a referral code
	AssignUpline(ctx context.Context, userID uint64, referralCode string) error
	// ChangeUpline moves a user under a new upline, rejecting cycles
	ChangeUpline(ctx context.Context, userID, newUplineID uint64) error
	Network(ctx context.Context, userID uint64) (*NetworkView, error)
}

type referralService struct {
	store    repository.Store
	settings SettingsService
	log      *logger.Logger
}

// NewReferralService creates the referral tree resolver
func NewReferralService(store repository.Store, settings SettingsService, log *logger.Logger) ReferralService {
	return &referralService{store: store, settings: settings, log: log}
}

func loadTree(ctx context.Context, store repository.Store) (*ReferralTree, error) {
	users, err := store.Users().FindAll(ctx)
	if err != nil {
		return nil, err
	}
	active, err := store.Investments().FindByStatus(ctx, models.InvestmentActive)
	if err != nil {
		return nil, err
	}
	return NewReferralTree(users, active), nil
}

func (s *referralService) LoadTree(ctx context.Context) (*ReferralTree, error) {
	return loadTree(ctx, s.store)
}

func (s *referralService) WalkUpline(ctx context.Context, userID uint64, maxDepth int) ([]UplineNode, error) {
	tree, err := s.LoadTree(ctx)
	if err != nil {
		return nil, err
	}
	if tree.User(userID) == nil {
		return nil, ErrNotFound
	}
	return tree.WalkUpline(userID, maxDepth), nil
}

func (s *referralService) WalkDownline(ctx context.Context, userID uint64, maxDepth int) (*DownlineNode, error) {
	tree, err := s.LoadTree(ctx)
	if err != nil {
		return nil, err
	}
	node := tree.WalkDownline(userID, maxDepth)
	if node == nil {
		return nil, ErrNotFound
	}
	return node, nil
}

func (s *referralService) AssignUpline(ctx context.Context, userID uint64, referralCode string) error {
	code := strings.ToUpper(strings.TrimSpace(referralCode))
	if code == "" {
		return userError(ErrValidation, "Referral code is required")
	}

	return s.store.WithinTx(ctx, func(tx repository.Store) error {
		user, err := tx.Users().FindByIDForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return ErrNotFound
		}
		if user.UplineID != nil {
			return userError(ErrInvalidState, "Upline is already set")
		}

		upline, err := tx.Users().FindByReferralCode(ctx, code)
		if err != nil {
			return err
		}
		if upline == nil {
			return userError(ErrNotFound, "Invalid referral code")
		}
		return s.attach(ctx, tx, user, upline.ID)
	})
}

func (s *referralService) ChangeUpline(ctx context.Context, userID, newUplineID uint64) error {
	return s.store.WithinTx(ctx, func(tx repository.Store) error {
		user, err := tx.Users().FindByIDForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return ErrNotFound
		}
		upline, err := tx.Users().FindByID(ctx, newUplineID)
		if err != nil {
			return err
		}
		if upline == nil {
			return userError(ErrNotFound, "Upline not found")
		}
		return s.attach(ctx, tx, user, upline.ID)
	})
}

// attach checks acyclicity against a fresh snapshot inside the caller's transaction
func (s *referralService) attach(ctx context.Context, tx repository.Store, user *models.User, uplineID uint64) error {
	if uplineID == user.ID {
		return userError(ErrInvalidState, "A user cannot refer themselves")
	}
	tree, err := loadTree(ctx, tx)
	if err != nil {
		return err
	}
	if tree.IsAncestor(user.ID, uplineID) {
		return userError(ErrInvalidState, "Upline cannot be a member of the user's own downline")
	}

	if err := tx.Users().UpdateUpline(ctx, user.ID, &uplineID); err != nil {
		if errors.Is(err, repository.ErrNoRowsAffected) {
			return ErrNotFound
		}
		return err
	}
	s.log.WithUserID(user.ID).WithField("upline_id", uplineID).Info("upline assigned")
	return nil
}

func (s *referralService) Network(ctx context.Context, userID uint64) (*NetworkView, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	root, err := s.WalkDownline(ctx, userID, MaxReferralDepth)
	if err != nil {
		return nil, err
	}

	view := &NetworkView{
		Root:             root,
		LevelCounts:      make([]int, MaxReferralDepth),
		QualifiedDirects: root.QualifiedDirects,
		UnlockedLevel:    UnlockedLevel(root.QualifiedDirects, settings.LevelUnlockThresholds),
		NetworkInvested:  root.NetworkInvested.Sub(root.OwnInvested),
	}

	queue := append([]*DownlineNode(nil), root.Children...)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		view.LevelCounts[node.Level-1]++
		view.TotalMembers++
		queue = append(queue, node.Children...)
	}
	return view, nil
}
