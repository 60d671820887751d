package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"newroi/ledger-service/internal/models"
	"newroi/ledger-service/internal/notify"
	"newroi/ledger-service/internal/repository"
	"newroi/ledger-service/pkg/helpers"
	"newroi/ledger-service/pkg/logger"
)

type InvestmentService interface {
	// ActivateFromWallet converts wallet balance into an ACTIVE investment
	ActivateFromWallet(ctx context.Context, userID uint64, amount decimal.Decimal) (*models.Investment, error)
	// SubmitDepositClaim creates a PENDING investment funded by an external deposit
	SubmitDepositClaim(ctx context.Context, userID uint64, amount decimal.Decimal, txHash string) (*models.Investment, error)
	Approve(ctx context.Context, investmentID, adminID uint64) (*models.Investment, error)
	Reject(ctx context.Context, investmentID, adminID uint64) (*models.Investment, error)
	ListForUser(ctx context.Context, userID uint64) ([]*models.Investment, error)
	ListPending(ctx context.Context) ([]*models.Investment, error)
}

type investmentService struct {
	store    repository.Store
	ledger   LedgerService
	settings SettingsService
	notifier notify.Notifier
	log      *logger.Logger
}

// NewInvestmentService creates the investment lifecycle service
func NewInvestmentService(
	store repository.Store,
	ledger LedgerService,
	settings SettingsService,
	notifier notify.Notifier,
	log *logger.Logger,
) InvestmentService {
	return &investmentService{
		store:    store,
		ledger:   ledger,
		settings: settings,
		notifier: notifier,
		log:      log,
	}
}

func (s *investmentService) newInvestment(settings *models.SystemSettings, userID uint64, amount decimal.Decimal) (*models.Investment, error) {
	amount = helpers.RoundMoney(amount)
	if !amount.IsPositive() {
		return nil, userError(ErrValidation, "Amount must be greater than zero")
	}
	if amount.LessThan(settings.MinInvestment) {
		return nil, userError(ErrValidation, "Minimum investment is $%s", settings.MinInvestment.String())
	}
	return &models.Investment{
		UserID:           userID,
		Amount:           amount,
		ROIRate:          settings.DailyROIPercent,
		TotalROIPaid:     decimal.Zero,
		MaxReturnPercent: settings.MaxReturnPercent,
	}, nil
}

func (s *investmentService) ActivateFromWallet(ctx context.Context, userID uint64, amount decimal.Decimal) (*models.Investment, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	inv, err := s.newInvestment(settings, userID, amount)
	if err != nil {
		return nil, err
	}
	method := models.ApprovalWallet
	inv.Status = models.InvestmentActive
	inv.ApprovalMethod = &method

	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		if err := tx.Investments().Create(ctx, inv); err != nil {
			return err
		}
		_, err := s.ledger.ApplyEntry(ctx, tx, Entry{
			UserID:         userID,
			Type:           models.TxInvestment,
			Amount:         inv.Amount,
			Description:    fmt.Sprintf("Investment #%d activated from wallet", inv.ID),
			ReferenceID:    fmt.Sprint(inv.ID),
			IdempotencyKey: fmt.Sprintf("INVESTMENT:%d", inv.ID),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithUserID(userID).WithField("investment_id", inv.ID).
		WithField("amount", inv.Amount.String()).Info("investment activated from wallet")
	s.emit(ctx, notify.EventInvestmentActivated, inv, "Investment activated from wallet")
	return inv, nil
}

func (s *investmentService) SubmitDepositClaim(ctx context.Context, userID uint64, amount decimal.Decimal, txHash string) (*models.Investment, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return nil, userError(ErrValidation, "Transaction hash is required")
	}
	inv, err := s.newInvestment(settings, userID, amount)
	if err != nil {
		return nil, err
	}
	inv.Status = models.InvestmentPending
	inv.TransactionID = &txHash

	user, err := s.store.Users().FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	if err := s.store.Investments().Create(ctx, inv); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, userError(ErrInvalidState, "This transaction hash was already submitted")
		}
		return nil, err
	}

	s.emit(ctx, notify.EventInvestmentClaimed, inv, "Investment deposit awaiting approval")
	return inv, nil
}

func (s *investmentService) lockPending(ctx context.Context, tx repository.Store, investmentID uint64) (*models.Investment, error) {
	inv, err := tx.Investments().FindByIDForUpdate(ctx, investmentID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("investment %d: %w", investmentID, ErrNotFound)
	}
	if inv.Status != models.InvestmentPending {
		return nil, userError(ErrInvalidState, "Investment is %s, only pending investments can be reviewed", inv.Status)
	}
	return inv, nil
}

// Approve activates a deposit-funded investment. The deposit credit and the
// investment debit are both written so the ledger shows where the principal came from.
func (s *investmentService) Approve(ctx context.Context, investmentID, adminID uint64) (*models.Investment, error) {
	var inv *models.Investment
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		if inv, err = s.lockPending(ctx, tx, investmentID); err != nil {
			return err
		}
		method := models.ApprovalAdmin
		if err := tx.Investments().TransitionStatus(ctx, inv.ID, models.InvestmentPending, models.InvestmentActive, &method, &adminID); err != nil {
			if errors.Is(err, repository.ErrNoRowsAffected) {
				return userError(ErrInvalidState, "Investment is no longer pending")
			}
			return err
		}
		inv.Status = models.InvestmentActive
		inv.ApprovalMethod = &method
		inv.ApprovedBy = &adminID

		ref := fmt.Sprint(inv.ID)
		metadata := map[string]any{"approved_by": adminID}
		if inv.TransactionID != nil {
			metadata["tx_hash"] = *inv.TransactionID
		}
		if _, err := s.ledger.ApplyEntry(ctx, tx, Entry{
			UserID:         inv.UserID,
			Type:           models.TxDeposit,
			Amount:         inv.Amount,
			Description:    fmt.Sprintf("Deposit for investment #%d", inv.ID),
			ReferenceID:    ref,
			IdempotencyKey: fmt.Sprintf("CLAIM_DEPOSIT:%d", inv.ID),
			Metadata:       metadata,
		}); err != nil {
			return err
		}
		_, err = s.ledger.ApplyEntry(ctx, tx, Entry{
			UserID:         inv.UserID,
			Type:           models.TxInvestment,
			Amount:         inv.Amount,
			Description:    fmt.Sprintf("Investment #%d activated", inv.ID),
			ReferenceID:    ref,
			IdempotencyKey: fmt.Sprintf("INVESTMENT:%d", inv.ID),
			Metadata:       metadata,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithInvestmentID(inv.ID).WithField("approved_by", adminID).Info("investment approved")
	s.emit(ctx, notify.EventInvestmentApproved, inv, "Investment approved")
	return inv, nil
}

func (s *investmentService) Reject(ctx context.Context, investmentID, adminID uint64) (*models.Investment, error) {
	var inv *models.Investment
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		if inv, err = s.lockPending(ctx, tx, investmentID); err != nil {
			return err
		}
		method := models.ApprovalAdmin
		if err := tx.Investments().TransitionStatus(ctx, inv.ID, models.InvestmentPending, models.InvestmentCancelled, &method, &adminID); err != nil {
			if errors.Is(err, repository.ErrNoRowsAffected) {
				return userError(ErrInvalidState, "Investment is no longer pending")
			}
			return err
		}
		inv.Status = models.InvestmentCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, notify.EventInvestmentRejected, inv, "Investment rejected")
	return inv, nil
}

func (s *investmentService) ListForUser(ctx context.Context, userID uint64) ([]*models.Investment, error) {
	return s.store.Investments().FindByUserID(ctx, userID)
}

func (s *investmentService) ListPending(ctx context.Context) ([]*models.Investment, error) {
	return s.store.Investments().FindByStatus(ctx, models.InvestmentPending)
}

func (s *investmentService) emit(ctx context.Context, eventType notify.EventType, inv *models.Investment, message string) {
	_ = s.notifier.Notify(ctx, notify.Event{
		Type:      eventType,
		UserID:    inv.UserID,
		Amount:    helpers.FormatMoney(inv.Amount),
		Reference: fmt.Sprintf("investment #%d", inv.ID),
		Message:   message,
	})
}
