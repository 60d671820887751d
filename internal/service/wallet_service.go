package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"newroi/ledger-service/internal/models"
	"newroi/ledger-service/internal/notify"
	"newroi/ledger-service/internal/repository"
	"newroi/ledger-service/pkg/helpers"
	"newroi/ledger-service/pkg/logger"
)

// WithdrawalRequest is a user's payout request
type WithdrawalRequest struct {
	UserID  uint64
	Amount  decimal.Decimal
	Address string
	OTPCode string
}

// WalletView is a user's balance with pending activity
type WalletView struct {
	UserID             uint64
	Balance            decimal.Decimal
	PendingWithdrawals decimal.Decimal
	PendingDeposits    decimal.Decimal
	Recent             []*models.Transaction
}

type WalletService interface {
	GetWallet(ctx context.Context, userID uint64) (*WalletView, error)
	// RequestDeposit records a deposit claim; the balance is credited on approval
	RequestDeposit(ctx context.Context, userID uint64, amount decimal.Decimal, txHash string) (*models.Transaction, error)
	ApproveDeposit(ctx context.Context, transactionID, adminID uint64) (*BalanceChange, error)
	RejectDeposit(ctx context.Context, transactionID, adminID uint64, reason string) (*models.Transaction, error)
	// RequestWithdrawal records a PENDING withdrawal; the balance is debited on approval
	RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*models.Transaction, error)
	ApproveWithdrawal(ctx context.Context, transactionID, adminID uint64) (*BalanceChange, error)
	RejectWithdrawal(ctx context.Context, transactionID, adminID uint64, reason string) (*models.Transaction, error)
	PendingWithdrawals(ctx context.Context) ([]*models.Transaction, error)
	PendingDeposits(ctx context.Context) ([]*models.Transaction, error)
}

type walletService struct {
	store    repository.Store
	ledger   LedgerService
	settings SettingsService
	otp      OTPService
	notifier notify.Notifier
	ids      *helpers.IDGenerator
	log      *logger.Logger
}

// NewWalletService creates the deposit and withdrawal flows
func NewWalletService(
	store repository.Store,
	ledger LedgerService,
	settings SettingsService,
	otp OTPService,
	notifier notify.Notifier,
	log *logger.Logger,
) WalletService {
	return &walletService{
		store:    store,
		ledger:   ledger,
		settings: settings,
		otp:      otp,
		notifier: notifier,
		ids:      helpers.NewIDGenerator(),
		log:      log,
	}
}

func (s *walletService) GetWallet(ctx context.Context, userID uint64) (*WalletView, error) {
	user, err := s.store.Users().FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}

	view := &WalletView{UserID: user.ID, Balance: user.Balance}
	withdrawals, err := s.store.Transactions().FindPendingByUser(ctx, userID, models.TxWithdrawal)
	if err != nil {
		return nil, err
	}
	for _, tx := range withdrawals {
		view.PendingWithdrawals = view.PendingWithdrawals.Add(tx.Amount)
	}
	deposits, err := s.store.Transactions().FindPendingByUser(ctx, userID, models.TxDeposit)
	if err != nil {
		return nil, err
	}
	for _, tx := range deposits {
		view.PendingDeposits = view.PendingDeposits.Add(tx.Amount)
	}

	view.Recent, err = s.store.Transactions().ListByUser(ctx, userID, 20)
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *walletService) RequestDeposit(ctx context.Context, userID uint64, amount decimal.Decimal, txHash string) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, userError(ErrValidation, "Amount must be greater than zero")
	}
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return nil, userError(ErrValidation, "Transaction hash is required")
	}

	var row *models.Transaction
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		row, err = s.ledger.RecordPending(ctx, tx, Entry{
			UserID:         userID,
			Type:           models.TxDeposit,
			Amount:         amount,
			Description:    "Deposit claim",
			ReferenceID:    s.ids.GenerateReference("DEP"),
			IdempotencyKey: "DEPOSIT_CLAIM:" + txHash,
			Metadata:       map[string]any{"tx_hash": txHash},
		})
		return err
	})
	if err != nil {
		if isAlreadyProcessed(err) {
			return nil, userError(ErrInvalidState, "This transaction hash was already submitted")
		}
		return nil, err
	}

	s.emit(ctx, notify.EventDepositRequested, row, "Deposit awaiting approval")
	return row, nil
}

func (s *walletService) pendingOfType(ctx context.Context, tx repository.Store, transactionID uint64, txType models.TransactionType) (*models.Transaction, error) {
	row, err := tx.Transactions().FindByIDForUpdate(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if row == nil || row.Type != txType {
		return nil, fmt.Errorf("%s %d: %w", strings.ToLower(string(txType)), transactionID, ErrNotFound)
	}
	return row, nil
}

func (s *walletService) ApproveDeposit(ctx context.Context, transactionID, adminID uint64) (*BalanceChange, error) {
	var (
		row    *models.Transaction
		change *BalanceChange
	)
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		if row, err = s.pendingOfType(ctx, tx, transactionID, models.TxDeposit); err != nil {
			return err
		}
		change, err = s.ledger.SettlePending(ctx, tx, transactionID, map[string]any{"approved_by": adminID})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithUserID(row.UserID).WithField("transaction_id", transactionID).Info("deposit approved")
	s.emit(ctx, notify.EventDepositApproved, row, "Deposit approved")
	return change, nil
}

func (s *walletService) RejectDeposit(ctx context.Context, transactionID, adminID uint64, reason string) (*models.Transaction, error) {
	var row *models.Transaction
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		if _, err := s.pendingOfType(ctx, tx, transactionID, models.TxDeposit); err != nil {
			return err
		}
		var err error
		row, err = s.ledger.RejectPending(ctx, tx, transactionID, map[string]any{"rejected_by": adminID, "reason": reason})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, notify.EventDepositRejected, row, "Deposit rejected: "+reason)
	return row, nil
}

func (s *walletService) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*models.Transaction, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}

	amount := helpers.RoundMoney(req.Amount)
	if !amount.IsPositive() {
		return nil, userError(ErrValidation, "Amount must be greater than zero")
	}
	if amount.LessThan(settings.MinWithdrawal) {
		return nil, userError(ErrValidation, "Minimum withdrawal is $%s", settings.MinWithdrawal.String())
	}
	address := strings.TrimSpace(req.Address)
	if address == "" {
		return nil, userError(ErrValidation, "Wallet address is required")
	}

	user, err := s.store.Users().FindByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	if amount.GreaterThan(user.Balance) {
		return nil, userError(ErrInsufficientFunds, "Insufficient balance")
	}

	if err := s.otp.Verify(ctx, req.UserID, models.OTPWithdrawal, req.OTPCode); err != nil {
		return nil, err
	}

	fee := helpers.Percent(amount, settings.WithdrawalFeePercent)
	net := amount.Sub(fee)

	var row *models.Transaction
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		locked, err := tx.Users().FindByIDForUpdate(ctx, req.UserID)
		if err != nil {
			return err
		}
		if locked == nil {
			return ErrNotFound
		}
		if amount.GreaterThan(locked.Balance) {
			return userError(ErrInsufficientFunds, "Insufficient balance")
		}

		pending, err := tx.Transactions().FindPendingByUser(ctx, req.UserID, models.TxWithdrawal)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return userError(ErrInvalidState, "You already have a pending withdrawal")
		}

		row, err = s.ledger.RecordPending(ctx, tx, Entry{
			UserID:      req.UserID,
			Type:        models.TxWithdrawal,
			Amount:      amount,
			Description: fmt.Sprintf("Withdrawal to %s", address),
			ReferenceID: s.ids.GenerateReference("WD"),
			Metadata: map[string]any{
				"address":     address,
				"fee":         fee.String(),
				"fee_percent": settings.WithdrawalFeePercent.String(),
				"net_amount":  net.String(),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithUserID(req.UserID).
		WithField("amount", amount.String()).
		WithField("net_amount", net.String()).
		Info("withdrawal requested")
	s.emit(ctx, notify.EventWithdrawalRequested, row, fmt.Sprintf("Withdrawal requested, net payout %s", helpers.FormatMoney(net)))
	return row, nil
}

func metadataDecimal(metadata map[string]any, key string) decimal.Decimal {
	raw, ok := metadata[key]
	if !ok {
		return decimal.Zero
	}
	switch v := raw.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(v)
	case decimal.Decimal:
		return v
	}
	return decimal.Zero
}

// ApproveWithdrawal debits the gross requested amount and records the fee
// portion as a FEE row without balance effect.
func (s *walletService) ApproveWithdrawal(ctx context.Context, transactionID, adminID uint64) (*BalanceChange, error) {
	var (
		row    *models.Transaction
		change *BalanceChange
	)
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		if row, err = s.pendingOfType(ctx, tx, transactionID, models.TxWithdrawal); err != nil {
			return err
		}
		change, err = s.ledger.SettlePending(ctx, tx, transactionID, map[string]any{"approved_by": adminID})
		if err != nil {
			return err
		}

		fee := metadataDecimal(row.Metadata, "fee")
		if !fee.IsPositive() {
			return nil
		}
		_, err = s.ledger.ApplyEntry(ctx, tx, Entry{
			UserID:         row.UserID,
			Type:           models.TxFee,
			Amount:         fee,
			Description:    fmt.Sprintf("Withdrawal fee for %s", row.Reference()),
			ReferenceID:    row.Reference(),
			IdempotencyKey: fmt.Sprintf("FEE:%d", row.ID),
			Metadata:       map[string]any{"withdrawal_id": row.ID},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithUserID(row.UserID).WithField("transaction_id", transactionID).Info("withdrawal approved")
	s.emit(ctx, notify.EventWithdrawalApproved, row, "Withdrawal approved")
	return change, nil
}

func (s *walletService) RejectWithdrawal(ctx context.Context, transactionID, adminID uint64, reason string) (*models.Transaction, error) {
	var row *models.Transaction
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		if _, err := s.pendingOfType(ctx, tx, transactionID, models.TxWithdrawal); err != nil {
			return err
		}
		var err error
		row, err = s.ledger.RejectPending(ctx, tx, transactionID, map[string]any{"rejected_by": adminID, "reason": reason})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, notify.EventWithdrawalRejected, row, "Withdrawal rejected: "+reason)
	return row, nil
}

func (s *walletService) PendingWithdrawals(ctx context.Context) ([]*models.Transaction, error) {
	return s.store.Transactions().FindPendingByType(ctx, models.TxWithdrawal)
}

func (s *walletService) PendingDeposits(ctx context.Context) ([]*models.Transaction, error) {
	return s.store.Transactions().FindPendingByType(ctx, models.TxDeposit)
}

func (s *walletService) emit(ctx context.Context, eventType notify.EventType, row *models.Transaction, message string) {
	_ = s.notifier.Notify(ctx, notify.Event{
		Type:      eventType,
		UserID:    row.UserID,
		Amount:    helpers.FormatMoney(row.Amount),
		Reference: row.Reference(),
		Message:   message,
	})
}
