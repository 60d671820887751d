package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"newroi/ledger-service/internal/models"
	"newroi/ledger-service/internal/repository"
	"newroi/ledger-service/pkg/helpers"
	"newroi/ledger-service/pkg/logger"
)

// Entry describes one ledger write
type Entry struct {
	UserID         uint64
	Type           models.TransactionType
	Amount         decimal.Decimal
	Description    string
	ReferenceID    string
	LedgerDate     *time.Time
	IdempotencyKey string
	Metadata       map[string]any
}

// BalanceChange is the before/after snapshot stamped on a ledger row
type BalanceChange struct {
	TransactionID   uint64
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal
}

// LedgerService is the only writer of users.balance. Every balance change is
// paired with exactly one COMPLETED transaction row in the same unit of work.
type LedgerService interface {
	// ApplyEntry must be called with a transaction-bound store
	ApplyEntry(ctx context.Context, tx repository.Store, entry Entry) (*BalanceChange, error)
	// ApplyEntryTx opens its own unit of work around ApplyEntry
	ApplyEntryTx(ctx context.Context, entry Entry) (*BalanceChange, error)
	// RecordPending appends a PENDING row whose snapshots equal the current balance
	RecordPending(ctx context.Context, tx repository.Store, entry Entry) (*models.Transaction, error)
	// SettlePending applies a PENDING row's signed effect and completes it
	SettlePending(ctx context.Context, tx repository.Store, transactionID uint64, metadata map[string]any) (*BalanceChange, error)
	// RejectPending marks a PENDING row REJECTED and leaves the balance alone
	RejectPending(ctx context.Context, tx repository.Store, transactionID uint64, metadata map[string]any) (*models.Transaction, error)
	// RecordMissed appends a COMPLETED MISSED_ROI row without balance effect
	RecordMissed(ctx context.Context, tx repository.Store, entry Entry) (*BalanceChange, error)
}

type ledgerService struct {
	store repository.Store
	log   *logger.Logger
	now   func() time.Time
}

// NewLedgerService creates the balance accounting primitive
func NewLedgerService(store repository.Store, log *logger.Logger) LedgerService {
	return &ledgerService{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func validateEntry(entry Entry) error {
	if entry.UserID == 0 {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if entry.Type == "" {
		return fmt.Errorf("%w: transaction type is required", ErrValidation)
	}
	if !entry.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *ledgerService) lockUser(ctx context.Context, tx repository.Store, userID uint64) (*models.User, error) {
	user, err := tx.Users().FindByIDForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return user, nil
}

func (s *ledgerService) newRow(entry Entry, status models.TransactionStatus, prev, next decimal.Decimal) *models.Transaction {
	now := s.now()
	row := &models.Transaction{
		UserID:          entry.UserID,
		Type:            entry.Type,
		Amount:          helpers.RoundMoney(entry.Amount),
		PreviousBalance: prev,
		NewBalance:      next,
		Status:          status,
		Description:     entry.Description,
		ReferenceID:     optional(entry.ReferenceID),
		LedgerDate:      entry.LedgerDate,
		IdempotencyKey:  optional(entry.IdempotencyKey),
		Metadata:        entry.Metadata,
		CreatedAt:       now,
	}
	if status == models.TxCompleted {
		row.CompletedAt = &now
	}
	return row
}

func (s *ledgerService) insert(ctx context.Context, tx repository.Store, row *models.Transaction) error {
	if err := tx.Transactions().Create(ctx, row); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) && row.IdempotencyKey != nil {
			return fmt.Errorf("%w: %s", ErrAlreadyProcessed, *row.IdempotencyKey)
		}
		return err
	}
	return nil
}

func (s *ledgerService) ApplyEntry(ctx context.Context, tx repository.Store, entry Entry) (*BalanceChange, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}
	user, err := s.lockUser(ctx, tx, entry.UserID)
	if err != nil {
		return nil, err
	}

	amount := helpers.RoundMoney(entry.Amount)
	prev := user.Balance
	next := entry.Type.Apply(prev, amount)
	if next.IsNegative() {
		return nil, userError(ErrInsufficientFunds, "Insufficient balance")
	}

	if !next.Equal(prev) {
		if err := tx.Users().UpdateBalance(ctx, user.ID, next); err != nil {
			return nil, err
		}
	}

	row := s.newRow(entry, models.TxCompleted, prev, next)
	if err := s.insert(ctx, tx, row); err != nil {
		return nil, err
	}

	s.log.WithUserID(user.ID).WithFields(logrus.Fields{
		"type":             entry.Type,
		"amount":           amount.String(),
		"previous_balance": prev.String(),
		"new_balance":      next.String(),
		"reference_id":     entry.ReferenceID,
	}).Debug("ledger entry applied")

	return &BalanceChange{TransactionID: row.ID, PreviousBalance: prev, NewBalance: next}, nil
}

func (s *ledgerService) ApplyEntryTx(ctx context.Context, entry Entry) (*BalanceChange, error) {
	var change *BalanceChange
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		change, err = s.ApplyEntry(ctx, tx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

func (s *ledgerService) RecordPending(ctx context.Context, tx repository.Store, entry Entry) (*models.Transaction, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}
	user, err := s.lockUser(ctx, tx, entry.UserID)
	if err != nil {
		return nil, err
	}

	row := s.newRow(entry, models.TxPending, user.Balance, user.Balance)
	if err := s.insert(ctx, tx, row); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *ledgerService) findPending(ctx context.Context, tx repository.Store, transactionID uint64) (*models.Transaction, error) {
	row, err := tx.Transactions().FindByIDForUpdate(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("transaction %d: %w", transactionID, ErrNotFound)
	}
	if row.Status != models.TxPending {
		return nil, userError(ErrInvalidState, "Transaction is already %s", row.Status)
	}
	return row, nil
}

func (s *ledgerService) SettlePending(ctx context.Context, tx repository.Store, transactionID uint64, metadata map[string]any) (*BalanceChange, error) {
	row, err := s.findPending(ctx, tx, transactionID)
	if err != nil {
		return nil, err
	}
	user, err := s.lockUser(ctx, tx, row.UserID)
	if err != nil {
		return nil, err
	}

	prev := user.Balance
	next := row.Type.Apply(prev, row.Amount)
	if next.IsNegative() {
		return nil, userError(ErrInsufficientFunds, "Insufficient balance")
	}
	if !next.Equal(prev) {
		if err := tx.Users().UpdateBalance(ctx, user.ID, next); err != nil {
			return nil, err
		}
	}

	if err := tx.Transactions().Complete(ctx, row.ID, prev, next, s.now(), mergeMetadata(row.Metadata, metadata)); err != nil {
		if errors.Is(err, repository.ErrNoRowsAffected) {
			return nil, userError(ErrInvalidState, "Transaction is no longer pending")
		}
		return nil, err
	}
	return &BalanceChange{TransactionID: row.ID, PreviousBalance: prev, NewBalance: next}, nil
}

func (s *ledgerService) RejectPending(ctx context.Context, tx repository.Store, transactionID uint64, metadata map[string]any) (*models.Transaction, error) {
	row, err := s.findPending(ctx, tx, transactionID)
	if err != nil {
		return nil, err
	}
	merged := mergeMetadata(row.Metadata, metadata)
	if err := tx.Transactions().Reject(ctx, row.ID, merged); err != nil {
		if errors.Is(err, repository.ErrNoRowsAffected) {
			return nil, userError(ErrInvalidState, "Transaction is no longer pending")
		}
		return nil, err
	}
	row.Status = models.TxRejected
	row.Metadata = merged
	return row, nil
}

func mergeMetadata(base, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func (s *ledgerService) RecordMissed(ctx context.Context, tx repository.Store, entry Entry) (*BalanceChange, error) {
	entry.Type = models.TxMissedROI
	if err := validateEntry(entry); err != nil {
		return nil, err
	}
	user, err := s.lockUser(ctx, tx, entry.UserID)
	if err != nil {
		return nil, err
	}

	row := s.newRow(entry, models.TxCompleted, user.Balance, user.Balance)
	if err := s.insert(ctx, tx, row); err != nil {
		return nil, err
	}
	return &BalanceChange{TransactionID: row.ID, PreviousBalance: user.Balance, NewBalance: user.Balance}, nil
}
