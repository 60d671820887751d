package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"newroi/ledger-service/internal/models"
)

type TransactionRepository interface {
	// Create appends a ledger row; a clash on idempotency_key returns ErrDuplicateKey
	Create(ctx context.Context, tx *models.Transaction) error
	FindByID(ctx context.Context, id uint64) (*models.Transaction, error)
	FindByIDForUpdate(ctx context.Context, id uint64) (*models.Transaction, error)
	// Complete settles a PENDING row with the balance snapshots taken at settlement
	Complete(ctx context.Context, id uint64, previousBalance, newBalance decimal.Decimal, completedAt time.Time, metadata map[string]any) error
	// Reject marks a PENDING row REJECTED without touching its snapshots
	Reject(ctx context.Context, id uint64, metadata map[string]any) error
	// ExistsForReference reports whether a COMPLETED row of one of the types exists
	// for the reference on the ledger date
	ExistsForReference(ctx context.Context, referenceID string, ledgerDate time.Time, types []models.TransactionType) (bool, error)
	// FindCompletedByUser returns COMPLETED rows in replay order (completed_at, id)
	FindCompletedByUser(ctx context.Context, userID uint64) ([]*models.Transaction, error)
	// SumCompletedByUserAndType folds every COMPLETED row per user and type
	SumCompletedByUserAndType(ctx context.Context) (map[uint64]map[models.TransactionType]decimal.Decimal, error)
	FindPendingByUser(ctx context.Context, userID uint64, txType models.TransactionType) ([]*models.Transaction, error)
	FindPendingByType(ctx context.Context, txType models.TransactionType) ([]*models.Transaction, error)
	ListByUser(ctx context.Context, userID uint64, limit int) ([]*models.Transaction, error)
}

type transactionRepository struct {
	db DBTX
}

// NewTransactionRepository creates a transaction repository
func NewTransactionRepository(db DBTX) TransactionRepository {
	return &transactionRepository{db: db}
}

const transactionColumns = `id, user_id, type, amount, previous_balance, new_balance, status, description, reference_id, ledger_date, idempotency_key, metadata, created_at, completed_at`

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	tx := &models.Transaction{}
	var (
		referenceID    sql.NullString
		ledgerDate     sql.NullTime
		idempotencyKey sql.NullString
		metadata       []byte
		completedAt    sql.NullTime
	)
	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.PreviousBalance, &tx.NewBalance,
		&tx.Status, &tx.Description, &referenceID, &ledgerDate, &idempotencyKey,
		&metadata, &tx.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if referenceID.Valid {
		tx.ReferenceID = &referenceID.String
	}
	if ledgerDate.Valid {
		tx.LedgerDate = &ledgerDate.Time
	}
	if idempotencyKey.Valid {
		tx.IdempotencyKey = &idempotencyKey.String
	}
	if completedAt.Valid {
		tx.CompletedAt = &completedAt.Time
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return tx, nil
}

func encodeMetadata(metadata map[string]any) (interface{}, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(raw), nil
}

func (r *transactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	query := `
		INSERT INTO transactions (user_id, type, amount, previous_balance, new_balance, status, description, reference_id, ledger_date, idempotency_key, metadata, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	metadata, err := encodeMetadata(tx.Metadata)
	if err != nil {
		return err
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, query,
		tx.UserID, tx.Type, tx.Amount, tx.PreviousBalance, tx.NewBalance, tx.Status,
		tx.Description, tx.ReferenceID, tx.LedgerDate, tx.IdempotencyKey, metadata,
		tx.CreatedAt, tx.CompletedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read transaction id: %w", err)
	}
	tx.ID = uint64(id)
	return nil
}

func (r *transactionRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.Transaction, error) {
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return tx, nil
}

func (r *transactionRepository) findMany(ctx context.Context, query string, args ...interface{}) ([]*models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txs, nil
}

func (r *transactionRepository) FindByID(ctx context.Context, id uint64) (*models.Transaction, error) {
	return r.findOne(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
}

func (r *transactionRepository) FindByIDForUpdate(ctx context.Context, id uint64) (*models.Transaction, error) {
	return r.findOne(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ? FOR UPDATE`, id)
}

func (r *transactionRepository) Complete(ctx context.Context, id uint64, previousBalance, newBalance decimal.Decimal, completedAt time.Time, metadata map[string]any) error {
	encoded, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	query := `
		UPDATE transactions
		SET status = ?, previous_balance = ?, new_balance = ?, completed_at = ?, metadata = COALESCE(?, metadata)
		WHERE id = ? AND status = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		models.TxCompleted, previousBalance, newBalance, completedAt, encoded, id, models.TxPending)
	if err != nil {
		return fmt.Errorf("failed to complete transaction: %w", err)
	}
	return requireAffected(result)
}

func (r *transactionRepository) Reject(ctx context.Context, id uint64, metadata map[string]any) error {
	encoded, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET status = ?, metadata = COALESCE(?, metadata) WHERE id = ? AND status = ?`,
		models.TxRejected, encoded, id, models.TxPending)
	if err != nil {
		return fmt.Errorf("failed to reject transaction: %w", err)
	}
	return requireAffected(result)
}

func (r *transactionRepository) ExistsForReference(ctx context.Context, referenceID string, ledgerDate time.Time, types []models.TransactionType) (bool, error) {
	if len(types) == 0 {
		return false, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(types)), ",")
	query := `
		SELECT EXISTS(
			SELECT 1 FROM transactions
			WHERE reference_id = ? AND ledger_date = ? AND status = ? AND type IN (` + placeholders + `)
		)
	`
	args := []interface{}{referenceID, ledgerDate.Format("2006-01-02"), models.TxCompleted}
	for _, t := range types {
		args = append(args, t)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check transaction existence: %w", err)
	}
	return exists, nil
}

func (r *transactionRepository) FindCompletedByUser(ctx context.Context, userID uint64) ([]*models.Transaction, error) {
	return r.findMany(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = ? AND status = ?
		ORDER BY completed_at, id`, userID, models.TxCompleted)
}

func (r *transactionRepository) SumCompletedByUserAndType(ctx context.Context) (map[uint64]map[models.TransactionType]decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, type, COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE status = ?
		GROUP BY user_id, type`, models.TxCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to sum transactions: %w", err)
	}
	defer rows.Close()

	sums := make(map[uint64]map[models.TransactionType]decimal.Decimal)
	for rows.Next() {
		var (
			userID uint64
			txType models.TransactionType
			total  decimal.Decimal
		)
		if err := rows.Scan(&userID, &txType, &total); err != nil {
			return nil, fmt.Errorf("failed to scan transaction sum: %w", err)
		}
		if sums[userID] == nil {
			sums[userID] = make(map[models.TransactionType]decimal.Decimal)
		}
		sums[userID][txType] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transaction sums: %w", err)
	}
	return sums, nil
}

func (r *transactionRepository) FindPendingByUser(ctx context.Context, userID uint64, txType models.TransactionType) ([]*models.Transaction, error) {
	return r.findMany(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = ? AND type = ? AND status = ?
		ORDER BY created_at, id`, userID, txType, models.TxPending)
}

func (r *transactionRepository) FindPendingByType(ctx context.Context, txType models.TransactionType) ([]*models.Transaction, error) {
	return r.findMany(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE type = ? AND status = ?
		ORDER BY created_at, id`, txType, models.TxPending)
}

func (r *transactionRepository) ListByUser(ctx context.Context, userID uint64, limit int) ([]*models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.findMany(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
}
