package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"newroi/ledger-service/internal/models"
)

type InvestmentRepository interface {
	FindByID(ctx context.Context, id uint64) (*models.Investment, error)
	FindByIDForUpdate(ctx context.Context, id uint64) (*models.Investment, error)
	FindByUserID(ctx context.Context, userID uint64) ([]*models.Investment, error)
	// FindByStatus returns investments in a status ordered by (created_at, id)
	FindByStatus(ctx context.Context, status models.InvestmentStatus) ([]*models.Investment, error)
	Create(ctx context.Context, investment *models.Investment) error
	// TransitionStatus moves an investment from one status to another and fails
	// with ErrNoRowsAffected when it is no longer in the expected status
	TransitionStatus(ctx context.Context, id uint64, from, to models.InvestmentStatus, method *models.ApprovalMethod, approvedBy *uint64) error
	AddROIPaid(ctx context.Context, id uint64, amount decimal.Decimal) error
}

type investmentRepository struct {
	db DBTX
}

// NewInvestmentRepository creates an investment repository
func NewInvestmentRepository(db DBTX) InvestmentRepository {
	return &investmentRepository{db: db}
}

const investmentColumns = `id, user_id, amount, roi_rate, status, transaction_id, approval_method, approved_by, total_roi_paid, max_return_percent, created_at, updated_at`

func scanInvestment(row rowScanner) (*models.Investment, error) {
	inv := &models.Investment{}
	var (
		txID       sql.NullString
		method     sql.NullString
		approvedBy sql.NullInt64
	)
	err := row.Scan(
		&inv.ID, &inv.UserID, &inv.Amount, &inv.ROIRate, &inv.Status,
		&txID, &method, &approvedBy, &inv.TotalROIPaid, &inv.MaxReturnPercent,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if txID.Valid {
		inv.TransactionID = &txID.String
	}
	if method.Valid {
		m := models.ApprovalMethod(method.String)
		inv.ApprovalMethod = &m
	}
	if approvedBy.Valid {
		id := uint64(approvedBy.Int64)
		inv.ApprovedBy = &id
	}
	return inv, nil
}

func (r *investmentRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.Investment, error) {
	inv, err := scanInvestment(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find investment: %w", err)
	}
	return inv, nil
}

func (r *investmentRepository) findMany(ctx context.Context, query string, args ...interface{}) ([]*models.Investment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list investments: %w", err)
	}
	defer rows.Close()

	var investments []*models.Investment
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan investment: %w", err)
		}
		investments = append(investments, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate investments: %w", err)
	}
	return investments, nil
}

func (r *investmentRepository) FindByID(ctx context.Context, id uint64) (*models.Investment, error) {
	return r.findOne(ctx, `SELECT `+investmentColumns+` FROM investments WHERE id = ?`, id)
}

func (r *investmentRepository) FindByIDForUpdate(ctx context.Context, id uint64) (*models.Investment, error) {
	return r.findOne(ctx, `SELECT `+investmentColumns+` FROM investments WHERE id = ? FOR UPDATE`, id)
}

func (r *investmentRepository) FindByUserID(ctx context.Context, userID uint64) ([]*models.Investment, error) {
	return r.findMany(ctx,
		`SELECT `+investmentColumns+` FROM investments WHERE user_id = ? ORDER BY created_at, id`, userID)
}

func (r *investmentRepository) FindByStatus(ctx context.Context, status models.InvestmentStatus) ([]*models.Investment, error) {
	return r.findMany(ctx,
		`SELECT `+investmentColumns+` FROM investments WHERE status = ? ORDER BY created_at, id`, status)
}

func (r *investmentRepository) Create(ctx context.Context, inv *models.Investment) error {
	query := `
		INSERT INTO investments (user_id, amount, roi_rate, status, transaction_id, approval_method, approved_by, total_roi_paid, max_return_percent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query,
		inv.UserID, inv.Amount, inv.ROIRate, inv.Status, inv.TransactionID,
		inv.ApprovalMethod, inv.ApprovedBy, inv.TotalROIPaid, inv.MaxReturnPercent, now, now,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to create investment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read investment id: %w", err)
	}
	inv.ID = uint64(id)
	inv.CreatedAt = now
	inv.UpdatedAt = now
	return nil
}

func (r *investmentRepository) TransitionStatus(ctx context.Context, id uint64, from, to models.InvestmentStatus, method *models.ApprovalMethod, approvedBy *uint64) error {
	query := `
		UPDATE investments
		SET status = ?, approval_method = COALESCE(?, approval_method), approved_by = COALESCE(?, approved_by), updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := r.db.ExecContext(ctx, query, to, method, approvedBy, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("failed to update investment status: %w", err)
	}
	return requireAffected(result)
}

func (r *investmentRepository) AddROIPaid(ctx context.Context, id uint64, amount decimal.Decimal) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE investments SET total_roi_paid = total_roi_paid + ?, updated_at = ? WHERE id = ?`,
		amount, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to add paid roi: %w", err)
	}
	return requireAffected(result)
}
