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

type UserRepository interface {
	FindByID(ctx context.Context, id uint64) (*models.User, error)
	// FindByIDForUpdate locks the user row until the surrounding transaction ends
	FindByIDForUpdate(ctx context.Context, id uint64) (*models.User, error)
	FindByReferralCode(ctx context.Context, code string) (*models.User, error)
	// FindAll is the bulk fetch the referral tree is built from
	FindAll(ctx context.Context) ([]*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateBalance(ctx context.Context, id uint64, balance decimal.Decimal) error
	UpdateUpline(ctx context.Context, id uint64, uplineID *uint64) error
}

type userRepository struct {
	db DBTX
}

// NewUserRepository creates a user repository over a handle or transaction
func NewUserRepository(db DBTX) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, name, email, balance, referral_code, upline_id, role, is_verified, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var uplineID sql.NullInt64
	err := row.Scan(
		&user.ID, &user.Name, &user.Email, &user.Balance, &user.ReferralCode,
		&uplineID, &user.Role, &user.IsVerified, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if uplineID.Valid {
		id := uint64(uplineID.Int64)
		user.UplineID = &id
	}
	return user, nil
}

func (r *userRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

func (r *userRepository) FindByID(ctx context.Context, id uint64) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *userRepository) FindByIDForUpdate(ctx context.Context, id uint64) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ? FOR UPDATE`, id)
}

func (r *userRepository) FindByReferralCode(ctx context.Context, code string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = ?`, code)
}

func (r *userRepository) FindAll(ctx context.Context) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (name, email, balance, referral_code, upline_id, role, is_verified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	result, err := r.db.ExecContext(ctx, query,
		user.Name, user.Email, user.Balance, user.ReferralCode, user.UplineID,
		user.Role, user.IsVerified, now, now,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read user id: %w", err)
	}
	user.ID = uint64(id)
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (r *userRepository) UpdateBalance(ctx context.Context, id uint64, balance decimal.Decimal) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET balance = ?, updated_at = ? WHERE id = ?`,
		balance, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return requireAffected(result)
}

func (r *userRepository) UpdateUpline(ctx context.Context, id uint64, uplineID *uint64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET upline_id = ?, updated_at = ? WHERE id = ?`,
		uplineID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update upline: %w", err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}
