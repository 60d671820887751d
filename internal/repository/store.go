package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

var (
	// ErrDuplicateKey is returned when a unique index rejects a write
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNoRowsAffected is returned when a guarded update matched nothing
	ErrNoRowsAffected = errors.New("no rows affected")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store groups the ledger repositories behind one unit of work
type Store interface {
	Users() UserRepository
	Investments() InvestmentRepository
	Transactions() TransactionRepository
	Settings() SettingsRepository
	Runs() RunRepository

	// WithinTx runs fn inside one database transaction. fn receives a store
	// whose repositories are bound to that transaction; any error (or panic)
	// rolls everything back. Calling WithinTx on a transaction-bound store
	// reuses the open transaction.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

type sqlStore struct {
	db *sql.DB
	q  DBTX
	tx bool
}

// NewStore creates a store over a database handle
func NewStore(db *sql.DB) Store {
	return &sqlStore{db: db, q: db}
}

func (s *sqlStore) Users() UserRepository             { return &userRepository{db: s.q} }
func (s *sqlStore) Investments() InvestmentRepository { return &investmentRepository{db: s.q} }
func (s *sqlStore) Transactions() TransactionRepository {
	return &transactionRepository{db: s.q}
}
func (s *sqlStore) Settings() SettingsRepository { return &settingsRepository{db: s.q} }
func (s *sqlStore) Runs() RunRepository          { return &runRepository{db: s.q} }

func (s *sqlStore) WithinTx(ctx context.Context, fn func(tx Store) error) (err error) {
	if s.tx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&sqlStore{db: s.db, q: tx, tx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isDuplicateKey reports a MySQL unique constraint violation (error 1062)
func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}
