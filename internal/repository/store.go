package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"wallet-ledger/internal/domain"
	apperrors "wallet-ledger/internal/errors"
)

// Store provides a unified interface for all repository operations with
// transaction support. It implements domain.LedgerStore.
type Store struct {
	executor SQLExecutor
	logger   *slog.Logger
}

var _ domain.LedgerStore = (*Store)(nil)

func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{
		executor: db,
		logger:   logger,
	}
}

func (s *Store) Accounts() domain.AccountRepository {
	return NewAccountRepository(s.executor, s.logger)
}

func (s *Store) Log() domain.TransactionLog {
	return NewTransactionLog(s.executor, s.logger)
}

func (s *Store) Orders() domain.OrderRepository {
	return NewOrderRepository(s.executor, s.logger)
}

// LockAccount reads an account FOR UPDATE when running inside a transaction.
// Row locks only make sense within a transaction; on the bare pool this is a
// plain read.
func (s *Store) LockAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	repo := NewAccountRepository(s.executor, s.logger)
	if _, inTx := s.executor.(*sql.Tx); inTx {
		return repo.GetAccountForUpdate(ctx, id)
	}
	return repo.GetAccount(ctx, id)
}

func (s *Store) SetBalances(ctx context.Context, id uuid.UUID, balance, bonus decimal.Decimal) error {
	return NewAccountRepository(s.executor, s.logger).UpdateBalances(ctx, id, balance, bonus)
}

// WithTransaction executes fn within a database transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(domain.LedgerStore) error) error {
	db, ok := s.executor.(*sql.DB)
	if !ok {
		// Already inside a transaction; run fn on the same executor.
		return fn(s)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewAppError(apperrors.InternalError, "failed to begin transaction").WithDetails(err.Error())
	}

	txStore := &Store{
		executor: tx,
		logger:   s.logger,
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapCommitError(err)
	}
	return nil
}

// mapCommitError turns serialization and deadlock failures into the retryable
// StoreConflict code.
func mapCommitError(err error) error {
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return apperrors.ErrStoreConflict.WithDetails(err.Error())
		}
	}
	return apperrors.NewAppError(apperrors.InternalError, "failed to commit transaction").WithDetails(err.Error())
}
