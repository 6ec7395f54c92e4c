package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"wallet-ledger/internal/domain"
	apperrors "wallet-ledger/internal/errors"
)

const accountColumns = `
	id, handle, email, phone, balance, bonus_balance,
	secret_hash, secret_changed_at, pin_failed_attempts, pin_locked_until,
	disabled, created_at, updated_at
`

// AccountRepository is the Postgres-backed account store. The exported type
// carries the secret/lock persistence the secret store needs; callers that
// only read accounts see it through domain.AccountRepository.
type AccountRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

var _ domain.AccountRepository = (*AccountRepository)(nil)

func NewAccountRepository(db SQLExecutor, logger *slog.Logger) *AccountRepository {
	return &AccountRepository{
		db:     db,
		logger: logger,
	}
}

func (r *AccountRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts
		(id, handle, email, phone, balance, bonus_balance,
		 secret_hash, secret_changed_at, pin_failed_attempts, disabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, false, $9, $9)
	`

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.Handle,
		nullable(account.Email),
		nullable(account.Phone),
		account.Balance.String(),
		account.BonusBalance.String(),
		account.SecretHash,
		account.SecretChangedAt,
		now,
	)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" { // unique_violation
				r.logger.Warn("Duplicate account creation attempt", "account_id", account.ID, "handle", account.Handle)
				return apperrors.ErrDuplicateAccount
			}
		}
		r.logger.Error("Failed to create account", "account_id", account.ID, "error", err)
		return apperrors.NewAppError(apperrors.InternalError, "failed to create account").WithDetails(err.Error())
	}

	account.CreatedAt = now
	account.UpdatedAt = now
	r.logger.Info("Account created", "account_id", account.ID, "handle", account.Handle)
	return nil
}

func (r *AccountRepository) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.scanAccount(ctx, query, id)
}

// GetAccountForUpdate locks the account row for the duration of the enclosing
// transaction. Callers must already be inside one.
func (r *AccountRepository) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	return r.scanAccount(ctx, query, id)
}

// FindByIdentifier resolves a free-text identifier against handle, email and
// phone. Exactly one match is required; anything else is RecipientNotFound so
// a typo can never route money to a guessed account.
func (r *AccountRepository) FindByIdentifier(ctx context.Context, identifier string) (*domain.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE handle = $1 OR email = $1 OR phone = $1
		LIMIT 2
	`

	rows, err := r.db.QueryContext(ctx, query, identifier)
	if err != nil {
		r.logger.Error("Failed to resolve recipient", "identifier", identifier, "error", err)
		return nil, apperrors.NewAppError(apperrors.InternalError, "failed to resolve recipient").WithDetails(err.Error())
	}
	defer rows.Close()

	var matches []*domain.Account
	for rows.Next() {
		account, err := scanAccountRow(rows)
		if err != nil {
			return nil, apperrors.NewAppError(apperrors.InternalError, "failed to scan account").WithDetails(err.Error())
		}
		matches = append(matches, account)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewAppError(apperrors.InternalError, "failed to resolve recipient").WithDetails(err.Error())
	}

	if len(matches) != 1 {
		r.logger.Warn("Recipient resolution failed", "identifier", identifier, "matches", len(matches))
		return nil, apperrors.ErrRecipientNotFound
	}
	return matches[0], nil
}

// UpdateBalances writes both ledgers in one statement. Only the Store exposes
// this path, and only to the balance mutator.
func (r *AccountRepository) UpdateBalances(ctx context.Context, id uuid.UUID, balance, bonus decimal.Decimal) error {
	query := `
		UPDATE accounts
		SET balance = $1, bonus_balance = $2, updated_at = $3
		WHERE id = $4
	`

	result, err := r.db.ExecContext(ctx, query, balance.String(), bonus.String(), time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to update balances", "account_id", id, "error", err)
		return apperrors.NewAppError(apperrors.InternalError, "failed to update balances").WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewAppError(apperrors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		r.logger.Warn("No account found to update", "account_id", id)
		return apperrors.ErrAccountNotFound
	}
	return nil
}

// UpdateSecret stores a new PIN hash and rotation timestamp.
func (r *AccountRepository) UpdateSecret(ctx context.Context, id uuid.UUID, hash string, changedAt time.Time) error {
	query := `
		UPDATE accounts
		SET secret_hash = $1, secret_changed_at = $2, pin_failed_attempts = 0,
		    pin_locked_until = NULL, updated_at = $3
		WHERE id = $4
	`

	result, err := r.db.ExecContext(ctx, query, hash, changedAt, time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to update secret", "account_id", id, "error", err)
		return apperrors.NewAppError(apperrors.InternalError, "failed to update secret").WithDetails(err.Error())
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return apperrors.ErrAccountNotFound
	}
	return nil
}

// RecordPinFailure increments the failure counter in a single statement,
// arming the lockout when the count crosses threshold. The database does
// the arithmetic, so concurrent failures each land.
func (r *AccountRepository) RecordPinFailure(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	query := `
		UPDATE accounts
		SET pin_failed_attempts = pin_failed_attempts + 1,
		    pin_locked_until = CASE
		        WHEN pin_failed_attempts + 1 >= $2 THEN $3
		        ELSE pin_locked_until
		    END,
		    updated_at = $4
		WHERE id = $1
		RETURNING pin_failed_attempts, pin_locked_until
	`

	var attempts int
	var until sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id, threshold, lockUntil, time.Now().UTC()).Scan(&attempts, &until)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil, apperrors.ErrAccountNotFound
		}
		r.logger.Error("Failed to record PIN failure", "account_id", id, "error", err)
		return 0, nil, apperrors.NewAppError(apperrors.InternalError, "failed to record PIN failure").WithDetails(err.Error())
	}
	if until.Valid {
		return attempts, &until.Time, nil
	}
	return attempts, nil, nil
}

// ResetPinFailures clears the failure counter and any lockout deadline.
func (r *AccountRepository) ResetPinFailures(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE accounts
		SET pin_failed_attempts = 0, pin_locked_until = NULL, updated_at = $1
		WHERE id = $2
	`

	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to reset PIN failures", "account_id", id, "error", err)
		return apperrors.NewAppError(apperrors.InternalError, "failed to reset PIN failures").WithDetails(err.Error())
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *AccountRepository) scanAccount(ctx context.Context, query string, id uuid.UUID) (*domain.Account, error) {
	account, err := scanAccountRow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			r.logger.Warn("Account not found", "account_id", id)
			return nil, apperrors.ErrAccountNotFound
		}
		r.logger.Error("Failed to get account", "account_id", id, "error", err)
		return nil, apperrors.NewAppError(apperrors.InternalError, "failed to get account").WithDetails(err.Error())
	}
	return account, nil
}

func scanAccountRow(row rowScanner) (*domain.Account, error) {
	var account domain.Account
	var balanceStr, bonusStr string
	var email, phone sql.NullString
	var lockedUntil sql.NullTime

	err := row.Scan(
		&account.ID,
		&account.Handle,
		&email,
		&phone,
		&balanceStr,
		&bonusStr,
		&account.SecretHash,
		&account.SecretChangedAt,
		&account.PinFailedAttempts,
		&lockedUntil,
		&account.Disabled,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.Email = email.String
	account.Phone = phone.String
	if lockedUntil.Valid {
		t := lockedUntil.Time
		account.PinLockedUntil = &t
	}

	if account.Balance, err = decimal.NewFromString(balanceStr); err != nil {
		return nil, err
	}
	if account.BonusBalance, err = decimal.NewFromString(bonusStr); err != nil {
		return nil, err
	}
	return &account, nil
}
