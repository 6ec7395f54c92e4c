// Package secret persists and verifies the per-account PIN. Hashing uses
// bcrypt, a salted iterated KDF, and verification enforces a bounded-attempts
// lockout whose state lives on the account row so it survives restarts and is
// shared across instances.
package secret

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"wallet-ledger/internal/domain"
	apperrors "wallet-ledger/internal/errors"
)

// AccountSecrets is the slice of account persistence the store needs.
// *repository.AccountRepository satisfies it.
type AccountSecrets interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	UpdateSecret(ctx context.Context, id uuid.UUID, hash string, changedAt time.Time) error
	// RecordPinFailure atomically increments the failure counter, setting
	// the lock deadline when the new count reaches threshold, and returns
	// the stored count and deadline. Concurrent failures must each count.
	RecordPinFailure(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (int, *time.Time, error)
	ResetPinFailures(ctx context.Context, id uuid.UUID) error
}

type Store struct {
	accounts    AccountSecrets
	logger      *slog.Logger
	maxAttempts int
	lockout     time.Duration
	now         func() time.Time
}

var _ domain.SecretStore = (*Store)(nil)

func NewStore(accounts AccountSecrets, maxAttempts int, lockout time.Duration, logger *slog.Logger) *Store {
	return &Store{
		accounts:    accounts,
		logger:      logger,
		maxAttempts: maxAttempts,
		lockout:     lockout,
		now:         time.Now,
	}
}

// Hash derives the storable hash for a plaintext PIN.
func Hash(plaintext string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", apperrors.NewAppError(apperrors.InternalError, "failed to hash secret").WithDetails(err.Error())
	}
	return string(hashed), nil
}

// SetSecret rotates the PIN. Rotation clears any pending lockout.
func (s *Store) SetSecret(ctx context.Context, accountID uuid.UUID, plaintext string) error {
	hash, err := Hash(plaintext)
	if err != nil {
		return err
	}

	if err := s.accounts.UpdateSecret(ctx, accountID, hash, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("Secret rotated", "account_id", accountID)
	return nil
}

// Verify compares the plaintext against the stored hash and maintains the
// failure counter. While a lockout is in force it fails closed without
// touching bcrypt.
func (s *Store) Verify(ctx context.Context, accountID uuid.UUID, plaintext string) (bool, error) {
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return false, err
	}

	now := s.now()

	if account.PinLockedUntil != nil {
		if now.Before(*account.PinLockedUntil) {
			return false, apperrors.ErrAccountLocked
		}
		// Lockout has expired; the slate is clean again.
		if err := s.accounts.ResetPinFailures(ctx, accountID); err != nil {
			return false, err
		}
		account.PinFailedAttempts = 0
	}

	if bcrypt.CompareHashAndPassword([]byte(account.SecretHash), []byte(plaintext)) == nil {
		if account.PinFailedAttempts > 0 {
			if err := s.accounts.ResetPinFailures(ctx, accountID); err != nil {
				return false, err
			}
		}
		return true, nil
	}

	// The increment happens in the store so concurrent failures each
	// count toward the lockout.
	attempts, lockedUntil, err := s.accounts.RecordPinFailure(ctx, accountID, s.maxAttempts, now.Add(s.lockout))
	if err != nil {
		return false, err
	}
	if lockedUntil != nil && now.Before(*lockedUntil) {
		s.logger.Warn("Account locked after repeated failed PIN attempts",
			"account_id", accountID, "attempts", attempts, "until", *lockedUntil)
		return false, apperrors.ErrAccountLocked
	}
	return false, nil
}
