package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceKind selects which of the two per-account ledgers a mutation hits.
type BalanceKind string

const (
	// BalanceMain is the spendable cash balance.
	BalanceMain BalanceKind = "main"
	// BalanceBonus is the promotional balance. It follows the same
	// non-negativity rules but is never transferable between accounts.
	BalanceBonus BalanceKind = "bonus"
)

type Account struct {
	ID                uuid.UUID       `json:"account_id"`
	Handle            string          `json:"handle"`
	Email             string          `json:"email,omitempty"`
	Phone             string          `json:"phone,omitempty"`
	Balance           decimal.Decimal `json:"balance"`
	BonusBalance      decimal.Decimal `json:"bonus_balance"`
	SecretHash        string          `json:"-"`
	SecretChangedAt   time.Time       `json:"-"`
	PinFailedAttempts int             `json:"-"`
	PinLockedUntil    *time.Time      `json:"-"`
	Disabled          bool            `json:"disabled"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// BalanceFor returns the balance of the requested ledger.
func (a *Account) BalanceFor(kind BalanceKind) decimal.Decimal {
	if kind == BalanceBonus {
		return a.BonusBalance
	}
	return a.Balance
}

// AccountRepository is the read/create surface exposed to services and
// handlers. Balance mutation is deliberately absent: all balance changes go
// through the ledger, which holds the only write path.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	// FindByIdentifier resolves a free-text recipient identifier against
	// handle, email and phone. Zero or multiple matches both fail.
	FindByIdentifier(ctx context.Context, identifier string) (*Account, error)
}

// SecretStore persists and verifies the per-account PIN. Implementations must
// use a salted, slow password hash and must never retain the plaintext.
type SecretStore interface {
	SetSecret(ctx context.Context, accountID uuid.UUID, plaintext string) error
	// Verify reports whether the plaintext matches the stored hash. It
	// maintains the failed-attempt counter and returns ErrAccountLocked
	// while a lockout is in force.
	Verify(ctx context.Context, accountID uuid.UUID, plaintext string) (bool, error)
}
