package domain

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerStore is the unit-of-work the balance mutator runs against. It is the
// only surface with a balance write path; services and handlers are handed the
// narrower repository interfaces instead, which keeps the mutator the single
// choke point for balance changes.
type LedgerStore interface {
	Accounts() AccountRepository
	Log() TransactionLog
	Orders() OrderRepository

	// LockAccount reads an account holding a row lock for the enclosing
	// transaction. Outside a transaction it degrades to a plain read.
	LockAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	// SetBalances writes both ledgers of a previously locked account.
	SetBalances(ctx context.Context, id uuid.UUID, balance, bonus decimal.Decimal) error

	// WithTransaction runs fn inside one atomic commit. The store passed to
	// fn operates on the transaction; the outer store stays untouched.
	WithTransaction(ctx context.Context, fn func(LedgerStore) error) error
}
