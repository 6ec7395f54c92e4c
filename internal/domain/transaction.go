package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction carries the sign of a transaction record separately from its
// magnitude, so an amount can never silently flip meaning.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

type RecordStatus string

const (
	StatusPending RecordStatus = "pending"
	StatusSuccess RecordStatus = "success"
	StatusFailed  RecordStatus = "failed"
)

// TransactionRecord is one side of a balance-affecting event. Records are
// append-only: once committed they are never updated or deleted.
type TransactionRecord struct {
	ID             uuid.UUID       `json:"id"`
	AccountID      uuid.UUID       `json:"account_id"`
	CounterpartyID *uuid.UUID      `json:"counterparty_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Direction      Direction       `json:"direction"`
	Ledger         BalanceKind     `json:"ledger"`
	Category       string          `json:"category"`
	Status         RecordStatus    `json:"status"`
	Reference      string          `json:"reference"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TransactionLog is the append-only audit trail. There is no update method:
// a record's status is fixed at append time.
type TransactionLog interface {
	Append(ctx context.Context, record *TransactionRecord) error
	GetRecord(ctx context.Context, id uuid.UUID) (*TransactionRecord, error)
	// GetByReference returns the committed record for an idempotency
	// reference, or nil when the reference has not been applied.
	GetByReference(ctx context.Context, accountID uuid.UUID, reference string) (*TransactionRecord, error)
	// ListByAccount returns records newest first. cursor restarts a prior
	// listing; the returned cursor is empty on the last page.
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int, cursor string) ([]*TransactionRecord, string, error)
}
