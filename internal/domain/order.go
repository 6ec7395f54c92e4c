package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderDelivered OrderStatus = "delivered"
	OrderFailed    OrderStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderFailed
}

// Order is the slice of the external order collaborator the compensation
// workflow needs: who paid, how much, and where the order stands.
type Order struct {
	ID             uuid.UUID       `json:"order_id"`
	BuyerAccountID uuid.UUID       `json:"buyer_account_id"`
	Amount         decimal.Decimal `json:"amount"`
	Status         OrderStatus     `json:"status"`
	Refunded       bool            `json:"refunded"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	// TransitionOrder moves the order from one status to another in a
	// single compare-and-set. It fails with InvalidTransition when the
	// stored status no longer matches from.
	TransitionOrder(ctx context.Context, id uuid.UUID, from, to OrderStatus) error
	MarkRefunded(ctx context.Context, id uuid.UUID) error
}
