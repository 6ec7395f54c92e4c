// Package compensation applies admin-triggered order status transitions and
// refunds the buyer when an order terminally fails. The refund reference is
// derived from the order id, so a re-fired transition event replays instead
// of double-refunding.
package compensation

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"wallet-ledger/internal/domain"
	apperrors "wallet-ledger/internal/errors"
	"wallet-ledger/internal/ledger"
	"wallet-ledger/internal/notification"
)

const refundCategory = "Refund"

// RefundReference derives the deterministic idempotency key for an order's
// refund.
func RefundReference(orderID uuid.UUID) string {
	return "refund-" + orderID.String()
}

type Workflow struct {
	orders domain.OrderRepository
	ledger *ledger.Ledger
	events ledger.EventSink
	logger *slog.Logger
}

func NewWorkflow(orders domain.OrderRepository, lgr *ledger.Ledger, events ledger.EventSink, logger *slog.Logger) *Workflow {
	return &Workflow{
		orders: orders,
		ledger: lgr,
		events: events,
		logger: logger,
	}
}

// RegisterOrder records an order the workflow may later compensate.
func (w *Workflow) RegisterOrder(ctx context.Context, buyerAccountID uuid.UUID, amount decimal.Decimal) (*domain.Order, error) {
	order := &domain.Order{
		ID:             uuid.New(),
		BuyerAccountID: buyerAccountID,
		Amount:         amount,
		Status:         domain.OrderPending,
	}
	if err := w.orders.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// Transition applies an external status change. Terminal states are sticky:
// re-firing the same terminal transition is a no-op, and conflicting
// transitions are rejected. pending → failed triggers the refund.
func (w *Workflow) Transition(ctx context.Context, orderID uuid.UUID, newStatus domain.OrderStatus) (*domain.Order, error) {
	if newStatus != domain.OrderDelivered && newStatus != domain.OrderFailed {
		return nil, apperrors.NewAppError(apperrors.InvalidInput, "unknown order status")
	}

	order, err := w.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return w.settleDuplicate(ctx, order, newStatus)
	}

	// Claim the transition first. The conditional update lets exactly one
	// of several concurrent events win; losers re-read to see who did.
	if err := w.orders.TransitionOrder(ctx, orderID, domain.OrderPending, newStatus); err != nil {
		if apperrors.CodeOf(err) == apperrors.InvalidTransition {
			if current, getErr := w.orders.GetOrder(ctx, orderID); getErr == nil && current.Status.Terminal() {
				return w.settleDuplicate(ctx, current, newStatus)
			}
		}
		return nil, err
	}
	order.Status = newStatus

	if newStatus == domain.OrderFailed {
		// The refund reference is derived from the order id, so replaying
		// a half-applied transition cannot pay out twice.
		if err := w.refund(ctx, order); err != nil {
			return nil, err
		}
		if err := w.orders.MarkRefunded(ctx, orderID); err != nil {
			return nil, err
		}
		order.Refunded = true
	}
	return order, nil
}

// settleDuplicate handles a transition event arriving for an order already
// in a terminal state. The same terminal status is a no-op replay, except
// it finishes a refund the first attempt claimed but never applied. A
// conflicting terminal status is rejected.
func (w *Workflow) settleDuplicate(ctx context.Context, order *domain.Order, newStatus domain.OrderStatus) (*domain.Order, error) {
	if order.Status != newStatus {
		return nil, apperrors.NewAppError(apperrors.InvalidTransition, "order is already in a terminal state")
	}
	if order.Status == domain.OrderFailed && !order.Refunded {
		if err := w.refund(ctx, order); err != nil {
			return nil, err
		}
		if err := w.orders.MarkRefunded(ctx, order.ID); err != nil {
			return nil, err
		}
		order.Refunded = true
		return order, nil
	}
	w.logger.Info("Duplicate order transition ignored", "order_id", order.ID, "status", newStatus)
	return order, nil
}

func (w *Workflow) refund(ctx context.Context, order *domain.Order) error {
	record, err := w.ledger.Credit(ctx, ledger.CreditRequest{
		AccountID: order.BuyerAccountID,
		Amount:    order.Amount,
		Category:  refundCategory,
		Reference: RefundReference(order.ID),
		Ledger:    domain.BalanceMain,
	})
	if err != nil {
		w.logger.Error("Refund failed", "order_id", order.ID, "buyer", order.BuyerAccountID, "error", err)
		return err
	}

	w.logger.Info("Refund applied",
		"order_id", order.ID,
		"buyer", order.BuyerAccountID,
		"amount", order.Amount,
		"record_id", record.ID)

	if w.events != nil {
		w.events.Submit(notification.Event{
			AccountID: order.BuyerAccountID,
			Message:   "order refunded",
			Metadata: map[string]string{
				"order_id": order.ID.String(),
				"amount":   order.Amount.String(),
			},
		})
	}
	return nil
}
