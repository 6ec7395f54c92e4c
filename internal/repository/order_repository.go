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

type OrderRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

var _ domain.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(db SQLExecutor, logger *slog.Logger) *OrderRepository {
	return &OrderRepository{
		db:     db,
		logger: logger,
	}
}

func (r *OrderRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (id, buyer_account_id, amount, status, refunded, created_at, updated_at)
		VALUES ($1, $2, $3, $4, false, $5, $5)
	`

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, query,
		order.ID,
		order.BuyerAccountID,
		order.Amount.String(),
		order.Status,
		now,
	)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return apperrors.NewAppError(apperrors.InvalidInput, "order already exists")
		}
		r.logger.Error("Failed to create order", "order_id", order.ID, "error", err)
		return apperrors.NewAppError(apperrors.InternalError, "failed to create order").WithDetails(err.Error())
	}

	order.CreatedAt = now
	order.UpdatedAt = now
	return nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `
		SELECT id, buyer_account_id, amount, status, refunded, created_at, updated_at
		FROM orders WHERE id = $1
	`

	var order domain.Order
	var amountStr string

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.BuyerAccountID,
		&amountStr,
		&order.Status,
		&order.Refunded,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrOrderNotFound
		}
		r.logger.Error("Failed to get order", "order_id", id, "error", err)
		return nil, apperrors.NewAppError(apperrors.InternalError, "failed to get order").WithDetails(err.Error())
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.InternalError, "failed to parse order amount").WithDetails(err.Error())
	}
	order.Amount = amount
	return &order, nil
}

// TransitionOrder claims the status change with a conditional update, so
// only one of several concurrent transitions can win.
func (r *OrderRepository) TransitionOrder(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus) error {
	query := `
		UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query, to, time.Now().UTC(), id, from)
	if err != nil {
		r.logger.Error("Failed to transition order", "order_id", id, "status", to, "error", err)
		return apperrors.NewAppError(apperrors.InternalError, "failed to transition order").WithDetails(err.Error())
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return apperrors.ErrInvalidTransition
	}

	r.logger.Info("Order status updated", "order_id", id, "from", from, "to", to)
	return nil
}

func (r *OrderRepository) MarkRefunded(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE orders SET refunded = TRUE, updated_at = $1 WHERE id = $2
	`

	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to mark order refunded", "order_id", id, "error", err)
		return apperrors.NewAppError(apperrors.InternalError, "failed to mark order refunded").WithDetails(err.Error())
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return apperrors.ErrOrderNotFound
	}
	return nil
}
