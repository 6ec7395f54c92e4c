package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"wallet-ledger/internal/compensation"
	"wallet-ledger/internal/domain"
	apperrors "wallet-ledger/internal/errors"
)

// OrderHandler is the admin surface that feeds the compensation workflow.
type OrderHandler struct {
	workflow *compensation.Workflow
}

func NewOrderHandler(workflow *compensation.Workflow) *OrderHandler {
	return &OrderHandler{
		workflow: workflow,
	}
}

type CreateOrderRequest struct {
	BuyerAccountID string `json:"buyer_account_id"`
	Amount         string `json:"amount"`
}

type OrderResponse struct {
	OrderID        string `json:"order_id"`
	BuyerAccountID string `json:"buyer_account_id"`
	Amount         string `json:"amount"`
	Status         string `json:"status"`
	Refunded       bool   `json:"refunded"`
}

func orderResponse(order *domain.Order) OrderResponse {
	return OrderResponse{
		OrderID:        order.ID.String(),
		BuyerAccountID: order.BuyerAccountID.String(),
		Amount:         order.Amount.String(),
		Status:         string(order.Status),
		Refunded:       order.Refunded,
	}
}

func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewAppError(apperrors.InvalidInput, "invalid request body"))
		return
	}

	buyerID, err := uuid.Parse(req.BuyerAccountID)
	if err != nil {
		writeError(w, apperrors.NewAppError(apperrors.InvalidInput, "invalid buyer_account_id"))
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeError(w, apperrors.NewAppError(apperrors.InvalidAmount, "invalid amount"))
		return
	}

	order, err := h.workflow.RegisterOrder(r.Context(), buyerID, amount)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, orderResponse(order))
}

type TransitionRequest struct {
	Status string `json:"status"`
}

func (h *OrderHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewAppError(apperrors.InvalidInput, "invalid request body"))
		return
	}

	orderID, err := uuid.Parse(mux.Vars(r)["order_id"])
	if err != nil {
		writeError(w, apperrors.NewAppError(apperrors.InvalidInput, "invalid order id"))
		return
	}

	order, err := h.workflow.Transition(r.Context(), orderID, domain.OrderStatus(req.Status))
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, orderResponse(order))
}
