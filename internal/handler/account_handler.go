package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"wallet-ledger/internal/domain"
	apperrors "wallet-ledger/internal/errors"
	"wallet-ledger/internal/service"
)

type AccountHandler struct {
	accountService *service.AccountService
}

func NewAccountHandler(accountService *service.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
	}
}

type CreateAccountRequest struct {
	Handle string `json:"handle"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Pin    string `json:"pin"`
}

type AccountResponse struct {
	AccountID    string `json:"account_id"`
	Handle       string `json:"handle"`
	Balance      string `json:"balance"`
	BonusBalance string `json:"bonus_balance"`
	Disabled     bool   `json:"disabled"`
}

func accountResponse(account *domain.Account) AccountResponse {
	return AccountResponse{
		AccountID:    account.ID.String(),
		Handle:       account.Handle,
		Balance:      account.Balance.String(),
		BonusBalance: account.BonusBalance.String(),
		Disabled:     account.Disabled,
	}
}

func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewAppError(apperrors.InvalidInput, "invalid request body"))
		return
	}

	account, err := h.accountService.CreateAccount(r.Context(), service.CreateAccountRequest{
		Handle: req.Handle,
		Email:  req.Email,
		Phone:  req.Phone,
		Pin:    req.Pin,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, accountResponse(account))
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	account, err := h.accountService.GetAccount(r.Context(), vars["account_id"])
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, accountResponse(account))
}

type ListTransactionsResponse struct {
	Transactions []*domain.TransactionRecord `json:"transactions"`
	NextCursor   string                      `json:"next_cursor,omitempty"`
}

func (h *AccountHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, apperrors.NewAppError(apperrors.InvalidInput, "invalid limit"))
			return
		}
		limit = n
	}

	records, next, err := h.accountService.ListTransactions(
		r.Context(), vars["account_id"], limit, r.URL.Query().Get("cursor"))
	if err != nil {
		handleError(w, err)
		return
	}

	if records == nil {
		records = []*domain.TransactionRecord{}
	}
	writeJSON(w, http.StatusOK, ListTransactionsResponse{
		Transactions: records,
		NextCursor:   next,
	})
}
