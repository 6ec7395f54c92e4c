package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"wallet-ledger/internal/domain"
	apperrors "wallet-ledger/internal/errors"
	"wallet-ledger/internal/gate"
	"wallet-ledger/internal/ledger"
	"wallet-ledger/internal/service"
)

// TransactionHandler exposes the balance mutator. Withdrawals and transfers
// are sensitive: they pass through a PIN challenge gate before the ledger is
// touched.
type TransactionHandler struct {
	ledger          *ledger.Ledger
	accountService  *service.AccountService
	secrets         domain.SecretStore
	challengeWindow time.Duration
	logger          *slog.Logger
}

func NewTransactionHandler(
	lgr *ledger.Ledger,
	accountService *service.AccountService,
	secrets domain.SecretStore,
	challengeWindow time.Duration,
	logger *slog.Logger,
) *TransactionHandler {
	return &TransactionHandler{
		ledger:          lgr,
		accountService:  accountService,
		secrets:         secrets,
		challengeWindow: challengeWindow,
		logger:          logger,
	}
}

// challengeContext bounds how long a request may sit inside the PIN
// challenge before it is abandoned.
func (h *TransactionHandler) challengeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.challengeWindow <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.challengeWindow)
}

type MutationRequest struct {
	Amount    string `json:"amount"`
	Category  string `json:"category,omitempty"`
	Reference string `json:"reference"`
	Pin       string `json:"pin,omitempty"`
}

type RecordResponse struct {
	TransactionID  string    `json:"transaction_id"`
	AccountID      string    `json:"account_id"`
	CounterpartyID string    `json:"counterparty_id,omitempty"`
	Amount         string    `json:"amount"`
	Direction      string    `json:"direction"`
	Ledger         string    `json:"ledger"`
	Category       string    `json:"category"`
	Status         string    `json:"status"`
	Reference      string    `json:"reference"`
	CreatedAt      time.Time `json:"created_at"`
}

func recordResponse(record *domain.TransactionRecord) RecordResponse {
	resp := RecordResponse{
		TransactionID: record.ID.String(),
		AccountID:     record.AccountID.String(),
		Amount:        record.Amount.String(),
		Direction:     string(record.Direction),
		Ledger:        string(record.Ledger),
		Category:      record.Category,
		Status:        string(record.Status),
		Reference:     record.Reference,
		CreatedAt:     record.CreatedAt,
	}
	if record.CounterpartyID != nil {
		resp.CounterpartyID = record.CounterpartyID.String()
	}
	return resp
}

// Deposit credits an account. Money coming in needs no PIN.
func (h *TransactionHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	accountID, req, ok := h.decodeMutation(w, r)
	if !ok {
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, apperrors.NewAppError(apperrors.InvalidAmount, "invalid amount format"))
		return
	}

	category := req.Category
	if category == "" {
		category = "Deposit"
	}

	record, err := h.ledger.Credit(r.Context(), ledger.CreditRequest{
		AccountID: accountID,
		Amount:    amount,
		Category:  category,
		Reference: req.Reference,
		Ledger:    domain.BalanceMain,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, recordResponse(record))
}

// Withdraw debits an account behind the PIN challenge.
func (h *TransactionHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	accountID, req, ok := h.decodeMutation(w, r)
	if !ok {
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, apperrors.NewAppError(apperrors.InvalidAmount, "invalid amount format"))
		return
	}

	category := req.Category
	if category == "" {
		category = "Withdrawal"
	}

	ctx, cancel := h.challengeContext(r.Context())
	defer cancel()

	var record *domain.TransactionRecord
	g := gate.New(h.secrets, h.logger)
	err = g.Execute(ctx, accountID, gate.OneShot(req.Pin), func() error {
		var debitErr error
		record, debitErr = h.ledger.Debit(ctx, ledger.DebitRequest{
			AccountID: accountID,
			Amount:    amount,
			Category:  category,
			Reference: req.Reference,
			Ledger:    domain.BalanceMain,
		})
		return debitErr
	})
	if err != nil {
		handleError(w, mapGateError(err))
		return
	}

	writeJSON(w, http.StatusCreated, recordResponse(record))
}

type TransferRequest struct {
	SenderAccountID string `json:"sender_account_id"`
	Recipient       string `json:"recipient"`
	Amount          string `json:"amount"`
	Reference       string `json:"reference"`
	Pin             string `json:"pin"`
}

type TransferResponse struct {
	SenderRecord   RecordResponse `json:"sender_record"`
	ReceiverRecord RecordResponse `json:"receiver_record"`
}

// Transfer resolves the free-text recipient, then runs the gated atomic
// two-sided transfer.
func (h *TransactionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewAppError(apperrors.InvalidInput, "invalid request body").WithDetails(err.Error()))
		return
	}

	senderID, err := uuid.Parse(req.SenderAccountID)
	if err != nil {
		writeError(w, apperrors.NewAppError(apperrors.InvalidInput, "invalid sender_account_id"))
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, apperrors.NewAppError(apperrors.InvalidAmount, "invalid amount format"))
		return
	}

	// Pre-step: recipient resolution happens before the atomic unit. The
	// ledger re-checks the recipient under lock.
	receiver, err := h.accountService.ResolveRecipient(r.Context(), req.Recipient)
	if err != nil {
		handleError(w, err)
		return
	}

	ctx, cancel := h.challengeContext(r.Context())
	defer cancel()

	var senderRecord, receiverRecord *domain.TransactionRecord
	g := gate.New(h.secrets, h.logger)
	err = g.Execute(ctx, senderID, gate.OneShot(req.Pin), func() error {
		var transferErr error
		senderRecord, receiverRecord, transferErr = h.ledger.Transfer(ctx, ledger.TransferRequest{
			SenderID:   senderID,
			ReceiverID: receiver.ID,
			Amount:     amount,
			Reference:  req.Reference,
		})
		return transferErr
	})
	if err != nil {
		handleError(w, mapGateError(err))
		return
	}

	writeJSON(w, http.StatusCreated, TransferResponse{
		SenderRecord:   recordResponse(senderRecord),
		ReceiverRecord: recordResponse(receiverRecord),
	})
}

type ChangePinRequest struct {
	CurrentPin string `json:"current_pin"`
	NewPin     string `json:"new_pin"`
}

// ChangePin rotates the PIN behind a challenge for the current one.
func (h *TransactionHandler) ChangePin(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(mux.Vars(r)["account_id"])
	if err != nil {
		writeError(w, apperrors.NewAppError(apperrors.InvalidInput, "invalid account id"))
		return
	}

	var req ChangePinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewAppError(apperrors.InvalidInput, "invalid request body").WithDetails(err.Error()))
		return
	}

	ctx, cancel := h.challengeContext(r.Context())
	defer cancel()

	g := gate.New(h.secrets, h.logger)
	err = g.Execute(ctx, accountID, gate.OneShot(req.CurrentPin), func() error {
		return h.accountService.ChangePin(ctx, accountID, req.NewPin)
	})
	if err != nil {
		handleError(w, mapGateError(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"account_id": accountID.String(), "status": "pin_changed"})
}

func (h *TransactionHandler) decodeMutation(w http.ResponseWriter, r *http.Request) (uuid.UUID, MutationRequest, bool) {
	var req MutationRequest

	accountID, err := uuid.Parse(mux.Vars(r)["account_id"])
	if err != nil {
		writeError(w, apperrors.NewAppError(apperrors.InvalidInput, "invalid account id"))
		return uuid.Nil, req, false
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewAppError(apperrors.InvalidInput, "invalid request body").WithDetails(err.Error()))
		return uuid.Nil, req, false
	}
	return accountID, req, true
}

// mapGateError folds the gate's sentinel errors into the API taxonomy.
func mapGateError(err error) error {
	switch {
	case errors.Is(err, gate.ErrChallengeCancelled):
		return apperrors.NewAppError(apperrors.AuthorizationDenied, "challenge cancelled")
	case errors.Is(err, gate.ErrGateBusy):
		return apperrors.NewAppError(apperrors.AuthorizationDenied, "a challenge is already in progress")
	default:
		return err
	}
}
