package service

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"wallet-ledger/internal/domain"
	apperrors "wallet-ledger/internal/errors"
	"wallet-ledger/internal/ledger"
	"wallet-ledger/internal/secret"
)

var (
	handlePattern = regexp.MustCompile(`^[a-z0-9_.]{3,32}$`)
	pinPattern    = regexp.MustCompile(`^[0-9]{4,6}$`)
)

const seedBonusCategory = "Welcome Bonus"

type AccountService struct {
	accounts  domain.AccountRepository
	log       domain.TransactionLog
	ledger    *ledger.Ledger
	secrets   domain.SecretStore
	seedBonus decimal.Decimal
	logger    *slog.Logger
}

func NewAccountService(
	accounts domain.AccountRepository,
	log domain.TransactionLog,
	lgr *ledger.Ledger,
	secrets domain.SecretStore,
	seedBonus decimal.Decimal,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		accounts:  accounts,
		log:       log,
		ledger:    lgr,
		secrets:   secrets,
		seedBonus: seedBonus,
		logger:    logger,
	}
}

type CreateAccountRequest struct {
	Handle string
	Email  string
	Phone  string
	Pin    string
}

// CreateAccount registers an account and seeds its bonus balance through the
// ledger, so even the welcome bonus leaves an audit record.
func (s *AccountService) CreateAccount(ctx context.Context, req CreateAccountRequest) (*domain.Account, error) {
	if !handlePattern.MatchString(req.Handle) {
		return nil, apperrors.NewAppError(apperrors.InvalidInput, "handle must be 3-32 lowercase letters, digits, '_' or '.'")
	}
	if !pinPattern.MatchString(req.Pin) {
		return nil, apperrors.NewAppError(apperrors.InvalidInput, "pin must be 4-6 digits")
	}

	hash, err := secret.Hash(req.Pin)
	if err != nil {
		return nil, err
	}

	account := &domain.Account{
		ID:              uuid.New(),
		Handle:          req.Handle,
		Email:           req.Email,
		Phone:           req.Phone,
		Balance:         decimal.Zero,
		BonusBalance:    decimal.Zero,
		SecretHash:      hash,
		SecretChangedAt: time.Now().UTC(),
	}

	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	if s.seedBonus.IsPositive() {
		record, err := s.ledger.Credit(ctx, ledger.CreditRequest{
			AccountID: account.ID,
			Amount:    s.seedBonus,
			Category:  seedBonusCategory,
			Reference: "seed-" + account.ID.String(),
			Ledger:    domain.BalanceBonus,
		})
		if err != nil {
			// The account exists; a retryable seed failure is recoverable
			// via the deterministic reference, so surface it.
			s.logger.Error("Failed to seed bonus balance", "account_id", account.ID, "error", err)
			return nil, err
		}
		account.BonusBalance = record.Amount
	}

	s.logger.Info("Account registered", "account_id", account.ID, "handle", account.Handle)
	return account, nil
}

func (s *AccountService) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.InvalidInput, "invalid account id")
	}
	return s.accounts.GetAccount(ctx, id)
}

// ResolveRecipient matches a free-text identifier (handle, email or phone)
// to exactly one account. This is a pre-step: the ledger re-validates the
// recipient inside the transfer's atomic unit.
func (s *AccountService) ResolveRecipient(ctx context.Context, identifier string) (*domain.Account, error) {
	if identifier == "" {
		return nil, apperrors.ErrRecipientNotFound
	}
	account, err := s.accounts.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if account.Disabled {
		return nil, apperrors.ErrRecipientNotFound
	}
	return account, nil
}

// ChangePin rotates the account's PIN. Callers must have already cleared the
// PIN challenge for the current PIN.
func (s *AccountService) ChangePin(ctx context.Context, accountID uuid.UUID, newPin string) error {
	if !pinPattern.MatchString(newPin) {
		return apperrors.NewAppError(apperrors.InvalidInput, "pin must be 4-6 digits")
	}
	return s.secrets.SetSecret(ctx, accountID, newPin)
}

// ListTransactions pages an account's records newest first.
func (s *AccountService) ListTransactions(ctx context.Context, accountID string, limit int, cursor string) ([]*domain.TransactionRecord, string, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return nil, "", apperrors.NewAppError(apperrors.InvalidInput, "invalid account id")
	}
	if _, err := s.accounts.GetAccount(ctx, id); err != nil {
		return nil, "", err
	}
	return s.log.ListByAccount(ctx, id, limit, cursor)
}
