// Package ledger is the single choke point for balance mutation. Every
// debit, credit and transfer commits the balance change and its audit
// record(s) in one atomic unit, keyed by a caller-supplied idempotency
// reference so retries never double-apply.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"wallet-ledger/internal/domain"
	apperrors "wallet-ledger/internal/errors"
	"wallet-ledger/internal/notification"
)

// EventSink receives post-commit events. Submission is best-effort; the
// ledger never waits on delivery.
type EventSink interface {
	Submit(event notification.Event) bool
}

type Ledger struct {
	store   domain.LedgerStore
	events  EventSink
	logger  *slog.Logger
	retries int
	backoff time.Duration
}

// Option tweaks ledger behavior.
type Option func(*Ledger)

// WithConflictRetry bounds the internal retry loop on storage write
// contention before the conflict surfaces to the caller.
func WithConflictRetry(retries int, backoff time.Duration) Option {
	return func(l *Ledger) {
		l.retries = retries
		l.backoff = backoff
	}
}

// WithEventSink attaches a post-commit notification sink.
func WithEventSink(sink EventSink) Option {
	return func(l *Ledger) {
		l.events = sink
	}
}

func New(store domain.LedgerStore, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		logger:  logger,
		retries: 3,
		backoff: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type DebitRequest struct {
	AccountID uuid.UUID
	Amount    decimal.Decimal
	Category  string
	Reference string
	Ledger    domain.BalanceKind
}

type CreditRequest struct {
	AccountID uuid.UUID
	Amount    decimal.Decimal
	Category  string
	Reference string
	Ledger    domain.BalanceKind
}

type TransferRequest struct {
	SenderID   uuid.UUID
	ReceiverID uuid.UUID
	Amount     decimal.Decimal
	Reference  string
}

// Debit atomically decrements a balance and appends the matching record.
// Replaying a reference returns the committed record without a new mutation.
func (l *Ledger) Debit(ctx context.Context, req DebitRequest) (*domain.TransactionRecord, error) {
	if err := validateMutation(req.Amount, req.Reference); err != nil {
		return nil, err
	}
	kind := normalizeKind(req.Ledger)

	var record *domain.TransactionRecord
	err := l.withRetry(ctx, func(s domain.LedgerStore) error {
		account, err := s.LockAccount(ctx, req.AccountID)
		if err != nil {
			return err
		}

		// Replay check runs under the row lock, so a concurrent first
		// attempt has either committed (visible here) or not started.
		existing, err := s.Log().GetByReference(ctx, req.AccountID, req.Reference)
		if err != nil {
			return err
		}
		if existing != nil {
			l.logger.Info("Debit replayed", "account_id", req.AccountID, "reference", req.Reference)
			record = existing
			return nil
		}

		if account.Disabled {
			return apperrors.ErrAccountDisabled
		}

		balance := account.BalanceFor(kind)
		if balance.LessThan(req.Amount) {
			return apperrors.ErrInsufficientFunds
		}

		newBalance, newBonus := applied(account, kind, balance.Sub(req.Amount))
		if err := s.SetBalances(ctx, account.ID, newBalance, newBonus); err != nil {
			return err
		}

		record = newRecord(req.AccountID, nil, req.Amount, domain.DirectionDebit, kind, req.Category, req.Reference)
		return s.Log().Append(ctx, record)
	})
	if err != nil {
		if committed := l.resolveReplay(ctx, req.AccountID, req.Reference, err); committed != nil {
			return committed, nil
		}
		return nil, err
	}

	l.emit(req.AccountID, "debit applied", map[string]string{
		"category":  req.Category,
		"amount":    req.Amount.String(),
		"reference": req.Reference,
	})
	return record, nil
}

// Credit atomically increments a balance and appends the matching record.
func (l *Ledger) Credit(ctx context.Context, req CreditRequest) (*domain.TransactionRecord, error) {
	if err := validateMutation(req.Amount, req.Reference); err != nil {
		return nil, err
	}
	kind := normalizeKind(req.Ledger)

	var record *domain.TransactionRecord
	err := l.withRetry(ctx, func(s domain.LedgerStore) error {
		account, err := s.LockAccount(ctx, req.AccountID)
		if err != nil {
			return err
		}

		existing, err := s.Log().GetByReference(ctx, req.AccountID, req.Reference)
		if err != nil {
			return err
		}
		if existing != nil {
			l.logger.Info("Credit replayed", "account_id", req.AccountID, "reference", req.Reference)
			record = existing
			return nil
		}

		if account.Disabled {
			return apperrors.ErrAccountDisabled
		}

		balance := account.BalanceFor(kind)
		newBalance, newBonus := applied(account, kind, balance.Add(req.Amount))
		if err := s.SetBalances(ctx, account.ID, newBalance, newBonus); err != nil {
			return err
		}

		record = newRecord(req.AccountID, nil, req.Amount, domain.DirectionCredit, kind, req.Category, req.Reference)
		return s.Log().Append(ctx, record)
	})
	if err != nil {
		if committed := l.resolveReplay(ctx, req.AccountID, req.Reference, err); committed != nil {
			return committed, nil
		}
		return nil, err
	}

	l.emit(req.AccountID, "credit applied", map[string]string{
		"category":  req.Category,
		"amount":    req.Amount.String(),
		"reference": req.Reference,
	})
	return record, nil
}

// Transfer moves funds between two accounts. Both balance updates and both
// records commit together or not at all. Accounts are locked in a fixed id
// order so concurrent reciprocal transfers cannot deadlock.
func (l *Ledger) Transfer(ctx context.Context, req TransferRequest) (*domain.TransactionRecord, *domain.TransactionRecord, error) {
	if err := validateMutation(req.Amount, req.Reference); err != nil {
		return nil, nil, err
	}
	if req.SenderID == req.ReceiverID {
		return nil, nil, apperrors.ErrSameAccountTransfer
	}

	var senderRecord, receiverRecord *domain.TransactionRecord
	err := l.withRetry(ctx, func(s domain.LedgerStore) error {
		// Lock in lexicographic id order regardless of transfer direction.
		firstID, secondID := req.SenderID, req.ReceiverID
		if secondID.String() < firstID.String() {
			firstID, secondID = secondID, firstID
		}

		first, err := s.LockAccount(ctx, firstID)
		if err != nil {
			return err
		}
		second, err := s.LockAccount(ctx, secondID)
		if err != nil {
			return err
		}

		sender, receiver := first, second
		if sender.ID != req.SenderID {
			sender, receiver = second, first
		}

		// Replay check runs under the sender's row lock.
		existing, err := s.Log().GetByReference(ctx, req.SenderID, req.Reference)
		if err != nil {
			return err
		}
		if existing != nil {
			l.logger.Info("Transfer replayed", "sender_id", req.SenderID, "reference", req.Reference)
			senderRecord = existing
			if existing.CounterpartyID == nil {
				return apperrors.NewAppError(apperrors.InvalidInput, "reference was used by a non-transfer operation")
			}
			receiverRecord, err = s.Log().GetByReference(ctx, *existing.CounterpartyID, req.Reference)
			if err != nil {
				return err
			}
			return nil
		}

		if sender.Disabled || receiver.Disabled {
			return apperrors.ErrAccountDisabled
		}
		if sender.Balance.LessThan(req.Amount) {
			return apperrors.ErrInsufficientFunds
		}

		if err := s.SetBalances(ctx, sender.ID, sender.Balance.Sub(req.Amount), sender.BonusBalance); err != nil {
			return err
		}
		if err := s.SetBalances(ctx, receiver.ID, receiver.Balance.Add(req.Amount), receiver.BonusBalance); err != nil {
			return err
		}

		senderRecord = newRecord(sender.ID, &receiver.ID, req.Amount, domain.DirectionDebit, domain.BalanceMain, "Transfer", req.Reference)
		if err := s.Log().Append(ctx, senderRecord); err != nil {
			return err
		}
		receiverRecord = newRecord(receiver.ID, &sender.ID, req.Amount, domain.DirectionCredit, domain.BalanceMain, "Transfer", req.Reference)
		return s.Log().Append(ctx, receiverRecord)
	})
	if err != nil {
		if sent, received := l.resolveTransferReplay(ctx, req.SenderID, req.Reference, err); sent != nil {
			return sent, received, nil
		}
		return nil, nil, err
	}

	meta := map[string]string{
		"amount":    req.Amount.String(),
		"reference": req.Reference,
	}
	l.emit(req.SenderID, "transfer sent", meta)
	l.emit(req.ReceiverID, "transfer received", meta)
	return senderRecord, receiverRecord, nil
}

// resolveReplay recovers the committed record after a reference collision.
// A concurrent attempt that won the unique index committed the record, so
// a retry observing the collision must return that record, not an error.
func (l *Ledger) resolveReplay(ctx context.Context, accountID uuid.UUID, reference string, cause error) *domain.TransactionRecord {
	if apperrors.CodeOf(cause) != apperrors.DuplicateReference {
		return nil
	}
	record, err := l.store.Log().GetByReference(ctx, accountID, reference)
	if err != nil || record == nil {
		return nil
	}
	l.logger.Info("Replay resolved after reference collision", "account_id", accountID, "reference", reference)
	return record
}

func (l *Ledger) resolveTransferReplay(ctx context.Context, senderID uuid.UUID, reference string, cause error) (*domain.TransactionRecord, *domain.TransactionRecord) {
	sent := l.resolveReplay(ctx, senderID, reference, cause)
	if sent == nil || sent.CounterpartyID == nil {
		return nil, nil
	}
	received, err := l.store.Log().GetByReference(ctx, *sent.CounterpartyID, reference)
	if err != nil || received == nil {
		return nil, nil
	}
	return sent, received
}

// withRetry reruns the atomic unit on storage write contention, backing off
// linearly, before surfacing StoreConflict.
func (l *Ledger) withRetry(ctx context.Context, fn func(domain.LedgerStore) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = l.store.WithTransaction(ctx, fn)
		if err == nil || apperrors.CodeOf(err) != apperrors.StoreConflict {
			return err
		}
		if attempt >= l.retries {
			return err
		}

		l.logger.Warn("Store conflict, retrying", "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * l.backoff):
		}
	}
}

func (l *Ledger) emit(accountID uuid.UUID, message string, metadata map[string]string) {
	if l.events == nil {
		return
	}
	l.events.Submit(notification.Event{
		AccountID: accountID,
		Message:   message,
		Metadata:  metadata,
	})
}

func validateMutation(amount decimal.Decimal, reference string) error {
	if !amount.IsPositive() {
		return apperrors.ErrInvalidAmount
	}
	if reference == "" {
		return apperrors.NewAppError(apperrors.InvalidInput, "reference is required")
	}
	return nil
}

func normalizeKind(kind domain.BalanceKind) domain.BalanceKind {
	if kind == domain.BalanceBonus {
		return domain.BalanceBonus
	}
	return domain.BalanceMain
}

// applied maps the new value of the mutated ledger onto the (balance, bonus)
// pair SetBalances expects.
func applied(account *domain.Account, kind domain.BalanceKind, value decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if kind == domain.BalanceBonus {
		return account.Balance, value
	}
	return value, account.BonusBalance
}

func newRecord(accountID uuid.UUID, counterparty *uuid.UUID, amount decimal.Decimal, direction domain.Direction, kind domain.BalanceKind, category, reference string) *domain.TransactionRecord {
	return &domain.TransactionRecord{
		ID:             uuid.New(),
		AccountID:      accountID,
		CounterpartyID: counterparty,
		Amount:         amount,
		Direction:      direction,
		Ledger:         kind,
		Category:       category,
		Status:         domain.StatusSuccess,
		Reference:      reference,
	}
}
