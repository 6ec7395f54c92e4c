package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-ledger/internal/domain"
	apperrors "wallet-ledger/internal/errors"
	"wallet-ledger/internal/ledger/ledgertest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedAccount(t *testing.T, store *ledgertest.Store, balance string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	store.AddAccount(&domain.Account{
		ID:           id,
		Handle:       "user-" + id.String()[:8],
		Balance:      decimal.RequireFromString(balance),
		BonusBalance: decimal.Zero,
	})
	return id
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDebitSimple(t *testing.T) {
	store := ledgertest.NewStore()
	l := New(store, testLogger())
	accountID := seedAccount(t, store, "1000")

	record, err := l.Debit(context.Background(), DebitRequest{
		AccountID: accountID,
		Amount:    dec("300"),
		Category:  "Withdrawal",
		Reference: "ref1",
	})
	require.NoError(t, err)

	assert.Equal(t, accountID, record.AccountID)
	assert.True(t, record.Amount.Equal(dec("300")))
	assert.Equal(t, domain.DirectionDebit, record.Direction)
	assert.Equal(t, domain.StatusSuccess, record.Status)
	assert.Equal(t, "ref1", record.Reference)

	assert.True(t, store.Account(accountID).Balance.Equal(dec("700")))
	assert.Len(t, store.Records(accountID), 1)
}

func TestDebitInsufficientFunds(t *testing.T) {
	store := ledgertest.NewStore()
	l := New(store, testLogger())
	accountID := seedAccount(t, store, "100")

	_, err := l.Debit(context.Background(), DebitRequest{
		AccountID: accountID,
		Amount:    dec("300"),
		Category:  "Withdrawal",
		Reference: "ref1",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.InsufficientFunds, apperrors.CodeOf(err))

	// Balance untouched, no record appended.
	assert.True(t, store.Account(accountID).Balance.Equal(dec("100")))
	assert.Empty(t, store.Records(accountID))
}

func TestDebitIdempotentReplay(t *testing.T) {
	store := ledgertest.NewStore()
	l := New(store, testLogger())
	accountID := seedAccount(t, store, "1000")

	req := DebitRequest{
		AccountID: accountID,
		Amount:    dec("300"),
		Category:  "Withdrawal",
		Reference: "ref1",
	}

	first, err := l.Debit(context.Background(), req)
	require.NoError(t, err)
	second, err := l.Debit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, store.Account(accountID).Balance.Equal(dec("700")))
	assert.Len(t, store.Records(accountID), 1)
}

func TestCreditIdempotentReplay(t *testing.T) {
	store := ledgertest.NewStore()
	l := New(store, testLogger())
	accountID := seedAccount(t, store, "0")

	req := CreditRequest{
		AccountID: accountID,
		Amount:    dec("100"),
		Category:  "Deposit",
		Reference: "refZ",
	}

	_, err := l.Credit(context.Background(), req)
	require.NoError(t, err)
	_, err = l.Credit(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, store.Account(accountID).Balance.Equal(dec("100")),
		"replay must credit once, not twice")
	assert.Len(t, store.Records(accountID), 1)
}

func TestCreditBonusLedger(t *testing.T) {
	store := ledgertest.NewStore()
	l := New(store, testLogger())
	accountID := seedAccount(t, store, "500")

	record, err := l.Credit(context.Background(), CreditRequest{
		AccountID: accountID,
		Amount:    dec("50"),
		Category:  "Welcome Bonus",
		Reference: "seed-x",
		Ledger:    domain.BalanceBonus,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BalanceBonus, record.Ledger)

	account := store.Account(accountID)
	assert.True(t, account.Balance.Equal(dec("500")), "main balance must be untouched")
	assert.True(t, account.BonusBalance.Equal(dec("50")))
}

func TestTransferConservation(t *testing.T) {
	store := ledgertest.NewStore()
	l := New(store, testLogger())
	a := seedAccount(t, store, "1000")
	b := seedAccount(t, store, "500")

	senderRecord, receiverRecord, err := l.Transfer(context.Background(), TransferRequest{
		SenderID:   a,
		ReceiverID: b,
		Amount:     dec("400"),
		Reference:  "ref2",
	})
	require.NoError(t, err)

	assert.True(t, store.Account(a).Balance.Equal(dec("600")))
	assert.True(t, store.Account(b).Balance.Equal(dec("900")))

	// Records are linked by counterparty, one per side, opposite signs.
	require.NotNil(t, senderRecord.CounterpartyID)
	require.NotNil(t, receiverRecord.CounterpartyID)
	assert.Equal(t, b, *senderRecord.CounterpartyID)
	assert.Equal(t, a, *receiverRecord.CounterpartyID)
	assert.Equal(t, domain.DirectionDebit, senderRecord.Direction)
	assert.Equal(t, domain.DirectionCredit, receiverRecord.Direction)
	assert.Equal(t, senderRecord.Reference, receiverRecord.Reference)

	total := store.Account(a).Balance.Add(store.Account(b).Balance)
	assert.True(t, total.Equal(dec("1500")), "transfer must conserve total funds")
}

func TestTransferInsufficientFunds(t *testing.T) {
	store := ledgertest.NewStore()
	l := New(store, testLogger())
	a := seedAccount(t, store, "100")
	b := seedAccount(t, store, "0")

	_, _, err := l.Transfer(context.Background(), TransferRequest{
		SenderID:   a,
		ReceiverID: b,
		Amount:     dec("400"),
		Reference:  "ref2",
	})
	assert.Equal(t, apperrors.InsufficientFunds, apperrors.CodeOf(err))
	assert.True(t, store.Account(a).Balance.Equal(dec("100")))
	assert.True(t, store.Account(b).Balance.Equal(dec("0")))
	assert.Empty(t, store.Records(a))
	assert.Empty(t, store.Records(b))
}

func TestTransferSameAccount(t *testing.T) {
	store := ledgertest.NewStore()
	l := New(store, testLogger())
	a := seedAccount(t, store, "100")

	_, _, err := l.Transfer(context.Background(), TransferRequest{
		SenderID:   a,
		ReceiverID: a,
		Amount:     dec("10"),
		Reference:  "ref",
	})
	assert.Error(t, err)
}

func TestTransferIdempotentReplay(t *testing.T) {
	store := ledgertest.NewStore()
	l := New(store, testLogger())
	a := seedAccount(t, store, "1000")
	b := seedAccount(t, store, "500")

	req := TransferRequest{SenderID: a, ReceiverID: b, Amount: dec("400"), Reference: "ref2"}

	s1, r1, err := l.Transfer(context.Background(), req)
	require.NoError(t, err)
	s2, r2, err := l.Transfer(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, s1.ID, s2.ID)
	assert.Equal(t, r1.ID, r2.ID)
	assert.True(t, store.Account(a).Balance.Equal(dec("600")))
	assert.True(t, store.Account(b).Balance.Equal(dec("900")))
}

func TestCreditReplayAfterReferenceCollision(t *testing.T) {
	store := ledgertest.NewStore()
	l := New(store, testLogger())
	accountID := seedAccount(t, store, "0")

	req := CreditRequest{
		AccountID: accountID,
		Amount:    dec("100"),
		Category:  "Deposit",
		Reference: "refC",
	}

	first, err := l.Credit(context.Background(), req)
	require.NoError(t, err)

	// A concurrent first attempt that commits after the replay check makes
	// the check miss and the append hit the unique reference index. The
	// retry must still resolve to the committed record.
	store.MissReplayChecks = 1
	second, err := l.Credit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, store.Account(accountID).Balance.Equal(dec("100")))
	assert.Len(t, store.Records(accountID), 1)
}

func TestTransferReplayAfterReferenceCollision(t *testing.T) {
	store := ledgertest.NewStore()
	l := New(store, testLogger())
	a := seedAccount(t, store, "1000")
	b := seedAccount(t, store, "500")

	req := TransferRequest{SenderID: a, ReceiverID: b, Amount: dec("400"), Reference: "refT"}

	s1, r1, err := l.Transfer(context.Background(), req)
	require.NoError(t, err)

	store.MissReplayChecks = 1
	s2, r2, err := l.Transfer(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, s1.ID, s2.ID)
	assert.Equal(t, r1.ID, r2.ID)
	assert.True(t, store.Account(a).Balance.Equal(dec("600")))
	assert.True(t, store.Account(b).Balance.Equal(dec("900")))
	assert.Len(t, store.Records(a), 1)
	assert.Len(t, store.Records(b), 1)
}

func TestTransferAtomicUnderFailure(t *testing.T) {
	store := ledgertest.NewStore()
	l := New(store, testLogger())
	a := seedAccount(t, store, "1000")
	b := seedAccount(t, store, "500")

	// Fail the second balance write: sender debited, receiver write lost.
	store.FailSetBalancesAfter = 2

	_, _, err := l.Transfer(context.Background(), TransferRequest{
		SenderID:   a,
		ReceiverID: b,
		Amount:     dec("400"),
		Reference:  "ref2",
	})
	require.Error(t, err)

	// State must be fully pre-transfer: no half-applied debit, no records.
	assert.True(t, store.Account(a).Balance.Equal(dec("1000")))
	assert.True(t, store.Account(b).Balance.Equal(dec("500")))
	assert.Empty(t, store.Records(a))
	assert.Empty(t, store.Records(b))

	// A retry with the same reference self-heals.
	store.FailSetBalancesAfter = 0
	_, _, err = l.Transfer(context.Background(), TransferRequest{
		SenderID:   a,
		ReceiverID: b,
		Amount:     dec("400"),
		Reference:  "ref2",
	})
	require.NoError(t, err)
	assert.True(t, store.Account(a).Balance.Equal(dec("600")))
	assert.True(t, store.Account(b).Balance.Equal(dec("900")))
}

func TestConflictRetry(t *testing.T) {
	store := ledgertest.NewStore()
	l := New(store, testLogger(), WithConflictRetry(3, time.Millisecond))
	accountID := seedAccount(t, store, "1000")

	store.ConflictsRemaining = 2

	record, err := l.Debit(context.Background(), DebitRequest{
		AccountID: accountID,
		Amount:    dec("300"),
		Category:  "Withdrawal",
		Reference: "ref1",
	})
	require.NoError(t, err, "conflicts within the retry budget must be absorbed")
	assert.NotNil(t, record)
	assert.True(t, store.Account(accountID).Balance.Equal(dec("700")))
}

func TestConflictExhaustsRetries(t *testing.T) {
	store := ledgertest.NewStore()
	l := New(store, testLogger(), WithConflictRetry(2, time.Millisecond))
	accountID := seedAccount(t, store, "1000")

	store.ConflictsRemaining = 10

	_, err := l.Debit(context.Background(), DebitRequest{
		AccountID: accountID,
		Amount:    dec("300"),
		Category:  "Withdrawal",
		Reference: "ref1",
	})
	assert.Equal(t, apperrors.StoreConflict, apperrors.CodeOf(err))
	assert.True(t, store.Account(accountID).Balance.Equal(dec("1000")))
}

func TestDisabledAccountRejected(t *testing.T) {
	store := ledgertest.NewStore()
	l := New(store, testLogger())
	id := uuid.New()
	store.AddAccount(&domain.Account{
		ID:       id,
		Handle:   "ghost",
		Balance:  dec("1000"),
		Disabled: true,
	})

	_, err := l.Debit(context.Background(), DebitRequest{
		AccountID: id, Amount: dec("10"), Category: "Withdrawal", Reference: "r1",
	})
	assert.Equal(t, apperrors.AccountDisabled, apperrors.CodeOf(err))

	_, err = l.Credit(context.Background(), CreditRequest{
		AccountID: id, Amount: dec("10"), Category: "Deposit", Reference: "r2",
	})
	assert.Equal(t, apperrors.AccountDisabled, apperrors.CodeOf(err))
}

func TestValidation(t *testing.T) {
	store := ledgertest.NewStore()
	l := New(store, testLogger())
	accountID := seedAccount(t, store, "1000")

	_, err := l.Debit(context.Background(), DebitRequest{
		AccountID: accountID, Amount: dec("0"), Category: "x", Reference: "r",
	})
	assert.Equal(t, apperrors.InvalidAmount, apperrors.CodeOf(err))

	_, err = l.Debit(context.Background(), DebitRequest{
		AccountID: accountID, Amount: dec("-5"), Category: "x", Reference: "r",
	})
	assert.Equal(t, apperrors.InvalidAmount, apperrors.CodeOf(err))

	_, err = l.Credit(context.Background(), CreditRequest{
		AccountID: accountID, Amount: dec("5"), Category: "x", Reference: "",
	})
	assert.Equal(t, apperrors.InvalidInput, apperrors.CodeOf(err))
}

func TestNonNegativityExactDrain(t *testing.T) {
	store := ledgertest.NewStore()
	l := New(store, testLogger())
	accountID := seedAccount(t, store, "250")

	// Draining to exactly zero is allowed; one more cent is not.
	_, err := l.Debit(context.Background(), DebitRequest{
		AccountID: accountID, Amount: dec("250"), Category: "Withdrawal", Reference: "drain",
	})
	require.NoError(t, err)
	assert.True(t, store.Account(accountID).Balance.Equal(dec("0")))

	_, err = l.Debit(context.Background(), DebitRequest{
		AccountID: accountID, Amount: dec("0.01"), Category: "Withdrawal", Reference: "over",
	})
	assert.Equal(t, apperrors.InsufficientFunds, apperrors.CodeOf(err))
}
