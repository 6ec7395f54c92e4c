package secret

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-ledger/internal/domain"
	apperrors "wallet-ledger/internal/errors"
)

type fakeAccounts struct {
	mu      sync.Mutex
	account domain.Account
}

func (f *fakeAccounts) GetAccount(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != f.account.ID {
		return nil, apperrors.ErrAccountNotFound
	}
	cp := f.account
	return &cp, nil
}

func (f *fakeAccounts) UpdateSecret(_ context.Context, _ uuid.UUID, hash string, changedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.account.SecretHash = hash
	f.account.SecretChangedAt = changedAt
	f.account.PinFailedAttempts = 0
	f.account.PinLockedUntil = nil
	return nil
}

func (f *fakeAccounts) RecordPinFailure(_ context.Context, _ uuid.UUID, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.account.PinFailedAttempts++
	if f.account.PinFailedAttempts >= threshold {
		until := lockUntil
		f.account.PinLockedUntil = &until
	}
	return f.account.PinFailedAttempts, f.account.PinLockedUntil, nil
}

func (f *fakeAccounts) ResetPinFailures(_ context.Context, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.account.PinFailedAttempts = 0
	f.account.PinLockedUntil = nil
	return nil
}

func (f *fakeAccounts) state() domain.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.account
}

func newTestStore(t *testing.T) (*Store, *fakeAccounts) {
	t.Helper()
	accounts := &fakeAccounts{account: domain.Account{ID: uuid.New()}}
	store := NewStore(accounts, 3, 15*time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, store.SetSecret(context.Background(), accounts.account.ID, "4321"))
	return store, accounts
}

func TestVerifyCorrectPin(t *testing.T) {
	store, accounts := newTestStore(t)

	ok, err := store.Verify(context.Background(), accounts.account.ID, "4321")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyWrongPinCountsAttempts(t *testing.T) {
	store, accounts := newTestStore(t)

	ok, err := store.Verify(context.Background(), accounts.account.ID, "0000")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, accounts.account.PinFailedAttempts)
	assert.Nil(t, accounts.account.PinLockedUntil)
}

func TestLockoutAfterMaxAttempts(t *testing.T) {
	store, accounts := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := store.Verify(ctx, accounts.account.ID, "0000")
		require.NoError(t, err)
		assert.False(t, ok)
	}

	// Third consecutive failure trips the lockout.
	_, err := store.Verify(ctx, accounts.account.ID, "0000")
	assert.Equal(t, apperrors.AccountLocked, apperrors.CodeOf(err))
	require.NotNil(t, accounts.account.PinLockedUntil)

	// Even the correct PIN is refused while locked.
	_, err = store.Verify(ctx, accounts.account.ID, "4321")
	assert.Equal(t, apperrors.AccountLocked, apperrors.CodeOf(err))
}

func TestConcurrentFailuresAllCount(t *testing.T) {
	accounts := &fakeAccounts{account: domain.Account{ID: uuid.New()}}
	store := NewStore(accounts, 2, 15*time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	require.NoError(t, store.SetSecret(ctx, accounts.account.ID, "4321"))

	// Two simultaneous wrong guesses must both land on the counter, not
	// collapse into one.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Verify(ctx, accounts.account.ID, "0000")
			assert.False(t, ok)
			if err != nil {
				assert.Equal(t, apperrors.AccountLocked, apperrors.CodeOf(err))
			}
		}()
	}
	wg.Wait()

	state := accounts.state()
	assert.Equal(t, 2, state.PinFailedAttempts)
	require.NotNil(t, state.PinLockedUntil)

	// Even the correct PIN is refused while locked.
	_, err := store.Verify(ctx, accounts.account.ID, "4321")
	assert.Equal(t, apperrors.AccountLocked, apperrors.CodeOf(err))
}

func TestLockoutExpires(t *testing.T) {
	store, accounts := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		store.Verify(ctx, accounts.account.ID, "0000")
	}
	require.NotNil(t, accounts.account.PinLockedUntil)

	// Jump past the lockout deadline; the slate is clean again.
	store.now = func() time.Time { return now.Add(16 * time.Minute) }

	ok, err := store.Verify(ctx, accounts.account.ID, "4321")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, accounts.account.PinFailedAttempts)
	assert.Nil(t, accounts.account.PinLockedUntil)
}

func TestSuccessResetsCounter(t *testing.T) {
	store, accounts := newTestStore(t)
	ctx := context.Background()

	store.Verify(ctx, accounts.account.ID, "0000")
	store.Verify(ctx, accounts.account.ID, "0000")
	require.Equal(t, 2, accounts.account.PinFailedAttempts)

	ok, err := store.Verify(ctx, accounts.account.ID, "4321")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, accounts.account.PinFailedAttempts)
}

func TestRotationClearsLockout(t *testing.T) {
	store, accounts := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		store.Verify(ctx, accounts.account.ID, "0000")
	}
	require.NotNil(t, accounts.account.PinLockedUntil)

	require.NoError(t, store.SetSecret(ctx, accounts.account.ID, "9876"))
	assert.Nil(t, accounts.account.PinLockedUntil)

	ok, err := store.Verify(ctx, accounts.account.ID, "9876")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHashIsSalted(t *testing.T) {
	h1, err := Hash("1234")
	require.NoError(t, err)
	h2, err := Hash("1234")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2, "equal PINs must not produce equal hashes")
}
