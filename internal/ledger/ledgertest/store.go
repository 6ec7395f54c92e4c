// Package ledgertest provides an in-memory domain.LedgerStore with real
// transactional semantics (snapshot rollback) and failure injection, for
// exercising the engine without a database.
package ledgertest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"wallet-ledger/internal/domain"
	apperrors "wallet-ledger/internal/errors"
)

type state struct {
	accounts map[uuid.UUID]*domain.Account
	records  map[uuid.UUID]*domain.TransactionRecord
	byRef    map[string]uuid.UUID
	orders   map[uuid.UUID]*domain.Order
	seq      int
}

func refKey(accountID uuid.UUID, reference string) string {
	return accountID.String() + "|" + reference
}

// Store is a mutex-guarded in-memory LedgerStore. WithTransaction snapshots
// the state and restores it when fn fails, giving the same all-or-nothing
// behavior as a database transaction.
type Store struct {
	mu sync.Mutex
	st *state

	// FailSetBalancesAfter makes the Nth SetBalances call of the current
	// transaction fail, for atomicity-under-failure tests. 0 disables.
	FailSetBalancesAfter int
	setBalanceCalls      int

	// ConflictsRemaining makes that many transactions fail with
	// StoreConflict before behaving normally again.
	ConflictsRemaining int

	// MissReplayChecks makes that many GetByReference lookups report no
	// record, simulating a concurrent writer that commits between the
	// replay check and the append.
	MissReplayChecks int

	// BeforeOrderTransition runs at the start of every order status
	// update, so tests can interleave a competing transition.
	BeforeOrderTransition func()
}

var _ domain.LedgerStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		st: &state{
			accounts: make(map[uuid.UUID]*domain.Account),
			records:  make(map[uuid.UUID]*domain.TransactionRecord),
			byRef:    make(map[string]uuid.UUID),
			orders:   make(map[uuid.UUID]*domain.Order),
		},
	}
}

// AddAccount seeds an account directly, bypassing the ledger.
func (s *Store) AddAccount(account *domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *account
	s.st.accounts[account.ID] = &cp
}

// AddOrder seeds an order directly.
func (s *Store) AddOrder(order *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *order
	s.st.orders[order.ID] = &cp
}

// Account returns a copy of the stored account.
func (s *Store) Account(id uuid.UUID) *domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.st.accounts[id]; ok {
		cp := *a
		return &cp
	}
	return nil
}

// Records returns copies of every stored record for the account.
func (s *Store) Records(accountID uuid.UUID) []*domain.TransactionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.TransactionRecord
	for _, r := range s.st.records {
		if r.AccountID == accountID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) snapshot() *state {
	cp := &state{
		accounts: make(map[uuid.UUID]*domain.Account, len(s.st.accounts)),
		records:  make(map[uuid.UUID]*domain.TransactionRecord, len(s.st.records)),
		byRef:    make(map[string]uuid.UUID, len(s.st.byRef)),
		orders:   make(map[uuid.UUID]*domain.Order, len(s.st.orders)),
		seq:      s.st.seq,
	}
	for k, v := range s.st.accounts {
		a := *v
		cp.accounts[k] = &a
	}
	for k, v := range s.st.records {
		r := *v
		cp.records[k] = &r
	}
	for k, v := range s.st.byRef {
		cp.byRef[k] = v
	}
	for k, v := range s.st.orders {
		o := *v
		cp.orders[k] = &o
	}
	return cp
}

func (s *Store) WithTransaction(_ context.Context, fn func(domain.LedgerStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ConflictsRemaining > 0 {
		s.ConflictsRemaining--
		return apperrors.ErrStoreConflict
	}

	saved := s.snapshot()
	s.setBalanceCalls = 0

	if err := fn(&txStore{parent: s}); err != nil {
		s.st = saved
		return err
	}
	return nil
}

func (s *Store) Accounts() domain.AccountRepository { return &accountRepo{s} }
func (s *Store) Log() domain.TransactionLog         { return &logRepo{s} }
func (s *Store) Orders() domain.OrderRepository     { return &orderRepo{s} }

func (s *Store) LockAccount(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.getAccount(id)
}

func (s *Store) SetBalances(_ context.Context, id uuid.UUID, balance, bonus decimal.Decimal) error {
	account, ok := s.st.accounts[id]
	if !ok {
		return apperrors.ErrAccountNotFound
	}
	s.setBalanceCalls++
	if s.FailSetBalancesAfter > 0 && s.setBalanceCalls >= s.FailSetBalancesAfter {
		return apperrors.NewAppError(apperrors.InternalError, "injected write failure")
	}
	account.Balance = balance
	account.BonusBalance = bonus
	account.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) getAccount(id uuid.UUID) (*domain.Account, error) {
	account, ok := s.st.accounts[id]
	if !ok {
		return nil, apperrors.ErrAccountNotFound
	}
	cp := *account
	return &cp, nil
}

// txStore is the store handed to the transactional closure. It shares the
// already-locked parent state, mirroring how the SQL store reuses the
// transaction executor.
type txStore struct {
	parent *Store
}

var _ domain.LedgerStore = (*txStore)(nil)

func (t *txStore) WithTransaction(ctx context.Context, fn func(domain.LedgerStore) error) error {
	return fn(t)
}

func (t *txStore) Accounts() domain.AccountRepository { return &accountRepo{t.parent} }
func (t *txStore) Log() domain.TransactionLog         { return &logRepo{t.parent} }
func (t *txStore) Orders() domain.OrderRepository     { return &orderRepo{t.parent} }

func (t *txStore) LockAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return t.parent.getAccount(id)
}

func (t *txStore) SetBalances(ctx context.Context, id uuid.UUID, balance, bonus decimal.Decimal) error {
	return t.parent.SetBalances(ctx, id, balance, bonus)
}

type accountRepo struct{ s *Store }

func (r *accountRepo) CreateAccount(_ context.Context, account *domain.Account) error {
	for _, a := range r.s.st.accounts {
		if a.ID == account.ID || a.Handle == account.Handle {
			return apperrors.ErrDuplicateAccount
		}
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	cp := *account
	r.s.st.accounts[account.ID] = &cp
	return nil
}

func (r *accountRepo) GetAccount(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	return r.s.getAccount(id)
}

func (r *accountRepo) FindByIdentifier(_ context.Context, identifier string) (*domain.Account, error) {
	var matches []*domain.Account
	for _, a := range r.s.st.accounts {
		if a.Handle == identifier || (a.Email != "" && strings.EqualFold(a.Email, identifier)) || a.Phone == identifier {
			cp := *a
			matches = append(matches, &cp)
		}
	}
	if len(matches) != 1 {
		return nil, apperrors.ErrRecipientNotFound
	}
	return matches[0], nil
}

type logRepo struct{ s *Store }

func (r *logRepo) Append(_ context.Context, record *domain.TransactionRecord) error {
	key := refKey(record.AccountID, record.Reference)
	if _, exists := r.s.st.byRef[key]; exists {
		return apperrors.ErrDuplicateReference
	}
	r.s.st.seq++
	record.CreatedAt = time.Now().UTC().Add(time.Duration(r.s.st.seq) * time.Microsecond)
	cp := *record
	r.s.st.records[record.ID] = &cp
	r.s.st.byRef[key] = record.ID
	return nil
}

func (r *logRepo) GetRecord(_ context.Context, id uuid.UUID) (*domain.TransactionRecord, error) {
	record, ok := r.s.st.records[id]
	if !ok {
		return nil, apperrors.ErrRecordNotFound
	}
	cp := *record
	return &cp, nil
}

func (r *logRepo) GetByReference(_ context.Context, accountID uuid.UUID, reference string) (*domain.TransactionRecord, error) {
	if r.s.MissReplayChecks > 0 {
		r.s.MissReplayChecks--
		return nil, nil
	}
	id, ok := r.s.st.byRef[refKey(accountID, reference)]
	if !ok {
		return nil, nil
	}
	cp := *r.s.st.records[id]
	return &cp, nil
}

func (r *logRepo) ListByAccount(_ context.Context, accountID uuid.UUID, limit int, cursor string) ([]*domain.TransactionRecord, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var all []*domain.TransactionRecord
	for _, rec := range r.s.st.records {
		if rec.AccountID == accountID {
			cp := *rec
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	start := 0
	if cursor != "" {
		for i, rec := range all {
			if rec.ID.String() == cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(all) {
		return nil, "", nil
	}

	end := start + limit
	next := ""
	if end < len(all) {
		next = all[end-1].ID.String()
	} else {
		end = len(all)
	}
	return all[start:end], next, nil
}

type orderRepo struct{ s *Store }

func (r *orderRepo) CreateOrder(_ context.Context, order *domain.Order) error {
	if _, exists := r.s.st.orders[order.ID]; exists {
		return apperrors.NewAppError(apperrors.InvalidInput, "order already exists")
	}
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	cp := *order
	r.s.st.orders[order.ID] = &cp
	return nil
}

func (r *orderRepo) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	order, ok := r.s.st.orders[id]
	if !ok {
		return nil, apperrors.ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

func (r *orderRepo) TransitionOrder(_ context.Context, id uuid.UUID, from, to domain.OrderStatus) error {
	if r.s.BeforeOrderTransition != nil {
		hook := r.s.BeforeOrderTransition
		r.s.BeforeOrderTransition = nil
		hook()
	}
	order, ok := r.s.st.orders[id]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	if order.Status != from {
		return apperrors.ErrInvalidTransition
	}
	order.Status = to
	order.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *orderRepo) MarkRefunded(_ context.Context, id uuid.UUID) error {
	order, ok := r.s.st.orders[id]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	order.Refunded = true
	order.UpdatedAt = time.Now().UTC()
	return nil
}
