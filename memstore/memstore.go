// Package memstore keeps users, balances and transfer records in process memory.
//
// Each account has its own mutex, created with the account. A transfer unit
// locks its accounts in sorted order, stages its writes in a journal carried
// on the ctx, and applies the journal under the store lock only when the unit
// succeeds. Ids without an account share one lock and stay unknown for the
// whole unit.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/yashasviy/ledger-api/ledger"
	"github.com/yashasviy/ledger-api/models"
	"github.com/yashasviy/ledger-api/users"
)

type Store struct {
	mu         sync.RWMutex
	users      map[string]models.User
	byUsername map[string]string
	txns       []models.Transaction

	locks   map[string]*sync.Mutex
	unknown sync.Mutex
}

func New() *Store {
	return &Store{
		users:      make(map[string]models.User),
		byUsername: make(map[string]string),
		locks:      make(map[string]*sync.Mutex),
	}
}

type journalKey struct{}

// journal holds the writes of one transfer unit until it commits.
type journal struct {
	locked   map[string]bool
	balances map[string]decimal.Decimal
	txns     []models.Transaction
}

func journalFrom(ctx context.Context) *journal {
	j, _ := ctx.Value(journalKey{}).(*journal)
	return j
}

func (s *Store) accountLock(id string) (*sync.Mutex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locks[id]
	return l, ok
}

// lockAll takes the locks of the existing accounts in sorted order, then the
// shared unknown-id lock if any id had no account. It returns the ids it
// locked and the release func.
func (s *Store) lockAll(ids []string) (map[string]bool, func()) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	locked := make(map[string]bool, len(sorted))
	var held []*sync.Mutex
	missing := false
	for i, id := range sorted {
		if i > 0 && sorted[i-1] == id {
			continue
		}
		l, ok := s.accountLock(id)
		if !ok {
			missing = true
			continue
		}
		l.Lock()
		locked[id] = true
		held = append(held, l)
	}
	if missing {
		s.unknown.Lock()
		held = append(held, &s.unknown)
	}
	return locked, func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func (s *Store) WithinTransfer(ctx context.Context, accountIDs []string, fn func(ctx context.Context) error) error {
	locked, unlock := s.lockAll(accountIDs)
	defer unlock()

	j := &journal{locked: locked, balances: make(map[string]decimal.Decimal)}
	if err := fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, balance := range j.balances {
		u := s.users[id]
		u.Balance = balance
		s.users[id] = u
	}
	s.txns = append(s.txns, j.txns...)
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (models.Account, error) {
	if j := journalFrom(ctx); j != nil {
		if !j.locked[id] {
			return models.Account{}, ledger.NotFound(id)
		}
		if balance, ok := j.balances[id]; ok {
			return models.Account{ID: id, Balance: balance}, nil
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return models.Account{}, ledger.NotFound(id)
	}
	return u.Account(), nil
}

func (s *Store) SetBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	if j := journalFrom(ctx); j != nil {
		if !j.locked[id] {
			return ledger.NotFound(id)
		}
		j.balances[id] = balance
		return nil
	}

	l, ok := s.accountLock(id)
	if !ok {
		return ledger.NotFound(id)
	}
	l.Lock()
	defer l.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ledger.NotFound(id)
	}
	u.Balance = balance
	s.users[id] = u
	return nil
}

func (s *Store) Append(ctx context.Context, txn models.Transaction) error {
	if j := journalFrom(ctx); j != nil {
		j.txns = append(j.txns, txn)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txns = append(s.txns, txn)
	return nil
}

// Transactions returns a copy of the transfer records in append order.
func (s *Store) Transactions() []models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Transaction, len(s.txns))
	copy(out, s.txns)
	return out
}

func (s *Store) Create(_ context.Context, u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byUsername[u.Username]; taken {
		return users.ErrUsernameTaken
	}
	s.users[u.ID] = u
	s.byUsername[u.Username] = u.ID
	if _, ok := s.locks[u.ID]; !ok {
		s.locks[u.ID] = &sync.Mutex{}
	}
	return nil
}

func (s *Store) FindByUsername(_ context.Context, username string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[username]
	if !ok {
		return models.User{}, users.ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *Store) List(_ context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.Before(out[k].CreatedAt) ||
			(out[i].CreatedAt.Equal(out[k].CreatedAt) && out[i].Username < out[k].Username)
	})
	return out, nil
}
