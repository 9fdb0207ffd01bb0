// Package memory is a process-local store used by tests and the memory
// backend. Nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"expensetracker/internal/core"
)

type Store struct {
	mu    sync.Mutex
	users map[string]core.User
	links map[string]core.BankLink
	txs   map[string]core.Transaction
	cats  map[string]core.Category
	order []string // category insertion order
}

func New() *Store {
	return &Store{
		users: map[string]core.User{},
		links: map[string]core.BankLink{},
		txs:   map[string]core.Transaction{},
		cats:  map[string]core.Category{},
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) GetUser(_ context.Context, id string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	return &u, nil
}

func (s *Store) SaveUser(_ context.Context, u core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *Store) GetLink(_ context.Context, userID string) (*core.BankLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[userID]
	if !ok {
		return nil, core.ErrLinkNotFound
	}
	l = cloneLink(l)
	return &l, nil
}

func (s *Store) FindLinkByRequisition(_ context.Context, requisitionID string) (*core.BankLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if requisitionID == "" {
		return nil, core.ErrLinkNotFound
	}
	for _, l := range s.links {
		if l.RequisitionID == requisitionID {
			l = cloneLink(l)
			return &l, nil
		}
	}
	return nil, core.ErrLinkNotFound
}

func (s *Store) SaveLink(_ context.Context, l core.BankLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.links[l.UserID]; ok && !prev.CreatedAt.IsZero() {
		l.CreatedAt = prev.CreatedAt
	}
	s.links[l.UserID] = cloneLink(l)
	return nil
}

// UpsertTransaction is atomic under the store mutex.
func (s *Store) UpsertTransaction(_ context.Context, tx core.Transaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.txs[tx.Key]
	if !ok {
		s.txs[tx.Key] = cloneTx(tx)
		return true, nil
	}
	if prev.UserID != tx.UserID {
		return false, fmt.Errorf("upsert transaction %s: %w", tx.Key, core.ErrUnauthorized)
	}
	tx.CreatedAt = prev.CreatedAt
	s.txs[tx.Key] = cloneTx(tx)
	return false, nil
}

func (s *Store) GetTransaction(_ context.Context, key string) (*core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[key]
	if !ok {
		return nil, core.ErrTransactionNotFound
	}
	tx = cloneTx(tx)
	return &tx, nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.txs[tx.Key]
	if !ok {
		return core.ErrTransactionNotFound
	}
	if prev.UserID != tx.UserID {
		return core.ErrUnauthorized
	}
	tx.CreatedAt = prev.CreatedAt
	s.txs[tx.Key] = cloneTx(tx)
	return nil
}

func (s *Store) DeleteTransaction(_ context.Context, userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.txs[key]
	if !ok {
		return core.ErrTransactionNotFound
	}
	if prev.UserID != userID {
		return core.ErrUnauthorized
	}
	delete(s.txs, key)
	return nil
}

// ListTransactions returns pending first, then newest booking date first.
func (s *Store) ListTransactions(_ context.Context, userID string) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.txs {
		if tx.UserID == userID {
			out = append(out, cloneTx(tx))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsPending() != b.IsPending() {
			return a.IsPending()
		}
		if !a.IsPending() && !a.BookingDate.Equal(b.BookingDate.Time) {
			return a.BookingDate.After(b.BookingDate.Time)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.Key < b.Key
	})
	return out, nil
}

func (s *Store) CountCategories(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cats), nil
}

func (s *Store) InsertCategories(_ context.Context, cats []core.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cats {
		if _, ok := s.cats[c.Name]; ok {
			continue
		}
		s.cats[c.Name] = core.Category{Name: c.Name, SubCategories: dedupe(c.SubCategories)}
		s.order = append(s.order, c.Name)
	}
	return nil
}

func (s *Store) ListCategories(_ context.Context) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := append([]string(nil), s.order...)
	sort.Strings(names)
	out := make([]core.Category, 0, len(names))
	for _, n := range names {
		c := s.cats[n]
		out = append(out, core.Category{Name: c.Name, SubCategories: append([]string(nil), c.SubCategories...)})
	}
	return out, nil
}

func (s *Store) GetCategory(_ context.Context, name string) (*core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cats[name]
	if !ok {
		return nil, core.ErrCategoryNotFound
	}
	c.SubCategories = append([]string(nil), c.SubCategories...)
	return &c, nil
}

func cloneLink(l core.BankLink) core.BankLink {
	l.AccessScope = append([]string(nil), l.AccessScope...)
	l.LinkedAccountIDs = append([]string(nil), l.LinkedAccountIDs...)
	if len(l.LinkedAccountIDs) == 0 {
		l.LinkedAccountIDs = nil
	}
	return l
}

func cloneTx(tx core.Transaction) core.Transaction {
	if tx.BookingDate != nil {
		d := *tx.BookingDate
		tx.BookingDate = &d
	}
	if tx.Split != nil {
		split := make(map[string]float64, len(tx.Split))
		for k, v := range tx.Split {
			split[k] = v
		}
		tx.Split = split
	}
	return tx
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
