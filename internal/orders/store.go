package orders

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

type Store interface {
	// Create inserts o. A second order with the same (AccountID, ExternalID)
	// fails with ErrConflict.
	Create(ctx context.Context, o Order) (Order, error)
	Get(ctx context.Context, id string) (Order, error)
	FindByExternalID(ctx context.Context, accountID, externalID string) (Order, error)
	ListByAccount(ctx context.Context, accountID string) ([]Order, error)
	ListAll(ctx context.Context) ([]OrderWithOwner, error)
	// CompareAndSetStatus applies upd only if the order is still in from.
	CompareAndSetStatus(ctx context.Context, id string, from Status, upd StatusUpdate) (Order, error)
	Account(ctx context.Context, id string) (Account, error)
}

// MemStore is an in-process Store used by tests and local runs.
type MemStore struct {
	mu       sync.RWMutex
	orders   map[string]Order
	accounts map[string]Account
	now      func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		orders:   make(map[string]Order),
		accounts: make(map[string]Account),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemStore) PutAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *MemStore) Create(_ context.Context, o Order) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return Order{}, fmt.Errorf("%w: order %s exists", ErrConflict, o.ID)
	}
	if o.ExternalID != "" {
		for _, ex := range s.orders {
			if ex.AccountID == o.AccountID && ex.ExternalID == o.ExternalID {
				return Order{}, fmt.Errorf("%w: external id %s already used", ErrConflict, o.ExternalID)
			}
		}
	}
	now := s.now()
	o.CreatedAt, o.UpdatedAt = now, now
	s.orders[o.ID] = o
	return o, nil
}

func (s *MemStore) Get(_ context.Context, id string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	return o, nil
}

func (s *MemStore) FindByExternalID(_ context.Context, accountID, externalID string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.AccountID == accountID && o.ExternalID == externalID {
			return o, nil
		}
	}
	return Order{}, fmt.Errorf("%w: external id %s", ErrNotFound, externalID)
}

func (s *MemStore) ListByAccount(_ context.Context, accountID string) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Order
	for _, o := range s.orders {
		if o.AccountID == accountID {
			out = append(out, o)
		}
	}
	sortOrders(out)
	return out, nil
}

func (s *MemStore) ListAll(_ context.Context) ([]OrderWithOwner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		all = append(all, o)
	}
	sortOrders(all)
	out := make([]OrderWithOwner, 0, len(all))
	for _, o := range all {
		out = append(out, OrderWithOwner{Order: o, Owner: s.accounts[o.AccountID]})
	}
	return out, nil
}

func (s *MemStore) CompareAndSetStatus(_ context.Context, id string, from Status, upd StatusUpdate) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	if o.Status != from {
		return o, ErrStaleStatus
	}
	o.Status = upd.To
	if upd.ShippingAddress != "" {
		o.ShippingAddress = upd.ShippingAddress
	}
	o.UpdatedAt = s.now()
	s.orders[id] = o
	return o, nil
}

func (s *MemStore) Account(_ context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	return a, nil
}

// newest first, id as tie breaker
func sortOrders(os []Order) {
	slices.SortFunc(os, func(a, b Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
