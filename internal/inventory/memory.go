package inventory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

type memRecord struct {
	mu  sync.Mutex
	rec Record
}

// MemoryLedger guards each record's stock with its own mutex. Reservation
// bookkeeping sits behind the ledger lock, always taken after a record lock.
type MemoryLedger struct {
	mu           sync.RWMutex
	records      map[string]*memRecord
	reservations map[string]*Reservation
	now          func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records:      make(map[string]*memRecord),
		reservations: make(map[string]*Reservation),
		now:          time.Now,
	}
}

func (l *MemoryLedger) record(productID string) (*memRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.records[productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", orders.ErrNotFound, productID)
	}
	return r, nil
}

func (l *MemoryLedger) Reserve(_ context.Context, orderID, productID string, qty int) error {
	if qty < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", orders.ErrValidation)
	}
	r, err := l.record(productID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if res, ok := l.reservations[orderID]; ok {
		if res.Status == ReservationReserved {
			return nil
		}
		return fmt.Errorf("%w: order %s is %s", ErrReservationClosed, orderID, res.Status)
	}
	if r.rec.Stock < qty {
		return &orders.StockError{ProductID: productID, Requested: qty, Available: r.rec.Stock}
	}
	r.rec.Stock -= qty
	l.reservations[orderID] = &Reservation{
		OrderID:   orderID,
		ProductID: productID,
		Qty:       qty,
		Status:    ReservationReserved,
		CreatedAt: l.now(),
	}
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, orderID string) (bool, error) {
	l.mu.RLock()
	res, ok := l.reservations[orderID]
	var r *memRecord
	if ok {
		r = l.records[res.ProductID]
	}
	l.mu.RUnlock()
	if !ok || r == nil {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	if res.Status != ReservationReserved {
		return false, nil
	}
	r.rec.Stock += res.Qty
	res.Status = ReservationReleased
	return true, nil
}

func (l *MemoryLedger) Consume(_ context.Context, orderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, ok := l.reservations[orderID]
	if !ok {
		return fmt.Errorf("%w: reservation for order %s", orders.ErrNotFound, orderID)
	}
	switch res.Status {
	case ReservationConsumed:
		return nil
	case ReservationReleased:
		return fmt.Errorf("%w: order %s was released", ErrReservationClosed, orderID)
	}
	res.Status = ReservationConsumed
	return nil
}

func (l *MemoryLedger) Receive(_ context.Context, productID string, qty int) (Record, error) {
	if qty < 1 {
		return Record{}, fmt.Errorf("%w: received quantity must be at least 1", orders.ErrValidation)
	}
	r, err := l.record(productID)
	if err != nil {
		return Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.Stock += qty
	return r.rec, nil
}

func (l *MemoryLedger) Upsert(_ context.Context, rec Record) (Record, error) {
	if rec.ProductID == "" {
		return Record{}, fmt.Errorf("%w: product id is required", orders.ErrValidation)
	}
	if rec.Stock < 0 || rec.UnitPrice.IsNegative() {
		return Record{}, fmt.Errorf("%w: stock and unit price must not be negative", orders.ErrValidation)
	}
	l.mu.Lock()
	r, ok := l.records[rec.ProductID]
	if !ok {
		r = &memRecord{rec: rec}
		l.records[rec.ProductID] = r
		l.mu.Unlock()
		return rec, nil
	}
	l.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.Name = rec.Name
	r.rec.UnitPrice = rec.UnitPrice
	return r.rec, nil
}

func (l *MemoryLedger) Get(_ context.Context, productID string) (Record, error) {
	r, err := l.record(productID)
	if err != nil {
		return Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec, nil
}

func (l *MemoryLedger) List(ctx context.Context) ([]Record, error) {
	l.mu.RLock()
	ids := make([]string, 0, len(l.records))
	for id := range l.records {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	slices.SortFunc(ids, strings.Compare)

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := l.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (l *MemoryLedger) Reservation(_ context.Context, orderID string) (Reservation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res, ok := l.reservations[orderID]
	if !ok {
		return Reservation{}, fmt.Errorf("%w: reservation for order %s", orders.ErrNotFound, orderID)
	}
	return *res, nil
}

func (l *MemoryLedger) StaleReservations(_ context.Context, olderThan time.Duration) ([]Reservation, error) {
	cutoff := l.now().Add(-olderThan)
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Reservation
	for _, res := range l.reservations {
		if res.Status == ReservationReserved && !res.CreatedAt.After(cutoff) {
			out = append(out, *res)
		}
	}
	slices.SortFunc(out, func(a, b Reservation) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.OrderID, b.OrderID)
	})
	return out, nil
}
