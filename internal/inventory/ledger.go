package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Record struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Stock     int             `json:"stock"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "RESERVED"
	ReservationReleased ReservationStatus = "RELEASED"
	ReservationConsumed ReservationStatus = "CONSUMED"
)

type Reservation struct {
	OrderID   string
	ProductID string
	Qty       int
	Status    ReservationStatus
	CreatedAt time.Time
}

// ErrReservationClosed is returned when reserving for an order whose
// reservation was already released or consumed.
var ErrReservationClosed = errors.New("reservation already closed")

// Ledger owns per-product stock. Reservations are keyed by order so that
// every reservation ends in exactly one release or consumption.
type Ledger interface {
	// Reserve atomically checks and decrements stock for the order.
	// Reserving again for an order that already holds stock is a no-op.
	Reserve(ctx context.Context, orderID, productID string, qty int) error
	// Release puts the order's reserved stock back. It reports false when
	// there was nothing left to release.
	Release(ctx context.Context, orderID string) (bool, error)
	// Consume makes the order's reservation permanent.
	Consume(ctx context.Context, orderID string) error
	Receive(ctx context.Context, productID string, qty int) (Record, error)
	Upsert(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, productID string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	Reservation(ctx context.Context, orderID string) (Reservation, error)
	// StaleReservations lists reservations still held after olderThan, oldest
	// first.
	StaleReservations(ctx context.Context, olderThan time.Duration) ([]Reservation, error)
}
