package orders

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAuthorization     = errors.New("not authorized")
	ErrConflict          = errors.New("concurrent modification")

	// ErrStaleStatus is returned by Store.CompareAndSetStatus when the row
	// no longer holds the expected status.
	ErrStaleStatus = errors.New("order status changed")
)

type TransitionError struct {
	From Status
	To   Status
	Role Role
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s as %s", e.Err, Edge{From: e.From, To: e.To}, e.Role)
}

func (e *TransitionError) Unwrap() error { return e.Err }

type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// Recoverable reports whether the caller can fix the request and retry.
func Recoverable(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInsufficientStock)
}
