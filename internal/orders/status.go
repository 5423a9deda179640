package orders

import "fmt"

type Status string

const (
	// StatusNone is the "from" side of a creation transition.
	StatusNone         Status = ""
	StatusInCart       Status = "inCart"
	StatusPending      Status = "pending"
	StatusBeingShipped Status = "beingShipped"
	StatusDelivered    Status = "delivered"
	StatusCancelled    Status = "cancelled"
)

var AllStatuses = []Status{StatusInCart, StatusPending, StatusBeingShipped, StatusDelivered, StatusCancelled}

func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return StatusNone, fmt.Errorf("%w: unknown status %q", ErrValidation, s)
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Reserving reports whether an order in this status holds stock.
func (s Status) Reserving() bool {
	return s == StatusPending || s == StatusBeingShipped
}

// Edge is a single row of the transition table.
type Edge struct {
	From Status
	To   Status
}

func (e Edge) String() string {
	from := string(e.From)
	if e.From == StatusNone {
		from = "(create)"
	}
	return from + "->" + string(e.To)
}

var validNext = map[Status]map[Status][]Role{
	StatusNone:         {StatusInCart: {RoleCustomer}, StatusPending: {RoleCustomer}},
	StatusInCart:       {StatusPending: {RoleCustomer}, StatusCancelled: {RoleCustomer}},
	StatusPending:      {StatusBeingShipped: {RoleAdmin}, StatusCancelled: {RoleCustomer, RoleAdmin}},
	StatusBeingShipped: {StatusDelivered: {RoleCustomer, RoleAdmin}},
	StatusDelivered:    {},
	StatusCancelled:    {},
}

func CanTransition(from, to Status) bool {
	_, ok := validNext[from][to]
	return ok
}

// Edges returns every row of the transition table.
func Edges() []Edge {
	var out []Edge
	for _, from := range append([]Status{StatusNone}, AllStatuses...) {
		for _, to := range AllStatuses {
			if CanTransition(from, to) {
				out = append(out, Edge{From: from, To: to})
			}
		}
	}
	return out
}

// Transition validates moving an order from one status to another on behalf
// of role. A request that finds the order already in the target status is a
// no-op success as long as role could have driven the order there.
func Transition(from, to Status, role Role) (Status, error) {
	if !role.Valid() {
		return from, &TransitionError{From: from, To: to, Role: role, Err: ErrAuthorization}
	}
	if from == to && from != StatusNone {
		if reachableBy(to, role) {
			return to, nil
		}
		return from, &TransitionError{From: from, To: to, Role: role, Err: ErrAuthorization}
	}
	if !CanTransition(from, to) {
		return from, &TransitionError{From: from, To: to, Role: role, Err: ErrInvalidTransition}
	}
	if !DefaultPolicy.Allowed(role, Edge{From: from, To: to}) {
		return from, &TransitionError{From: from, To: to, Role: role, Err: ErrAuthorization}
	}
	return to, nil
}

func reachableBy(to Status, role Role) bool {
	for from, next := range validNext {
		if _, ok := next[to]; ok && DefaultPolicy.Allowed(role, Edge{From: from, To: to}) {
			return true
		}
	}
	return false
}
