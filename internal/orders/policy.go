package orders

import (
	"fmt"
	"slices"
)

type Role int

const (
	// RoleCustomer acts on orders it owns.
	RoleCustomer Role = iota + 1
	RoleAdmin
)

func (r Role) Valid() bool { return r == RoleCustomer || r == RoleAdmin }

func (r Role) String() string {
	switch r {
	case RoleCustomer:
		return "customer"
	case RoleAdmin:
		return "admin"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

func ParseRole(s string) (Role, error) {
	switch s {
	case "customer":
		return RoleCustomer, nil
	case "admin":
		return RoleAdmin, nil
	}
	return 0, fmt.Errorf("%w: unknown role %q", ErrValidation, s)
}

// Actor is the server-verified identity behind a request.
type Actor struct {
	AccountID string
	Role      Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Capacities lists the roles a may act in for an order owned by ownerID.
// Owning the order grants the customer capacity even to admins.
func (a Actor) Capacities(ownerID string) []Role {
	var out []Role
	if a.AccountID != "" && a.AccountID == ownerID {
		out = append(out, RoleCustomer)
	}
	if a.IsAdmin() {
		out = append(out, RoleAdmin)
	}
	return out
}

type Policy struct {
	table map[Status]map[Status][]Role
}

var DefaultPolicy = Policy{table: validNext}

func (p Policy) Allowed(role Role, e Edge) bool {
	roles, ok := p.table[e.From][e.To]
	return ok && slices.Contains(roles, role)
}

func (p Policy) CanRead(a Actor, ownerID string) bool {
	return a.IsAdmin() || (a.AccountID != "" && a.AccountID == ownerID)
}

func (p Policy) CanListAll(a Actor) bool { return a.IsAdmin() }

func (p Policy) CanReceiveStock(a Actor) bool { return a.IsAdmin() }
