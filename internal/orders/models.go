package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID              string          `json:"id"`
	ExternalID      string          `json:"external_id,omitempty"`
	ProductID       string          `json:"product_id"`
	AccountID       string          `json:"account_id"`
	Quantity        int             `json:"quantity"`
	PriceAtOrder    decimal.Decimal `json:"price_at_order"`
	Status          Status          `json:"status"`
	PaymentOffline  bool            `json:"payment_offline"`
	ShippingAddress string          `json:"shipping_address"`
	Note            string          `json:"note,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Total is the committed amount; it never looks at the live catalog price.
func (o Order) Total() decimal.Decimal {
	return o.PriceAtOrder.Mul(decimal.NewFromInt(int64(o.Quantity)))
}

type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"-"`
}

type OrderWithOwner struct {
	Order
	Owner Account `json:"owner"`
}

// StatusUpdate is applied atomically with a status compare-and-set. An
// empty ShippingAddress leaves the stored one untouched. The price snapshot
// is fixed by Create and no update can reach it.
type StatusUpdate struct {
	To              Status
	ShippingAddress string
}
