package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by Repository.Get when no order has the given id.
var ErrNotFound = errors.New("order not found")

// Order is a finalized checkout with its pricing breakdown.
type Order struct {
	ID               string
	UserID           string
	Items            []OrderItem
	Subtotal         decimal.Decimal
	CampaignID       string
	CampaignDiscount decimal.Decimal
	CouponDiscount   decimal.Decimal
	ShippingCost     decimal.Decimal
	Total            decimal.Decimal
	CreatedAt        time.Time
}

// OrderItem represents a single line item in an order. UnitPrice is the price
// at confirmation time and is ignored on input.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create stores the order. Creating an order whose id already exists is a
	// no-op and reports created=false.
	Create(ctx context.Context, order *Order) (created bool, err error)
	// Get returns the stored order or ErrNotFound.
	Get(ctx context.Context, id string) (*Order, error)
}
