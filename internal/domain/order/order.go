// Package order defines the immutable order record, its payment state
// machine, and the ledger that persists both.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/freshcart/internal/domain/identity"
)

// Sentinel errors shared by ledger implementations.
var (
	ErrNotFound  = errors.New("order not found")
	ErrEmptyCart = errors.New("cart is empty")
)

// OutOfStockError names the first product whose conditional decrement failed.
// The whole checkout transaction is rolled back before this is returned.
type OutOfStockError struct {
	ProductID string
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s", e.ProductID)
}

// Order is the immutable result of a checkout. Everything except
// PaymentState and ExternalRef is frozen at creation; line-item prices are
// captured at decrement time and never re-read from the catalog.
type Order struct {
	ID        string
	Identity  identity.Key
	Shipping  ShippingDetails
	Items     []Item
	Total     decimal.Decimal
	State     PaymentState
	// ExternalRef is the payment processor's intent id. Empty until the
	// gateway adapter obtains one.
	ExternalRef string
	CreatedAt   time.Time
}

// Item is a single order line with the price captured at order time.
type Item struct {
	ProductID string          `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// ShippingDetails is the identity snapshot captured at checkout.
type ShippingDetails struct {
	FirstName  string
	LastName   string
	Email      string
	Address    string
	PostalCode string
	City       string
}

// TotalOf computes the order total from captured item prices.
func TotalOf(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// Ledger persists orders and applies payment-state transitions. All
// multi-step operations run as a single transaction: callers observe either
// none or all of their effects.
type Ledger interface {
	// CreateFromCart snapshots the identity's cart, conditionally decrements
	// stock for every line, creates the order with prices captured at
	// decrement time, and clears the cart, all atomically. It fails with
	// ErrEmptyCart when the cart holds no items and *OutOfStockError when
	// any decrement guard fails.
	CreateFromCart(ctx context.Context, key identity.Key, shipping ShippingDetails) (*Order, error)

	GetByID(ctx context.Context, id string) (*Order, error)
	ListByIdentity(ctx context.Context, key identity.Key) ([]Order, error)

	// SetAwaitingPayment records the processor reference and moves the order
	// to AwaitingPayment, unless it is already Paid.
	SetAwaitingPayment(ctx context.Context, id, externalRef string) error

	// MarkPaid transitions the order to Paid unless it already is. It
	// reports whether the state changed; a false result with a nil error is
	// an idempotent replay.
	MarkPaid(ctx context.Context, id string) (bool, error)

	// MarkFailed transitions the order to Failed unless it is Paid. Paid is
	// absorbing: marking a paid order failed is a no-op.
	MarkFailed(ctx context.Context, id string) (bool, error)
}
