// Package cart owns per-identity cart contents and the guest-to-user merge
// performed on login.
package cart

import (
	"context"
	"fmt"

	"github.com/xenking/freshcart/internal/domain/identity"
)

// InvalidQuantityError indicates a cart mutation with a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// OutOfStockError indicates the advisory stock check failed on add. The
// authoritative check still happens at checkout.
type OutOfStockError struct {
	ProductID string
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("not enough stock for product %s: %d available", e.ProductID, e.Available)
}

// Cart holds the desired products and quantities for one identity.
type Cart struct {
	Identity identity.Key
	Items    []Item
}

// Item is a single cart line. Quantity is always strictly positive; adding
// the same product twice merges additively.
type Item struct {
	ProductID string
	Quantity  int
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Store persists carts. Mutations on a single cart are atomic; Merge runs as
// one transaction per (guest, user) pair so concurrent double-logins neither
// duplicate nor lose items.
type Store interface {
	// Get returns the identity's cart. A missing cart is returned as an
	// empty one; rows are only created on the first add.
	Get(ctx context.Context, key identity.Key) (*Cart, error)

	// AddItem upserts a line, summing quantities when the product is
	// already present.
	AddItem(ctx context.Context, key identity.Key, productID string, qty int) error

	// SetItemQuantity replaces a line's quantity.
	SetItemQuantity(ctx context.Context, key identity.Key, productID string, qty int) error

	// RemoveItem deletes a line if present; removing an absent line is a
	// no-op.
	RemoveItem(ctx context.Context, key identity.Key, productID string) error

	// Merge folds the guest cart into the user cart additively and deletes
	// the guest cart, all in a single transaction. Merging an absent or
	// empty guest cart is a no-op success.
	Merge(ctx context.Context, guest, user identity.Key) error
}
