// Package product defines the catalog contract consumed by cart and checkout.
// The service never owns products: it reads them and decrements stock through
// the single conditional primitive below.
package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
	Stock int
}

// Repository defines the catalog operations the checkout pipeline consumes.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)

	// DecrementStock atomically runs stock = stock - qty guarded by
	// stock >= qty. It returns false when the guard fails; stock is left
	// untouched in that case.
	DecrementStock(ctx context.Context, id string, qty int) (bool, error)
}
