package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/freshcart/internal/domain/identity"
	"github.com/xenking/freshcart/internal/domain/product"
)

// Service applies cart business rules on top of a Store: quantity
// validation, the advisory stock check on add, and subtotal pricing for the
// cart view.
type Service struct {
	store    Store
	products product.Repository
}

// NewService creates a cart Service with the required dependencies.
func NewService(store Store, products product.Repository) *Service {
	return &Service{
		store:    store,
		products: products,
	}
}

// View is a priced snapshot of a cart for display. Prices here are live
// catalog prices; they are only captured for good at checkout.
type View struct {
	Cart     *Cart
	Lines    []ViewLine
	Subtotal decimal.Decimal
}

// ViewLine pairs a cart line with its current catalog product.
type ViewLine struct {
	Product  product.Product
	Quantity int
}

// Get returns the identity's cart, creating an empty in-memory view when
// none exists yet.
func (s *Service) Get(ctx context.Context, key identity.Key) (*Cart, error) {
	c, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	return c, nil
}

// GetView returns the cart together with current catalog prices and the
// computed subtotal.
func (s *Service) GetView(ctx context.Context, key identity.Key) (*View, error) {
	c, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}

	if c.IsEmpty() {
		return &View{Cart: c, Subtotal: decimal.Zero}, nil
	}

	ids := make([]string, len(c.Items))
	for i, it := range c.Items {
		ids[i] = it.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	view := &View{Cart: c, Subtotal: decimal.Zero}
	for _, it := range c.Items {
		p, ok := byID[it.ProductID]
		if !ok {
			// Product withdrawn from the catalog after it was carted;
			// keep the cart line out of the priced view.
			continue
		}
		view.Lines = append(view.Lines, ViewLine{Product: p, Quantity: it.Quantity})
		qty := decimal.NewFromInt(int64(it.Quantity))
		view.Subtotal = view.Subtotal.Add(p.Price.Mul(qty))
	}
	view.Subtotal = view.Subtotal.Round(2)

	return view, nil
}

// AddItem validates the quantity, performs the advisory stock check against
// the currently visible stock, and upserts the line additively. The
// authoritative stock check happens inside the checkout transaction.
func (s *Service) AddItem(ctx context.Context, key identity.Key, productID string, qty int) error {
	if qty <= 0 {
		return &InvalidQuantityError{ProductID: productID}
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return product.ErrNotFound
		}
		return errors.Wrapf(err, "get product %s", productID)
	}

	if qty > p.Stock {
		return &OutOfStockError{ProductID: productID, Available: p.Stock}
	}

	if err := s.store.AddItem(ctx, key, productID, qty); err != nil {
		return errors.Wrap(err, "add item")
	}
	return nil
}

// SetItemQuantity replaces a line's quantity. A quantity of zero or less
// removes the line.
func (s *Service) SetItemQuantity(ctx context.Context, key identity.Key, productID string, qty int) error {
	if qty <= 0 {
		return s.RemoveItem(ctx, key, productID)
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return product.ErrNotFound
		}
		return errors.Wrapf(err, "get product %s", productID)
	}
	if qty > p.Stock {
		return &OutOfStockError{ProductID: productID, Available: p.Stock}
	}

	if err := s.store.SetItemQuantity(ctx, key, productID, qty); err != nil {
		return errors.Wrap(err, "set item quantity")
	}
	return nil
}

// RemoveItem deletes a line; removing an absent line succeeds.
func (s *Service) RemoveItem(ctx context.Context, key identity.Key, productID string) error {
	if err := s.store.RemoveItem(ctx, key, productID); err != nil {
		return errors.Wrap(err, "remove item")
	}
	return nil
}

// MergeGuestIntoUser folds the guest cart into the user cart on login.
// Quantities for products present in both carts are summed; the guest cart
// is deleted afterwards. Repeated merges of an already-consumed guest cart
// are no-op successes.
func (s *Service) MergeGuestIntoUser(ctx context.Context, guest, user identity.Key) error {
	if guest == user {
		return nil
	}
	if err := s.store.Merge(ctx, guest, user); err != nil {
		return errors.Wrap(err, "merge carts")
	}
	return nil
}
