// Package checkout converts a cart into an immutable order, reserving stock
// transactionally.
package checkout

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/freshcart/internal/domain/identity"
	"github.com/xenking/freshcart/internal/domain/order"
)

// ValidationError reports a malformed shipping field. The caller can
// re-prompt and retry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Service orchestrates checkout. The all-or-nothing work of snapshotting
// the cart, decrementing stock, and creating the order with captured prices
// happens inside the ledger's single transaction; this service guards the
// entry with validation.
type Service struct {
	ledger order.Ledger
}

// NewService creates a checkout Service backed by the given order ledger.
func NewService(ledger order.Ledger) *Service {
	return &Service{ledger: ledger}
}

// CreateOrder validates the shipping details and runs the checkout
// transaction. It fails with order.ErrEmptyCart when the identity's cart has
// no items, *checkout.ValidationError for malformed shipping fields, and
// *order.OutOfStockError naming the first product whose decrement failed.
// On any failure no order, decrement, or cart change is visible.
func (s *Service) CreateOrder(ctx context.Context, key identity.Key, shipping order.ShippingDetails) (*order.Order, error) {
	if err := validateShipping(shipping); err != nil {
		return nil, err
	}

	o, err := s.ledger.CreateFromCart(ctx, key, shipping)
	if err != nil {
		var oos *order.OutOfStockError
		if errors.Is(err, order.ErrEmptyCart) || errors.As(err, &oos) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create order")
	}

	return o, nil
}

func validateShipping(sd order.ShippingDetails) error {
	required := []struct {
		field, value string
	}{
		{"first_name", sd.FirstName},
		{"last_name", sd.LastName},
		{"email", sd.Email},
		{"address", sd.Address},
		{"postal_code", sd.PostalCode},
		{"city", sd.City},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.field, Reason: "required"}
		}
	}

	if _, err := mail.ParseAddress(sd.Email); err != nil {
		return &ValidationError{Field: "email", Reason: "not a valid address"}
	}

	return nil
}
