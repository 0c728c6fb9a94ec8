// Package handler exposes the checkout pipeline over HTTP.
package handler

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xenking/freshcart/internal/domain/cart"
	"github.com/xenking/freshcart/internal/domain/checkout"
	"github.com/xenking/freshcart/internal/domain/order"
	"github.com/xenking/freshcart/internal/domain/product"
	"github.com/xenking/freshcart/internal/payment"
)

// Handler wires the domain services to HTTP routes.
type Handler struct {
	products product.Repository
	carts    *cart.Service
	checkout *checkout.Service
	orders   order.Ledger
	gateway  *payment.Gateway
	webhooks *payment.Processor
	sec      *Security
	lg       *zap.Logger
}

// New creates a Handler over the given services.
func New(
	products product.Repository,
	carts *cart.Service,
	checkout *checkout.Service,
	orders order.Ledger,
	gateway *payment.Gateway,
	webhooks *payment.Processor,
	sec *Security,
	lg *zap.Logger,
) *Handler {
	return &Handler{
		products: products,
		carts:    carts,
		checkout: checkout,
		orders:   orders,
		gateway:  gateway,
		webhooks: webhooks,
		sec:      sec,
		lg:       lg,
	}
}

// Routes builds the API router. Webhook delivery is authenticated by
// signature, not by identity, so it sits outside the identity middleware.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.listProducts)

		r.Group(func(r chi.Router) {
			r.Use(h.sec.RequireIdentity)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.getCart)
				r.Post("/items", h.addCartItem)
				r.Put("/items/{productID}", h.setCartItemQuantity)
				r.Delete("/items/{productID}", h.removeCartItem)
				r.Post("/merge", h.mergeCart)
			})

			r.Post("/checkout", h.createCheckout)
			r.Get("/orders", h.listOrders)
			r.Post("/orders/{orderID}/payment-intent", h.retryPayment)
		})
	})

	r.Post("/webhooks/payment", h.paymentWebhook)

	return r
}
