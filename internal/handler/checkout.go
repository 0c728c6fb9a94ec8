package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/freshcart/internal/domain/checkout"
	"github.com/xenking/freshcart/internal/domain/order"
)

type checkoutRequest struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email"`
	Address    string `json:"address"`
	PostalCode string `json:"postalCode"`
	City       string `json:"city"`
}

type checkoutResponse struct {
	OrderID      string          `json:"orderId"`
	ClientSecret string          `json:"clientSecret"`
	Total        decimal.Decimal `json:"total"`
}

// createCheckout converts the cart into an order and obtains a payment
// intent for it. The order is committed before the gateway call; a gateway
// outage leaves a pending order the client can retry payment for.
func (h *Handler) createCheckout(w http.ResponseWriter, r *http.Request) {
	key, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_payload", "invalid request body")
		return
	}

	o, err := h.checkout.CreateOrder(r.Context(), key, order.ShippingDetails{
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Email:      req.Email,
		Address:    req.Address,
		PostalCode: req.PostalCode,
		City:       req.City,
	})
	if err != nil {
		h.checkoutError(w, r, err)
		return
	}

	intent, err := h.gateway.CreateOrReuseIntent(r.Context(), o)
	if err != nil {
		zctx.From(r.Context()).Warn("Payment intent unavailable",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Code:    http.StatusBadGateway,
			Kind:    "gateway_unavailable",
			Message: "payment processor unavailable, retry later",
			OrderID: o.ID,
		})
		return
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{
		OrderID:      o.ID,
		ClientSecret: intent.ClientSecret,
		Total:        o.Total,
	})
}

func (h *Handler) checkoutError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *checkout.ValidationError
		outOfStock *order.OutOfStockError
	)
	switch {
	case errors.Is(err, order.ErrEmptyCart):
		writeError(w, http.StatusBadRequest, "empty_cart", "cart is empty")
	case errors.As(err, &outOfStock):
		writeError(w, http.StatusConflict, "out_of_stock", outOfStock.Error())
	case errors.As(err, &validation):
		writeError(w, http.StatusUnprocessableEntity, "validation_error", validation.Error())
	default:
		h.serverError(w, r, err)
	}
}
