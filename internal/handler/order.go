package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/freshcart/internal/domain/order"
	"github.com/xenking/freshcart/internal/payment"
)

type orderItemResponse struct {
	ProductID string          `json:"productId"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type orderResponse struct {
	ID        string              `json:"id"`
	Items     []orderItemResponse `json:"items"`
	Total     decimal.Decimal     `json:"total"`
	State     string              `json:"state"`
	CreatedAt time.Time           `json:"createdAt"`
}

func toOrderResponse(o order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			ProductID: it.ProductID,
			Price:     it.Price,
			Quantity:  it.Quantity,
		}
	}
	return orderResponse{
		ID:        o.ID,
		Items:     items,
		Total:     o.Total,
		State:     string(o.State),
		CreatedAt: o.CreatedAt,
	}
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	key, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
		return
	}

	orders, err := h.orders.ListByIdentity(r.Context(), key)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		resp[i] = toOrderResponse(o)
	}
	writeJSON(w, http.StatusOK, resp)
}

// retryPayment obtains a payment intent for an existing order: the live
// intent when one is still collectable, a fresh one after the previous
// attempt failed or a gateway outage left the order without a reference.
// This is the way a Pending or Failed order becomes payable again after the
// checkout response could not carry a client secret.
func (h *Handler) retryPayment(w http.ResponseWriter, r *http.Request) {
	key, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
		return
	}

	o, err := h.orders.GetByID(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order_not_found", "order not found")
			return
		}
		h.serverError(w, r, err)
		return
	}
	// Orders are only visible to the identity that placed them.
	if o.Identity != key {
		writeError(w, http.StatusNotFound, "order_not_found", "order not found")
		return
	}
	if o.State.Terminal() {
		writeError(w, http.StatusConflict, "already_paid", "order is already paid")
		return
	}

	intent, err := h.gateway.CreateOrReuseIntent(r.Context(), o)
	if err != nil {
		if errors.Is(err, payment.ErrOrderSettled) {
			writeError(w, http.StatusConflict, "already_paid", "order is already paid")
			return
		}
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

	writeJSON(w, http.StatusOK, checkoutResponse{
		OrderID:      o.ID,
		ClientSecret: intent.ClientSecret,
		Total:        o.Total,
	})
}
