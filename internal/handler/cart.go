package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/freshcart/internal/domain/cart"
	"github.com/xenking/freshcart/internal/domain/identity"
	"github.com/xenking/freshcart/internal/domain/product"
)

type cartLineResponse struct {
	Product  productResponse `json:"product"`
	Quantity int             `json:"quantity"`
}

type cartResponse struct {
	Items    []cartLineResponse `json:"items"`
	Subtotal decimal.Decimal    `json:"subtotal"`
}

type addCartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type mergeCartRequest struct {
	GuestToken string `json:"guestToken"`
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	key, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
		return
	}

	view, err := h.carts.GetView(r.Context(), key)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toCartResponse(view))
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	key, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
		return
	}

	var req addCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_payload", "invalid request body")
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "productId is required")
		return
	}

	if err := h.carts.AddItem(r.Context(), key, req.ProductID, req.Quantity); err != nil {
		h.cartError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setCartItemQuantity(w http.ResponseWriter, r *http.Request) {
	key, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
		return
	}

	var req setQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_payload", "invalid request body")
		return
	}

	productID := chi.URLParam(r, "productID")
	if err := h.carts.SetItemQuantity(r.Context(), key, productID, req.Quantity); err != nil {
		h.cartError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	key, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
		return
	}

	productID := chi.URLParam(r, "productID")
	if err := h.carts.RemoveItem(r.Context(), key, productID); err != nil {
		h.serverError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// mergeCart folds a guest cart into the authenticated user's cart. Guests
// cannot merge into other guests.
func (h *Handler) mergeCart(w http.ResponseWriter, r *http.Request) {
	key, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
		return
	}
	if key.IsGuest() {
		writeError(w, http.StatusForbidden, "forbidden", "merge requires an authenticated account")
		return
	}

	var req mergeCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_payload", "invalid request body")
		return
	}
	if !isValidSessionToken(req.GuestToken) {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "guestToken is required")
		return
	}

	if err := h.carts.MergeGuestIntoUser(r.Context(), identity.Guest(req.GuestToken), key); err != nil {
		h.serverError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cartError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalidQty *cart.InvalidQuantityError
		outOfStock *cart.OutOfStockError
	)
	switch {
	case errors.As(err, &invalidQty):
		writeError(w, http.StatusUnprocessableEntity, "validation_error", invalidQty.Error())
	case errors.As(err, &outOfStock):
		writeError(w, http.StatusConflict, "out_of_stock", outOfStock.Error())
	case errors.Is(err, product.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "product not found")
	default:
		h.serverError(w, r, err)
	}
}

func toCartResponse(view *cart.View) cartResponse {
	resp := cartResponse{
		Items:    make([]cartLineResponse, len(view.Lines)),
		Subtotal: view.Subtotal,
	}
	for i, line := range view.Lines {
		resp.Items[i] = cartLineResponse{
			Product:  toProductResponse(line.Product),
			Quantity: line.Quantity,
		}
	}
	return resp
}
