package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/xenking/freshcart/internal/domain/product"
)

type productResponse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

func toProductResponse(p product.Product) productResponse {
	return productResponse{
		ID:    p.ID,
		Name:  p.Name,
		Price: p.Price,
		Stock: p.Stock,
	}
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	resp := make([]productResponse, len(products))
	for i, p := range products {
		resp[i] = toProductResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}
