package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/freshcart/internal/domain/order"
	"github.com/xenking/freshcart/internal/payment"
)

// headerWebhookSignature carries the signed timestamp scheme produced by the
// payment processor.
const headerWebhookSignature = "Payment-Signature"

const maxWebhookBody = 64 << 10

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// paymentWebhook verifies and applies a payment processor event. Replays and
// out-of-order deliveries are acknowledged with 200 so the processor stops
// redelivering them.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed_payload", "cannot read body")
		return
	}

	res, err := h.webhooks.HandleEvent(r.Context(), payload, r.Header.Get(headerWebhookSignature))
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidSignature):
			writeError(w, http.StatusBadRequest, "invalid_signature", "signature verification failed")
		case errors.Is(err, payment.ErrMalformedPayload):
			writeError(w, http.StatusBadRequest, "malformed_payload", "cannot decode event")
		case errors.Is(err, order.ErrNotFound):
			writeError(w, http.StatusNotFound, "order_not_found", "order not found")
		default:
			h.serverError(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Received: true,
		Outcome:  string(res.Outcome),
	})
}
