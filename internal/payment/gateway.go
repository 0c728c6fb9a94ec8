// Package payment adapts the external payment processor: idempotent intent
// creation for orders, and webhook settlement of payment outcomes.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/freshcart/internal/domain/order"
)

// ErrGatewayUnavailable is returned when the processor cannot be reached
// within the bounded retry budget. The order's state is unchanged and the
// call may be retried.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// ErrOrderSettled is returned when an intent is requested for an order whose
// payment state cannot move to AwaitingPayment anymore.
var ErrOrderSettled = errors.New("order already settled")

// IntentValidationError indicates the processor rejected the intent request
// itself (bad amount or currency). Retrying the same request cannot succeed.
type IntentValidationError struct {
	Message string
}

func (e *IntentValidationError) Error() string {
	return fmt.Sprintf("payment intent rejected: %s", e.Message)
}

// IntentStatus is the processor-reported lifecycle status of an intent.
type IntentStatus string

const (
	IntentRequiresPayment IntentStatus = "requires_payment_method"
	IntentProcessing      IntentStatus = "processing"
	IntentSucceeded       IntentStatus = "succeeded"
	IntentCanceled        IntentStatus = "canceled"
)

// Intent is the processor's handle for collecting an order's amount. The
// client secret is handed to the browser for client-side confirmation.
type Intent struct {
	Ref          string       `json:"id"`
	ClientSecret string       `json:"client_secret"`
	Status       IntentStatus `json:"status"`
}

// terminalFailed reports whether the intent can never complete and a new one
// must be created.
func (i *Intent) terminalFailed() bool {
	return i.Status == IntentCanceled
}

// GatewayConfig holds the processor connection settings.
type GatewayConfig struct {
	BaseURL   string
	SecretKey string
	// Currency applies to every intent; the service is single-currency.
	Currency string
	// RequestTimeout bounds each individual processor call.
	RequestTimeout time.Duration
	// MaxAttempts bounds retries for retryable failures. The adapter never
	// retries indefinitely inside a request handler.
	MaxAttempts int
}

// Gateway creates and reuses payment intents for orders. All processor calls
// carry a per-call timeout; the order's stock transaction has already
// committed by the time the gateway is ever invoked.
type Gateway struct {
	cfg    GatewayConfig
	client *http.Client
	orders order.Ledger
}

// NewGateway creates a Gateway with the injected HTTP client and order
// ledger. Pass http.DefaultClient outside tests if no custom transport is
// needed.
func NewGateway(cfg GatewayConfig, client *http.Client, orders order.Ledger) *Gateway {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Currency == "" {
		cfg.Currency = "inr"
	}
	return &Gateway{
		cfg:    cfg,
		client: client,
		orders: orders,
	}
}

// CreateOrReuseIntent returns a payment intent for the order, creating one
// only when the order has none or its previous intent failed terminally.
// On success the order is moved to AwaitingPayment with the intent reference
// recorded. Repeated calls for the same order return the same live intent.
func (g *Gateway) CreateOrReuseIntent(ctx context.Context, o *order.Order) (*Intent, error) {
	if o.State != order.StateAwaitingPayment && !o.State.CanTransition(order.StateAwaitingPayment) {
		return nil, ErrOrderSettled
	}

	amount, err := minorUnits(o.Total)
	if err != nil {
		return nil, err
	}

	intent, err := g.resolveIntent(ctx, o, amount)
	if err != nil {
		return nil, err
	}

	if err := g.orders.SetAwaitingPayment(ctx, o.ID, intent.Ref); err != nil {
		return nil, errors.Wrap(err, "record intent reference")
	}
	o.ExternalRef = intent.Ref
	o.State = order.StateAwaitingPayment

	return intent, nil
}

// resolveIntent reuses the order's existing intent when the processor still
// reports it as live, otherwise creates a new one.
func (g *Gateway) resolveIntent(ctx context.Context, o *order.Order, amount int64) (*Intent, error) {
	if o.ExternalRef != "" {
		existing, err := g.retrieveIntent(ctx, o.ExternalRef)
		if err != nil {
			return nil, err
		}
		if !existing.terminalFailed() {
			return existing, nil
		}
	}
	return g.createIntent(ctx, o.ID, amount)
}

type createIntentRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

func (g *Gateway) createIntent(ctx context.Context, orderID string, amount int64) (*Intent, error) {
	body, err := json.Marshal(createIntentRequest{
		Amount:   amount,
		Currency: g.cfg.Currency,
		Metadata: map[string]string{"order_id": orderID},
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode intent request")
	}

	return g.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			g.cfg.BaseURL+"/v1/payment_intents", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		// The processor deduplicates on this key, so a retried create after
		// a lost response cannot mint a second intent for the order.
		req.Header.Set("Idempotency-Key", "order-"+orderID)
		return req, nil
	})
}

func (g *Gateway) retrieveIntent(ctx context.Context, ref string) (*Intent, error) {
	return g.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet,
			g.cfg.BaseURL+"/v1/payment_intents/"+ref, nil)
	})
}

// doWithRetry performs the request with a per-attempt timeout and a small
// bounded retry count for retryable failures (network errors, 5xx, 429).
// Anything else surfaces immediately.
func (g *Gateway) doWithRetry(ctx context.Context, build func(context.Context) (*http.Request, error)) (*Intent, error) {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ErrGatewayUnavailable, ctx.Err().Error())
			case <-time.After(time.Duration(attempt-1) * 100 * time.Millisecond):
			}
		}

		intent, retryable, err := g.doOnce(ctx, build)
		if err == nil {
			return intent, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, errors.Wrapf(ErrGatewayUnavailable, "after %d attempts: %s", g.cfg.MaxAttempts, lastErr)
}

func (g *Gateway) doOnce(ctx context.Context, build func(context.Context) (*http.Request, error)) (intent *Intent, retryable bool, err error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	req, err := build(callCtx)
	if err != nil {
		return nil, false, errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.SecretKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, true, errors.Wrap(err, "processor call")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, errors.Wrap(err, "read processor response")
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var in Intent
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, false, errors.Wrap(err, "decode intent")
		}
		if in.Ref == "" {
			return nil, false, errors.New("processor returned intent without id")
		}
		return &in, false, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, errors.Errorf("processor status %d", resp.StatusCode)

	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, false, &IntentValidationError{Message: errorMessage(data)}

	default:
		return nil, false, errors.Errorf("processor status %d", resp.StatusCode)
	}
}

func errorMessage(data []byte) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return "request rejected"
}

// minorUnits converts a decimal total into the processor's integer minor
// units (e.g. paise). Totals that do not land on a whole minor unit are a
// caller defect, not a processor failure.
func minorUnits(total decimal.Decimal) (int64, error) {
	amount := total.Shift(2)
	if !amount.IsInteger() {
		return 0, &IntentValidationError{Message: "amount has sub-minor-unit precision"}
	}
	if amount.Sign() <= 0 {
		return 0, &IntentValidationError{Message: "amount must be positive"}
	}
	return amount.IntPart(), nil
}
