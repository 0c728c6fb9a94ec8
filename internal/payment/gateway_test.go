package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/freshcart/internal/domain/identity"
	"github.com/xenking/freshcart/internal/domain/order"
)

func newTestOrder(total string) *order.Order {
	return &order.Order{
		ID:       "o1",
		Identity: identity.User("u1"),
		Items: []order.Item{
			{ProductID: "p1", Price: decimal.RequireFromString(total), Quantity: 1},
		},
		Total: decimal.RequireFromString(total),
		State: order.StatePending,
	}
}

func newTestGateway(baseURL string, ledger order.Ledger) *Gateway {
	return NewGateway(GatewayConfig{
		BaseURL:        baseURL,
		SecretKey:      "sk_test",
		Currency:       "inr",
		RequestTimeout: time.Second,
		MaxAttempts:    3,
	}, &http.Client{}, ledger)
}

func TestCreateOrReuseIntent_CreatesIntent(t *testing.T) {
	var gotIdempotencyKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/payment_intents", r.URL.Path)
		require.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		gotIdempotencyKey = r.Header.Get("Idempotency-Key")

		var req createIntentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(1050), req.Amount)
		assert.Equal(t, "inr", req.Currency)
		assert.Equal(t, "o1", req.Metadata["order_id"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Intent{
			Ref:          "pi_new",
			ClientSecret: "pi_new_secret",
			Status:       IntentRequiresPayment,
		})
	}))
	defer srv.Close()

	ledger := newMockLedger()
	ledger.states["o1"] = order.StatePending
	g := newTestGateway(srv.URL, ledger)

	o := newTestOrder("10.50")
	intent, err := g.CreateOrReuseIntent(context.Background(), o)

	require.NoError(t, err)
	assert.Equal(t, "pi_new", intent.Ref)
	assert.Equal(t, "pi_new_secret", intent.ClientSecret)
	assert.Equal(t, "order-o1", gotIdempotencyKey)
	assert.Equal(t, order.StateAwaitingPayment, ledger.state("o1"))
	assert.Equal(t, "pi_new", o.ExternalRef)
}

func TestCreateOrReuseIntent_ReusesLiveIntent(t *testing.T) {
	var creates atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_intents/pi_old":
			_ = json.NewEncoder(w).Encode(Intent{
				Ref:          "pi_old",
				ClientSecret: "pi_old_secret",
				Status:       IntentProcessing,
			})
		case r.Method == http.MethodPost:
			creates.Add(1)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(Intent{Ref: "pi_new", Status: IntentRequiresPayment})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ledger := newMockLedger()
	ledger.states["o1"] = order.StateAwaitingPayment
	g := newTestGateway(srv.URL, ledger)

	o := newTestOrder("10.00")
	o.ExternalRef = "pi_old"
	o.State = order.StateAwaitingPayment

	intent, err := g.CreateOrReuseIntent(context.Background(), o)

	require.NoError(t, err)
	assert.Equal(t, "pi_old", intent.Ref)
	assert.Equal(t, int32(0), creates.Load(), "no duplicate intent created")
}

func TestCreateOrReuseIntent_ReplacesCanceledIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(Intent{Ref: "pi_old", Status: IntentCanceled})
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(Intent{
				Ref:          "pi_new",
				ClientSecret: "pi_new_secret",
				Status:       IntentRequiresPayment,
			})
		}
	}))
	defer srv.Close()

	ledger := newMockLedger()
	ledger.states["o1"] = order.StateFailed
	g := newTestGateway(srv.URL, ledger)

	o := newTestOrder("10.00")
	o.ExternalRef = "pi_old"
	o.State = order.StateFailed

	intent, err := g.CreateOrReuseIntent(context.Background(), o)

	require.NoError(t, err)
	assert.Equal(t, "pi_new", intent.Ref)
	assert.Equal(t, order.StateAwaitingPayment, ledger.state("o1"))
}

func TestCreateOrReuseIntent_RetriesThenUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ledger := newMockLedger()
	ledger.states["o1"] = order.StatePending
	g := newTestGateway(srv.URL, ledger)

	_, err := g.CreateOrReuseIntent(context.Background(), newTestOrder("10.00"))

	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, int32(3), calls.Load(), "bounded retry count")
	assert.Equal(t, order.StatePending, ledger.state("o1"), "no state change on failure")
}

func TestCreateOrReuseIntent_RecoversWithinRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Intent{Ref: "pi_new", Status: IntentRequiresPayment})
	}))
	defer srv.Close()

	ledger := newMockLedger()
	ledger.states["o1"] = order.StatePending
	g := newTestGateway(srv.URL, ledger)

	intent, err := g.CreateOrReuseIntent(context.Background(), newTestOrder("10.00"))

	require.NoError(t, err)
	assert.Equal(t, "pi_new", intent.Ref)
}

func TestCreateOrReuseIntent_ValidationErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"amount below minimum"}}`))
	}))
	defer srv.Close()

	ledger := newMockLedger()
	ledger.states["o1"] = order.StatePending
	g := newTestGateway(srv.URL, ledger)

	_, err := g.CreateOrReuseIntent(context.Background(), newTestOrder("10.00"))

	var vErr *IntentValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "amount below minimum", vErr.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCreateOrReuseIntent_RejectsSettledOrder(t *testing.T) {
	ledger := newMockLedger()
	ledger.states["o1"] = order.StatePaid
	// Base URL is never dialed: the state guard fires first.
	g := newTestGateway("http://processor.invalid", ledger)

	o := newTestOrder("10.50")
	o.State = order.StatePaid
	o.ExternalRef = "pi_old"

	_, err := g.CreateOrReuseIntent(context.Background(), o)

	require.ErrorIs(t, err, ErrOrderSettled)
	assert.Equal(t, order.StatePaid, ledger.state("o1"))
}

func TestCreateOrReuseIntent_RejectsNonPositiveAmount(t *testing.T) {
	g := newTestGateway("http://unreachable.invalid", newMockLedger())

	o := newTestOrder("10.00")
	o.Total = decimal.Zero

	_, err := g.CreateOrReuseIntent(context.Background(), o)

	var vErr *IntentValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestMinorUnits(t *testing.T) {
	amount, err := minorUnits(decimal.RequireFromString("123.45"))
	require.NoError(t, err)
	assert.Equal(t, int64(12345), amount)

	_, err = minorUnits(decimal.RequireFromString("1.005"))
	assert.Error(t, err)
}
