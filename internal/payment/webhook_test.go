package payment

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/freshcart/internal/domain/identity"
	"github.com/xenking/freshcart/internal/domain/order"
)

// --- Mock ledger ---

// mockLedger tracks per-order payment state with the same CAS semantics the
// real ledger implements in SQL.
type mockLedger struct {
	mu     sync.Mutex
	states map[string]order.PaymentState
	refs   map[string]string

	setAwaitingErr error
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		states: make(map[string]order.PaymentState),
		refs:   make(map[string]string),
	}
}

func (m *mockLedger) CreateFromCart(_ context.Context, _ identity.Key, _ order.ShippingDetails) (*order.Order, error) {
	return nil, order.ErrEmptyCart
}

func (m *mockLedger) GetByID(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &order.Order{ID: id, State: st, ExternalRef: m.refs[id]}, nil
}

func (m *mockLedger) ListByIdentity(_ context.Context, _ identity.Key) ([]order.Order, error) {
	return nil, nil
}

func (m *mockLedger) SetAwaitingPayment(_ context.Context, id, ref string) error {
	if m.setAwaitingErr != nil {
		return m.setAwaitingErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[id]; !ok {
		return order.ErrNotFound
	}
	if m.states[id] == order.StatePaid {
		return nil
	}
	m.states[id] = order.StateAwaitingPayment
	m.refs[id] = ref
	return nil
}

func (m *mockLedger) MarkPaid(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		return false, order.ErrNotFound
	}
	if st == order.StatePaid {
		return false, nil
	}
	m.states[id] = order.StatePaid
	return true, nil
}

func (m *mockLedger) MarkFailed(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		return false, order.ErrNotFound
	}
	if st == order.StatePaid {
		return false, nil
	}
	m.states[id] = order.StateFailed
	return true, nil
}

func (m *mockLedger) state(id string) order.PaymentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[id]
}

// --- Helpers ---

func newTestProcessor(ledger order.Ledger) *Processor {
	return NewProcessor(ProcessorConfig{Secret: testSecret}, ledger, zap.NewNop())
}

func signedEvent(t *testing.T, eventID, eventType, orderID string) ([]byte, string) {
	t.Helper()
	payload := fmt.Appendf(nil,
		`{"id":%q,"type":%q,"data":{"object":{"id":"pi_123","metadata":{"order_id":%q}}}}`,
		eventID, eventType, orderID)
	return payload, SignPayload(payload, testSecret, time.Now())
}

// --- Tests ---

func TestHandleEvent_PaymentSucceeded(t *testing.T) {
	ledger := newMockLedger()
	ledger.states["o1"] = order.StateAwaitingPayment
	p := newTestProcessor(ledger)

	payload, sig := signedEvent(t, "evt_1", EventPaymentSucceeded, "o1")
	res, err := p.HandleEvent(context.Background(), payload, sig)

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, order.StatePaid, ledger.state("o1"))
}

func TestHandleEvent_DuplicateSucceededIsNoop(t *testing.T) {
	ledger := newMockLedger()
	ledger.states["o1"] = order.StateAwaitingPayment
	p := newTestProcessor(ledger)

	payload, sig := signedEvent(t, "evt_1", EventPaymentSucceeded, "o1")

	res1, err := p.HandleEvent(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res1.Outcome)

	res2, err := p.HandleEvent(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res2.Outcome)
	assert.Equal(t, order.StatePaid, ledger.state("o1"))
}

func TestHandleEvent_FailedAfterPaidLeavesPaid(t *testing.T) {
	ledger := newMockLedger()
	ledger.states["o1"] = order.StateAwaitingPayment
	p := newTestProcessor(ledger)

	okPayload, okSig := signedEvent(t, "evt_1", EventPaymentSucceeded, "o1")
	_, err := p.HandleEvent(context.Background(), okPayload, okSig)
	require.NoError(t, err)

	failPayload, failSig := signedEvent(t, "evt_2", EventPaymentFailed, "o1")
	res, err := p.HandleEvent(context.Background(), failPayload, failSig)

	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)
	assert.Equal(t, order.StatePaid, ledger.state("o1"))
}

func TestHandleEvent_PaymentFailed(t *testing.T) {
	ledger := newMockLedger()
	ledger.states["o1"] = order.StateAwaitingPayment
	p := newTestProcessor(ledger)

	payload, sig := signedEvent(t, "evt_1", EventPaymentFailed, "o1")
	res, err := p.HandleEvent(context.Background(), payload, sig)

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, order.StateFailed, ledger.state("o1"))
}

func TestHandleEvent_InvalidSignatureTouchesNothing(t *testing.T) {
	ledger := newMockLedger()
	ledger.states["o1"] = order.StateAwaitingPayment
	p := newTestProcessor(ledger)

	payload, _ := signedEvent(t, "evt_1", EventPaymentSucceeded, "o1")
	_, err := p.HandleEvent(context.Background(), payload, "t=1,v1=bad")

	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, order.StateAwaitingPayment, ledger.state("o1"))
}

func TestHandleEvent_MalformedPayload(t *testing.T) {
	p := newTestProcessor(newMockLedger())

	payload := []byte(`{"type":`)
	sig := SignPayload(payload, testSecret, time.Now())
	_, err := p.HandleEvent(context.Background(), payload, sig)

	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestHandleEvent_KnownTypeWithoutOrderID(t *testing.T) {
	p := newTestProcessor(newMockLedger())

	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","metadata":{}}}}`)
	sig := SignPayload(payload, testSecret, time.Now())
	_, err := p.HandleEvent(context.Background(), payload, sig)

	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestHandleEvent_UnknownTypeAcknowledged(t *testing.T) {
	ledger := newMockLedger()
	ledger.states["o1"] = order.StateAwaitingPayment
	p := newTestProcessor(ledger)

	payload := []byte(`{"id":"evt_1","type":"charge.refund.updated","data":{"object":{"id":"re_1"}}}`)
	sig := SignPayload(payload, testSecret, time.Now())
	res, err := p.HandleEvent(context.Background(), payload, sig)

	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, order.StateAwaitingPayment, ledger.state("o1"))
}

func TestHandleEvent_OrderNotFound(t *testing.T) {
	p := newTestProcessor(newMockLedger())

	payload, sig := signedEvent(t, "evt_1", EventPaymentSucceeded, "missing")
	_, err := p.HandleEvent(context.Background(), payload, sig)

	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestHandleEvent_ConcurrentDuplicateDelivery(t *testing.T) {
	ledger := newMockLedger()
	ledger.states["o1"] = order.StateAwaitingPayment
	p := newTestProcessor(ledger)

	payload, sig := signedEvent(t, "evt_1", EventPaymentSucceeded, "o1")

	const deliveries = 8
	results := make([]Outcome, deliveries)
	var wg sync.WaitGroup
	for i := range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.HandleEvent(context.Background(), payload, sig)
			if assert.NoError(t, err) {
				results[i] = res.Outcome
			}
		}()
	}
	wg.Wait()

	applied := 0
	for _, out := range results {
		if out == OutcomeApplied {
			applied++
		}
	}
	assert.Equal(t, 1, applied, "exactly one delivery wins the CAS")
	assert.Equal(t, order.StatePaid, ledger.state("o1"))
}

func TestParseEvent_SkipsUnknownFields(t *testing.T) {
	payload := []byte(`{
		"id": "evt_9",
		"object": "event",
		"api_version": "2024-06-20",
		"type": "payment_intent.succeeded",
		"data": {
			"object": {
				"id": "pi_9",
				"amount": 4200,
				"currency": "inr",
				"metadata": {"order_id": "o9", "source": "web"}
			}
		},
		"livemode": false
	}`)

	ev, err := parseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "evt_9", ev.ID)
	assert.Equal(t, "pi_9", ev.IntentID)
	assert.Equal(t, "o9", ev.OrderID)
}
