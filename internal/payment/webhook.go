package payment

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/xenking/freshcart/internal/domain/order"
)

// ErrMalformedPayload is returned when the webhook body cannot be decoded
// into an event envelope. Nothing is mutated in that case.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// Event types the processor delivers for settled intents.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

// Event is the decoded webhook envelope. OrderID comes from the intent
// metadata the gateway attached at creation time.
type Event struct {
	ID       string
	Type     string
	IntentID string
	OrderID  string
}

// Outcome describes what applying an event did to order state.
type Outcome string

const (
	// OutcomeApplied means the event changed the order's payment state.
	OutcomeApplied Outcome = "applied"
	// OutcomeNoop means the order was already in (or past) the target
	// state; duplicate and out-of-order deliveries land here.
	OutcomeNoop Outcome = "noop"
	// OutcomeIgnored means the event type is not one this service consumes.
	OutcomeIgnored Outcome = "ignored"
)

// Result reports the decoded event and what applying it did.
type Result struct {
	Event   Event
	Outcome Outcome
}

// ProcessorConfig holds webhook verification settings.
type ProcessorConfig struct {
	// Secret is the shared endpoint secret used to verify signatures.
	Secret []byte
	// Tolerance bounds the accepted clock skew on signed timestamps.
	Tolerance time.Duration
}

// Processor verifies and applies settlement events to order state.
// Correctness under duplicate or concurrent delivery rests entirely on the
// ledger's compare-and-set transitions; the bloom filter only flags likely
// replays for observability.
type Processor struct {
	cfg    ProcessorConfig
	orders order.Ledger
	lg     *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	seen *bloom.BloomFilter
}

// NewProcessor creates a webhook Processor.
func NewProcessor(cfg ProcessorConfig, orders order.Ledger, lg *zap.Logger) *Processor {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 5 * time.Minute
	}
	return &Processor{
		cfg:    cfg,
		orders: orders,
		lg:     lg,
		now:    time.Now,
		seen:   bloom.NewWithEstimates(1_000_000, 0.001),
	}
}

// HandleEvent verifies the signature, decodes the event, and applies it via
// a compare-and-set transition. Signature verification is the first and only
// gate on trust: nothing is read or written before it passes. Duplicate and
// out-of-order deliveries produce the same final state as a single delivery.
func (p *Processor) HandleEvent(ctx context.Context, payload []byte, signature string) (*Result, error) {
	if err := VerifySignature(payload, signature, p.cfg.Secret, p.cfg.Tolerance, p.now()); err != nil {
		return nil, err
	}

	ev, err := parseEvent(payload)
	if err != nil {
		return nil, err
	}

	if p.markSeen(ev.ID) {
		// Advisory only: a bloom hit may be a false positive, so the event
		// is still applied through the CAS below.
		p.lg.Debug("likely duplicate webhook event",
			zap.String("event_id", ev.ID),
			zap.String("type", ev.Type),
		)
	}

	switch ev.Type {
	case EventPaymentSucceeded:
		changed, err := p.orders.MarkPaid(ctx, ev.OrderID)
		if err != nil {
			return nil, err
		}
		return &Result{Event: ev, Outcome: outcomeFor(changed)}, nil

	case EventPaymentFailed:
		changed, err := p.orders.MarkFailed(ctx, ev.OrderID)
		if err != nil {
			return nil, err
		}
		return &Result{Event: ev, Outcome: outcomeFor(changed)}, nil

	default:
		return &Result{Event: ev, Outcome: OutcomeIgnored}, nil
	}
}

func outcomeFor(changed bool) Outcome {
	if changed {
		return OutcomeApplied
	}
	return OutcomeNoop
}

// markSeen records the event id and reports whether it was probably seen
// before. The filter is not safe for concurrent use, hence the lock.
func (p *Processor) markSeen(id string) bool {
	if id == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen.TestOrAddString(id)
}

// parseEvent decodes the processor envelope
// {id, type, data.object.{id, metadata.order_id}}, skipping unknown fields.
func parseEvent(payload []byte) (Event, error) {
	var ev Event
	d := jx.DecodeBytes(payload)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			ev.ID = v
			return err
		case "type":
			v, err := d.Str()
			ev.Type = v
			return err
		case "data":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "object" {
					return d.Skip()
				}
				return d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "id":
						v, err := d.Str()
						ev.IntentID = v
						return err
					case "metadata":
						return d.Obj(func(d *jx.Decoder, key string) error {
							if key != "order_id" {
								return d.Skip()
							}
							v, err := d.Str()
							ev.OrderID = v
							return err
						})
					default:
						return d.Skip()
					}
				})
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return Event{}, errors.Wrap(ErrMalformedPayload, err.Error())
	}

	if ev.Type == "" {
		return Event{}, errors.Wrap(ErrMalformedPayload, "missing event type")
	}
	if (ev.Type == EventPaymentSucceeded || ev.Type == EventPaymentFailed) && ev.OrderID == "" {
		return Event{}, errors.Wrap(ErrMalformedPayload, "missing order_id metadata")
	}

	return ev, nil
}
