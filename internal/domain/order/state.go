package order

// PaymentState tracks settlement progress for an order. It is the only
// mutable part of an order and only ever moves forward: nothing re-enters
// Pending and nothing leaves Paid.
type PaymentState string

const (
	StatePending         PaymentState = "pending"
	StateAwaitingPayment PaymentState = "awaiting_payment"
	StatePaid            PaymentState = "paid"
	StateFailed          PaymentState = "failed"
)

// Terminal reports whether no further transition can leave the state.
func (s PaymentState) Terminal() bool {
	return s == StatePaid
}

// CanTransition reports whether moving from s to next is a legal step of the
// state machine. Failed orders may re-enter AwaitingPayment through a fresh
// payment intent.
func (s PaymentState) CanTransition(next PaymentState) bool {
	switch s {
	case StatePending:
		return next == StateAwaitingPayment
	case StateAwaitingPayment:
		return next == StatePaid || next == StateFailed
	case StateFailed:
		return next == StateAwaitingPayment
	case StatePaid:
		return false
	}
	return false
}
