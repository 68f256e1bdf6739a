// Package broker implements the order state machine, the default fill
// strategy, and the broker ledger: the cash/position accounting engine
// that routes ticks to active orders and orders to the cash/position
// ledger.
package broker

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Action is the side of an order.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// Kind tags which of the four fill policies an order uses. Modeled as
// a flat tagged union (kind-specific fields live directly on Order)
// rather than a type hierarchy — the fill strategy switches on Kind
// instead of double-dispatching into per-kind virtual methods.
type Kind string

const (
	Market    Kind = "MARKET"
	Limit     Kind = "LIMIT"
	Stop      Kind = "STOP"
	StopLimit Kind = "STOP_LIMIT"
)

// State is the order's lifecycle state.
type State string

const (
	Initial         State = "INITIAL"
	Submitted       State = "SUBMITTED"
	Accepted        State = "ACCEPTED"
	PartiallyFilled State = "PARTIALLY_FILLED"
	Filled          State = "FILLED"
	Canceled        State = "CANCELED"
)

// Active reports whether a state is one in which the broker still owns
// the order (SUBMITTED, ACCEPTED, or PARTIALLY_FILLED).
func (s State) Active() bool {
	return s == Submitted || s == Accepted || s == PartiallyFilled
}

// ErrIllegalStateTransition is returned by any Order method that would
// move an order outside its legal transition DAG.
var ErrIllegalStateTransition = errors.New("broker: illegal order state transition")

var legalTransitions = map[State]map[State]bool{
	Initial:         {Submitted: true},
	Submitted:       {Accepted: true, Canceled: true},
	Accepted:        {PartiallyFilled: true, Filled: true, Canceled: true},
	PartiallyFilled: {PartiallyFilled: true, Filled: true, Canceled: true},
}

// ExecutionInfo records a single fill. Only the last execution is kept
// on the order (see design note: the state machine depends only on
// Filled == Quantity, so a full execution history is unnecessary
// baggage on the hot path).
type ExecutionInfo struct {
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Commission decimal.Decimal
	DateTime   time.Time
}

// Order is the central state machine described in the data model.
type Order struct {
	ID         int
	Action     Action
	Instrument string
	Kind       Kind

	Quantity decimal.Decimal
	Filled   decimal.Decimal

	LimitPrice *decimal.Decimal
	StopPrice  *decimal.Decimal
	StopHit    bool

	GoodTillCanceled bool
	AllOrNone        bool
	OnClose          bool

	State State

	SubmittedAt *time.Time
	AcceptedAt  *time.Time

	ExecutionInfo *ExecutionInfo

	// CancelReason is set when State == Canceled.
	CancelReason string
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

func (o *Order) transition(to State) error {
	allowed, ok := legalTransitions[o.State]
	if !ok || !allowed[to] {
		return ErrIllegalStateTransition
	}
	o.State = to
	return nil
}

// submit moves an order from INITIAL to SUBMITTED, assigning its id
// and submission timestamp. Broker-internal: strategies never call
// this directly, they call Broker.Submit.
func (o *Order) submit(id int, at time.Time) error {
	if err := o.transition(Submitted); err != nil {
		return err
	}
	o.ID = id
	o.SubmittedAt = &at
	return nil
}

// accept moves SUBMITTED to ACCEPTED.
func (o *Order) accept(at time.Time) error {
	if err := o.transition(Accepted); err != nil {
		return err
	}
	o.AcceptedAt = &at
	return nil
}

// addExecution records a fill (adding to Filled and replacing
// ExecutionInfo), transitioning to FILLED when the order
// is now fully filled, PARTIALLY_FILLED otherwise. Applied before any
// ledger mutation so a transition failure leaves cash/positions
// untouched.
func (o *Order) addExecution(info ExecutionInfo) error {
	next := PartiallyFilled
	filled := o.Filled.Add(info.Quantity)
	if filled.GreaterThanOrEqual(o.Quantity) {
		next = Filled
	}
	if err := o.transition(next); err != nil {
		return err
	}
	o.Filled = filled
	o.ExecutionInfo = &info
	return nil
}

// cancel moves any active state to CANCELED, recording reason.
func (o *Order) cancel(reason string) error {
	if err := o.transition(Canceled); err != nil {
		return err
	}
	o.CancelReason = reason
	return nil
}
