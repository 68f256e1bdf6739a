package broker

import (
	"github.com/shopspring/decimal"

	"github.com/quantforge/backtest/tick"
)

// TriggerPolicy decides whether a limit or stop threshold has been
// penetrated by the current tick and, if so, what price the order
// should execute or trigger at.
//
// A source's limit_trigger/stop_trigger can be read as returning bid
// unconditionally, ignoring the threshold and action entirely. Two
// policies are provided so callers can pick either behavior; the
// broker defaults to PenetrationTriggerPolicy, the documented
// semantics.
type TriggerPolicy interface {
	// LimitTrigger returns the execution price and whether the limit
	// has been penetrated for a BUY/SELL at limitPrice against t.
	LimitTrigger(action Action, limitPrice decimal.Decimal, t tick.Tick) (decimal.Decimal, bool)
	// StopTrigger returns the trigger price and whether the stop has
	// been penetrated for a BUY/SELL at stopPrice against t.
	StopTrigger(action Action, stopPrice decimal.Decimal, t tick.Tick) (decimal.Decimal, bool)
}

// LiteralTriggerPolicy reproduces the source behavior verbatim: both
// triggers fire on every tick, always returning bid regardless of the
// threshold or action.
type LiteralTriggerPolicy struct{}

func (LiteralTriggerPolicy) LimitTrigger(_ Action, _ decimal.Decimal, t tick.Tick) (decimal.Decimal, bool) {
	return t.Bid(), true
}

func (LiteralTriggerPolicy) StopTrigger(_ Action, _ decimal.Decimal, t tick.Tick) (decimal.Decimal, bool) {
	return t.Bid(), true
}

// PenetrationTriggerPolicy implements the documented semantics: a
// BUY-limit fires when bid <= limitPrice, a SELL-limit when bid >=
// limitPrice; a BUY-stop fires when bid >= stopPrice, a SELL-stop when
// bid <= stopPrice.
type PenetrationTriggerPolicy struct{}

func (PenetrationTriggerPolicy) LimitTrigger(action Action, limitPrice decimal.Decimal, t tick.Tick) (decimal.Decimal, bool) {
	bid := t.Bid()
	switch action {
	case Buy:
		if bid.LessThanOrEqual(limitPrice) {
			return bid, true
		}
	case Sell:
		if bid.GreaterThanOrEqual(limitPrice) {
			return bid, true
		}
	}
	return decimal.Zero, false
}

func (PenetrationTriggerPolicy) StopTrigger(action Action, stopPrice decimal.Decimal, t tick.Tick) (decimal.Decimal, bool) {
	bid := t.Bid()
	switch action {
	case Buy:
		if bid.GreaterThanOrEqual(stopPrice) {
			return bid, true
		}
	case Sell:
		if bid.LessThanOrEqual(stopPrice) {
			return bid, true
		}
	}
	return decimal.Zero, false
}
