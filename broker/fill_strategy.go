package broker

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantforge/backtest/instrument"
	"github.com/quantforge/backtest/tick"
)

// FillInfo is the price/size pair a fill strategy returns when an
// order is executable this tick.
type FillInfo struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// FillStrategy decides, per tick, whether and how much of an order
// fills. Implementations are notified of every incoming batch so they
// can reset per-step volume bookkeeping.
type FillStrategy interface {
	OnTicks(batch tick.Batch)
	Fill(order *Order, t tick.Tick, traits instrument.Traits) (FillInfo, bool)
	OnOrderFilled(order *Order, info ExecutionInfo, traits instrument.Traits)
}

// DefaultFillStrategyOption configures a DefaultFillStrategy at
// construction.
type DefaultFillStrategyOption func(*DefaultFillStrategy)

// WithVolumeLimit rations fill size to a fraction of each tick's
// available volume, in (0, 1]. Absent, volume is not rationed.
func WithVolumeLimit(limit decimal.Decimal) DefaultFillStrategyOption {
	return func(s *DefaultFillStrategy) { s.volumeLimit = &limit }
}

// WithSlippage overrides the default NoSlippage model.
func WithSlippage(model SlippageModel) DefaultFillStrategyOption {
	return func(s *DefaultFillStrategy) { s.slippage = model }
}

// WithTriggerPolicy overrides the default PenetrationTriggerPolicy.
func WithTriggerPolicy(policy TriggerPolicy) DefaultFillStrategyOption {
	return func(s *DefaultFillStrategy) { s.triggers = policy }
}

// DefaultFillStrategy implements the fill-size algorithm and the four
// per-kind fill policies a broker uses out of the box.
type DefaultFillStrategy struct {
	volumeLimit *decimal.Decimal
	slippage    SlippageModel
	triggers    TriggerPolicy

	volumeLeft map[string]decimal.Decimal
	volumeUsed map[string]decimal.Decimal
}

// NewDefaultFillStrategy returns a DefaultFillStrategy with no
// volume rationing, identity slippage, and penetration-based triggers,
// as overridden by opts.
func NewDefaultFillStrategy(opts ...DefaultFillStrategyOption) *DefaultFillStrategy {
	s := &DefaultFillStrategy{
		slippage:   NoSlippage{},
		triggers:   PenetrationTriggerPolicy{},
		volumeLeft: make(map[string]decimal.Decimal),
		volumeUsed: make(map[string]decimal.Decimal),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnTicks resets per-instrument volume state for the batch: volumeUsed
// to zero, and volumeLeft to the tick's available volume (unbounded
// for TRADE-frequency ticks, else tick volume times the configured
// fraction).
func (s *DefaultFillStrategy) OnTicks(batch tick.Batch) {
	for _, instr := range batch.Instruments() {
		t, _ := batch.Tick(instr)
		s.volumeUsed[instr] = decimal.Zero

		available := instrument.UnboundedVolume
		if s.volumeLimit != nil && t.Frequency() != tick.Trade {
			available = available.Mul(*s.volumeLimit)
		}
		s.volumeLeft[instr] = available
	}
}

// fillSize implements the order-book-agnostic fill-size algorithm used
// by every order kind: remaining quantity, clamped by volume rationing
// and all-or-none semantics.
func (s *DefaultFillStrategy) fillSize(order *Order, traits instrument.Traits) decimal.Decimal {
	remaining := order.Remaining()

	max := remaining
	if s.volumeLimit != nil {
		left, ok := s.volumeLeft[order.Instrument]
		if !ok {
			left = decimal.Zero
		}
		max = traits.RoundQuantity(left)
	}

	if order.AllOrNone {
		if remaining.LessThanOrEqual(max) {
			return remaining
		}
		return decimal.Zero
	}

	if max.LessThan(remaining) {
		return max
	}
	return remaining
}

func (s *DefaultFillStrategy) recordFill(instr string, qty decimal.Decimal, traits instrument.Traits) {
	left, ok := s.volumeLeft[instr]
	if !ok {
		left = decimal.Zero
	}
	used, ok := s.volumeUsed[instr]
	if !ok {
		used = decimal.Zero
	}
	s.volumeLeft[instr] = traits.RoundQuantity(left.Sub(qty))
	s.volumeUsed[instr] = traits.RoundQuantity(used.Add(qty))
}

// Fill dispatches to the per-kind fill policy for order.Kind.
func (s *DefaultFillStrategy) Fill(order *Order, t tick.Tick, traits instrument.Traits) (FillInfo, bool) {
	size := s.fillSize(order, traits)
	if size.IsZero() {
		log.Debug().
			Int("order_id", order.ID).
			Str("instrument", order.Instrument).
			Msg("fill strategy: zero fill size, no fill")
		return FillInfo{}, false
	}

	var info FillInfo
	var ok bool
	switch order.Kind {
	case Market:
		info, ok = s.fillMarket(order, t, size)
	case Limit:
		info, ok = s.fillLimit(order, t, size)
	case Stop:
		info, ok = s.fillStop(order, t, size)
	case StopLimit:
		info, ok = s.fillStopLimit(order, t, size)
	}

	return info, ok
}

// fillMarket fills at bid, applying slippage outside TRADE frequency.
// Market-on-close orders use bid like any other market order in this
// engine -- no separate closing price is modeled.
func (s *DefaultFillStrategy) fillMarket(order *Order, t tick.Tick, size decimal.Decimal) (FillInfo, bool) {
	price := t.Bid()
	if t.Frequency() != tick.Trade {
		price = s.slippage.AdjustedPrice(order, price, size, t, s.volumeUsed[order.Instrument])
	}
	return FillInfo{Price: price, Quantity: size}, true
}

func (s *DefaultFillStrategy) fillLimit(order *Order, t tick.Tick, size decimal.Decimal) (FillInfo, bool) {
	if order.LimitPrice == nil {
		return FillInfo{}, false
	}
	price, ok := s.triggers.LimitTrigger(order.Action, *order.LimitPrice, t)
	if !ok {
		return FillInfo{}, false
	}
	return FillInfo{Price: price, Quantity: size}, true
}

func (s *DefaultFillStrategy) fillStop(order *Order, t tick.Tick, size decimal.Decimal) (FillInfo, bool) {
	if order.StopPrice == nil {
		return FillInfo{}, false
	}

	justTriggered := false
	if !order.StopHit {
		_, triggered := s.triggers.StopTrigger(order.Action, *order.StopPrice, t)
		order.StopHit = triggered
		if !triggered {
			return FillInfo{}, false
		}
		justTriggered = true
	}

	// price = the trigger price if the stop just fired this tick, else
	// the open price -- in this engine, the bid (only top-of-book is
	// modeled).
	var price decimal.Decimal
	if justTriggered {
		price, _ = s.triggers.StopTrigger(order.Action, *order.StopPrice, t)
	} else {
		price = t.Bid()
	}
	if t.Frequency() != tick.Trade {
		price = s.slippage.AdjustedPrice(order, price, size, t, s.volumeUsed[order.Instrument])
	}
	return FillInfo{Price: price, Quantity: size}, true
}

func (s *DefaultFillStrategy) fillStopLimit(order *Order, t tick.Tick, size decimal.Decimal) (FillInfo, bool) {
	if order.StopPrice == nil || order.LimitPrice == nil {
		return FillInfo{}, false
	}

	justTriggered := false
	if !order.StopHit {
		_, triggered := s.triggers.StopTrigger(order.Action, *order.StopPrice, t)
		order.StopHit = triggered
		justTriggered = triggered
	}
	if !order.StopHit {
		return FillInfo{}, false
	}

	limitPrice, ok := s.triggers.LimitTrigger(order.Action, *order.LimitPrice, t)
	if !ok {
		return FillInfo{}, false
	}

	price := limitPrice
	if justTriggered {
		stopPrice, _ := s.triggers.StopTrigger(order.Action, *order.StopPrice, t)
		if order.Action == Buy {
			price = decimal.Min(stopPrice, *order.LimitPrice)
		} else {
			price = decimal.Max(stopPrice, *order.LimitPrice)
		}
	}
	return FillInfo{Price: price, Quantity: size}, true
}

// OnOrderFilled charges the execution against this step's volume
// budget. The broker only calls this after commit has accepted the
// fill, so a cash-skipped fill never rations volume away from other
// orders in the same step.
func (s *DefaultFillStrategy) OnOrderFilled(order *Order, info ExecutionInfo, traits instrument.Traits) {
	s.recordFill(order.Instrument, info.Quantity, traits)
}
