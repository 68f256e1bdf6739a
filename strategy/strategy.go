// Package strategy defines the strategy-facing interface and the
// Context helper strategies use to route orders through a Broker, plus
// an Analyzer extension point for equity-curve and trade-journal
// observers.
package strategy

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantforge/backtest/broker"
	"github.com/quantforge/backtest/tick"
)

// Strategy is implemented by user trading logic. OnTicks is the only
// mandatory method; all others are optional lifecycle hooks a strategy
// may override by embedding BaseStrategy.
type Strategy interface {
	OnTicks(ctx *Context, batch tick.Batch)
}

// Starter, Finisher, and Idler are optional lifecycle hooks the
// dispatcher's LifecycleConsumer adapter probes for via type
// assertion, grounded on an OnStart/OnStop-shaped strategy lifecycle.
type Starter interface{ OnStart(ctx *Context) }
type Finisher interface{ OnFinish(ctx *Context) }
type Idler interface{ OnIdle(ctx *Context, now time.Time) }

// OrderObserver is an optional hook a strategy implements to react to
// its own order's lifecycle events.
type OrderObserver interface {
	OnOrderUpdated(ctx *Context, event broker.OrderEvent)
	OnEnterOK(ctx *Context, order *broker.Order)
	OnEnterCanceled(ctx *Context, order *broker.Order)
	OnExitOK(ctx *Context, order *broker.Order)
	OnExitCanceled(ctx *Context, order *broker.Order)
}

// BaseStrategy supplies no-op implementations of every optional hook
// so concrete strategies can embed it and override only what they
// need, matching a common embeddable base-strategy idiom.
type BaseStrategy struct{}

func (BaseStrategy) OnStart(*Context)                           {}
func (BaseStrategy) OnFinish(*Context)                          {}
func (BaseStrategy) OnIdle(*Context, time.Time)                 {}
func (BaseStrategy) OnOrderUpdated(*Context, broker.OrderEvent) {}
func (BaseStrategy) OnEnterOK(*Context, *broker.Order)          {}
func (BaseStrategy) OnEnterCanceled(*Context, *broker.Order)    {}
func (BaseStrategy) OnExitOK(*Context, *broker.Order)           {}
func (BaseStrategy) OnExitCanceled(*Context, *broker.Order)     {}

// Context is the non-owning handle a strategy uses to submit orders
// and inspect account state. It never outlives the dispatcher run that
// created it.
type Context struct {
	br  *broker.Broker
	now time.Time
}

// NewContext returns a Context wrapping br, grounded on an engine
// passing itself into strategy callbacks rather than strategies
// reaching for package-level state.
func NewContext(br *broker.Broker) *Context {
	return &Context{br: br}
}

func (c *Context) setNow(now time.Time) { c.now = now }

// Now returns the datetime of the batch currently being processed.
func (c *Context) Now() time.Time { return c.now }

// Broker returns the underlying broker, for callers that need an
// escape hatch beyond the order-constructor helpers below.
func (c *Context) Broker() *broker.Broker { return c.br }

// Positions returns the current instrument -> signed quantity map.
func (c *Context) Positions() map[string]decimal.Decimal { return c.br.Positions() }

// Cash returns spendable cash (short proceeds excluded).
func (c *Context) Cash() decimal.Decimal { return c.br.GetCash(false) }

// Equity returns cash plus mark-to-market position value.
func (c *Context) Equity() decimal.Decimal { return c.br.GetEquity() }

// EnterMarket constructs and submits a market order for instr.
func (c *Context) EnterMarket(action broker.Action, instr string, quantity decimal.Decimal, goodTillCanceled, allOrNone, onClose bool) (*broker.Order, error) {
	o, err := c.br.CreateMarketOrder(action, instr, quantity, goodTillCanceled, allOrNone, onClose)
	if err != nil {
		return nil, err
	}
	if err := c.br.Submit(o, c.now); err != nil {
		return nil, err
	}
	return o, nil
}

// EnterLimit constructs and submits a limit order for instr.
func (c *Context) EnterLimit(action broker.Action, instr string, quantity, limitPrice decimal.Decimal, goodTillCanceled, allOrNone bool) (*broker.Order, error) {
	o := c.br.CreateLimitOrder(action, instr, quantity, limitPrice, goodTillCanceled, allOrNone)
	if err := c.br.Submit(o, c.now); err != nil {
		return nil, err
	}
	return o, nil
}

// EnterStop constructs and submits a stop order for instr.
func (c *Context) EnterStop(action broker.Action, instr string, quantity, stopPrice decimal.Decimal, goodTillCanceled, allOrNone bool) (*broker.Order, error) {
	o := c.br.CreateStopOrder(action, instr, quantity, stopPrice, goodTillCanceled, allOrNone)
	if err := c.br.Submit(o, c.now); err != nil {
		return nil, err
	}
	return o, nil
}

// EnterStopLimit constructs and submits a stop-limit order for instr.
func (c *Context) EnterStopLimit(action broker.Action, instr string, quantity, stopPrice, limitPrice decimal.Decimal, goodTillCanceled, allOrNone bool) (*broker.Order, error) {
	o := c.br.CreateStopLimitOrder(action, instr, quantity, stopPrice, limitPrice, goodTillCanceled, allOrNone)
	if err := c.br.Submit(o, c.now); err != nil {
		return nil, err
	}
	return o, nil
}

// Cancel cancels a previously submitted order.
func (c *Context) Cancel(o *broker.Order) error {
	return c.br.Cancel(o)
}

// ErrAnalyzerNameConflict is returned by AttachAnalyzer when an
// analyzer with the same Name() is already attached.
var ErrAnalyzerNameConflict = errors.New("strategy: analyzer name already attached")

// Analyzer observes a run without participating in order routing --
// equity-curve recorders and trade journals implement this.
type Analyzer interface {
	Name() string
	OnTicks(batch tick.Batch, br *broker.Broker)
	OnOrderEvent(event broker.OrderEvent)
	OnFinish(br *broker.Broker)
}

// Runner wires a Strategy, its attached Analyzers, and a Broker
// together into a single dispatcher.BatchConsumer +
// dispatcher.LifecycleConsumer, subscribing to the broker's order
// event bus so OrderObserver hooks and analyzers see every fill.
type Runner struct {
	strategy  Strategy
	ctx       *Context
	analyzers map[string]Analyzer
	order     []string
}

// NewRunner returns a Runner driving strategy against br. It
// subscribes to br's order event bus immediately, so it must be
// constructed before the dispatcher starts the run.
func NewRunner(strategy Strategy, br *broker.Broker) *Runner {
	r := &Runner{
		strategy:  strategy,
		ctx:       NewContext(br),
		analyzers: make(map[string]Analyzer),
	}
	br.Events().Subscribe(r.onOrderEvent)
	return r
}

// AttachAnalyzer registers analyzer under its own Name(), failing with
// ErrAnalyzerNameConflict on a duplicate name.
func (r *Runner) AttachAnalyzer(a Analyzer) error {
	if _, exists := r.analyzers[a.Name()]; exists {
		return ErrAnalyzerNameConflict
	}
	r.analyzers[a.Name()] = a
	r.order = append(r.order, a.Name())
	return nil
}

func (r *Runner) onOrderEvent(e broker.OrderEvent) {
	for _, name := range r.order {
		r.analyzers[name].OnOrderEvent(e)
	}

	obs, ok := r.strategy.(OrderObserver)
	if !ok {
		return
	}
	obs.OnOrderUpdated(r.ctx, e)
	switch e.Type {
	case broker.OrderAccepted:
		obs.OnEnterOK(r.ctx, e.Order)
	case broker.OrderCanceled:
		if e.Order.Filled.IsZero() {
			obs.OnEnterCanceled(r.ctx, e.Order)
		} else {
			obs.OnExitCanceled(r.ctx, e.Order)
		}
	case broker.OrderFilled:
		if e.Order.Action == broker.Sell {
			obs.OnExitOK(r.ctx, e.Order)
		}
	}
}

// OnTicks implements dispatcher.BatchConsumer. It must be registered
// with the dispatcher AFTER the broker so fills from this batch are
// already visible to the strategy.
func (r *Runner) OnTicks(batch tick.Batch) {
	r.ctx.setNow(batch.DateTime())
	for _, name := range r.order {
		r.analyzers[name].OnTicks(batch, r.ctx.br)
	}
	r.strategy.OnTicks(r.ctx, batch)
}

// OnStart implements dispatcher.LifecycleConsumer.
func (r *Runner) OnStart() {
	if s, ok := r.strategy.(Starter); ok {
		s.OnStart(r.ctx)
	}
}

// OnFinish implements dispatcher.LifecycleConsumer.
func (r *Runner) OnFinish() {
	if s, ok := r.strategy.(Finisher); ok {
		s.OnFinish(r.ctx)
	}
	for _, name := range r.order {
		r.analyzers[name].OnFinish(r.ctx.br)
	}
}

// OnIdle implements dispatcher.LifecycleConsumer.
func (r *Runner) OnIdle(now time.Time) {
	if s, ok := r.strategy.(Idler); ok {
		s.OnIdle(r.ctx, now)
	}
}
