package broker

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantforge/backtest/events"
	"github.com/quantforge/backtest/instrument"
	"github.com/quantforge/backtest/tick"
)

// OrderEventType enumerates the events the broker emits as an order
// moves through its lifecycle.
type OrderEventType string

const (
	OrderSubmitted       OrderEventType = "SUBMITTED"
	OrderAccepted        OrderEventType = "ACCEPTED"
	OrderFilled          OrderEventType = "FILLED"
	OrderPartiallyFilled OrderEventType = "PARTIALLY_FILLED"
	OrderCanceled        OrderEventType = "CANCELED"
)

// OrderEvent is published on the broker's event bus every time an
// order changes state.
type OrderEvent struct {
	Type   OrderEventType
	Order  *Order
	Reason string
}

var (
	// ErrAlreadyProcessed is returned by Submit when the order is not
	// in the INITIAL state.
	ErrAlreadyProcessed = errors.New("broker: order already processed")
	// ErrNotActive is returned by Cancel when the order is not in
	// active_orders.
	ErrNotActive = errors.New("broker: order is not active")
	// ErrAlreadyFilled is returned by Cancel when the order is
	// terminally filled.
	ErrAlreadyFilled = errors.New("broker: order already filled")
	// ErrMarketOnCloseNotSupported is returned when an on-close market
	// order is requested against an intraday feed.
	ErrMarketOnCloseNotSupported = errors.New("broker: market-on-close not supported on intraday feed")
)

// Broker is the cash/position ledger and order router described in
// the data model. It is registered with the dispatcher as a
// dispatcher.BatchConsumer (OnTicks) and dispatcher.LifecycleConsumer,
// and reacts to every batch the dispatcher pulls from its feeds.
type Broker struct {
	mu sync.Mutex

	cash              decimal.Decimal
	allowNegativeCash bool
	intraday          bool

	positions map[string]decimal.Decimal
	shares    map[string]sharePosition

	activeOrders map[int]*Order
	nextOrderID  int

	fillStrategy FillStrategy
	commission   CommissionModel
	traits       *instrument.Registry

	currentBatch *tick.Batch
	lastTick     map[string]tick.Tick

	started bool

	events *events.Bus[OrderEvent]
}

type sharePosition struct {
	quantity decimal.Decimal
	price    decimal.Decimal
}

// New returns a Broker seeded with initialCash. intraday marks whether
// the feed this broker will be attached to delivers sub-daily ticks
// (controls the market-on-close restriction). Post-process expiry does
// not read this flag; it checks each tick's own frequency.
func New(initialCash decimal.Decimal, intraday bool) *Broker {
	return &Broker{
		cash:         initialCash,
		intraday:     intraday,
		positions:    make(map[string]decimal.Decimal),
		shares:       make(map[string]sharePosition),
		activeOrders: make(map[int]*Order),
		nextOrderID:  1,
		fillStrategy: NewDefaultFillStrategy(),
		commission:   ZeroCommission{},
		traits:       instrument.NewRegistry(),
		lastTick:     make(map[string]tick.Tick),
		events:       events.NewBus[OrderEvent](),
	}
}

// Events returns the bus strategies subscribe to for order updates.
func (b *Broker) Events() *events.Bus[OrderEvent] { return b.events }

// SetFillStrategy overrides the default fill strategy.
func (b *Broker) SetFillStrategy(s FillStrategy) { b.fillStrategy = s }

// GetFillStrategy returns the broker's current fill strategy.
func (b *Broker) GetFillStrategy() FillStrategy { return b.fillStrategy }

// SetCommission overrides the default (zero) commission model.
func (b *Broker) SetCommission(c CommissionModel) { b.commission = c }

// SetAllowNegativeCash toggles whether fills that would drive cash
// negative are permitted.
func (b *Broker) SetAllowNegativeCash(allow bool) { b.allowNegativeCash = allow }

// RegisterInstrumentTraits assigns explicit rounding traits to an
// instrument.
func (b *Broker) RegisterInstrumentTraits(instr string, traits instrument.Traits) {
	b.traits.Register(instr, traits)
}

// GetInstrumentTraits returns integer-rounding traits by default.
func (b *Broker) GetInstrumentTraits(instr string) instrument.Traits {
	return b.traits.Get(instr)
}

// ═══════════════════════════════════════════════════════════════════
// ORDER CONSTRUCTORS -- construction only, do not register.
// ═══════════════════════════════════════════════════════════════════

func newOrder(action Action, instr string, kind Kind, quantity decimal.Decimal, goodTillCanceled, allOrNone bool) *Order {
	return &Order{
		Action:           action,
		Instrument:       instr,
		Kind:             kind,
		Quantity:         quantity,
		Filled:           decimal.Zero,
		GoodTillCanceled: goodTillCanceled,
		AllOrNone:        allOrNone,
		State:            Initial,
	}
}

// CreateMarketOrder builds an unregistered market order. onClose fails
// with ErrMarketOnCloseNotSupported if the broker is attached to an
// intraday feed (market-on-close fills at bid like any market order in
// this engine, so it only makes sense against daily+ feeds).
func (b *Broker) CreateMarketOrder(action Action, instr string, quantity decimal.Decimal, goodTillCanceled, allOrNone, onClose bool) (*Order, error) {
	if onClose && b.intraday {
		return nil, ErrMarketOnCloseNotSupported
	}
	o := newOrder(action, instr, Market, quantity, goodTillCanceled, allOrNone)
	o.OnClose = onClose
	return o, nil
}

// CreateLimitOrder builds an unregistered limit order.
func (b *Broker) CreateLimitOrder(action Action, instr string, quantity, limitPrice decimal.Decimal, goodTillCanceled, allOrNone bool) *Order {
	o := newOrder(action, instr, Limit, quantity, goodTillCanceled, allOrNone)
	o.LimitPrice = &limitPrice
	return o
}

// CreateStopOrder builds an unregistered stop order.
func (b *Broker) CreateStopOrder(action Action, instr string, quantity, stopPrice decimal.Decimal, goodTillCanceled, allOrNone bool) *Order {
	o := newOrder(action, instr, Stop, quantity, goodTillCanceled, allOrNone)
	o.StopPrice = &stopPrice
	return o
}

// CreateStopLimitOrder builds an unregistered stop-limit order.
func (b *Broker) CreateStopLimitOrder(action Action, instr string, quantity, stopPrice, limitPrice decimal.Decimal, goodTillCanceled, allOrNone bool) *Order {
	o := newOrder(action, instr, StopLimit, quantity, goodTillCanceled, allOrNone)
	o.StopPrice = &stopPrice
	o.LimitPrice = &limitPrice
	return o
}

// ═══════════════════════════════════════════════════════════════════
// SUBMISSION / CANCELLATION
// ═══════════════════════════════════════════════════════════════════

// Submit assigns the order an id, transitions it to SUBMITTED, and
// registers it in active_orders. Fails with ErrAlreadyProcessed if the
// order is not INITIAL.
func (b *Broker) Submit(o *Order, at time.Time) error {
	b.mu.Lock()
	if o.State != Initial {
		b.mu.Unlock()
		return ErrAlreadyProcessed
	}

	id := b.nextOrderID
	b.nextOrderID++
	if err := o.submit(id, at); err != nil {
		b.mu.Unlock()
		return err
	}

	b.activeOrders[o.ID] = o
	b.mu.Unlock()

	b.publish(OrderEvent{Type: OrderSubmitted, Order: o})
	return nil
}

// Cancel unregisters o and transitions it to CANCELED with reason
// "user". Fails with ErrNotActive if o is not currently active, or
// ErrAlreadyFilled if it is terminally filled.
func (b *Broker) Cancel(o *Order) error {
	b.mu.Lock()
	if _, ok := b.activeOrders[o.ID]; !ok {
		b.mu.Unlock()
		if o.State == Filled {
			return ErrAlreadyFilled
		}
		return ErrNotActive
	}

	if err := o.cancel("user"); err != nil {
		b.mu.Unlock()
		return err
	}
	delete(b.activeOrders, o.ID)
	b.mu.Unlock()

	b.publish(OrderEvent{Type: OrderCanceled, Order: o, Reason: "user"})
	return nil
}

func (b *Broker) publish(e OrderEvent) {
	b.events.Publish(e)
}

// ═══════════════════════════════════════════════════════════════════
// ACCOUNT QUERIES
// ═══════════════════════════════════════════════════════════════════

// GetCash returns the broker's cash. If includeShort is false, the
// value of short positions (marked at their current bid) is subtracted,
// so short proceeds aren't double-counted as spendable cash.
func (b *Broker) GetCash(includeShort bool) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()

	cash := b.cash
	if includeShort {
		return cash
	}
	for instr, qty := range b.positions {
		if qty.IsNegative() {
			price := b.priceFor(instr)
			cash = cash.Add(qty.Mul(price))
		}
	}
	return cash
}

// GetEquity returns cash plus the mark-to-market value of every held
// position.
func (b *Broker) GetEquity() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()

	equity := b.cash
	for instr, qty := range b.positions {
		equity = equity.Add(qty.Mul(b.priceFor(instr)))
	}
	return equity
}

// priceFor returns the last tick's bid for instr if known, else the
// price seeded via SetShares. Caller must hold b.mu.
func (b *Broker) priceFor(instr string) decimal.Decimal {
	if t, ok := b.lastTick[instr]; ok {
		return t.Bid()
	}
	if sp, ok := b.shares[instr]; ok {
		return sp.price
	}
	return decimal.Zero
}

// ErrAlreadyStarted is returned by SetShares once the dispatcher has
// started this broker -- positions may only be seeded before the run
// begins.
var ErrAlreadyStarted = errors.New("broker: cannot seed shares after start")

// SetShares seeds an opening position before the dispatcher starts.
func (b *Broker) SetShares(instr string, quantity, price decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return ErrAlreadyStarted
	}
	b.shares[instr] = sharePosition{quantity: quantity, price: price}
	b.positions[instr] = quantity
	return nil
}

// OnStart implements dispatcher.LifecycleConsumer: once the dispatcher
// calls it, SetShares starts rejecting further calls.
func (b *Broker) OnStart() {
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
}

// OnFinish implements dispatcher.LifecycleConsumer. The broker has no
// run-end bookkeeping of its own.
func (b *Broker) OnFinish() {}

// OnIdle implements dispatcher.LifecycleConsumer. The broker has
// nothing to do between batches.
func (b *Broker) OnIdle(time.Time) {}

// Positions returns a copy of the current instrument -> signed
// quantity map.
func (b *Broker) Positions() map[string]decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]decimal.Decimal, len(b.positions))
	for k, v := range b.positions {
		out[k] = v
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════
// TICK PROCESSING
// ═══════════════════════════════════════════════════════════════════

// OnTicks is called once per dispatched batch. It snapshots the
// current active orders (mutations during this step -- i.e. new
// submissions -- do not affect this step's cohort, per the
// active-orders snapshot discipline) and processes each against the
// tick for its instrument, in submission order. Map iteration order is
// randomized, so the snapshot is sorted by order ID (assigned
// sequentially at Submit) to keep the processing order -- and
// therefore the emitted event stream and volume/cash rationing --
// deterministic across runs.
func (b *Broker) OnTicks(batch tick.Batch) {
	b.mu.Lock()
	b.fillStrategy.OnTicks(batch)

	snapshot := make([]*Order, 0, len(b.activeOrders))
	for _, o := range b.activeOrders {
		snapshot = append(snapshot, o)
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })

	for _, instr := range batch.Instruments() {
		t, _ := batch.Tick(instr)
		b.lastTick[instr] = t
	}
	cp := batch
	b.currentBatch = &cp
	b.mu.Unlock()

	for _, o := range snapshot {
		t, ok := batch.Tick(o.Instrument)
		if !ok {
			continue
		}
		b.processOrder(o, t)
	}
}

func (b *Broker) processOrder(o *Order, t tick.Tick) {
	b.mu.Lock()
	justAccepted := false
	if o.State == Submitted {
		at := t.DateTime()
		if err := o.accept(at); err != nil {
			b.mu.Unlock()
			return
		}
		justAccepted = true
	}
	active := o.State.Active()
	b.mu.Unlock()

	// Published with the lock released: a subscriber (e.g. a
	// strategy's OnEnterOK hook) may call back into the broker --
	// Submit, Cancel, GetCash -- from within this callback.
	if justAccepted {
		b.publish(OrderEvent{Type: OrderAccepted, Order: o})
	}

	if !active {
		return
	}

	// Pre-process expiry: non-GTC orders die the first tick whose date
	// rolls past the date they were accepted on.
	if b.expirePre(o, t) {
		return
	}

	b.fillOrder(o, t)

	// Post-process expiry: daily+ feeds cancel a same-day non-GTC order
	// once its fill attempt for that day has completed.
	b.expirePost(o, t)
}

func (b *Broker) expirePre(o *Order, t tick.Tick) bool {
	if o.GoodTillCanceled || o.AcceptedAt == nil {
		return false
	}
	if dateOf(t.DateTime()).After(dateOf(*o.AcceptedAt)) {
		b.cancelExpired(o)
		return true
	}
	return false
}

func (b *Broker) expirePost(o *Order, t tick.Tick) {
	if o.GoodTillCanceled || o.AcceptedAt == nil {
		return
	}
	if !t.Frequency().AtLeastDaily() {
		return
	}
	if !o.State.Active() {
		return
	}
	if !dateOf(t.DateTime()).Before(dateOf(*o.AcceptedAt)) {
		b.cancelExpired(o)
	}
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (b *Broker) cancelExpired(o *Order) {
	b.mu.Lock()
	delete(b.activeOrders, o.ID)
	err := o.cancel("Expired")
	b.mu.Unlock()
	if err != nil {
		return
	}
	b.publish(OrderEvent{Type: OrderCanceled, Order: o, Reason: "Expired"})
}

func (b *Broker) fillOrder(o *Order, t tick.Tick) {
	traits := b.GetInstrumentTraits(o.Instrument)
	info, ok := b.fillStrategy.Fill(o, t, traits)
	if !ok {
		return
	}
	b.commit(o, info, t)
}

// commit applies a fill: the order's own state transition is applied
// before the ledger is mutated, so a transition failure (which should
// not happen given the fill strategy only returns fills for active
// orders) leaves cash/positions untouched.
func (b *Broker) commit(o *Order, info FillInfo, t tick.Tick) {
	b.mu.Lock()

	commission := b.commission.Compute(o, info.Price, info.Quantity)
	notional := info.Price.Mul(info.Quantity)
	var cost decimal.Decimal
	if o.Action == Buy {
		cost = notional.Neg()
	} else {
		cost = notional
	}
	cost = cost.Sub(commission)

	newCash := b.cash.Add(cost)
	if newCash.IsNegative() && !b.allowNegativeCash {
		b.mu.Unlock()
		log.Debug().
			Int("order_id", o.ID).
			Str("instrument", o.Instrument).
			Msg("broker: insufficient cash, fill skipped")
		return
	}

	execInfo := ExecutionInfo{
		Price:      info.Price,
		Quantity:   info.Quantity,
		Commission: commission,
		DateTime:   t.DateTime(),
	}
	if err := o.addExecution(execInfo); err != nil {
		b.mu.Unlock()
		return
	}

	b.cash = newCash
	delta := info.Quantity
	if o.Action == Sell {
		delta = delta.Neg()
	}
	b.positions[o.Instrument] = b.positions[o.Instrument].Add(delta)
	if b.positions[o.Instrument].IsZero() {
		delete(b.positions, o.Instrument)
	}

	terminal := o.State == Filled
	if terminal {
		delete(b.activeOrders, o.ID)
	}
	b.mu.Unlock()

	b.fillStrategy.OnOrderFilled(o, execInfo, b.GetInstrumentTraits(o.Instrument))

	if terminal {
		b.publish(OrderEvent{Type: OrderFilled, Order: o})
	} else {
		b.publish(OrderEvent{Type: OrderPartiallyFilled, Order: o})
	}
}
