package broker

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/backtest/tick"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func batchAt(at time.Time, freq tick.Frequency, quotes map[string][2]float64) tick.Batch {
	m := make(map[string]tick.Tick, len(quotes))
	for instr, q := range quotes {
		m[instr] = tick.New(instr, at, d(q[0]), d(q[1]), freq)
	}
	b, err := tick.NewBatch(m)
	if err != nil {
		panic(err)
	}
	return b
}

// Scenario 1: market BUY fills at bid, no slippage on TRADE frequency.
func TestMarketBuyFillsAtBid(t *testing.T) {
	br := New(d(10000), true)
	t1 := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	batch := batchAt(t1, tick.Trade, map[string][2]float64{"AAA": {10.0, 10.1}})

	order, err := br.CreateMarketOrder(Buy, "AAA", d(100), true, false, false)
	require.NoError(t, err)
	require.NoError(t, br.Submit(order, t1))
	assert.Equal(t, Submitted, order.State)

	br.OnTicks(batch)

	assert.Equal(t, Filled, order.State)
	require.NotNil(t, order.ExecutionInfo)
	assert.True(t, order.ExecutionInfo.Price.Equal(d(10.0)))
	assert.True(t, order.ExecutionInfo.Quantity.Equal(d(100)))
	assert.True(t, br.GetCash(true).Equal(d(9000)))
	assert.True(t, br.Positions()["AAA"].Equal(d(100)))
}

// Scenario 2: limit BUY fires under the penetration policy whenever
// bid <= limit_price, the default trigger policy.
func TestLimitBuyFillsWhenPenetrated(t *testing.T) {
	br := New(d(10000), true)
	t1 := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	order := br.CreateLimitOrder(Buy, "AAA", d(50), d(10), true, false)
	require.NoError(t, br.Submit(order, t1))

	br.OnTicks(batchAt(t1, tick.Second, map[string][2]float64{"AAA": {11, 11.1}}))
	assert.Equal(t, Accepted, order.State, "bid 11 > limit 10, should not fill yet")

	br.OnTicks(batchAt(t2, tick.Second, map[string][2]float64{"AAA": {9, 9.1}}))
	assert.Equal(t, Filled, order.State)
	assert.True(t, order.ExecutionInfo.Price.Equal(d(9)))
}

// Scenario 2b: LiteralTriggerPolicy reproduces the source's
// always-fire-on-bid behavior for callers who opt into it.
func TestLimitBuyLiteralPolicyFillsImmediately(t *testing.T) {
	br := New(d(10000), true)
	br.SetFillStrategy(NewDefaultFillStrategy(WithTriggerPolicy(LiteralTriggerPolicy{})))
	t1 := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

	order := br.CreateLimitOrder(Buy, "AAA", d(50), d(10), true, false)
	require.NoError(t, br.Submit(order, t1))

	br.OnTicks(batchAt(t1, tick.Second, map[string][2]float64{"AAA": {11, 11.1}}))
	assert.Equal(t, Filled, order.State)
	assert.True(t, order.ExecutionInfo.Price.Equal(d(11)))
}

// Scenario 3: a non-GTC order accepted on day D is canceled on or
// before the first tick whose date is after D.
func TestNonGTCOrderExpires(t *testing.T) {
	br := New(d(10000), false)
	t1 := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	t2 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

	order := br.CreateLimitOrder(Buy, "AAA", d(50), d(1), false, false)
	require.NoError(t, br.Submit(order, t1))

	br.OnTicks(batchAt(t1, tick.Day, map[string][2]float64{"AAA": {100, 100.1}}))
	assert.Equal(t, Canceled, order.State, "non-GTC order should expire same-day on a daily feed after its fill attempt")
	assert.Equal(t, "Expired", order.CancelReason)

	order2 := br.CreateLimitOrder(Buy, "AAA", d(50), d(1), false, false)
	require.NoError(t, br.Submit(order2, t1))
	require.NoError(t, order2.accept(t1))

	br.OnTicks(batchAt(t2, tick.Day, map[string][2]float64{"AAA": {100, 100.1}}))
	assert.Equal(t, Canceled, order2.State)
}

// Scenario 4: a stop order only fills once its trigger is penetrated.
func TestStopOrderTriggersThenFills(t *testing.T) {
	br := New(d(10000), true)
	t1 := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	order := br.CreateStopOrder(Buy, "AAA", d(10), d(15), true, false)
	require.NoError(t, br.Submit(order, t1))

	br.OnTicks(batchAt(t1, tick.Second, map[string][2]float64{"AAA": {14, 14.1}}))
	assert.False(t, order.StopHit)
	assert.Equal(t, Accepted, order.State)

	br.OnTicks(batchAt(t2, tick.Second, map[string][2]float64{"AAA": {16, 16.1}}))
	assert.True(t, order.StopHit)
	assert.Equal(t, Filled, order.State)
	assert.True(t, order.ExecutionInfo.Price.Equal(d(16)))
	assert.True(t, order.ExecutionInfo.Quantity.Equal(d(10)))
}

// Scenario 5: volume rationing plus all-or-none leaves the second
// order unfilled when there isn't enough volume left.
func TestVolumeCapWithAllOrNone(t *testing.T) {
	br := New(d(1000000), true)
	br.SetFillStrategy(NewDefaultFillStrategy(WithVolumeLimit(d(0.01))))
	// UnboundedVolume (10000) * 0.01 = 100 available per instrument this step.
	t1 := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

	o1, err := br.CreateMarketOrder(Buy, "AAA", d(80), true, false, false)
	require.NoError(t, err)
	require.NoError(t, br.Submit(o1, t1))

	o2, err := br.CreateMarketOrder(Buy, "AAA", d(80), true, true, false)
	require.NoError(t, err)
	require.NoError(t, br.Submit(o2, t1))

	br.OnTicks(batchAt(t1, tick.Second, map[string][2]float64{"AAA": {10, 10.1}}))

	assert.Equal(t, Filled, o1.State)
	assert.True(t, o1.ExecutionInfo.Quantity.Equal(d(80)))

	assert.Equal(t, Accepted, o2.State, "all-or-none order should remain active when only 20 of volume is left for 80 remaining")
}

// Scenario 6: insufficient cash leaves the order active and untouched.
func TestInsufficientCashSkipsFill(t *testing.T) {
	br := New(d(50), true)
	t1 := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

	order, err := br.CreateMarketOrder(Buy, "AAA", d(10), true, false, false)
	require.NoError(t, err)
	require.NoError(t, br.Submit(order, t1))

	br.OnTicks(batchAt(t1, tick.Trade, map[string][2]float64{"AAA": {10, 10.1}}))

	assert.Equal(t, Accepted, order.State)
	assert.True(t, br.GetCash(true).Equal(d(50)))
	assert.Nil(t, order.ExecutionInfo)
}

func TestCancelRejectsTerminalOrders(t *testing.T) {
	br := New(d(10000), true)
	t1 := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

	order, err := br.CreateMarketOrder(Buy, "AAA", d(100), true, false, false)
	require.NoError(t, err)
	require.NoError(t, br.Submit(order, t1))
	br.OnTicks(batchAt(t1, tick.Trade, map[string][2]float64{"AAA": {10, 10.1}}))
	require.Equal(t, Filled, order.State)

	err = br.Cancel(order)
	assert.ErrorIs(t, err, ErrAlreadyFilled)
}

func TestSubmitRejectsAlreadyProcessedOrder(t *testing.T) {
	br := New(d(10000), true)
	t1 := time.Now()

	order, err := br.CreateMarketOrder(Buy, "AAA", d(100), true, false, false)
	require.NoError(t, err)
	require.NoError(t, br.Submit(order, t1))

	err = br.Submit(order, t1)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestMarketOnCloseRejectedOnIntradayFeed(t *testing.T) {
	br := New(d(10000), true)
	_, err := br.CreateMarketOrder(Buy, "AAA", d(100), true, false, true)
	assert.ErrorIs(t, err, ErrMarketOnCloseNotSupported)
}

func TestOrderIDsAreSequential(t *testing.T) {
	br := New(d(10000), true)
	t1 := time.Now()

	o1, _ := br.CreateMarketOrder(Buy, "AAA", d(1), true, false, false)
	o2, _ := br.CreateMarketOrder(Buy, "AAA", d(1), true, false, false)
	require.NoError(t, br.Submit(o1, t1))
	require.NoError(t, br.Submit(o2, t1))

	assert.Equal(t, 1, o1.ID)
	assert.Equal(t, 2, o2.ID)
}

// Orders submitted during a step are not processed until the next step.
func TestOrdersSubmittedDuringStepWaitUntilNextStep(t *testing.T) {
	br := New(d(10000), true)
	t1 := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	submittedDuringStep := false
	var late *Order
	br.Events().Subscribe(func(e OrderEvent) {
		if e.Type == OrderAccepted && !submittedDuringStep {
			submittedDuringStep = true
			o, err := br.CreateMarketOrder(Buy, "AAA", d(1), true, false, false)
			require.NoError(t, err)
			require.NoError(t, br.Submit(o, t1))
			late = o
		}
	})

	first, err := br.CreateMarketOrder(Buy, "AAA", d(1), true, false, false)
	require.NoError(t, err)
	require.NoError(t, br.Submit(first, t1))

	br.OnTicks(batchAt(t1, tick.Trade, map[string][2]float64{"AAA": {10, 10.1}}))
	assert.Equal(t, Filled, first.State)
	require.NotNil(t, late)
	assert.Equal(t, Submitted, late.State, "order submitted mid-step must not be in this step's cohort")

	br.OnTicks(batchAt(t2, tick.Trade, map[string][2]float64{"AAA": {10, 10.1}}))
	assert.Equal(t, Filled, late.State)
}

func TestGetEquityUsesSeededSharePriceBeforeAnyTick(t *testing.T) {
	br := New(d(1000), true)
	require.NoError(t, br.SetShares("AAA", d(10), d(5)))

	assert.True(t, br.GetEquity().Equal(d(1050)))
}
