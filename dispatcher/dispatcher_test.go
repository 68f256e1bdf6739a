package dispatcher

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/backtest/tick"
)

type fakeSource struct {
	batches []tick.Batch
	idx     int
	started bool
	stopped bool
}

func (f *fakeSource) Start()      { f.started = true }
func (f *fakeSource) Stop()       { f.stopped = true }
func (f *fakeSource) EOF() bool   { return f.idx >= len(f.batches) }
func (f *fakeSource) PeekDatetime() (time.Time, bool) {
	if f.EOF() {
		return time.Time{}, false
	}
	return f.batches[f.idx].DateTime(), true
}
func (f *fakeSource) NextTicks() (tick.Batch, error) {
	b := f.batches[f.idx]
	f.idx++
	return b, nil
}

func mkBatch(instr string, at time.Time) tick.Batch {
	b, err := tick.NewBatch(map[string]tick.Tick{
		instr: tick.New(instr, at, decimal.NewFromInt(10), decimal.NewFromInt(11), tick.Second),
	})
	if err != nil {
		panic(err)
	}
	return b
}

type recordingConsumer struct {
	seen     []time.Time
	started  bool
	finished bool
}

func (c *recordingConsumer) OnTicks(b tick.Batch) { c.seen = append(c.seen, b.DateTime()) }
func (c *recordingConsumer) OnStart()             { c.started = true }
func (c *recordingConsumer) OnFinish()            { c.finished = true }
func (c *recordingConsumer) OnIdle(time.Time)     {}

func TestDispatcherFansOutInRegistrationOrder(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)
	src := &fakeSource{batches: []tick.Batch{mkBatch("AAA", t1), mkBatch("AAA", t2)}}

	var order []string
	first := &recordingConsumer{}
	second := &recordingConsumer{}
	wrappedFirst := consumerFunc(func(b tick.Batch) {
		order = append(order, "broker")
		first.OnTicks(b)
	})
	wrappedSecond := consumerFunc(func(b tick.Batch) {
		order = append(order, "strategy")
		second.OnTicks(b)
	})

	d := New()
	d.AddSource(src)
	d.AddConsumer(wrappedFirst)
	d.AddConsumer(wrappedSecond)

	require.NoError(t, d.Run())

	assert.Equal(t, []time.Time{t1, t2}, first.seen)
	assert.Equal(t, []time.Time{t1, t2}, second.seen)
	assert.Equal(t, []string{"broker", "strategy", "broker", "strategy"}, order)
	assert.True(t, src.started)
	assert.True(t, src.stopped)
}

type consumerFunc func(tick.Batch)

func (f consumerFunc) OnTicks(b tick.Batch) { f(b) }

func TestDispatcherInvokesLifecycleHooks(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{batches: []tick.Batch{mkBatch("AAA", t1)}}
	consumer := &recordingConsumer{}

	d := New()
	d.AddSource(src)
	d.AddConsumer(consumer)

	require.NoError(t, d.Run())
	assert.True(t, consumer.started)
	assert.True(t, consumer.finished)
}

func TestDispatcherReturnsNoFeedDataWithNoSources(t *testing.T) {
	d := New()
	err := d.Run()
	assert.ErrorIs(t, err, ErrNoFeedData)
}

func TestDispatcherStrictlyIncreasingTimestamps(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	t3 := t2.Add(time.Minute)
	src := &fakeSource{batches: []tick.Batch{mkBatch("AAA", t1), mkBatch("AAA", t2), mkBatch("AAA", t3)}}

	var seen []time.Time
	d := New()
	d.AddSource(src)
	d.AddConsumer(consumerFunc(func(b tick.Batch) { seen = append(seen, b.DateTime()) }))
	require.NoError(t, d.Run())

	for i := 1; i < len(seen); i++ {
		assert.True(t, seen[i].After(seen[i-1]), "emitted batch timestamps must be strictly increasing")
	}
}
