// Package feed implements the tick feed multiplexer: an in-memory
// per-instrument tick store with deterministic, time-merged
// iteration, plus a text-file loader and a couple of example tick
// filters.
package feed

import (
	"errors"
	"sort"
	"time"

	"github.com/quantforge/backtest/tick"
)

var (
	// ErrDuplicateTimestamp is returned by NextTicks when the emitted
	// batch's timestamp equals the previously emitted batch's.
	ErrDuplicateTimestamp = errors.New("feed: duplicate timestamp across successive batches")
	// ErrFeedLocked is returned by AddTicks once the feed has started
	// being consumed.
	ErrFeedLocked = errors.New("feed: cannot add ticks after consumption has started")
)

// Feed is the tick-feed subject the dispatcher drives.
type Feed interface {
	Start()
	Stop()
	PeekDatetime() (time.Time, bool)
	NextTicks() (tick.Batch, error)
	EOF() bool
}

// InMemoryFeed stores a time-sorted tick sequence per instrument and
// emits time-merged batches: all ticks sharing the current minimum
// timestamp across instruments, advancing only those instruments'
// cursors.
type InMemoryFeed struct {
	ticks  map[string][]tick.Tick
	cursor map[string]int

	lastTick     map[string]tick.Tick
	currentBatch *tick.Batch
	lastEmitted  *time.Time

	defaultInstrument string
	registered        []string
	series            map[string]*TickDataSeries
	seriesMaxLen      int

	locked bool
}

// NewInMemoryFeed returns an empty feed. seriesMaxLen bounds the
// per-instrument TickDataSeries materialized by GetDataSeries; 0
// disables materialization.
func NewInMemoryFeed(seriesMaxLen int) *InMemoryFeed {
	return &InMemoryFeed{
		ticks:        make(map[string][]tick.Tick),
		cursor:       make(map[string]int),
		lastTick:     make(map[string]tick.Tick),
		series:       make(map[string]*TickDataSeries),
		seriesMaxLen: seriesMaxLen,
	}
}

// RegisterInstrument idempotently records instrument as known to this
// feed, records it as the new default instrument, and (if
// seriesMaxLen > 0) materializes a bounded TickDataSeries for it.
func (f *InMemoryFeed) RegisterInstrument(instr string) {
	if _, ok := f.ticks[instr]; !ok {
		f.ticks[instr] = nil
		f.cursor[instr] = 0
	}
	found := false
	for _, r := range f.registered {
		if r == instr {
			found = true
			break
		}
	}
	if !found {
		f.registered = append(f.registered, instr)
	}
	f.defaultInstrument = instr

	if f.seriesMaxLen > 0 {
		if _, ok := f.series[instr]; !ok {
			f.series[instr] = newTickDataSeries(f.seriesMaxLen)
		}
	}
}

// DefaultInstrument returns the last instrument registered.
func (f *InMemoryFeed) DefaultInstrument() string { return f.defaultInstrument }

// GetDataSeries returns the bounded ring-buffer series for instr, if
// it was registered with a non-zero seriesMaxLen.
func (f *InMemoryFeed) GetDataSeries(instr string) (*TickDataSeries, bool) {
	s, ok := f.series[instr]
	return s, ok
}

// AddTicks extends instrument's sequence and re-sorts it by datetime.
// Fails with ErrFeedLocked once the feed has started being consumed.
func (f *InMemoryFeed) AddTicks(instr string, ticks []tick.Tick) error {
	if f.locked {
		return ErrFeedLocked
	}
	f.RegisterInstrument(instr)
	f.ticks[instr] = append(f.ticks[instr], ticks...)
	sort.Slice(f.ticks[instr], func(i, j int) bool {
		return f.ticks[instr][i].DateTime().Before(f.ticks[instr][j].DateTime())
	})
	return nil
}

// Start is a no-op hook satisfying the dispatcher.Subject-shaped
// lifecycle; the feed has no warmup work to do.
func (f *InMemoryFeed) Start() {}

// Stop is a no-op hook; an in-memory feed holds no external resources.
func (f *InMemoryFeed) Stop() {}

// PeekDatetime returns the minimum datetime over every instrument
// whose cursor has not reached the end of its sequence.
func (f *InMemoryFeed) PeekDatetime() (time.Time, bool) {
	var min time.Time
	found := false
	for instr, ticks := range f.ticks {
		c := f.cursor[instr]
		if c >= len(ticks) {
			continue
		}
		dt := ticks[c].DateTime()
		if !found || dt.Before(min) {
			min = dt
			found = true
		}
	}
	return min, found
}

// NextTicks returns the batch of every instrument's current tick whose
// datetime equals PeekDatetime, advancing those instruments' cursors.
func (f *InMemoryFeed) NextTicks() (tick.Batch, error) {
	f.locked = true

	peek, ok := f.PeekDatetime()
	if !ok {
		return tick.Batch{}, errors.New("feed: no data to emit")
	}

	batch := make(map[string]tick.Tick)
	for instr, ticks := range f.ticks {
		c := f.cursor[instr]
		if c >= len(ticks) {
			continue
		}
		if ticks[c].DateTime().Equal(peek) {
			batch[instr] = ticks[c]
			f.cursor[instr] = c + 1
		}
	}

	b, err := tick.NewBatch(batch)
	if err != nil {
		return tick.Batch{}, err
	}

	if f.lastEmitted != nil && f.lastEmitted.Equal(b.DateTime()) {
		return tick.Batch{}, ErrDuplicateTimestamp
	}
	dt := b.DateTime()
	f.lastEmitted = &dt
	f.currentBatch = &b

	for instr := range batch {
		t, _ := b.Tick(instr)
		f.lastTick[instr] = t
		if s, ok := f.series[instr]; ok {
			s.push(t)
		}
	}

	return b, nil
}

// EOF reports whether every instrument's cursor has reached its
// sequence length.
func (f *InMemoryFeed) EOF() bool {
	for instr, ticks := range f.ticks {
		if f.cursor[instr] < len(ticks) {
			return false
		}
	}
	return true
}

// LastTick returns the most recently dispatched tick for instr, across
// all batches, if any has been emitted.
func (f *InMemoryFeed) LastTick(instr string) (tick.Tick, bool) {
	t, ok := f.lastTick[instr]
	return t, ok
}

// CurrentBatch returns the last emitted batch, if any.
func (f *InMemoryFeed) CurrentBatch() (tick.Batch, bool) {
	if f.currentBatch == nil {
		return tick.Batch{}, false
	}
	return *f.currentBatch, true
}
