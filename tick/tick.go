// Package tick defines the immutable quote record and per-timestamp
// batch that flow through the rest of the engine.
package tick

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Frequency classifies the time resolution a Tick was sampled at.
type Frequency string

const (
	Trade  Frequency = "TRADE"
	Second Frequency = "SECOND"
	Minute Frequency = "MINUTE"
	Hour   Frequency = "HOUR"
	Day    Frequency = "DAY"
	Week   Frequency = "WEEK"
	Month  Frequency = "MONTH"
)

// rank orders frequencies from finest to coarsest. Used by the broker's
// post-process expiry check ("frequency >= DAY").
var rank = map[Frequency]int{
	Trade:  0,
	Second: 1,
	Minute: 2,
	Hour:   3,
	Day:    4,
	Week:   5,
	Month:  6,
}

// Rank returns this frequency's position in the TRADE..MONTH ordering.
// Unknown frequencies rank below TRADE.
func (f Frequency) Rank() int {
	if r, ok := rank[f]; ok {
		return r
	}
	return -1
}

// AtLeastDaily reports whether this frequency is DAY or coarser.
func (f Frequency) AtLeastDaily() bool {
	return f.Rank() >= rank[Day]
}

// Tick is one top-of-book quote for a single instrument. Immutable once
// constructed.
type Tick struct {
	instrument string
	datetime   time.Time
	bid        decimal.Decimal
	ask        decimal.Decimal
	frequency  Frequency
}

// New builds a Tick. bid and ask are stored directly (see design note:
// the source's constructor mixed up open/close fields with bid/ask
// accessors — this implementation stores into the fields the accessors
// read from).
func New(instrument string, datetime time.Time, bid, ask decimal.Decimal, frequency Frequency) Tick {
	return Tick{
		instrument: instrument,
		datetime:   datetime,
		bid:        bid,
		ask:        ask,
		frequency:  frequency,
	}
}

func (t Tick) Instrument() string    { return t.instrument }
func (t Tick) DateTime() time.Time   { return t.datetime }
func (t Tick) Bid() decimal.Decimal  { return t.bid }
func (t Tick) Ask() decimal.Decimal  { return t.ask }
func (t Tick) Frequency() Frequency  { return t.frequency }

// Price is defined as the bid by convention of this engine.
func (t Tick) Price() decimal.Decimal { return t.bid }

// Batch groups every instrument's tick dispatched at one timestamp.
// The data model calls this a "Ticks" batch; here it is named Batch so
// callers write tick.Batch.
type Batch struct {
	datetime time.Time
	ticks    map[string]Tick
}

var (
	// ErrEmptyBatch is returned when constructing a Batch from an empty map.
	ErrEmptyBatch = errors.New("tick: batch has no ticks")
	// ErrTimestampMismatch is returned when the ticks passed to NewBatch
	// do not all share one datetime.
	ErrTimestampMismatch = errors.New("tick: batch ticks disagree on datetime")
)

// NewBatch constructs a Batch, failing if the map is empty or the
// contained ticks disagree on datetime (invariant 1 in the data model).
func NewBatch(ticks map[string]Tick) (Batch, error) {
	if len(ticks) == 0 {
		return Batch{}, ErrEmptyBatch
	}

	var datetime time.Time
	first := true
	for _, t := range ticks {
		if first {
			datetime = t.DateTime()
			first = false
			continue
		}
		if !t.DateTime().Equal(datetime) {
			return Batch{}, ErrTimestampMismatch
		}
	}

	cp := make(map[string]Tick, len(ticks))
	for k, v := range ticks {
		cp[k] = v
	}
	return Batch{datetime: datetime, ticks: cp}, nil
}

func (b Batch) DateTime() time.Time { return b.datetime }

// Tick returns the tick for instrument, if present in this batch.
func (b Batch) Tick(instrument string) (Tick, bool) {
	t, ok := b.ticks[instrument]
	return t, ok
}

// Instruments returns the instruments present in this batch, unordered.
func (b Batch) Instruments() []string {
	out := make([]string, 0, len(b.ticks))
	for k := range b.ticks {
		out = append(out, k)
	}
	return out
}

// Len returns the number of instruments carried by this batch.
func (b Batch) Len() int { return len(b.ticks) }
