package feed

import (
	"time"

	"github.com/quantforge/backtest/tick"
)

// TickFilter decides whether a tick should be admitted into a feed.
// Loaders may apply one to drop out-of-scope rows before AddTicks.
type TickFilter interface {
	Admit(t tick.Tick) bool
}

// DateRangeFilter admits only ticks whose datetime falls within
// [From, To] inclusive.
type DateRangeFilter struct {
	From time.Time
	To   time.Time
}

func (f DateRangeFilter) Admit(t tick.Tick) bool {
	dt := t.DateTime()
	return !dt.Before(f.From) && !dt.After(f.To)
}

// USEquityRTHFilter admits only ticks falling within US equity regular
// trading hours: Monday-Friday, 09:30-16:00 in America/New_York.
type USEquityRTHFilter struct {
	loc *time.Location
}

// NewUSEquityRTHFilter returns a USEquityRTHFilter, falling back to UTC
// if the America/New_York zone data is unavailable in the runtime
// environment.
func NewUSEquityRTHFilter() USEquityRTHFilter {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return USEquityRTHFilter{loc: loc}
}

func (f USEquityRTHFilter) Admit(t tick.Tick) bool {
	dt := t.DateTime().In(f.loc)
	switch dt.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	open := time.Date(dt.Year(), dt.Month(), dt.Day(), 9, 30, 0, 0, f.loc)
	close := time.Date(dt.Year(), dt.Month(), dt.Day(), 16, 0, 0, 0, f.loc)
	return !dt.Before(open) && !dt.After(close)
}

// ApplyFilter returns the ticks filter admits, in their original
// order; the input slice is not modified.
func ApplyFilter(filter TickFilter, ticks []tick.Tick) []tick.Tick {
	out := make([]tick.Tick, 0, len(ticks))
	for _, t := range ticks {
		if filter.Admit(t) {
			out = append(out, t)
		}
	}
	return out
}
