package feed

import "github.com/quantforge/backtest/tick"

// TickDataSeries is a bounded ring buffer of the most recent ticks for
// one instrument, materialized so strategies can inspect recent
// history without retaining the whole feed.
type TickDataSeries struct {
	buf    []tick.Tick
	maxLen int
	start  int
	size   int
}

func newTickDataSeries(maxLen int) *TickDataSeries {
	return &TickDataSeries{buf: make([]tick.Tick, maxLen), maxLen: maxLen}
}

func (s *TickDataSeries) push(t tick.Tick) {
	idx := (s.start + s.size) % s.maxLen
	s.buf[idx] = t
	if s.size < s.maxLen {
		s.size++
	} else {
		s.start = (s.start + 1) % s.maxLen
	}
}

// Len returns the number of ticks currently retained.
func (s *TickDataSeries) Len() int { return s.size }

// Last returns the n most recent ticks, oldest first. If fewer than n
// ticks have been retained, it returns all of them.
func (s *TickDataSeries) Last(n int) []tick.Tick {
	if n > s.size {
		n = s.size
	}
	out := make([]tick.Tick, n)
	for i := 0; i < n; i++ {
		idx := (s.start + s.size - n + i) % s.maxLen
		out[i] = s.buf[idx]
	}
	return out
}
