// Package dispatcher drives the deterministic event loop that
// multiplexes one or more tick sources into ordered batches and fans
// each batch out to every registered consumer in registration order.
package dispatcher

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantforge/backtest/tick"
)

// ErrNoFeedData is returned by Run when no registered subject has any
// data to dispatch.
var ErrNoFeedData = errors.New("dispatcher: no feed data to dispatch")

// Subject is the start/stop/peek/EOF shape the dispatcher polls on
// every tick source. feed.Feed implements it structurally; the broker
// does not, and is registered as a BatchConsumer instead.
type Subject interface {
	Start()
	Stop()
	PeekDatetime() (time.Time, bool)
	EOF() bool
}

// TickSource is a Subject that also produces tick batches. Only feeds
// implement this; event sinks (like a broker) are registered with
// AddConsumer and receive each batch through their OnTicks method.
type TickSource interface {
	Subject
	NextTicks() (tick.Batch, error)
}

// BatchConsumer receives every batch the dispatcher pulls from its
// tick sources, in registration order. The broker MUST be registered
// before any strategy consumer so that the broker's fills are visible
// to strategies reacting to the same batch (critical ordering
// invariant).
type BatchConsumer interface {
	OnTicks(batch tick.Batch)
}

// LifecycleConsumer optionally receives start/finish notifications: Run
// calls OnStart before the first batch and OnFinish after the last. Run
// never calls OnIdle.
type LifecycleConsumer interface {
	OnStart()
	OnFinish()
	OnIdle(now time.Time)
}

// Dispatcher coordinates one or more TickSources and fans each merged
// batch out to registered consumers in registration order.
type Dispatcher struct {
	sources   []TickSource
	consumers []BatchConsumer
}

// New returns an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{}
}

// AddSource registers a tick source. Sources are peeked together each
// step; the minimum timestamp across all non-EOF sources determines
// the next dispatch time.
func (d *Dispatcher) AddSource(s TickSource) {
	d.sources = append(d.sources, s)
}

// AddConsumer registers a batch consumer. Registration order is
// preserved and IS the dispatch order -- register the broker before
// any strategy.
func (d *Dispatcher) AddConsumer(c BatchConsumer) {
	d.consumers = append(d.consumers, c)
}

// Run starts every source and consumer, then repeatedly pulls the
// minimum-timestamp batch across all sources and fans it out to every
// consumer in registration order, until every source reports EOF. It
// then stops every source.
func (d *Dispatcher) Run() error {
	if len(d.sources) == 0 {
		return ErrNoFeedData
	}

	for _, s := range d.sources {
		s.Start()
	}
	for _, c := range d.consumers {
		if lc, ok := c.(LifecycleConsumer); ok {
			lc.OnStart()
		}
	}

	anyData := false
	for {
		allEOF := true
		var min time.Time
		found := false
		for _, s := range d.sources {
			if s.EOF() {
				continue
			}
			allEOF = false
			dt, ok := s.PeekDatetime()
			if !ok {
				continue
			}
			if !found || dt.Before(min) {
				min = dt
				found = true
			}
		}
		if allEOF {
			break
		}
		if !found {
			break
		}

		for _, s := range d.sources {
			if s.EOF() {
				continue
			}
			peek, ok := s.PeekDatetime()
			if !ok || !peek.Equal(min) {
				continue
			}
			batch, err := s.NextTicks()
			if err != nil {
				log.Debug().Err(err).Msg("dispatcher: source returned no batch at peeked time")
				continue
			}
			anyData = true
			for _, c := range d.consumers {
				c.OnTicks(batch)
			}
		}
	}

	for _, s := range d.sources {
		s.Stop()
	}
	for _, c := range d.consumers {
		if lc, ok := c.(LifecycleConsumer); ok {
			lc.OnFinish()
		}
	}

	if !anyData {
		return ErrNoFeedData
	}
	return nil
}
