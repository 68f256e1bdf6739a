// Package instrument supplies the per-instrument quantity and price
// rounding rules the broker and fill strategy apply before committing
// an execution.
package instrument

import "github.com/shopspring/decimal"

// UnboundedVolume stands in for "no real per-tick volume is known."
// Non-TRADE ticks carry no volume field in this engine (see Open
// Question 4); a fill strategy rationing against volume_limit treats
// this as the available volume before applying the limit fraction.
var UnboundedVolume = decimal.NewFromInt(10000)

// Traits defines the rounding rules for one instrument: how much of a
// fractional fill size is actually executable, and to how many decimal
// places its prices are quoted.
type Traits interface {
	// RoundQuantity rounds a fill or volume quantity down to a
	// tradeable size (e.g. whole shares).
	RoundQuantity(decimal.Decimal) decimal.Decimal
	// RoundPrice rounds a price to this instrument's tick size.
	RoundPrice(decimal.Decimal) decimal.Decimal
}

// IntegerShareTraits is the default: quantities round down to whole
// shares, prices round to a fixed number of decimal places.
type IntegerShareTraits struct {
	PriceDecimals int32
}

// NewIntegerShareTraits returns traits rounding prices to decimals
// places (2 is the common equities convention).
func NewIntegerShareTraits(decimals int32) IntegerShareTraits {
	return IntegerShareTraits{PriceDecimals: decimals}
}

func (t IntegerShareTraits) RoundQuantity(q decimal.Decimal) decimal.Decimal {
	return q.Truncate(0)
}

func (t IntegerShareTraits) RoundPrice(p decimal.Decimal) decimal.Decimal {
	return p.Round(t.PriceDecimals)
}

// DefaultTraits is the zero-configuration integer-share rounding rule
// used for any instrument that has no explicit registration.
var DefaultTraits = NewIntegerShareTraits(2)

// Registry maps instrument name to its rounding traits, defaulting
// anything unregistered to DefaultTraits.
type Registry struct {
	traits map[string]Traits
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{traits: make(map[string]Traits)}
}

// Register assigns explicit traits to an instrument.
func (r *Registry) Register(instrument string, traits Traits) {
	r.traits[instrument] = traits
}

// Get returns the traits registered for instrument, or DefaultTraits.
func (r *Registry) Get(instrument string) Traits {
	if t, ok := r.traits[instrument]; ok {
		return t
	}
	return DefaultTraits
}
