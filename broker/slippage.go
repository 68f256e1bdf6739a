package broker

import (
	"github.com/shopspring/decimal"

	"github.com/quantforge/backtest/tick"
)

// SlippageModel adjusts a proposed fill price to account for market
// impact. It is never invoked for TRADE-frequency ticks, where the
// printed trade price is taken as ground truth.
type SlippageModel interface {
	AdjustedPrice(order *Order, price decimal.Decimal, fillSize decimal.Decimal, t tick.Tick, volumeUsedSoFar decimal.Decimal) decimal.Decimal
}

// NoSlippage is the identity slippage model: it returns price
// unchanged. This is the default fill strategy's default slippage
// behavior.
type NoSlippage struct{}

func (NoSlippage) AdjustedPrice(_ *Order, price decimal.Decimal, _ decimal.Decimal, _ tick.Tick, _ decimal.Decimal) decimal.Decimal {
	return price
}

// BasisPointsSlippage nudges the fill price against the order's
// direction by a fixed number of basis points, grounded on an
// ExecutorConfig.SlippageBps-style knob (buys pay slightly more, sells
// receive slightly less).
type BasisPointsSlippage struct {
	Bps int64
}

// NewBasisPointsSlippage returns a slippage model that moves the fill
// price by bps/10000 against the order's direction.
func NewBasisPointsSlippage(bps int64) BasisPointsSlippage {
	return BasisPointsSlippage{Bps: bps}
}

func (s BasisPointsSlippage) AdjustedPrice(order *Order, price decimal.Decimal, _ decimal.Decimal, _ tick.Tick, _ decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(s.Bps).Div(decimal.NewFromInt(10000))
	if order.Action == Buy {
		return price.Mul(decimal.NewFromInt(1).Add(factor))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(factor))
}
