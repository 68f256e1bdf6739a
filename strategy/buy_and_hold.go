package strategy

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantforge/backtest/broker"
	"github.com/quantforge/backtest/tick"
)

// BuyAndHold enters a single GTC market position the first time it
// sees a tick for Instrument and never exits, a demo strategy grounded
// on the pack's OpenOnceStrategy (rustyeddy-trader backtest command).
type BuyAndHold struct {
	BaseStrategy

	Instrument string
	Quantity   decimal.Decimal

	entered bool
}

// NewBuyAndHold returns a BuyAndHold strategy that buys quantity units
// of instrument on the first tick it observes.
func NewBuyAndHold(instrument string, quantity decimal.Decimal) *BuyAndHold {
	return &BuyAndHold{Instrument: instrument, Quantity: quantity}
}

func (s *BuyAndHold) OnTicks(ctx *Context, batch tick.Batch) {
	if s.entered {
		return
	}
	if _, ok := batch.Tick(s.Instrument); !ok {
		return
	}

	s.entered = true
	order, err := ctx.EnterMarket(broker.Buy, s.Instrument, s.Quantity, true, false, false)
	if err != nil {
		log.Debug().Err(err).Str("instrument", s.Instrument).Msg("buy-and-hold: entry rejected")
		return
	}
	log.Debug().Int("order_id", order.ID).Str("instrument", s.Instrument).Msg("buy-and-hold: entered")
}
