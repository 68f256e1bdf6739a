package broker

import "github.com/shopspring/decimal"

// CommissionModel computes the commission charged on one execution.
type CommissionModel interface {
	Compute(order *Order, price, quantity decimal.Decimal) decimal.Decimal
}

// ZeroCommission charges nothing. Useful for scenarios that assume
// commission-free fills.
type ZeroCommission struct{}

func (ZeroCommission) Compute(*Order, decimal.Decimal, decimal.Decimal) decimal.Decimal {
	return decimal.Zero
}

// PerShareCommission charges a flat rate per unit filled, generalized
// from a percentage-of-equity position-sizing model into a
// broker-side flat-rate-per-share commission.
type PerShareCommission struct {
	RatePerShare decimal.Decimal
}

// NewPerShareCommission returns a commission model charging
// ratePerShare per unit filled.
func NewPerShareCommission(ratePerShare decimal.Decimal) PerShareCommission {
	return PerShareCommission{RatePerShare: ratePerShare}
}

func (c PerShareCommission) Compute(_ *Order, _ decimal.Decimal, quantity decimal.Decimal) decimal.Decimal {
	return c.RatePerShare.Mul(quantity)
}

// PercentageCommission charges a fixed percentage of notional,
// grounded on a risk manager's riskPerTrade percentage idiom.
type PercentageCommission struct {
	Rate decimal.Decimal // e.g. 0.001 for 10 bps
}

// NewPercentageCommission returns a commission model charging rate
// (a fraction, e.g. 0.001 for 10bps) of notional.
func NewPercentageCommission(rate decimal.Decimal) PercentageCommission {
	return PercentageCommission{Rate: rate}
}

func (c PercentageCommission) Compute(_ *Order, price, quantity decimal.Decimal) decimal.Decimal {
	return price.Mul(quantity).Mul(c.Rate)
}

// TieredCommission charges the greater of a minimum ticket fee or a
// per-share rate -- a common broker commission model.
type TieredCommission struct {
	MinTicket    decimal.Decimal
	RatePerShare decimal.Decimal
}

// NewTieredCommission returns a commission model charging
// max(minTicket, ratePerShare*quantity).
func NewTieredCommission(minTicket, ratePerShare decimal.Decimal) TieredCommission {
	return TieredCommission{MinTicket: minTicket, RatePerShare: ratePerShare}
}

func (c TieredCommission) Compute(_ *Order, _ decimal.Decimal, quantity decimal.Decimal) decimal.Decimal {
	perShare := c.RatePerShare.Mul(quantity)
	if perShare.GreaterThan(c.MinTicket) {
		return perShare
	}
	return c.MinTicket
}
