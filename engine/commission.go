package engine

import "github.com/shopspring/decimal"

// Commission is the fee schedule charged on every fill and close. A fee is
// PerLot for each lot plus Rate times the notional, rounded to cents.
type Commission struct {
	PerLot float64 `json:"per_lot" yaml:"per_lot"`
	Rate   float64 `json:"rate" yaml:"rate"`
}

// Fee returns the commission for qty lots with the given notional value.
func (c Commission) Fee(qty, notional float64) float64 {
	if c.PerLot == 0 && c.Rate == 0 {
		return 0
	}
	fee := decimal.NewFromFloat(c.PerLot).Mul(decimal.NewFromFloat(qty)).
		Add(decimal.NewFromFloat(c.Rate).Mul(decimal.NewFromFloat(notional)))
	f, _ := fee.Round(2).Float64()
	return f
}
