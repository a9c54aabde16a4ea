package risk

import "math"

// PositionScoreInputs carries the figures PositionScore weighs.
type PositionScoreInputs struct {
	Quantity      float64
	EntryPrice    float64
	ContractSize  float64
	Leverage      float64
	UnrealizedPnL float64
}

// PositionScore rates a position from 0 (benign) to 100. Leverage against
// the policy maximum contributes up to 40, the loss as a fraction of entry
// notional up to 40 (a 20% loss saturates), and size against the policy
// maximum up to 20.
func PositionScore(p Policy, in PositionScoreInputs) float64 {
	var score float64

	if p.MaxLeverage > 0 {
		score += math.Min(in.Leverage/p.MaxLeverage*40, 40)
	}

	notional := in.Quantity * in.ContractSize * in.EntryPrice
	if in.UnrealizedPnL < 0 && notional > 0 {
		score += math.Min(abs(in.UnrealizedPnL)/notional*200, 40)
	}

	if p.MaxPositionSize > 0 {
		score += math.Min(in.Quantity/p.MaxPositionSize*20, 20)
	}

	return math.Min(score, 100)
}

// AccountScoreInputs carries the figures AccountScore weighs.
type AccountScoreInputs struct {
	Balance      float64
	Equity       float64
	MarginUsed   float64
	TotalTrades  int
	LosingTrades int
}

// AccountScore rates an account from 0 to 100 using its margin level, its
// drawdown from balance to equity, and the share of losing trades.
func AccountScore(in AccountScoreInputs) float64 {
	var score float64

	if in.MarginUsed > 0 {
		level := in.Equity / in.MarginUsed
		switch {
		case level < 1:
			score += 50
		case level < 2:
			score += 30
		case level < 3:
			score += 10
		}
	}

	if in.Balance > 0 {
		drawdown := (in.Balance - in.Equity) / in.Balance
		if drawdown > 0 {
			score += math.Min(drawdown*150, 30)
		}
	}

	if in.TotalTrades > 0 {
		score += float64(in.LosingTrades) / float64(in.TotalTrades) * 20
	}

	return math.Min(score, 100)
}
