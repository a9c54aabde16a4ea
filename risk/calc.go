package risk

import "math"

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// Sign is +1 for a buy and -1 for a sell.
func Sign(buy bool) float64 {
	if buy {
		return 1
	}
	return -1
}

// RequiredMargin is the margin reserved for qty lots at price.
func RequiredMargin(qty, contractSize, price, leverage float64) float64 {
	if leverage <= 0 {
		return math.Inf(1)
	}
	return abs(qty) * contractSize * price / leverage
}

// UnrealizedPnL is (current - entry) * qty * contractSize, inverted for sells.
func UnrealizedPnL(buy bool, qty, contractSize, entry, current float64) float64 {
	return (current - entry) * qty * contractSize * Sign(buy)
}

// MarginRatio is available / used. With nothing used there is no risk and the
// ratio is +Inf.
func MarginRatio(available, used float64) float64 {
	if used <= 0 {
		return math.Inf(1)
	}
	return available / used
}

// MarginLevel is equity / used, +Inf when nothing is used.
func MarginLevel(equity, used float64) float64 {
	if used <= 0 {
		return math.Inf(1)
	}
	return equity / used
}

// WeightedEntry blends an existing entry with an added fill.
func WeightedEntry(qty, entry, addQty, addPrice float64) float64 {
	total := qty + addQty
	if total <= 0 {
		return addPrice
	}
	return (qty*entry + addQty*addPrice) / total
}
