package risk

import (
	"fmt"
	"math"
)

// Violation codes produced by CheckOrder.
const (
	CodeNonPositiveQuantity = "NON_POSITIVE_QUANTITY"
	CodePositionTooLarge    = "POSITION_TOO_LARGE"
	CodeBelowMinimumSize    = "BELOW_MINIMUM_SIZE"
	CodeInvalidLeverage     = "INVALID_LEVERAGE"
	CodeLeverageTooHigh     = "LEVERAGE_TOO_HIGH"
	CodeNonPositivePrice    = "NON_POSITIVE_PRICE"
	CodeInsufficientMargin  = "INSUFFICIENT_MARGIN"
)

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation

	RequiredMargin float64
	FreeMargin     float64
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Has reports whether code is among the violations.
func (d Decision) Has(code string) bool {
	for _, v := range d.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

// OrderCheck is what CheckOrder needs to know about a prospective order.
type OrderCheck struct {
	Quantity     float64
	Price        float64
	Leverage     float64
	ContractSize float64
	MinimumSize  float64
	FreeMargin   float64
}

// CheckOrder runs the pre-trade limits of p against o. Shape violations are
// reported before margin is considered, since margin is meaningless for a
// malformed order.
func CheckOrder(p Policy, o OrderCheck) Decision {
	d := Decision{Allowed: true, FreeMargin: o.FreeMargin}

	if !(o.Quantity > 0) {
		d.add(CodeNonPositiveQuantity, "quantity must be positive")
	} else {
		if o.Quantity > p.MaxPositionSize {
			d.add(CodePositionTooLarge,
				fmt.Sprintf("quantity %.4f exceeds max position size %.4f", o.Quantity, p.MaxPositionSize))
		}
		if o.MinimumSize > 0 && o.Quantity < o.MinimumSize {
			d.add(CodeBelowMinimumSize,
				fmt.Sprintf("quantity %.4f below minimum trade size %.4f", o.Quantity, o.MinimumSize))
		}
	}
	if !(o.Leverage > 0) || math.IsInf(o.Leverage, 0) {
		d.add(CodeInvalidLeverage, "leverage must be positive")
	} else if o.Leverage > p.MaxLeverage {
		d.add(CodeLeverageTooHigh,
			fmt.Sprintf("leverage %.2f exceeds max %.2f", o.Leverage, p.MaxLeverage))
	}
	if !(o.Price > 0) {
		d.add(CodeNonPositivePrice, "price must be positive")
	}
	if !d.Allowed {
		return d
	}

	d.RequiredMargin = RequiredMargin(o.Quantity, o.ContractSize, o.Price, o.Leverage)
	if d.RequiredMargin > o.FreeMargin {
		d.add(CodeInsufficientMargin,
			fmt.Sprintf("required margin %.2f exceeds free margin %.2f", d.RequiredMargin, o.FreeMargin))
	}
	return d
}

// MarginState classifies an account's margin ratio.
type MarginState int

const (
	MarginHealthy MarginState = iota
	MarginCall
	StopOut
)

func (s MarginState) String() string {
	switch s {
	case MarginCall:
		return "margin_call"
	case StopOut:
		return "stop_out"
	default:
		return "healthy"
	}
}

// ClassifyMargin maps a margin ratio onto the policy thresholds. Stop-out is
// the more severe state and wins when both apply.
func ClassifyMargin(p Policy, ratio float64) MarginState {
	switch {
	case math.IsInf(ratio, 1):
		return MarginHealthy
	case ratio < p.StopOutLevel:
		return StopOut
	case ratio < p.MarginCallThreshold:
		return MarginCall
	default:
		return MarginHealthy
	}
}

// PositionState classifies one position's unrealized P&L.
type PositionState int

const (
	PositionNormal PositionState = iota
	LargeProfit
	LargeLoss
)

// ClassifyPosition compares unrealized P&L against the alert thresholds.
func ClassifyPosition(p Policy, unrealized float64) PositionState {
	switch {
	case unrealized > p.ProfitAlertThreshold:
		return LargeProfit
	case unrealized < p.LossAlertThreshold:
		return LargeLoss
	default:
		return PositionNormal
	}
}
