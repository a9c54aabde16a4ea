package risk

import "math"

func pipSize(loc int) float64 {
	return math.Pow(10, float64(loc))
}

// PipSize returns the price increment of one pip for a pip location.
func PipSize(loc int) float64 {
	return pipSize(loc)
}

// PipValue is the account currency value of a one pip move on qty lots.
func PipValue(qty, contractSize float64, pipLocation int) float64 {
	return qty * contractSize * pipSize(pipLocation)
}

type SizingInputs struct {
	FreeMargin   float64
	Price        float64
	Leverage     float64
	ContractSize float64
	// LotStep rounds the answer down; zero means 0.01 lots.
	LotStep float64
}

// MaxQuantity is the largest order, in lots, whose margin fits in the free
// margin, rounded down to LotStep and capped by the policy.
func MaxQuantity(p Policy, in SizingInputs) float64 {
	if in.FreeMargin <= 0 || in.Price <= 0 || in.Leverage <= 0 || in.ContractSize <= 0 {
		return 0
	}
	step := in.LotStep
	if step <= 0 {
		step = 0.01
	}

	lots := in.FreeMargin * in.Leverage / (in.ContractSize * in.Price)
	// The epsilon keeps exact multiples like 2.0 from flooring to 1.99.
	lots = math.Floor(lots/step+1e-9) * step
	if p.MaxPositionSize > 0 && lots > p.MaxPositionSize {
		lots = p.MaxPositionSize
	}
	return lots
}
