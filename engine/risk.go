package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/rustyeddy/cfdledger/internal/id"
	"github.com/rustyeddy/cfdledger/risk"
)

// evaluateLocked inspects the fresh snapshot. Account level: a stop-out
// alert and forced liquidation below the stop-out level, otherwise a margin
// call below the margin call threshold. Position level: large profit and
// large loss alerts.
func (e *Engine) evaluateLocked(ctx context.Context, b *accountBook) ([]Alert, error) {
	var out []Alert

	switch risk.ClassifyMargin(e.policy, b.snapshot.MarginRatio()) {
	case risk.StopOut:
		a := b.snapshot
		msg := fmt.Sprintf("margin ratio %.4f below stop-out level %.4f, liquidating", a.MarginRatio(), e.policy.StopOutLevel)
		if al, ok := e.raiseLocked(ctx, b, AlertStopOut, SeverityCritical, nil, msg); ok {
			out = append(out, al)
		}
		if err := e.liquidateLocked(ctx, b); err != nil {
			return out, err
		}
	case risk.MarginCall:
		a := b.snapshot
		msg := fmt.Sprintf("margin ratio %.4f below margin call threshold %.4f", a.MarginRatio(), e.policy.MarginCallThreshold)
		if al, ok := e.raiseLocked(ctx, b, AlertMarginCall, SeverityWarning, nil, msg); ok {
			out = append(out, al)
		}
	}

	for _, p := range e.livePositions(b) {
		switch risk.ClassifyPosition(e.policy, p.UnrealizedPnL) {
		case risk.LargeProfit:
			msg := fmt.Sprintf("%s unrealized profit %.2f above %.2f", p.Instrument, p.UnrealizedPnL, e.policy.ProfitAlertThreshold)
			if al, ok := e.raiseLocked(ctx, b, AlertLargeProfit, SeverityInfo, p, msg); ok {
				out = append(out, al)
			}
		case risk.LargeLoss:
			msg := fmt.Sprintf("%s unrealized loss %.2f below %.2f", p.Instrument, p.UnrealizedPnL, e.policy.LossAlertThreshold)
			if al, ok := e.raiseLocked(ctx, b, AlertLargeLoss, SeverityCritical, p, msg); ok {
				out = append(out, al)
			}
		}
	}
	return out, nil
}

// raiseLocked emits an alert unless one of the same kind went out for this
// account within the cooldown.
func (e *Engine) raiseLocked(ctx context.Context, b *accountBook, kind AlertKind, sev Severity, p *Position, msg string) (Alert, bool) {
	now := e.now()
	if last, ok := b.lastAlert[kind]; ok && e.policy.AlertCooldown > 0 && now.Sub(last) < e.policy.AlertCooldown {
		return Alert{}, false
	}

	a := b.snapshot
	al := Alert{
		ID:              id.At(now),
		AccountID:       b.id,
		Kind:            kind,
		Severity:        sev,
		Equity:          a.Equity,
		MarginUsed:      a.MarginUsed,
		MarginAvailable: a.MarginAvailable,
		UnrealizedPnL:   a.UnrealizedPnL,
		Message:         msg,
		Timestamp:       now,
	}
	if r, ok := a.FiniteMarginRatio(); ok {
		al.MarginRatio = &r
	}
	if p != nil {
		al.PositionID = p.ID
		al.Instrument = p.Instrument
		al.UnrealizedPnL = p.UnrealizedPnL
	}

	b.lastAlert[kind] = now
	b.alerts = append(b.alerts, al)
	b.outbox.alerts = append(b.outbox.alerts, al)
	e.metrics.Alert(string(kind))
	e.log.WarnContext(ctx, "risk alert", "account", b.id, "kind", kind, "severity", sev, "position", al.PositionID, "msg", msg)
	return al, true
}

// liquidateLocked closes the position with the largest unrealized loss at its
// current price, refreshes, and repeats while the account is still below the
// stop-out level.
func (e *Engine) liquidateLocked(ctx context.Context, b *accountBook) error {
	for risk.ClassifyMargin(e.policy, b.snapshot.MarginRatio()) == risk.StopOut {
		var worst *Position
		for _, p := range e.livePositions(b) {
			if worst == nil || p.UnrealizedPnL < worst.UnrealizedPnL {
				worst = p
			}
		}
		if worst == nil {
			return nil
		}

		e.closePositionLocked(ctx, b, worst, worst.Quantity, worst.CurrentPrice, "stop-out liquidation")
		e.metrics.Liquidation()

		if _, err := e.refreshLocked(b); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate refreshes the account and returns the alerts that evaluation
// emitted. Deduplicated alerts are not returned.
func (e *Engine) Evaluate(ctx context.Context, accountID string) ([]Alert, error) {
	var alerts []Alert
	err := e.write(accountID, func(b *accountBook) error {
		var err error
		_, alerts, err = e.settleLocked(ctx, b)
		return err
	})
	return alerts, err
}

// PositionRisk scores one open position.
type PositionRisk struct {
	PositionID    string  `json:"positionId"`
	Instrument    string  `json:"instrument"`
	Side          Side    `json:"side"`
	Quantity      float64 `json:"quantity"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
	PipValue      float64 `json:"pipValue"`
	Score         float64 `json:"score"`
	State         string  `json:"state"`
}

// RiskReport is the read side view of an account's risk.
type RiskReport struct {
	AccountID   string         `json:"accountId"`
	MarginRatio *float64       `json:"marginRatio,omitempty"`
	MarginLevel *float64       `json:"marginLevel,omitempty"`
	State       string         `json:"state"`
	Score       float64        `json:"score"`
	Positions   []PositionRisk `json:"positions"`
}

func finitePtr(x float64) *float64 {
	if math.IsInf(x, 0) || math.IsNaN(x) {
		return nil
	}
	return &x
}

// Risk scores the account and each of its open positions.
func (e *Engine) Risk(accountID string) (RiskReport, error) {
	var rep RiskReport
	err := e.read(accountID, func(b *accountBook) error {
		a := b.snapshot
		rep = RiskReport{
			AccountID:   a.ID,
			MarginRatio: finitePtr(a.MarginRatio()),
			MarginLevel: finitePtr(risk.MarginLevel(a.Equity, a.MarginUsed)),
			State:       risk.ClassifyMargin(e.policy, a.MarginRatio()).String(),
			Score: risk.AccountScore(risk.AccountScoreInputs{
				Balance:      a.Balance,
				Equity:       a.Equity,
				MarginUsed:   a.MarginUsed,
				TotalTrades:  a.TotalTrades,
				LosingTrades: a.LosingTrades,
			}),
			Positions: []PositionRisk{},
		}
		for _, p := range e.livePositions(b) {
			pr := PositionRisk{
				PositionID:    p.ID,
				Instrument:    p.Instrument,
				Side:          p.Side,
				Quantity:      p.Quantity,
				UnrealizedPnL: p.UnrealizedPnL,
				Score: risk.PositionScore(e.policy, risk.PositionScoreInputs{
					Quantity:      p.Quantity,
					EntryPrice:    p.EntryPrice,
					ContractSize:  p.ContractSize,
					Leverage:      p.Leverage,
					UnrealizedPnL: p.UnrealizedPnL,
				}),
			}
			if meta, ok := e.instruments.Lookup(p.Instrument); ok {
				pr.PipValue = risk.PipValue(p.Quantity, meta.ContractSize, meta.PipLocation)
			}
			switch risk.ClassifyPosition(e.policy, p.UnrealizedPnL) {
			case risk.LargeProfit:
				pr.State = string(AlertLargeProfit)
			case risk.LargeLoss:
				pr.State = string(AlertLargeLoss)
			default:
				pr.State = "normal"
			}
			rep.Positions = append(rep.Positions, pr)
		}
		return nil
	})
	return rep, err
}

// Capacity is the largest order, in lots, the account could submit now for
// instrument at leverage.
func (e *Engine) Capacity(accountID, instrument string, leverage float64) (float64, error) {
	var lots float64
	err := e.read(accountID, func(b *accountBook) error {
		meta, err := e.instrumentFor(b, instrument)
		if err != nil {
			return err
		}
		if !(leverage > 0) || leverage > e.policy.MaxLeverage {
			return invalid("leverage", "leverage must be in (0, %.2f]", e.policy.MaxLeverage)
		}
		px, ok := e.prices.Price(instrument)
		if !ok {
			return invalid("instrument", "no market price for %s", instrument)
		}
		step := meta.MinimumTradeSize
		lots = risk.MaxQuantity(e.policy, risk.SizingInputs{
			FreeMargin:   b.snapshot.FreeMargin,
			Price:        px,
			Leverage:     leverage,
			ContractSize: meta.ContractSize,
			LotStep:      step,
		})
		return nil
	})
	return lots, err
}
