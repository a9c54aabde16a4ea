package engine

import (
	"context"
	"math"
	"time"

	"github.com/rustyeddy/cfdledger/risk"
)

// Memo and replay figures may differ by at most this much.
const consistencyTolerance = 1e-6

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// foldLog derives the cash side of an account from its log, in log order.
// A correction entry is booked under the type of the original it amends, and
// trade counts come from the corrected log.
func foldLog(a *Account, log []Transaction) {
	types := make(map[string]TxType, len(log))
	for _, tx := range log {
		a.Balance += tx.CashEffect()
		a.Commission += tx.Commission
		typ := tx.Type
		if typ == TxCorrection {
			typ = types[tx.CorrectionOf]
		} else {
			types[tx.ID] = typ
		}
		switch typ {
		case TxAdjustment:
			a.Deposits += tx.RealizedPnL
		default:
			a.RealizedPnL += tx.RealizedPnL
		}
	}
	for _, tx := range EffectiveLog(log) {
		if !tx.Closes() {
			continue
		}
		a.TotalTrades++
		switch {
		case tx.RealizedPnL > 0:
			a.WinningTrades++
		case tx.RealizedPnL < 0:
			a.LosingTrades++
		}
	}
	a.Sequence = int64(len(log))
}

// summarize builds a complete snapshot. positions must be in instrument
// order so the floating point sums are reproducible.
func (e *Engine) summarize(b *accountBook, positions []*Position) Account {
	a := Account{ID: b.id, Customer: b.customer, Currency: b.currency}
	foldLog(&a, b.log)
	for _, p := range positions {
		a.UnrealizedPnL += p.UnrealizedPnL
		a.MarginUsed += p.Margin
	}
	a.OpenPositions = len(positions)
	a.PendingMargin = b.pendingMargin()
	a.Equity = a.Balance + a.UnrealizedPnL
	a.MarginAvailable = a.Equity - a.MarginUsed
	a.FreeMargin = a.MarginAvailable - a.PendingMargin
	a.StopOut = risk.ClassifyMargin(e.policy, a.MarginRatio()) == risk.StopOut
	return a
}

func (e *Engine) livePositions(b *accountBook) []*Position {
	out := make([]*Position, 0, len(b.positions))
	for _, instr := range b.instruments() {
		out = append(out, b.positions[instr])
	}
	return out
}

// refreshLocked recomputes the snapshot from the full log and the open
// positions, then checks the recompute against the running balance memo. A
// mismatch halts the account.
func (e *Engine) refreshLocked(b *accountBook) (Account, error) {
	start := time.Now()
	defer func() { e.metrics.Refresh(time.Since(start)) }()

	b.refreshes++
	a := e.summarize(b, e.livePositions(b))

	if b.memo.applied != len(b.log) {
		return a, e.haltLocked(b, &ConsistencyError{
			AccountID: b.id, Field: "sequence",
			Memo: float64(b.memo.applied), Replayed: float64(len(b.log)),
		})
	}
	if math.Abs(b.memo.balance-a.Balance) > consistencyTolerance {
		return a, e.haltLocked(b, &ConsistencyError{
			AccountID: b.id, Field: "balance",
			Memo: b.memo.balance, Replayed: a.Balance,
		})
	}

	b.snapshot = a
	return a, nil
}

func (e *Engine) haltLocked(b *accountBook, err *ConsistencyError) error {
	b.halted = err
	e.metrics.Consistency()
	e.log.Error("account halted", "account", b.id, "field", err.Field, "memo", err.Memo, "replayed", err.Replayed)
	return err
}

// Refresh recomputes the account aggregate and runs risk evaluation on it.
func (e *Engine) Refresh(ctx context.Context, accountID string) (Account, error) {
	var a Account
	err := e.write(accountID, func(b *accountBook) error {
		var err error
		a, _, err = e.settleLocked(ctx, b)
		return err
	})
	return a, err
}

// Replay folds the account's log from empty, rebuilding the open positions
// through the same netting as live fills, and returns the snapshot that
// results. Positions are marked at their live price. Nothing is modified.
func (e *Engine) Replay(accountID string) (Account, error) {
	var a Account
	err := e.read(accountID, func(b *accountBook) error {
		var err error
		a, err = e.replayLocked(b)
		return err
	})
	return a, err
}

func (e *Engine) replayLocked(b *accountBook) (Account, error) {
	rebuilt := make(map[string]*Position)
	for _, tx := range b.log {
		switch tx.Type {
		case TxFill:
			meta, ok := e.instruments.Lookup(tx.Instrument)
			if !ok {
				return Account{}, invalid("instrument", "log references unknown instrument %q", tx.Instrument)
			}
			res := netFill(rebuilt[tx.Instrument], Fill{
				AccountID:  b.id,
				Instrument: tx.Instrument,
				Side:       tx.Side,
				Quantity:   tx.Quantity,
				Price:      tx.Price,
				Leverage:   tx.Leverage,
				Timestamp:  tx.Timestamp,
			}, meta.ContractSize, tx.PositionID)
			if res.pos == nil {
				delete(rebuilt, tx.Instrument)
			} else {
				rebuilt[tx.Instrument] = res.pos
			}
		case TxClose:
			p, ok := rebuilt[tx.Instrument]
			if !ok {
				continue
			}
			if rest := reducePosition(p, tx.ClosedQuantity, tx.Timestamp); rest != nil {
				rebuilt[tx.Instrument] = rest
			} else {
				delete(rebuilt, tx.Instrument)
			}
		}
	}

	positions := make([]*Position, 0, len(rebuilt))
	for _, instr := range sortedInstruments(rebuilt) {
		p := rebuilt[instr]
		mark := p.EntryPrice
		if live, ok := b.positions[instr]; ok {
			mark = live.CurrentPrice
		} else if px, ok := e.prices.Price(instr); ok {
			mark = px
		}
		p.mark(mark)
		positions = append(positions, p)
	}
	return e.summarize(b, positions), nil
}
