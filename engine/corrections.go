package engine

import (
	"context"
	"math"

	"github.com/rustyeddy/cfdledger/internal/id"
)

func neg(x float64) float64 { return 0 - x }

// CorrectTransaction amends a booked transaction by appending two entries: a
// reversal of its current effective values and an application of the
// corrected ones, both pointing back at the original. Correcting a
// correction amends the same original, so earlier corrections are replaced,
// never stacked. An unknown ID leaves the log untouched.
func (e *Engine) CorrectTransaction(ctx context.Context, txID string, ch TransactionChanges) ([]Transaction, error) {
	acct, err := e.store.txOwner(txID)
	if err != nil {
		return nil, err
	}

	var out []Transaction
	err = e.write(acct, func(b *accountBook) error {
		var err error
		out, err = e.correctLocked(ctx, b, txID, ch)
		return err
	})
	return out, err
}

func (e *Engine) correctLocked(ctx context.Context, b *accountBook, txID string, ch TransactionChanges) ([]Transaction, error) {
	idx, ok := b.txIndex[txID]
	if !ok {
		return nil, &NotFoundError{Entity: "transaction", ID: txID}
	}
	target := b.log[idx]
	if target.Reversal {
		return nil, invalid("transaction", "%s is a reversal entry and cannot be corrected", txID)
	}
	if ch.empty() {
		return nil, invalid("changes", "correction changes nothing")
	}
	if ch.Quantity != nil && (*ch.Quantity < 0 || !finite(*ch.Quantity)) {
		return nil, invalid("quantity", "corrected quantity must not be negative")
	}
	if ch.Price != nil && (*ch.Price < 0 || !finite(*ch.Price)) {
		return nil, invalid("price", "corrected price must not be negative")
	}
	if ch.RealizedPnL != nil && !finite(*ch.RealizedPnL) {
		return nil, invalid("realizedPnl", "corrected realized P&L must be finite")
	}
	if ch.Commission != nil && !finite(*ch.Commission) {
		return nil, invalid("commission", "corrected commission must be finite")
	}

	rootID := txID
	if target.CorrectionOf != "" {
		rootID = target.CorrectionOf
	}
	root := b.log[b.txIndex[rootID]]
	cur := b.effective(rootID)

	now := e.now()
	base := Transaction{
		OrderID:      root.OrderID,
		PositionID:   root.PositionID,
		Instrument:   root.Instrument,
		Type:         TxCorrection,
		Side:         root.Side,
		Leverage:     root.Leverage,
		Timestamp:    now,
		CorrectionOf: rootID,
	}

	rev := base
	rev.Quantity = cur.Quantity
	rev.Price = cur.Price
	rev.ClosedQuantity = cur.ClosedQuantity
	rev.RealizedPnL = neg(cur.RealizedPnL)
	rev.Commission = neg(cur.Commission)
	rev.Reversal = true
	rev.Note = "reversal of " + cur.ID

	app := base
	app.Quantity = pick(ch.Quantity, cur.Quantity)
	app.Price = pick(ch.Price, cur.Price)
	app.ClosedQuantity = math.Min(cur.ClosedQuantity, app.Quantity)
	app.RealizedPnL = pick(ch.RealizedPnL, cur.RealizedPnL)
	app.Commission = pick(ch.Commission, cur.Commission)
	app.Note = ch.Note
	if app.Note == "" {
		app.Note = "correction of " + rootID
	}

	out := []Transaction{e.appendLocked(b, rev), e.appendLocked(b, app)}
	if _, _, err := e.settleLocked(ctx, b); err != nil {
		return out, err
	}

	e.log.InfoContext(ctx, "transaction corrected",
		"account", b.id, "original", rootID, "reversal", out[0].ID, "application", out[1].ID,
		"cash_delta", out[0].CashEffect()+out[1].CashEffect())
	return out, nil
}

func pick(p *float64, fallback float64) float64 {
	if p != nil {
		return *p
	}
	return fallback
}

// CorrectOrder corrects the fill transaction of a filled order.
func (e *Engine) CorrectOrder(ctx context.Context, orderID string, ch TransactionChanges) ([]Transaction, error) {
	acct, err := e.store.orderOwner(orderID)
	if err != nil {
		return nil, err
	}

	var out []Transaction
	err = e.write(acct, func(b *accountBook) error {
		o := b.orders[orderID]
		if o.Status != Filled || o.FillTransactionID == "" {
			return &InvalidStateError{Entity: "order", ID: orderID, State: string(o.Status), Op: "correct"}
		}
		var err error
		out, err = e.correctLocked(ctx, b, o.FillTransactionID, ch)
		return err
	})
	return out, err
}

// BackfillOrder books a historical order directly as filled. It skips the
// live limits and margin reservation, since it describes the past, but still
// nets into the account's positions and appends the fill transaction.
func (e *Engine) BackfillOrder(ctx context.Context, bf Backfill) (Order, Transaction, error) {
	if bf.Kind == "" {
		bf.Kind = Market
	}
	if !bf.Kind.Valid() {
		return Order{}, Transaction{}, invalid("kind", "kind must be market, limit or stop, got %q", bf.Kind)
	}

	var (
		order Order
		tx    Transaction
	)
	err := e.write(bf.AccountID, func(b *accountBook) error {
		ts := bf.Timestamp
		if ts.IsZero() {
			ts = e.now()
		}
		f := Fill{
			Instrument: bf.Instrument,
			Side:       bf.Side,
			Quantity:   bf.Quantity,
			Price:      bf.Price,
			Leverage:   bf.Leverage,
			Commission: bf.Commission,
			Timestamp:  ts,
			Note:       bf.Note,
		}
		meta, err := e.validateFill(b, f)
		if err != nil {
			return err
		}

		order = Order{
			ID:             id.At(ts),
			AccountID:      b.id,
			Instrument:     bf.Instrument,
			Kind:           bf.Kind,
			Side:           bf.Side,
			Quantity:       bf.Quantity,
			Leverage:       bf.Leverage,
			Status:         Filled,
			ExecutionPrice: bf.Price,
			Backfilled:     true,
			CreatedAt:      ts,
			UpdatedAt:      ts,
		}
		if bf.Kind != Market {
			px := bf.Price
			order.Price = &px
		}
		f.OrderID = order.ID
		if f.Note == "" {
			f.Note = "backfill"
		}

		tx = e.applyFillLocked(ctx, b, f, meta)
		order.FillTransactionID = tx.ID

		stored := order
		b.orders[order.ID] = &stored
		b.orderSeq = append(b.orderSeq, order.ID)
		e.store.indexOrder(order.ID, b.id)
		e.metrics.Order("backfilled")

		_, _, err = e.settleLocked(ctx, b)
		return err
	})
	if err != nil {
		return Order{}, Transaction{}, err
	}
	return order, tx, nil
}

// Recalculate unconditionally refreshes and re-evaluates the account, then
// cross-checks the result against a replay of the log from empty. Repeated
// calls without log changes return identical snapshots.
func (e *Engine) Recalculate(ctx context.Context, accountID string) (Account, error) {
	var a Account
	err := e.write(accountID, func(b *accountBook) error {
		var err error
		if a, _, err = e.settleLocked(ctx, b); err != nil {
			return err
		}
		replayed, err := e.replayLocked(b)
		if err != nil {
			return err
		}
		for _, c := range []struct {
			field        string
			live, replay float64
		}{
			{"balance", a.Balance, replayed.Balance},
			{"equity", a.Equity, replayed.Equity},
			{"margin_used", a.MarginUsed, replayed.MarginUsed},
		} {
			if math.Abs(c.live-c.replay) > consistencyTolerance {
				return e.haltLocked(b, &ConsistencyError{AccountID: b.id, Field: c.field, Memo: c.live, Replayed: c.replay})
			}
		}
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	e.log.InfoContext(ctx, "account recalculated", "account", accountID, "balance", a.Balance, "equity", a.Equity)
	return a, nil
}

// Corrections returns the account's correction entries in log order.
func (e *Engine) Corrections(accountID string) ([]Transaction, error) {
	var out []Transaction
	err := e.read(accountID, func(b *accountBook) error {
		for _, tx := range b.log {
			if tx.Type == TxCorrection {
				out = append(out, tx)
			}
		}
		return nil
	})
	return out, err
}
