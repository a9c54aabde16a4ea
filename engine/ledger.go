package engine

import (
	"context"
	"math"
	"time"

	"github.com/rustyeddy/cfdledger/internal/id"
	"github.com/rustyeddy/cfdledger/market"
	"github.com/rustyeddy/cfdledger/risk"
)

// quantities below this are treated as flat
const qtyEpsilon = 1e-9

// Fill is an execution handed to the ledger.
type Fill struct {
	AccountID  string    `json:"accountId"`
	OrderID    string    `json:"orderId,omitempty"`
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Leverage   float64   `json:"leverage"`
	Commission *float64  `json:"commission,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// netting is the outcome of folding one fill into the instrument's net
// position.
type netting struct {
	pos       *Position // resulting position, nil when flat
	closedQty float64
	realized  float64
	released  float64
	closedID  string // position that was fully closed, if any
}

// netFill folds a fill into cur without mutating it. A fresh position, when
// one is needed, takes newID. The live path and Replay share this fold.
func netFill(cur *Position, f Fill, contractSize float64, newID string) netting {
	open := func(qty float64) *Position {
		return &Position{
			ID:           newID,
			AccountID:    f.AccountID,
			Instrument:   f.Instrument,
			Side:         f.Side,
			Quantity:     qty,
			EntryPrice:   f.Price,
			CurrentPrice: f.Price,
			Leverage:     f.Leverage,
			Margin:       risk.RequiredMargin(qty, contractSize, f.Price, f.Leverage),
			ContractSize: contractSize,
			OpenedAt:     f.Timestamp,
			UpdatedAt:    f.Timestamp,
		}
	}

	if cur == nil {
		return netting{pos: open(f.Quantity)}
	}

	if cur.Side == f.Side {
		np := *cur
		np.EntryPrice = risk.WeightedEntry(cur.Quantity, cur.EntryPrice, f.Quantity, f.Price)
		np.Quantity = cur.Quantity + f.Quantity
		np.Margin = cur.Margin + risk.RequiredMargin(f.Quantity, contractSize, f.Price, f.Leverage)
		// effective leverage of the blended position
		np.Leverage = np.Quantity * contractSize * np.EntryPrice / np.Margin
		np.UpdatedAt = f.Timestamp
		return netting{pos: &np}
	}

	closeQty := math.Min(f.Quantity, cur.Quantity)
	res := netting{
		closedQty: closeQty,
		realized:  risk.UnrealizedPnL(cur.Side.isBuy(), closeQty, contractSize, cur.EntryPrice, f.Price),
		released:  cur.Margin * closeQty / cur.Quantity,
	}

	if remaining := cur.Quantity - closeQty; remaining > qtyEpsilon {
		np := *cur
		np.Quantity = remaining
		np.Margin = cur.Margin - res.released
		np.UpdatedAt = f.Timestamp
		res.pos = &np
		return res
	}

	res.closedID = cur.ID
	if rest := f.Quantity - closeQty; rest > qtyEpsilon {
		res.pos = open(rest)
	}
	return res
}

func (e *Engine) validateFill(b *accountBook, f Fill) (market.InstrumentMeta, error) {
	if !f.Side.Valid() {
		return market.InstrumentMeta{}, invalid("side", "side must be buy or sell, got %q", f.Side)
	}
	meta, err := e.instrumentFor(b, f.Instrument)
	if err != nil {
		return meta, err
	}
	if !(f.Quantity > 0) || !finite(f.Quantity) {
		return meta, invalid("quantity", "quantity must be positive")
	}
	if !(f.Price > 0) || !finite(f.Price) {
		return meta, invalid("price", "price must be positive")
	}
	if !(f.Leverage > 0) || !finite(f.Leverage) {
		return meta, invalid("leverage", "leverage must be positive")
	}
	if f.Commission != nil && !finite(*f.Commission) {
		return meta, invalid("commission", "commission must be a finite amount")
	}
	return meta, nil
}

// instrumentFor looks up an instrument and checks it settles in the
// account's currency.
func (e *Engine) instrumentFor(b *accountBook, instrument string) (market.InstrumentMeta, error) {
	meta, ok := e.instruments.Lookup(instrument)
	if !ok {
		return meta, invalid("instrument", "unknown instrument %q", instrument)
	}
	if meta.QuoteCurrency != b.currency {
		return meta, invalid("instrument", "%s settles in %s, account %s is in %s",
			instrument, meta.QuoteCurrency, b.id, b.currency)
	}
	return meta, nil
}

// applyFillLocked nets the fill into the account's position for the
// instrument and appends exactly one fill transaction.
func (e *Engine) applyFillLocked(ctx context.Context, b *accountBook, f Fill, meta market.InstrumentMeta) Transaction {
	if f.Timestamp.IsZero() {
		f.Timestamp = e.now()
	}
	f.AccountID = b.id

	cur := b.positions[f.Instrument]
	res := netFill(cur, f, meta.ContractSize, id.At(f.Timestamp))

	switch {
	case res.pos == nil:
		delete(b.positions, f.Instrument)
		e.store.positionClosed(cur)
	case cur == nil:
		b.positions[f.Instrument] = res.pos
		e.store.positionOpened(res.pos)
	case res.pos.ID != cur.ID:
		e.store.positionClosed(cur)
		b.positions[f.Instrument] = res.pos
		e.store.positionOpened(res.pos)
	default:
		b.positions[f.Instrument] = res.pos
	}
	if res.pos != nil {
		mark := f.Price
		if px, ok := e.prices.Price(f.Instrument); ok {
			mark = px
		}
		res.pos.mark(mark)
	}

	fee := e.commission.Fee(f.Quantity, meta.Notional(f.Quantity, f.Price))
	if f.Commission != nil {
		fee = *f.Commission
	}

	positionID := res.closedID
	if res.pos != nil {
		positionID = res.pos.ID
	}
	tx := e.appendLocked(b, Transaction{
		OrderID:        f.OrderID,
		PositionID:     positionID,
		Instrument:     f.Instrument,
		Type:           TxFill,
		Side:           f.Side,
		Quantity:       f.Quantity,
		Price:          f.Price,
		Leverage:       f.Leverage,
		ClosedQuantity: res.closedQty,
		RealizedPnL:    res.realized,
		Commission:     fee,
		Timestamp:      f.Timestamp,
		Note:           f.Note,
	})

	e.log.InfoContext(ctx, "fill applied",
		"account", b.id, "instrument", f.Instrument, "side", f.Side, "qty", f.Quantity,
		"price", f.Price, "closed", res.closedQty, "realized", res.realized, "tx", tx.ID)
	return tx
}

// ApplyFill books an execution that did not come through Submit/Execute,
// netting it into the account's position.
func (e *Engine) ApplyFill(ctx context.Context, f Fill) (Transaction, error) {
	var tx Transaction
	err := e.write(f.AccountID, func(b *accountBook) error {
		meta, err := e.validateFill(b, f)
		if err != nil {
			return err
		}
		tx = e.applyFillLocked(ctx, b, f, meta)
		_, _, err = e.settleLocked(ctx, b)
		return err
	})
	return tx, err
}

// ClosePosition fully closes a position at closePrice, realizing its P&L and
// releasing its margin.
func (e *Engine) ClosePosition(ctx context.Context, positionID string, closePrice float64) (Transaction, error) {
	return e.ClosePartial(ctx, positionID, 0, closePrice)
}

// ClosePartial closes quantity lots of a position at closePrice and books a
// close transaction for them. The rest of the position stays open at its
// entry price with its margin reduced pro rata. A quantity of zero, or the
// full quantity, closes the position.
func (e *Engine) ClosePartial(ctx context.Context, positionID string, quantity, closePrice float64) (Transaction, error) {
	if !(closePrice > 0) || !finite(closePrice) {
		return Transaction{}, invalid("price", "close price must be positive")
	}
	if quantity < 0 || !finite(quantity) {
		return Transaction{}, invalid("quantity", "close quantity must not be negative")
	}
	acct, err := e.store.positionOwner(positionID)
	if err != nil {
		return Transaction{}, err
	}

	var tx Transaction
	err = e.write(acct, func(b *accountBook) error {
		p := b.positionByID(positionID)
		if p == nil {
			return &NotFoundError{Entity: "position", ID: positionID}
		}
		qty := quantity
		if qty == 0 {
			qty = p.Quantity
		}
		if qty > p.Quantity+qtyEpsilon {
			return invalid("quantity", "close quantity %g exceeds position quantity %g", qty, p.Quantity)
		}
		tx = e.closePositionLocked(ctx, b, p, math.Min(qty, p.Quantity), closePrice, "manual close")
		_, _, err := e.settleLocked(ctx, b)
		return err
	})
	return tx, err
}

// reducePosition is the position left after closing qty lots of p, nil when
// nothing is left. Live closes and Replay share it.
func reducePosition(p *Position, qty float64, at time.Time) *Position {
	remaining := p.Quantity - qty
	if remaining <= qtyEpsilon {
		return nil
	}
	np := *p
	np.Quantity = remaining
	np.Margin = p.Margin * remaining / p.Quantity
	np.UpdatedAt = at
	return &np
}

func (e *Engine) closePositionLocked(ctx context.Context, b *accountBook, p *Position, qty, closePrice float64, note string) Transaction {
	now := e.now()
	released := p.Margin
	rest := reducePosition(p, qty, now)
	if rest == nil {
		qty = p.Quantity
		delete(b.positions, p.Instrument)
		e.store.positionClosed(p)
	} else {
		released -= rest.Margin
		rest.mark(p.CurrentPrice)
		b.positions[p.Instrument] = rest
	}

	realized := risk.UnrealizedPnL(p.Side.isBuy(), qty, p.ContractSize, p.EntryPrice, closePrice)
	fee := e.commission.Fee(qty, qty*p.ContractSize*closePrice)

	tx := e.appendLocked(b, Transaction{
		PositionID:     p.ID,
		Instrument:     p.Instrument,
		Type:           TxClose,
		Side:           p.Side,
		Quantity:       qty,
		Price:          closePrice,
		Leverage:       p.Leverage,
		ClosedQuantity: qty,
		RealizedPnL:    realized,
		Commission:     fee,
		Timestamp:      now,
		Note:           note,
	})

	e.log.InfoContext(ctx, "position closed",
		"account", b.id, "position", p.ID, "instrument", p.Instrument, "qty", qty,
		"price", closePrice, "realized", realized, "released", released, "reason", note)
	return tx
}
