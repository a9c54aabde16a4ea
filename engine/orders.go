package engine

import (
	"context"

	"github.com/rustyeddy/cfdledger/internal/id"
	"github.com/rustyeddy/cfdledger/risk"
)

// Submit validates req against the instrument catalogue, the risk policy and
// the account's free margin, then books a pending order reserving its margin.
// A rejected request leaves no trace.
func (e *Engine) Submit(ctx context.Context, req OrderRequest) (Order, error) {
	if !req.Kind.Valid() {
		return Order{}, invalid("kind", "kind must be market, limit or stop, got %q", req.Kind)
	}
	if !req.Side.Valid() {
		return Order{}, invalid("side", "side must be buy or sell, got %q", req.Side)
	}
	if req.Kind != Market && req.Price == nil {
		return Order{}, invalid("price", "%s orders need a price", req.Kind)
	}

	var order Order
	err := e.write(req.AccountID, func(b *accountBook) error {
		meta, err := e.instrumentFor(b, req.Instrument)
		if err != nil {
			return err
		}

		var price float64
		if req.Price != nil {
			price = *req.Price
		}
		if req.Kind == Market {
			px, ok := e.prices.Price(req.Instrument)
			if !ok {
				return invalid("instrument", "no market price for %s", req.Instrument)
			}
			price = px
		}

		d := risk.CheckOrder(e.policy, risk.OrderCheck{
			Quantity:     req.Quantity,
			Price:        price,
			Leverage:     req.Leverage,
			ContractSize: meta.ContractSize,
			MinimumSize:  meta.MinimumTradeSize,
			FreeMargin:   b.snapshot.FreeMargin,
		})
		if err := decisionError(d); err != nil {
			e.metrics.Order("rejected")
			return err
		}

		now := e.now()
		order = Order{
			ID:             id.At(now),
			AccountID:      b.id,
			Instrument:     req.Instrument,
			Kind:           req.Kind,
			Side:           req.Side,
			Quantity:       req.Quantity,
			Leverage:       req.Leverage,
			Status:         Pending,
			ReservedMargin: d.RequiredMargin,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if req.Price != nil {
			px := *req.Price
			order.Price = &px
		}
		stored := order
		b.orders[order.ID] = &stored
		b.orderSeq = append(b.orderSeq, order.ID)
		e.store.indexOrder(order.ID, b.id)
		e.metrics.Order(string(Pending))

		_, _, err = e.settleLocked(ctx, b)
		return err
	})
	if err != nil {
		e.log.DebugContext(ctx, "order rejected", "account", req.AccountID, "instrument", req.Instrument, "err", err)
		return Order{}, err
	}

	e.log.InfoContext(ctx, "order submitted",
		"account", order.AccountID, "order", order.ID, "instrument", order.Instrument,
		"kind", order.Kind, "side", order.Side, "qty", order.Quantity, "reserved", order.ReservedMargin)
	return order, nil
}

// pendingOrder resolves orderID to its account and checks it is pending.
func pendingOrder(b *accountBook, orderID, op string) (*Order, error) {
	o, ok := b.orders[orderID]
	if !ok {
		return nil, &NotFoundError{Entity: "order", ID: orderID}
	}
	if o.Status != Pending {
		return nil, &InvalidStateError{Entity: "order", ID: orderID, State: string(o.Status), Op: op}
	}
	return o, nil
}

// Execute fills a pending order at executionPrice. The reservation is
// released and replaced by the margin of the resulting position.
func (e *Engine) Execute(ctx context.Context, orderID string, executionPrice float64) (Transaction, error) {
	acct, err := e.store.orderOwner(orderID)
	if err != nil {
		return Transaction{}, err
	}

	var tx Transaction
	err = e.write(acct, func(b *accountBook) error {
		o, err := pendingOrder(b, orderID, "execute")
		if err != nil {
			return err
		}
		if !(executionPrice > 0) || !finite(executionPrice) {
			return invalid("price", "execution price must be positive")
		}
		meta, err := e.instrumentFor(b, o.Instrument)
		if err != nil {
			return err
		}

		now := e.now()
		o.Status = Filled
		o.ExecutionPrice = executionPrice
		o.UpdatedAt = now

		tx = e.applyFillLocked(ctx, b, Fill{
			OrderID:    o.ID,
			Instrument: o.Instrument,
			Side:       o.Side,
			Quantity:   o.Quantity,
			Price:      executionPrice,
			Leverage:   o.Leverage,
			Timestamp:  now,
		}, meta)
		o.FillTransactionID = tx.ID
		e.metrics.Order(string(Filled))

		_, _, err = e.settleLocked(ctx, b)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Cancel releases a pending order's reservation.
func (e *Engine) Cancel(ctx context.Context, orderID string) (Order, error) {
	acct, err := e.store.orderOwner(orderID)
	if err != nil {
		return Order{}, err
	}

	var out Order
	err = e.write(acct, func(b *accountBook) error {
		o, err := pendingOrder(b, orderID, "cancel")
		if err != nil {
			return err
		}
		o.Status = Cancelled
		o.UpdatedAt = e.now()
		out = *o
		e.metrics.Order(string(Cancelled))

		_, _, err = e.settleLocked(ctx, b)
		return err
	})
	if err != nil {
		return Order{}, err
	}
	e.log.InfoContext(ctx, "order cancelled", "account", acct, "order", orderID, "released", out.ReservedMargin)
	return out, nil
}
