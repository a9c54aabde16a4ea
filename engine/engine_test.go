package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndToEndEURUSD(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Commission{})
	ctx := context.Background()
	h.open(t, "A1", 100000)
	h.prices(t, map[string]float64{"EUR_USD": 1.0800})

	o, err := h.e.Submit(ctx, OrderRequest{
		AccountID: "A1", Instrument: "EUR_USD", Kind: Market, Side: Buy, Quantity: 2, Leverage: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, Pending, o.Status)
	assert.InDelta(t, 21600.0, o.ReservedMargin, 1e-6)

	a := h.snapshot(t, "A1")
	assert.InDelta(t, 21600.0, a.PendingMargin, 1e-6)
	assert.InDelta(t, 100000.0-21600.0, a.FreeMargin, 1e-6)
	assert.InDelta(t, 0.0, a.MarginUsed, 1e-9)

	fill, err := h.e.Execute(ctx, o.ID, 1.0800)
	require.NoError(t, err)
	assert.Equal(t, TxFill, fill.Type)
	assert.Equal(t, o.ID, fill.OrderID)
	assert.Equal(t, 0.0, fill.RealizedPnL)

	a = h.snapshot(t, "A1")
	assert.InDelta(t, 21600.0, a.MarginUsed, 1e-6)
	assert.InDelta(t, 0.0, a.PendingMargin, 1e-9)
	assert.InDelta(t, 100000.0, a.Equity, 1e-6)

	u := h.prices(t, map[string]float64{"EUR_USD": 1.0900})
	assert.Equal(t, []string{"A1"}, u.Accounts)
	assert.Equal(t, 1, u.Positions)

	a = h.snapshot(t, "A1")
	assert.InDelta(t, 2000.0, a.UnrealizedPnL, 1e-6)
	assert.InDelta(t, 102000.0, a.Equity, 1e-6)
	assert.InDelta(t, 100000.0, a.Balance, 1e-6)
	assert.InDelta(t, 102000.0-21600.0, a.MarginAvailable, 1e-6)
	assertDecomposition(t, h, "A1")

	ps := h.positions(t, "A1")
	require.Len(t, ps, 1)

	closeTx, err := h.e.ClosePosition(ctx, ps[0].ID, 1.0900)
	require.NoError(t, err)
	assert.Equal(t, TxClose, closeTx.Type)
	assert.InDelta(t, 2000.0, closeTx.RealizedPnL, 1e-6)

	a = h.snapshot(t, "A1")
	assert.InDelta(t, 102000.0, a.Balance, 1e-6)
	assert.InDelta(t, 102000.0, a.Equity, 1e-6)
	assert.InDelta(t, 0.0, a.MarginUsed, 1e-9)
	assert.Equal(t, 0, a.OpenPositions)
	assert.Equal(t, 1, a.TotalTrades)
	assert.Equal(t, 1, a.WinningTrades)
	assert.Empty(t, h.positions(t, "A1"))

	// +2000 unrealized crossed the profit alert level
	assert.Equal(t, 1, h.sink.count(AlertLargeProfit))
}

func TestEndToEndWithCommission(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Commission{PerLot: 5})
	ctx := context.Background()
	h.open(t, "A1", 100000)
	h.prices(t, map[string]float64{"EUR_USD": 1.0800})

	fill := h.buy(t, "A1", "EUR_USD", 2, 1.0800, 10)
	assert.InDelta(t, 10.0, fill.Commission, 1e-9)
	assert.InDelta(t, 99990.0, h.snapshot(t, "A1").Balance, 1e-6)

	h.prices(t, map[string]float64{"EUR_USD": 1.0900})
	assert.InDelta(t, 101990.0, h.snapshot(t, "A1").Equity, 1e-6)

	ps := h.positions(t, "A1")
	require.Len(t, ps, 1)
	_, err := h.e.ClosePosition(ctx, ps[0].ID, 1.0900)
	require.NoError(t, err)

	// 100000 + 2000 realized - 10 open commission - 10 close commission
	assert.InDelta(t, 101980.0, h.snapshot(t, "A1").Balance, 1e-6)
}

func TestNettingBuyTwoSellThree(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Commission{})
	h.open(t, "A1", 100000)
	h.prices(t, map[string]float64{"EUR_USD": 1.0800})

	h.buy(t, "A1", "EUR_USD", 2, 1.0800, 10)
	h.prices(t, map[string]float64{"EUR_USD": 1.0900})
	tx := h.sell(t, "A1", "EUR_USD", 3, 1.0900, 10)

	assert.Equal(t, TxFill, tx.Type)
	assert.Equal(t, 3.0, tx.Quantity)
	assert.Equal(t, 2.0, tx.ClosedQuantity)
	assert.InDelta(t, 2000.0, tx.RealizedPnL, 1e-6)

	ps := h.positions(t, "A1")
	require.Len(t, ps, 1)
	assert.Equal(t, Sell, ps[0].Side)
	assert.InDelta(t, 1.0, ps[0].Quantity, 1e-12)
	assert.InDelta(t, 1.0900, ps[0].EntryPrice, 1e-12)
	assert.InDelta(t, 10900.0, ps[0].Margin, 1e-6)
	assert.Equal(t, tx.PositionID, ps[0].ID)

	a := h.snapshot(t, "A1")
	assert.InDelta(t, 102000.0, a.Balance, 1e-6)
	assert.Equal(t, 1, a.OpenPositions)
	assertDecomposition(t, h, "A1")
}

func TestNettingAugmentAndReduce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Commission{})
	ctx := context.Background()
	h.open(t, "A1", 10000)
	h.prices(t, map[string]float64{"TEST": 100})

	h.buy(t, "A1", "TEST", 10, 100, 10)
	h.buy(t, "A1", "TEST", 30, 104, 10)

	ps := h.positions(t, "A1")
	require.Len(t, ps, 1)
	assert.InDelta(t, 40.0, ps[0].Quantity, 1e-12)
	assert.InDelta(t, 103.0, ps[0].EntryPrice, 1e-12)
	assert.InDelta(t, 100.0+312.0, ps[0].Margin, 1e-9)
	firstID := ps[0].ID

	tx, err := h.e.ApplyFill(ctx, Fill{AccountID: "A1", Instrument: "TEST", Side: Sell, Quantity: 10, Price: 105, Leverage: 10})
	require.NoError(t, err)
	assert.InDelta(t, 20.0, tx.RealizedPnL, 1e-9)
	assert.Equal(t, firstID, tx.PositionID)

	ps = h.positions(t, "A1")
	require.Len(t, ps, 1)
	assert.Equal(t, firstID, ps[0].ID)
	assert.InDelta(t, 30.0, ps[0].Quantity, 1e-12)
	assert.InDelta(t, 412.0*0.75, ps[0].Margin, 1e-9)

	// exact offset leaves nothing open
	tx, err = h.e.ApplyFill(ctx, Fill{AccountID: "A1", Instrument: "TEST", Side: Sell, Quantity: 30, Price: 103, Leverage: 10})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, tx.RealizedPnL, 1e-9)
	assert.Empty(t, h.positions(t, "A1"))
	assert.InDelta(t, 0.0, h.snapshot(t, "A1").MarginUsed, 1e-9)

	_, err = h.e.Position(firstID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRiskThresholds(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Commission{})
	ctx := context.Background()
	h.open(t, "A1", 1250)
	h.prices(t, map[string]float64{"TEST": 100})

	h.buy(t, "A1", "TEST", 100, 100, 10)

	a := h.snapshot(t, "A1")
	assert.InDelta(t, 1000.0, a.MarginUsed, 1e-9)
	assert.InDelta(t, 250.0, a.MarginAvailable, 1e-9)
	assert.InDelta(t, 0.25, a.MarginRatio(), 1e-12)
	assert.False(t, a.StopOut)

	assert.Equal(t, 1, h.sink.count(AlertMarginCall))
	assert.Equal(t, 0, h.sink.count(AlertStopOut))

	// a second evaluation inside the cooldown stays quiet
	alerts, err := h.e.Evaluate(ctx, "A1")
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, 1, h.sink.count(AlertMarginCall))

	h.prices(t, map[string]float64{"TEST": 99})

	assert.Equal(t, 1, h.sink.count(AlertStopOut))
	assert.Equal(t, 1, h.sink.count(AlertMarginCall))

	var stop Alert
	for _, al := range h.sink.alerts {
		if al.Kind == AlertStopOut {
			stop = al
		}
	}
	assert.Equal(t, SeverityCritical, stop.Severity)
	require.NotNil(t, stop.MarginRatio)
	assert.InDelta(t, 0.15, *stop.MarginRatio, 1e-9)
	assert.InDelta(t, 150.0, stop.MarginAvailable, 1e-9)

	// the only position was liquidated at its current price
	assert.Empty(t, h.positions(t, "A1"))
	txs, err := h.e.Transactions("A1", time.Time{}, time.Time{})
	require.NoError(t, err)
	last := txs[len(txs)-1]
	assert.Equal(t, TxClose, last.Type)
	assert.Equal(t, "stop-out liquidation", last.Note)
	assert.InDelta(t, -100.0, last.RealizedPnL, 1e-9)

	a = h.snapshot(t, "A1")
	assert.InDelta(t, 1150.0, a.Balance, 1e-9)
	assert.InDelta(t, 1150.0, a.Equity, 1e-9)
	assert.False(t, a.StopOut)
	assert.True(t, math.IsInf(a.MarginRatio(), 1))
}

func TestStopOutLiquidatesLargestLossFirst(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Commission{})
	h.open(t, "A1", 2500)
	h.prices(t, map[string]float64{"TEST": 100, "TEST2": 100})

	h.buy(t, "A1", "TEST", 100, 100, 10)
	h.buy(t, "A1", "TEST2", 100, 100, 10)
	assert.InDelta(t, 0.25, h.snapshot(t, "A1").MarginRatio(), 1e-12)

	h.prices(t, map[string]float64{"TEST": 98, "TEST2": 99.5})

	ps := h.positions(t, "A1")
	require.Len(t, ps, 1)
	assert.Equal(t, "TEST2", ps[0].Instrument)

	a := h.snapshot(t, "A1")
	assert.InDelta(t, 2300.0, a.Balance, 1e-9)
	assert.InDelta(t, 2250.0, a.Equity, 1e-9)
	assert.InDelta(t, 1.25, a.MarginRatio(), 1e-9)
	assert.Equal(t, 1, h.sink.count(AlertStopOut))
	assertDecomposition(t, h, "A1")
}

func TestAlertCooldownExpires(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Commission{})
	ctx := context.Background()
	h.open(t, "A1", 1250)
	h.prices(t, map[string]float64{"TEST": 100})
	h.buy(t, "A1", "TEST", 100, 100, 10)
	require.Equal(t, 1, h.sink.count(AlertMarginCall))

	h.clock.Advance(h.e.Policy().AlertCooldown + time.Second)
	alerts, err := h.e.Evaluate(ctx, "A1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertMarginCall, alerts[0].Kind)
	assert.Equal(t, 2, h.sink.count(AlertMarginCall))
}

func TestPositionAlerts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Commission{})
	h.open(t, "A1", 100000)
	h.prices(t, map[string]float64{"TEST": 100, "TEST2": 100})
	h.buy(t, "A1", "TEST", 10, 100, 10)
	h.sell(t, "A1", "TEST2", 10, 100, 10)

	h.prices(t, map[string]float64{"TEST": 250, "TEST2": 160})

	alerts, err := h.e.Alerts("A1")
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	assert.Equal(t, AlertLargeProfit, alerts[0].Kind)
	assert.Equal(t, SeverityInfo, alerts[0].Severity)
	assert.Equal(t, "TEST", alerts[0].Instrument)
	assert.InDelta(t, 1500.0, alerts[0].UnrealizedPnL, 1e-9)

	assert.Equal(t, AlertLargeLoss, alerts[1].Kind)
	assert.Equal(t, SeverityCritical, alerts[1].Severity)
	assert.Equal(t, "TEST2", alerts[1].Instrument)
	assert.InDelta(t, -600.0, alerts[1].UnrealizedPnL, 1e-9)

	h.journal.mu.Lock()
	assert.Len(t, h.journal.alerts, 2)
	h.journal.mu.Unlock()
}

func TestUpdatePricesRefreshesEachAccountOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Commission{})
	h.open(t, "A1", 100000)
	h.open(t, "A2", 100000)
	h.open(t, "A3", 100000)
	h.prices(t, map[string]float64{"TEST": 100, "TEST2": 50})

	h.buy(t, "A1", "TEST", 1, 100, 5)
	h.buy(t, "A1", "TEST2", 1, 50, 5)
	h.sell(t, "A2", "TEST2", 2, 50, 5)

	refreshes := func(acct string) uint64 {
		b, err := h.e.store.account(acct)
		require.NoError(t, err)
		b.mu.RLock()
		defer b.mu.RUnlock()
		return b.refreshes
	}
	before := map[string]uint64{"A1": refreshes("A1"), "A2": refreshes("A2"), "A3": refreshes("A3")}

	u := h.prices(t, map[string]float64{"TEST": 101, "TEST2": 51})
	assert.Equal(t, []string{"A1", "A2"}, u.Accounts)
	assert.Equal(t, 3, u.Positions)

	assert.Equal(t, before["A1"]+1, refreshes("A1"))
	assert.Equal(t, before["A2"]+1, refreshes("A2"))
	assert.Equal(t, before["A3"], refreshes("A3"))

	assert.InDelta(t, 2.0, h.snapshot(t, "A1").UnrealizedPnL, 1e-9)
	assert.InDelta(t, -2.0, h.snapshot(t, "A2").UnrealizedPnL, 1e-9)
}

func TestUpdatePricesRejectsBadBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Commission{})
	h.open(t, "A1", 100000)
	h.prices(t, map[string]float64{"TEST": 100})
	h.buy(t, "A1", "TEST", 1, 100, 5)
	before := h.snapshot(t, "A1")

	tests := []struct {
		name   string
		prices map[string]float64
	}{
		{"zero", map[string]float64{"TEST": 0}},
		{"negative", map[string]float64{"TEST": 101, "TEST2": -1}},
		{"NaN", map[string]float64{"TEST": math.NaN()}},
		{"unknown", map[string]float64{"TEST": 101, "NOPE": 1}},
	}
	for _, tt := range tests {
		_, err := h.e.UpdatePrices(context.Background(), tt.prices)
		assert.True(t, errors.Is(err, ErrValidation), tt.name)
	}

	px, _ := h.e.Prices().Price("TEST")
	assert.Equal(t, 100.0, px)
	assert.Equal(t, before, h.snapshot(t, "A1"))
}

func TestSubmitValidationLeavesNoState(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Commission{})
	ctx := context.Background()
	h.open(t, "A1", 1000)
	h.prices(t, map[string]float64{"TEST": 100, "USD_JPY": 150})
	before := h.snapshot(t, "A1")

	price := 100.0
	zero := 0.0
	tests := []struct {
		name     string
		req      OrderRequest
		wantCode string
		margin   bool
	}{
		{name: "unknown instrument", req: OrderRequest{Instrument: "NOPE", Kind: Market, Side: Buy, Quantity: 1, Leverage: 10}},
		{name: "foreign quote currency", req: OrderRequest{Instrument: "USD_JPY", Kind: Market, Side: Buy, Quantity: 1, Leverage: 10}},
		{name: "bad kind", req: OrderRequest{Instrument: "TEST", Kind: "iceberg", Side: Buy, Quantity: 1, Leverage: 10}},
		{name: "bad side", req: OrderRequest{Instrument: "TEST", Kind: Market, Side: "hold", Quantity: 1, Leverage: 10}},
		{name: "zero quantity", req: OrderRequest{Instrument: "TEST", Kind: Market, Side: Buy, Quantity: 0, Leverage: 10}, wantCode: "NON_POSITIVE_QUANTITY"},
		{name: "too large", req: OrderRequest{Instrument: "TEST", Kind: Market, Side: Buy, Quantity: 1000, Leverage: 10}, wantCode: "POSITION_TOO_LARGE"},
		{name: "leverage too high", req: OrderRequest{Instrument: "TEST", Kind: Market, Side: Buy, Quantity: 1, Leverage: 11}, wantCode: "LEVERAGE_TOO_HIGH"},
		{name: "zero leverage", req: OrderRequest{Instrument: "TEST", Kind: Market, Side: Buy, Quantity: 1, Leverage: 0}, wantCode: "INVALID_LEVERAGE"},
		{name: "limit without price", req: OrderRequest{Instrument: "TEST", Kind: Limit, Side: Buy, Quantity: 1, Leverage: 10}},
		{name: "stop with zero price", req: OrderRequest{Instrument: "TEST", Kind: Stop, Side: Buy, Quantity: 1, Leverage: 10, Price: &zero}, wantCode: "NON_POSITIVE_PRICE"},
		{name: "insufficient margin", req: OrderRequest{Instrument: "TEST", Kind: Limit, Side: Buy, Quantity: 100, Leverage: 5, Price: &price}, margin: true},
	}

	for _, tt := range tests {
		tt.req.AccountID = "A1"
		_, err := h.e.Submit(ctx, tt.req)
		require.Error(t, err, tt.name)
		assert.True(t, errors.Is(err, ErrValidation), "%s: %v", tt.name, err)
		assert.Equal(t, tt.margin, errors.Is(err, ErrInsufficientMargin), tt.name)

		if tt.margin {
			var ime *InsufficientMarginError
			require.True(t, errors.As(err, &ime))
			assert.InDelta(t, 2000.0, ime.Required, 1e-9)
			assert.InDelta(t, 1000.0, ime.Available, 1e-9)
		}
		if tt.wantCode != "" {
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), tt.name)
			assert.Contains(t, ve.Codes, tt.wantCode, tt.name)
		}
	}

	orders, err := h.e.Orders("A1")
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, before, h.snapshot(t, "A1"))

	_, err = h.e.Submit(ctx, OrderRequest{AccountID: "ghost", Instrument: "TEST", Kind: Market, Side: Buy, Quantity: 1, Leverage: 10})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMarketOrderNeedsPrice(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Commission{})
	h.open(t, "A1", 100000)

	_, err := h.e.Submit(context.Background(), OrderRequest{AccountID: "A1", Instrument: "EUR_USD", Kind: Market, Side: Buy, Quantity: 1, Leverage: 10})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestPendingMarginCountsAgainstFreeMargin(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Commission{})
	ctx := context.Background()
	h.open(t, "A1", 1000)

	price := 100.0
	req := OrderRequest{AccountID: "A1", Instrument: "TEST", Kind: Limit, Side: Buy, Quantity: 60, Leverage: 10, Price: &price}
	first, err := h.e.Submit(ctx, req)
	require.NoError(t, err)

	_, err = h.e.Submit(ctx, req)
	assert.True(t, errors.Is(err, ErrInsufficientMargin))

	cancelled, err := h.e.Cancel(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, cancelled.Status)
	assert.InDelta(t, 0.0, h.snapshot(t, "A1").PendingMargin, 1e-9)

	_, err = h.e.Submit(ctx, req)
	assert.NoError(t, err)
}

func TestOrderStateMachine(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Commission{})
	ctx := context.Background()
	h.open(t, "A1", 100000)
	h.prices(t, map[string]float64{"TEST": 100})

	price := 99.0
	o, err := h.e.Submit(ctx, OrderRequest{AccountID: "A1", Instrument: "TEST", Kind: Limit, Side: Buy, Quantity: 1, Leverage: 10, Price: &price})
	require.NoError(t, err)

	_, err = h.e.Execute(ctx, o.ID, 0)
	assert.True(t, errors.Is(err, ErrValidation))

	tx, err := h.e.Execute(ctx, o.ID, 99)
	require.NoError(t, err)

	got, err := h.e.Order(o.ID)
	require.NoError(t, err)
	assert.Equal(t, Filled, got.Status)
	assert.Equal(t, tx.ID, got.FillTransactionID)
	assert.Equal(t, 99.0, got.ExecutionPrice)

	_, err = h.e.Execute(ctx, o.ID, 99)
	assert.True(t, errors.Is(err, ErrInvalidState))
	var ise *InvalidStateError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, "filled", ise.State)

	_, err = h.e.Cancel(ctx, o.ID)
	assert.True(t, errors.Is(err, ErrInvalidState))

	_, err = h.e.Execute(ctx, "missing", 99)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = h.e.Cancel(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	c, err := h.e.Submit(ctx, OrderRequest{AccountID: "A1", Instrument: "TEST", Kind: Limit, Side: Buy, Quantity: 1, Leverage: 10, Price: &price})
	require.NoError(t, err)
	_, err = h.e.Cancel(ctx, c.ID)
	require.NoError(t, err)
	_, err = h.e.Execute(ctx, c.ID, 99)
	assert.True(t, errors.Is(err, ErrInvalidState))

	orders, err := h.e.Orders("A1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, []OrderStatus{Filled, Cancelled}, []OrderStatus{orders[0].Status, orders[1].Status})
}

func TestClosePositionErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Commission{})
	ctx := context.Background()
	h.open(t, "A1", 100000)
	h.prices(t, map[string]float64{"TEST": 100})
	h.buy(t, "A1", "TEST", 1, 100, 10)
	ps := h.positions(t, "A1")
	require.Len(t, ps, 1)

	_, err := h.e.ClosePosition(ctx, ps[0].ID, -1)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = h.e.ClosePosition(ctx, ps[0].ID, 101)
	require.NoError(t, err)

	_, err = h.e.ClosePosition(ctx, ps[0].ID, 101)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestClosePartial(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Commission{})
	ctx := context.Background()
	h.open(t, "A1", 10000)
	h.prices(t, map[string]float64{"TEST": 100})
	h.buy(t, "A1", "TEST", 10, 100, 10)
	h.prices(t, map[string]float64{"TEST": 110})
	ps := h.positions(t, "A1")
	require.Len(t, ps, 1)
	posID := ps[0].ID

	tx, err := h.e.ClosePartial(ctx, posID, 4, 110)
	require.NoError(t, err)
	assert.Equal(t, TxClose, tx.Type)
	assert.Equal(t, posID, tx.PositionID)
	assert.InDelta(t, 4.0, tx.ClosedQuantity, 1e-9)
	assert.InDelta(t, 40.0, tx.RealizedPnL, 1e-9)

	ps = h.positions(t, "A1")
	require.Len(t, ps, 1)
	assert.Equal(t, posID, ps[0].ID)
	assert.InDelta(t, 6.0, ps[0].Quantity, 1e-9)
	assert.InDelta(t, 100.0, ps[0].EntryPrice, 1e-9)
	assert.InDelta(t, 60.0, ps[0].Margin, 1e-9)
	assert.InDelta(t, 60.0, ps[0].UnrealizedPnL, 1e-9)

	a := h.snapshot(t, "A1")
	assert.InDelta(t, 10040.0, a.Balance, 1e-9)
	assert.Equal(t, 1, a.TotalTrades)
	assertDecomposition(t, h, "A1")

	replayed, err := h.e.Replay("A1")
	require.NoError(t, err)
	assert.Equal(t, a, replayed)

	_, err = h.e.ClosePartial(ctx, posID, 7, 110)
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = h.e.ClosePartial(ctx, posID, -1, 110)
	assert.True(t, errors.Is(err, ErrValidation))

	// zero closes what is left
	tx, err = h.e.ClosePartial(ctx, posID, 0, 110)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, tx.ClosedQuantity, 1e-9)
	assert.Empty(t, h.positions(t, "A1"))

	a = h.snapshot(t, "A1")
	assert.InDelta(t, 10100.0, a.Balance, 1e-9)
	assert.Equal(t, 2, a.TotalTrades)
	assert.Equal(t, 2, a.WinningTrades)
}

func TestAccountsAndAdjustments(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Commission{})
	ctx := context.Background()
	h.open(t, "B", 500)
	h.open(t, "A", 0)

	assert.Equal(t, []string{"A", "B"}, h.e.Accounts())

	_, err := h.e.OpenAccount(ctx, AccountSpec{ID: "A", Currency: "USD"})
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = h.e.OpenAccount(ctx, AccountSpec{ID: "C"})
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = h.e.OpenAccount(ctx, AccountSpec{ID: "D", Currency: "usd", Deposit: -1})
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = h.e.Adjust(ctx, "B", -600, "")
	assert.True(t, errors.Is(err, ErrInsufficientMargin))

	tx, err := h.e.Adjust(ctx, "B", -200, "")
	require.NoError(t, err)
	assert.Equal(t, TxAdjustment, tx.Type)
	assert.Equal(t, "withdrawal", tx.Note)

	a := h.snapshot(t, "B")
	assert.InDelta(t, 300.0, a.Balance, 1e-9)
	assert.InDelta(t, 300.0, a.Deposits, 1e-9)
	assert.Equal(t, int64(2), a.Sequence)

	_, err = h.e.Snapshot("nobody")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTransactionsRangeAndOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Commission{})
	ctx := context.Background()
	h.open(t, "A1", 100000)
	h.prices(t, map[string]float64{"TEST": 100})

	h.clock.Advance(time.Hour)
	h.buy(t, "A1", "TEST", 1, 100, 10)
	h.clock.Advance(time.Hour)
	h.buy(t, "A1", "TEST", 1, 101, 10)

	old := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	_, bfTx, err := h.e.BackfillOrder(ctx, Backfill{AccountID: "A1", Instrument: "TEST", Side: Buy, Quantity: 1, Price: 90, Leverage: 10, Timestamp: old})
	require.NoError(t, err)

	all, err := h.e.Transactions("A1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, bfTx.ID, all[0].ID)
	assert.Equal(t, TxAdjustment, all[1].Type)

	start := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	window, err := h.e.Transactions("A1", start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, 100.0, window[0].Price)

	got, err := h.e.Transaction(window[0].ID)
	require.NoError(t, err)
	assert.Equal(t, window[0], got)
}

func TestConsistencyErrorHaltsAccount(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Commission{})
	ctx := context.Background()
	h.open(t, "A1", 1000)
	h.open(t, "A2", 1000)
	h.prices(t, map[string]float64{"TEST": 100})

	b, err := h.e.store.account("A1")
	require.NoError(t, err)
	b.mu.Lock()
	b.memo.balance += 5
	b.mu.Unlock()

	_, err = h.e.Refresh(ctx, "A1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConsistency))
	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "balance", ce.Field)

	_, err = h.e.Submit(ctx, OrderRequest{AccountID: "A1", Instrument: "TEST", Kind: Market, Side: Buy, Quantity: 1, Leverage: 10})
	assert.True(t, errors.Is(err, ErrConsistency))
	_, err = h.e.Adjust(ctx, "A1", 10, "")
	assert.True(t, errors.Is(err, ErrConsistency))

	// reads still work and other accounts are unaffected
	_, err = h.e.Snapshot("A1")
	assert.NoError(t, err)
	h.buy(t, "A2", "TEST", 1, 100, 10)
}
