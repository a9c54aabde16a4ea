package engine

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/cfdledger/market"
	"github.com/rustyeddy/cfdledger/risk"
)

type testJournal struct {
	mu        sync.Mutex
	txs       []Transaction
	snapshots []Account
	alerts    []Alert
}

func (j *testJournal) RecordTransaction(tx Transaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.txs = append(j.txs, tx)
	return nil
}

func (j *testJournal) RecordSnapshot(_ time.Time, a Account) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.snapshots = append(j.snapshots, a)
	return nil
}

func (j *testJournal) RecordAlert(a Alert) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.alerts = append(j.alerts, a)
	return nil
}

type testSink struct {
	mu     sync.Mutex
	alerts []Alert
}

func (s *testSink) Publish(a Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

func (s *testSink) kinds() []AlertKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AlertKind, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, a.Kind)
	}
	return out
}

func (s *testSink) count(kind AlertKind) int {
	n := 0
	for _, k := range s.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	e       *Engine
	journal *testJournal
	sink    *testSink
	clock   *testClock
}

// testInstruments adds two USD settled instruments with a contract size of
// one so risk figures stay small and exact.
func testInstruments() *market.Registry {
	r := market.DefaultRegistry()
	_ = r.Register(market.InstrumentMeta{Name: "TEST", BaseCurrency: "TST", QuoteCurrency: "USD", ContractSize: 1, PipLocation: -2})
	_ = r.Register(market.InstrumentMeta{Name: "TEST2", BaseCurrency: "TS2", QuoteCurrency: "USD", ContractSize: 1, PipLocation: -2})
	return r
}

func newHarness(t *testing.T, c Commission) *harness {
	t.Helper()
	h := &harness{
		journal: &testJournal{},
		sink:    &testSink{},
		clock:   &testClock{now: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)},
	}
	e, err := New(Options{
		Policy:      risk.DefaultPolicy(),
		Instruments: testInstruments(),
		Commission:  c,
		Journal:     h.journal,
		Alerts:      h.sink,
		Clock:       h.clock.Now,
	})
	require.NoError(t, err)
	h.e = e
	return h
}

func (h *harness) open(t *testing.T, acct string, deposit float64) {
	t.Helper()
	_, err := h.e.OpenAccount(context.Background(), AccountSpec{ID: acct, Customer: "cust-" + acct, Currency: "USD", Deposit: deposit})
	require.NoError(t, err)
}

func (h *harness) prices(t *testing.T, prices map[string]float64) PriceUpdate {
	t.Helper()
	u, err := h.e.UpdatePrices(context.Background(), prices)
	require.NoError(t, err)
	return u
}

func (h *harness) buy(t *testing.T, acct, instr string, qty, price, leverage float64) Transaction {
	t.Helper()
	return h.trade(t, acct, instr, Buy, qty, price, leverage)
}

func (h *harness) sell(t *testing.T, acct, instr string, qty, price, leverage float64) Transaction {
	t.Helper()
	return h.trade(t, acct, instr, Sell, qty, price, leverage)
}

// trade submits a market order at the stored price and executes it at price.
func (h *harness) trade(t *testing.T, acct, instr string, side Side, qty, price, leverage float64) Transaction {
	t.Helper()
	ctx := context.Background()
	o, err := h.e.Submit(ctx, OrderRequest{
		AccountID: acct, Instrument: instr, Kind: Market, Side: side, Quantity: qty, Leverage: leverage,
	})
	require.NoError(t, err)
	tx, err := h.e.Execute(ctx, o.ID, price)
	require.NoError(t, err)
	return tx
}

func (h *harness) snapshot(t *testing.T, acct string) Account {
	t.Helper()
	a, err := h.e.Snapshot(acct)
	require.NoError(t, err)
	return a
}

func (h *harness) positions(t *testing.T, acct string) []Position {
	t.Helper()
	ps, err := h.e.Positions(acct)
	require.NoError(t, err)
	return ps
}

// assertDecomposition checks equity and margin identities against the
// account's open positions.
func assertDecomposition(t *testing.T, h *harness, acct string) {
	t.Helper()
	a := h.snapshot(t, acct)
	var unrealized, used float64
	for _, p := range h.positions(t, acct) {
		unrealized += p.UnrealizedPnL
		used += p.Margin
	}
	assert.InDelta(t, a.Balance+unrealized, a.Equity, 1e-6, "equity decomposition")
	assert.InDelta(t, used, a.MarginUsed, 1e-6, "margin used")
	assert.InDelta(t, a.Equity-a.MarginUsed, a.MarginAvailable, 1e-6, "margin available")
	assert.InDelta(t, a.MarginAvailable-a.PendingMargin, a.FreeMargin, 1e-6, "free margin")
}

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
