package engine

import (
	"math"
	"time"

	"github.com/rustyeddy/cfdledger/risk"
)

type OrderKind string

const (
	Market OrderKind = "market"
	Limit  OrderKind = "limit"
	Stop   OrderKind = "stop"
)

func (k OrderKind) Valid() bool {
	return k == Market || k == Limit || k == Stop
}

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func (s Side) Valid() bool { return s == Buy || s == Sell }

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) isBuy() bool { return s == Buy }

type OrderStatus string

const (
	Pending   OrderStatus = "pending"
	Filled    OrderStatus = "filled"
	Cancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool { return s == Filled || s == Cancelled }

type TxType string

const (
	TxFill       TxType = "fill"
	TxClose      TxType = "close"
	TxCorrection TxType = "correction"
	TxAdjustment TxType = "adjustment"
)

type AlertKind string

const (
	AlertMarginCall  AlertKind = "margin_call"
	AlertStopOut     AlertKind = "stop_out"
	AlertLargeProfit AlertKind = "large_profit"
	AlertLargeLoss   AlertKind = "large_loss"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// OrderRequest is the structured contract a request producer hands in.
type OrderRequest struct {
	AccountID  string    `json:"accountId" yaml:"account"`
	Instrument string    `json:"instrument" yaml:"instrument"`
	Kind       OrderKind `json:"kind" yaml:"kind"`
	Side       Side      `json:"side" yaml:"side"`
	Quantity   float64   `json:"quantity" yaml:"quantity"`
	Price      *float64  `json:"price,omitempty" yaml:"price,omitempty"`
	Leverage   float64   `json:"leverage" yaml:"leverage"`
}

type Order struct {
	ID                string      `json:"id"`
	AccountID         string      `json:"accountId"`
	Instrument        string      `json:"instrument"`
	Kind              OrderKind   `json:"kind"`
	Side              Side        `json:"side"`
	Quantity          float64     `json:"quantity"`
	Price             *float64    `json:"price,omitempty"`
	Leverage          float64     `json:"leverage"`
	Status            OrderStatus `json:"status"`
	ReservedMargin    float64     `json:"reservedMargin"`
	ExecutionPrice    float64     `json:"executionPrice,omitempty"`
	FillTransactionID string      `json:"fillTransactionId,omitempty"`
	Backfilled        bool        `json:"backfilled,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

type Position struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"accountId"`
	Instrument    string    `json:"instrument"`
	Side          Side      `json:"side"`
	Quantity      float64   `json:"quantity"`
	EntryPrice    float64   `json:"entryPrice"`
	CurrentPrice  float64   `json:"currentPrice"`
	UnrealizedPnL float64   `json:"unrealizedPnl"`
	Leverage      float64   `json:"leverage"`
	Margin        float64   `json:"margin"`
	ContractSize  float64   `json:"contractSize"`
	OpenedAt      time.Time `json:"openedAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (p *Position) mark(price float64) {
	p.CurrentPrice = price
	p.UnrealizedPnL = risk.UnrealizedPnL(p.Side.isBuy(), p.Quantity, p.ContractSize, p.EntryPrice, price)
}

// Transaction is an immutable log entry. Its cash effect on the balance is
// RealizedPnL - Commission.
type Transaction struct {
	ID             string    `json:"transactionId"`
	AccountID      string    `json:"accountId"`
	Seq            int64     `json:"seq"`
	OrderID        string    `json:"orderId,omitempty"`
	PositionID     string    `json:"positionId,omitempty"`
	Instrument     string    `json:"instrument,omitempty"`
	Type           TxType    `json:"type"`
	Side           Side      `json:"side,omitempty"`
	Quantity       float64   `json:"quantity"`
	Price          float64   `json:"price"`
	Leverage       float64   `json:"leverage,omitempty"`
	ClosedQuantity float64   `json:"closedQuantity,omitempty"`
	RealizedPnL    float64   `json:"realizedPnl"`
	Commission     float64   `json:"commission"`
	Timestamp      time.Time `json:"timestamp"`
	CorrectionOf   string    `json:"correctionOf,omitempty"`
	Reversal       bool      `json:"reversal,omitempty"`
	Note           string    `json:"note,omitempty"`
}

// CashEffect is the amount the transaction adds to the balance.
func (t Transaction) CashEffect() float64 {
	return t.RealizedPnL - t.Commission
}

// Closes reports whether the transaction realized P&L on a trade.
func (t Transaction) Closes() bool {
	return t.Type == TxClose || (t.Type == TxFill && t.ClosedQuantity > 0)
}

// Account is the derived snapshot of one account. It is a pure function of
// the transaction log and the open positions and carries no wall clock data,
// so two refreshes without intervening change compare equal.
type Account struct {
	ID              string  `json:"id"`
	Customer        string  `json:"customer"`
	Currency        string  `json:"currency"`
	Balance         float64 `json:"balance"`
	Equity          float64 `json:"equity"`
	UnrealizedPnL   float64 `json:"unrealizedPnl"`
	MarginUsed      float64 `json:"marginUsed"`
	MarginAvailable float64 `json:"marginAvailable"`
	PendingMargin   float64 `json:"pendingMargin"`
	FreeMargin      float64 `json:"freeMargin"`
	RealizedPnL     float64 `json:"realizedPnl"`
	Commission      float64 `json:"commission"`
	Deposits        float64 `json:"deposits"`
	TotalTrades     int     `json:"totalTrades"`
	WinningTrades   int     `json:"winningTrades"`
	LosingTrades    int     `json:"losingTrades"`
	OpenPositions   int     `json:"openPositions"`
	Sequence        int64   `json:"sequence"`
	StopOut         bool    `json:"stopOut"`
}

// MarginRatio is MarginAvailable / MarginUsed, +Inf with nothing used.
func (a Account) MarginRatio() float64 {
	return risk.MarginRatio(a.MarginAvailable, a.MarginUsed)
}

// FiniteMarginRatio returns the ratio and whether it is defined.
func (a Account) FiniteMarginRatio() (float64, bool) {
	r := a.MarginRatio()
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return 0, false
	}
	return r, true
}

type Alert struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"accountId"`
	Kind            AlertKind `json:"kind"`
	Severity        Severity  `json:"severity"`
	MarginRatio     *float64  `json:"marginRatio,omitempty"`
	PositionID      string    `json:"positionId,omitempty"`
	Instrument      string    `json:"instrument,omitempty"`
	Equity          float64   `json:"equity"`
	MarginUsed      float64   `json:"marginUsed"`
	MarginAvailable float64   `json:"marginAvailable"`
	UnrealizedPnL   float64   `json:"unrealizedPnl"`
	Message         string    `json:"message"`
	Timestamp       time.Time `json:"timestamp"`
}

// AccountSpec opens an account.
type AccountSpec struct {
	ID       string  `json:"id" yaml:"id"`
	Customer string  `json:"customer" yaml:"customer"`
	Currency string  `json:"currency" yaml:"currency"`
	Deposit  float64 `json:"deposit" yaml:"deposit"`
}

// TransactionChanges lists the fields a correction overrides. Nil fields keep
// their current effective value.
type TransactionChanges struct {
	Quantity    *float64 `json:"quantity,omitempty" yaml:"quantity,omitempty"`
	Price       *float64 `json:"price,omitempty" yaml:"price,omitempty"`
	RealizedPnL *float64 `json:"realizedPnl,omitempty" yaml:"realized_pnl,omitempty"`
	Commission  *float64 `json:"commission,omitempty" yaml:"commission,omitempty"`
	Note        string   `json:"note,omitempty" yaml:"note,omitempty"`
}

func (c TransactionChanges) empty() bool {
	return c.Quantity == nil && c.Price == nil && c.RealizedPnL == nil && c.Commission == nil
}

// Backfill describes a historical filled order.
type Backfill struct {
	AccountID  string    `json:"accountId" yaml:"account"`
	Instrument string    `json:"instrument" yaml:"instrument"`
	Kind       OrderKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Side       Side      `json:"side" yaml:"side"`
	Quantity   float64   `json:"quantity" yaml:"quantity"`
	Price      float64   `json:"price" yaml:"price"`
	Leverage   float64   `json:"leverage" yaml:"leverage"`
	// Commission overrides the schedule when set.
	Commission *float64  `json:"commission,omitempty" yaml:"commission,omitempty"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	Note       string    `json:"note,omitempty" yaml:"note,omitempty"`
}
