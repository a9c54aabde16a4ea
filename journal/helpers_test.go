package journal

import (
	"time"

	"github.com/rustyeddy/cfdledger/engine"
)

var t0 = time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)

func ratio(x float64) *float64 { return &x }

// sampleLog is a deposit, a fill, a close and a commission correction on
// the fill.
func sampleLog() []engine.Transaction {
	return []engine.Transaction{
		{ID: "01TX0001", AccountID: "A1", Seq: 1, Type: engine.TxAdjustment, Quantity: 1, Price: 100000, RealizedPnL: 100000, Timestamp: t0, Note: "initial deposit"},
		{ID: "01TX0002", AccountID: "A1", Seq: 2, OrderID: "01ORD001", PositionID: "01POS001", Instrument: "EUR_USD", Type: engine.TxFill, Side: engine.Buy,
			Quantity: 2, Price: 1.085, Leverage: 10, Commission: 10, Timestamp: t0.Add(time.Hour)},
		{ID: "01TX0003", AccountID: "A1", Seq: 3, PositionID: "01POS001", Instrument: "EUR_USD", Type: engine.TxClose, Side: engine.Buy,
			Quantity: 2, Price: 1.0875, Leverage: 10, ClosedQuantity: 2, RealizedPnL: 500, Commission: 10, Timestamp: t0.Add(2 * time.Hour), Note: "manual close"},
		{ID: "01TX0004", AccountID: "A1", Seq: 4, OrderID: "01ORD001", PositionID: "01POS001", Instrument: "EUR_USD", Type: engine.TxCorrection, Side: engine.Buy,
			Quantity: 2, Price: 1.085, Leverage: 10, Commission: -10, Timestamp: t0.Add(3 * time.Hour), CorrectionOf: "01TX0002", Reversal: true, Note: "reversal of 01TX0002"},
		{ID: "01TX0005", AccountID: "A1", Seq: 5, OrderID: "01ORD001", PositionID: "01POS001", Instrument: "EUR_USD", Type: engine.TxCorrection, Side: engine.Buy,
			Quantity: 2, Price: 1.085, Leverage: 10, Commission: 12, Timestamp: t0.Add(3 * time.Hour), CorrectionOf: "01TX0002", Note: "correction of 01TX0002"},
	}
}
