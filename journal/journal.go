// Package journal persists the engine's transaction log, account snapshots
// and alerts. Both adapters satisfy engine.Journal.
package journal

import (
	"time"

	"github.com/rustyeddy/cfdledger/engine"
)

// Journal is an engine.Journal that owns a resource.
type Journal interface {
	engine.Journal
	Close() error
}

// SnapshotRecord is an account snapshot as journaled at a point in time.
type SnapshotRecord struct {
	Time    time.Time
	Account engine.Account
}

// Totals is the cash side of an account folded from its journaled log.
type Totals struct {
	AccountID    string
	Transactions int
	Balance      float64
	RealizedPnL  float64
	Commission   float64
	Deposits     float64
	Trades       int
	Corrections  int
}

// Summarize folds txs in sequence order. It is the offline counterpart of
// the engine's balance fold and is used to audit a journal without a running
// engine. Corrections count toward the type of the transaction they amend.
func Summarize(accountID string, txs []engine.Transaction) Totals {
	t := Totals{AccountID: accountID}
	types := make(map[string]engine.TxType)
	var own []engine.Transaction
	for _, tx := range txs {
		if tx.AccountID != accountID {
			continue
		}
		own = append(own, tx)
		t.Transactions++
		t.Balance += tx.CashEffect()
		t.Commission += tx.Commission

		typ := tx.Type
		if typ == engine.TxCorrection {
			t.Corrections++
			typ = types[tx.CorrectionOf]
		} else {
			types[tx.ID] = typ
		}
		if typ == engine.TxAdjustment {
			t.Deposits += tx.RealizedPnL
		} else {
			t.RealizedPnL += tx.RealizedPnL
		}
	}
	for _, tx := range engine.EffectiveLog(own) {
		if tx.Closes() {
			t.Trades++
		}
	}
	return t
}
