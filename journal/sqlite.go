package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/cfdledger/engine"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// the engine records from one goroutine per account
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordTransaction(tx engine.Transaction) error {
	_, err := j.db.Exec(`
		INSERT INTO transactions
		(transaction_id, account_id, seq, order_id, position_id, instrument, type, side,
		 quantity, price, leverage, closed_quantity, realized_pnl, commission, timestamp,
		 correction_of, reversal, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.AccountID, tx.Seq, tx.OrderID, tx.PositionID, tx.Instrument, string(tx.Type), string(tx.Side),
		tx.Quantity, tx.Price, tx.Leverage, tx.ClosedQuantity, tx.RealizedPnL, tx.Commission, tx.Timestamp.UTC(),
		tx.CorrectionOf, tx.Reversal, tx.Note,
	)
	return err
}

func (j *SQLite) RecordSnapshot(at time.Time, a engine.Account) error {
	_, err := j.db.Exec(`
		INSERT INTO snapshots
		(time, account_id, balance, equity, unrealized_pnl, margin_used, margin_available,
		 pending_margin, free_margin, realized_pnl, commission, open_positions, sequence, stop_out)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		at.UTC(), a.ID, a.Balance, a.Equity, a.UnrealizedPnL, a.MarginUsed, a.MarginAvailable,
		a.PendingMargin, a.FreeMargin, a.RealizedPnL, a.Commission, a.OpenPositions, a.Sequence, a.StopOut,
	)
	return err
}

func (j *SQLite) RecordAlert(al engine.Alert) error {
	var ratio sql.NullFloat64
	if al.MarginRatio != nil {
		ratio = sql.NullFloat64{Float64: *al.MarginRatio, Valid: true}
	}
	_, err := j.db.Exec(`
		INSERT INTO alerts
		(alert_id, account_id, kind, severity, margin_ratio, position_id, instrument,
		 equity, margin_used, margin_available, unrealized_pnl, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		al.ID, al.AccountID, string(al.Kind), string(al.Severity), ratio, al.PositionID, al.Instrument,
		al.Equity, al.MarginUsed, al.MarginAvailable, al.UnrealizedPnL, al.Message, al.Timestamp.UTC(),
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
