package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/cfdledger/engine"
)

const txColumns = `transaction_id, account_id, seq, order_id, position_id, instrument, type, side,
	quantity, price, leverage, closed_quantity, realized_pnl, commission, timestamp,
	correction_of, reversal, note`

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (engine.Transaction, error) {
	var (
		tx       engine.Transaction
		typ      string
		side     string
		reversal bool
	)
	err := s.Scan(
		&tx.ID, &tx.AccountID, &tx.Seq, &tx.OrderID, &tx.PositionID, &tx.Instrument, &typ, &side,
		&tx.Quantity, &tx.Price, &tx.Leverage, &tx.ClosedQuantity, &tx.RealizedPnL, &tx.Commission, &tx.Timestamp,
		&tx.CorrectionOf, &reversal, &tx.Note,
	)
	tx.Type = engine.TxType(typ)
	tx.Side = engine.Side(side)
	tx.Reversal = reversal
	return tx, err
}

// GetTransaction returns a single transaction by ID.
func (j *SQLite) GetTransaction(txID string) (engine.Transaction, error) {
	row := j.db.QueryRow(`SELECT `+txColumns+` FROM transactions WHERE transaction_id = ?`, txID)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return engine.Transaction{}, fmt.Errorf("transaction %q: %w", txID, engine.ErrNotFound)
		}
		return engine.Transaction{}, err
	}
	return tx, nil
}

// ListTransactions returns every transaction of the account in log order.
func (j *SQLite) ListTransactions(accountID string) ([]engine.Transaction, error) {
	return j.queryTransactions(`SELECT `+txColumns+` FROM transactions
		WHERE account_id = ?
		ORDER BY seq ASC`, accountID)
}

// ListTransactionsBetween returns the account's transactions whose timestamp
// is within [start, end), ordered by timestamp then sequence.
func (j *SQLite) ListTransactionsBetween(accountID string, start, end time.Time) ([]engine.Transaction, error) {
	return j.queryTransactions(`SELECT `+txColumns+` FROM transactions
		WHERE account_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, seq ASC`, accountID, start.UTC(), end.UTC())
}

// ListCorrections returns the correction entries that amend txID.
func (j *SQLite) ListCorrections(txID string) ([]engine.Transaction, error) {
	return j.queryTransactions(`SELECT `+txColumns+` FROM transactions
		WHERE correction_of = ?
		ORDER BY seq ASC`, txID)
}

func (j *SQLite) queryTransactions(query string, args ...any) ([]engine.Transaction, error) {
	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Accounts returns the IDs of every account with journaled transactions.
func (j *SQLite) Accounts() ([]string, error) {
	rows, err := j.db.Query(`SELECT DISTINCT account_id FROM transactions ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListSnapshotsBetween returns the account's snapshots taken within
// [start, end).
func (j *SQLite) ListSnapshotsBetween(accountID string, start, end time.Time) ([]SnapshotRecord, error) {
	rows, err := j.db.Query(`
		SELECT time, account_id, balance, equity, unrealized_pnl, margin_used, margin_available,
		       pending_margin, free_margin, realized_pnl, commission, open_positions, sequence, stop_out
		FROM snapshots
		WHERE account_id = ? AND time >= ? AND time < ?
		ORDER BY time ASC, sequence ASC`, accountID, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotRecord
	for rows.Next() {
		var rec SnapshotRecord
		a := &rec.Account
		if err := rows.Scan(
			&rec.Time, &a.ID, &a.Balance, &a.Equity, &a.UnrealizedPnL, &a.MarginUsed, &a.MarginAvailable,
			&a.PendingMargin, &a.FreeMargin, &a.RealizedPnL, &a.Commission, &a.OpenPositions, &a.Sequence, &a.StopOut,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListAlerts returns the account's alerts, oldest first.
func (j *SQLite) ListAlerts(accountID string) ([]engine.Alert, error) {
	rows, err := j.db.Query(`
		SELECT alert_id, account_id, kind, severity, margin_ratio, position_id, instrument,
		       equity, margin_used, margin_available, unrealized_pnl, message, timestamp
		FROM alerts
		WHERE account_id = ?
		ORDER BY timestamp ASC, alert_id ASC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Alert
	for rows.Next() {
		var (
			al       engine.Alert
			kind     string
			severity string
			ratio    sql.NullFloat64
		)
		if err := rows.Scan(
			&al.ID, &al.AccountID, &kind, &severity, &ratio, &al.PositionID, &al.Instrument,
			&al.Equity, &al.MarginUsed, &al.MarginAvailable, &al.UnrealizedPnL, &al.Message, &al.Timestamp,
		); err != nil {
			return nil, err
		}
		al.Kind = engine.AlertKind(kind)
		al.Severity = engine.Severity(severity)
		if ratio.Valid {
			r := ratio.Float64
			al.MarginRatio = &r
		}
		out = append(out, al)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
