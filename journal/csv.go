package journal

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rustyeddy/cfdledger/engine"
)

var (
	transactionHeader = []string{
		"transaction_id", "account_id", "seq", "order_id", "position_id", "instrument", "type", "side",
		"quantity", "price", "leverage", "closed_quantity", "realized_pnl", "commission", "timestamp",
		"correction_of", "reversal", "note",
	}
	snapshotHeader = []string{
		"time", "account_id", "balance", "equity", "unrealized_pnl", "margin_used", "margin_available",
		"pending_margin", "free_margin", "open_positions", "sequence", "stop_out",
	}
	alertHeader = []string{
		"alert_id", "account_id", "kind", "severity", "margin_ratio", "position_id", "instrument",
		"equity", "margin_used", "margin_available", "unrealized_pnl", "message", "timestamp",
	}
)

type csvFile struct {
	f *os.File
	w *csv.Writer
}

// openCSV opens path for append, writing header when the file is new.
func openCSV(path string, header []string) (*csvFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	c := &csvFile{f: f, w: csv.NewWriter(f)}
	if st.Size() == 0 {
		if err := c.write(header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *csvFile) write(rec []string) error {
	if err := c.w.Write(rec); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *csvFile) close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}

// CSVJournal appends transactions, snapshots and alerts to three CSV files.
type CSVJournal struct {
	mu        sync.Mutex
	txs       *csvFile
	snapshots *csvFile
	alerts    *csvFile
}

func NewCSV(transactionsPath, snapshotsPath, alertsPath string) (*CSVJournal, error) {
	txs, err := openCSV(transactionsPath, transactionHeader)
	if err != nil {
		return nil, fmt.Errorf("transactions journal: %w", err)
	}
	snaps, err := openCSV(snapshotsPath, snapshotHeader)
	if err != nil {
		txs.close()
		return nil, fmt.Errorf("snapshots journal: %w", err)
	}
	alerts, err := openCSV(alertsPath, alertHeader)
	if err != nil {
		txs.close()
		snaps.close()
		return nil, fmt.Errorf("alerts journal: %w", err)
	}
	return &CSVJournal{txs: txs, snapshots: snaps, alerts: alerts}, nil
}

func (j *CSVJournal) RecordTransaction(tx engine.Transaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.txs.write([]string{
		tx.ID,
		tx.AccountID,
		strconv.FormatInt(tx.Seq, 10),
		tx.OrderID,
		tx.PositionID,
		tx.Instrument,
		string(tx.Type),
		string(tx.Side),
		f(tx.Quantity),
		f(tx.Price),
		f(tx.Leverage),
		f(tx.ClosedQuantity),
		f(tx.RealizedPnL),
		f(tx.Commission),
		tx.Timestamp.UTC().Format(time.RFC3339Nano),
		tx.CorrectionOf,
		strconv.FormatBool(tx.Reversal),
		tx.Note,
	})
}

func (j *CSVJournal) RecordSnapshot(at time.Time, a engine.Account) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshots.write([]string{
		at.UTC().Format(time.RFC3339Nano),
		a.ID,
		f(a.Balance),
		f(a.Equity),
		f(a.UnrealizedPnL),
		f(a.MarginUsed),
		f(a.MarginAvailable),
		f(a.PendingMargin),
		f(a.FreeMargin),
		strconv.Itoa(a.OpenPositions),
		strconv.FormatInt(a.Sequence, 10),
		strconv.FormatBool(a.StopOut),
	})
}

func (j *CSVJournal) RecordAlert(al engine.Alert) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	ratio := ""
	if al.MarginRatio != nil {
		ratio = f(*al.MarginRatio)
	}
	return j.alerts.write([]string{
		al.ID,
		al.AccountID,
		string(al.Kind),
		string(al.Severity),
		ratio,
		al.PositionID,
		al.Instrument,
		f(al.Equity),
		f(al.MarginUsed),
		f(al.MarginAvailable),
		f(al.UnrealizedPnL),
		al.Message,
		al.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.txs.close(); err != nil {
		return err
	}
	if err := j.snapshots.close(); err != nil {
		return err
	}
	return j.alerts.close()
}

// ReadTransactionsCSV parses a transactions file written by CSVJournal.
func ReadTransactionsCSV(r io.Reader) ([]engine.Transaction, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(transactionHeader)

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if header[0] != transactionHeader[0] {
		return nil, fmt.Errorf("unexpected transactions header %q", header[0])
	}

	var out []engine.Transaction
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		tx, err := parseTransaction(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, tx)
	}
}

func parseTransaction(rec []string) (engine.Transaction, error) {
	var (
		tx  engine.Transaction
		err error
	)
	tx.ID = rec[0]
	tx.AccountID = rec[1]
	if tx.Seq, err = strconv.ParseInt(rec[2], 10, 64); err != nil {
		return tx, fmt.Errorf("seq: %w", err)
	}
	tx.OrderID = rec[3]
	tx.PositionID = rec[4]
	tx.Instrument = rec[5]
	tx.Type = engine.TxType(rec[6])
	tx.Side = engine.Side(rec[7])

	floats := []struct {
		name string
		dst  *float64
		src  string
	}{
		{"quantity", &tx.Quantity, rec[8]},
		{"price", &tx.Price, rec[9]},
		{"leverage", &tx.Leverage, rec[10]},
		{"closed_quantity", &tx.ClosedQuantity, rec[11]},
		{"realized_pnl", &tx.RealizedPnL, rec[12]},
		{"commission", &tx.Commission, rec[13]},
	}
	for _, fl := range floats {
		if *fl.dst, err = strconv.ParseFloat(fl.src, 64); err != nil {
			return tx, fmt.Errorf("%s: %w", fl.name, err)
		}
	}

	if tx.Timestamp, err = time.Parse(time.RFC3339Nano, rec[14]); err != nil {
		return tx, fmt.Errorf("timestamp: %w", err)
	}
	tx.CorrectionOf = rec[15]
	if tx.Reversal, err = strconv.ParseBool(rec[16]); err != nil {
		return tx, fmt.Errorf("reversal: %w", err)
	}
	tx.Note = rec[17]
	return tx, nil
}

// f keeps full precision so a journal reads back to the same values.
func f(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
