package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/cfdledger/engine"
)

func money(x float64) string {
	return decimal.NewFromFloat(x).StringFixed(2)
}

// FormatTransactionOrg renders a transaction as an Org-mode block suitable for
// pasting into a journal. Structured facts go in a PROPERTIES drawer so they
// stay searchable.
func FormatTransactionOrg(tx engine.Transaction) string {
	title := string(tx.Type)
	if tx.Instrument != "" {
		title = fmt.Sprintf("%s %s %s", tx.Type, tx.Side, tx.Instrument)
	}
	if tx.Reversal {
		title += " (reversal)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "** %s [%s]\n", strings.TrimSpace(title), shortID(tx.ID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":TRANSACTION_ID: %s\n", tx.ID)
	fmt.Fprintf(&b, ":ACCOUNT: %s\n", tx.AccountID)
	fmt.Fprintf(&b, ":SEQ: %d\n", tx.Seq)
	if tx.OrderID != "" {
		fmt.Fprintf(&b, ":ORDER_ID: %s\n", tx.OrderID)
	}
	if tx.PositionID != "" {
		fmt.Fprintf(&b, ":POSITION_ID: %s\n", tx.PositionID)
	}
	if tx.Instrument != "" {
		fmt.Fprintf(&b, ":INSTRUMENT: %s\n", tx.Instrument)
		fmt.Fprintf(&b, ":QUANTITY: %s\n", decimal.NewFromFloat(tx.Quantity).String())
		fmt.Fprintf(&b, ":PRICE: %s\n", decimal.NewFromFloat(tx.Price).StringFixed(5))
	}
	fmt.Fprintf(&b, ":REALIZED_PNL: %s\n", money(tx.RealizedPnL))
	fmt.Fprintf(&b, ":COMMISSION: %s\n", money(tx.Commission))
	fmt.Fprintf(&b, ":CASH: %s\n", money(tx.CashEffect()))
	fmt.Fprintf(&b, ":TIME: %s\n", tx.Timestamp.UTC().Format(time.RFC3339))
	if tx.CorrectionOf != "" {
		fmt.Fprintf(&b, ":CORRECTION_OF: %s\n", tx.CorrectionOf)
	}
	b.WriteString(":END:\n")
	if tx.Note != "" {
		fmt.Fprintf(&b, "\n%s\n", tx.Note)
	}
	return b.String()
}

// FormatTransactionsOrg renders multiple transactions separated by blank lines.
func FormatTransactionsOrg(txs []engine.Transaction) string {
	var b strings.Builder
	for i, tx := range txs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatTransactionOrg(tx))
	}
	return b.String()
}

// FormatTotalsOrg renders folded totals as an Org table.
func FormatTotalsOrg(t Totals) string {
	var b strings.Builder
	fmt.Fprintf(&b, "* Account %s\n", t.AccountID)
	b.WriteString("| transactions | balance | realized | commission | deposits | trades | corrections |\n")
	b.WriteString("|--------------+---------+----------+------------+----------+--------+-------------|\n")
	fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %d | %d |\n",
		t.Transactions, money(t.Balance), money(t.RealizedPnL), money(t.Commission), money(t.Deposits),
		t.Trades, t.Corrections)
	return b.String()
}

// FormatAlertOrg renders one alert as an Org heading with a TODO keyword for
// anything above info.
func FormatAlertOrg(al engine.Alert) string {
	kw := ""
	if al.Severity != engine.SeverityInfo {
		kw = "TODO "
	}
	var b strings.Builder
	fmt.Fprintf(&b, "** %s%s %s\n", kw, strings.ToUpper(string(al.Severity)), al.Kind)
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":ALERT_ID: %s\n", al.ID)
	fmt.Fprintf(&b, ":ACCOUNT: %s\n", al.AccountID)
	if al.MarginRatio != nil {
		fmt.Fprintf(&b, ":MARGIN_RATIO: %s\n", decimal.NewFromFloat(*al.MarginRatio).StringFixed(4))
	}
	if al.Instrument != "" {
		fmt.Fprintf(&b, ":INSTRUMENT: %s\n", al.Instrument)
	}
	fmt.Fprintf(&b, ":EQUITY: %s\n", money(al.Equity))
	fmt.Fprintf(&b, ":UNREALIZED_PNL: %s\n", money(al.UnrealizedPnL))
	fmt.Fprintf(&b, ":TIME: %s\n", al.Timestamp.UTC().Format(time.RFC3339))
	b.WriteString(":END:\n")
	fmt.Fprintf(&b, "%s\n", al.Message)
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[len(full)-8:]
}
