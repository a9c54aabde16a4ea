package journal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/cfdledger/engine"
)

func TestFormatTransactionOrg(t *testing.T) {
	t.Parallel()

	tx := sampleLog()[2]
	tx.ID = "01HZXK8D3QK1Y7M6PZ4V5N2T0C"

	result := FormatTransactionOrg(tx)

	assert.True(t, strings.HasPrefix(result, "** close buy EUR_USD [4V5N2T0C]\n"), result)
	assert.Contains(t, result, ":PROPERTIES:")
	assert.Contains(t, result, ":TRANSACTION_ID: 01HZXK8D3QK1Y7M6PZ4V5N2T0C")
	assert.Contains(t, result, ":ACCOUNT: A1")
	assert.Contains(t, result, ":SEQ: 3")
	assert.Contains(t, result, ":POSITION_ID: 01POS001")
	assert.Contains(t, result, ":QUANTITY: 2")
	assert.Contains(t, result, ":PRICE: 1.08750")
	assert.Contains(t, result, ":REALIZED_PNL: 500.00")
	assert.Contains(t, result, ":COMMISSION: 10.00")
	assert.Contains(t, result, ":CASH: 490.00")
	assert.Contains(t, result, ":TIME: 2024-04-10T11:00:00Z")
	assert.Contains(t, result, ":END:")
	assert.Contains(t, result, "manual close")
	assert.NotContains(t, result, ":ORDER_ID:")
	assert.NotContains(t, result, ":CORRECTION_OF:")
}

func TestFormatTransactionOrgAdjustmentAndReversal(t *testing.T) {
	t.Parallel()

	log := sampleLog()

	dep := FormatTransactionOrg(log[0])
	assert.Contains(t, dep, "** adjustment [01TX0001]")
	assert.NotContains(t, dep, ":INSTRUMENT:")
	assert.Contains(t, dep, ":CASH: 100000.00")

	rev := FormatTransactionOrg(log[3])
	assert.Contains(t, rev, "(reversal)")
	assert.Contains(t, rev, ":CORRECTION_OF: 01TX0002")
	assert.Contains(t, rev, ":COMMISSION: -10.00")
}

func TestFormatTransactionsOrg(t *testing.T) {
	t.Parallel()

	log := sampleLog()[:2]
	result := FormatTransactionsOrg(log)

	assert.Equal(t, 2, strings.Count(result, ":PROPERTIES:"))
	assert.Equal(t, 1, strings.Count(result, "\n\n**"), "blocks are separated by a blank line")

	assert.Equal(t, "", FormatTransactionsOrg(nil))
}

func TestFormatTotalsOrg(t *testing.T) {
	t.Parallel()

	result := FormatTotalsOrg(Summarize("A1", sampleLog()))
	assert.Contains(t, result, "* Account A1")
	assert.Contains(t, result, "| 5 | 100478.00 | 500.00 | 22.00 | 100000.00 | 1 | 2 |")
}

func TestFormatAlertOrg(t *testing.T) {
	t.Parallel()

	warn := FormatAlertOrg(engine.Alert{
		ID: "01AL", AccountID: "A1", Kind: engine.AlertMarginCall, Severity: engine.SeverityWarning,
		MarginRatio: ratio(0.25), Equity: 1250, Message: "margin ratio low", Timestamp: t0,
	})
	assert.Contains(t, warn, "** TODO WARNING margin_call")
	assert.Contains(t, warn, ":MARGIN_RATIO: 0.2500")
	assert.Contains(t, warn, ":EQUITY: 1250.00")
	assert.Contains(t, warn, "margin ratio low")

	info := FormatAlertOrg(engine.Alert{ID: "02AL", AccountID: "A1", Kind: engine.AlertLargeProfit, Severity: engine.SeverityInfo, Instrument: "TEST", Timestamp: t0})
	assert.Contains(t, info, "** INFO large_profit")
	assert.Contains(t, info, ":INSTRUMENT: TEST")
	assert.NotContains(t, info, ":MARGIN_RATIO:")
}
