// Package metrics holds the Prometheus collectors for the ledger. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	OrdersTotal         *prometheus.CounterVec // labels: status
	TransactionsTotal   *prometheus.CounterVec // labels: type
	AlertsTotal         *prometheus.CounterVec // labels: kind
	AlertsDropped       prometheus.Counter
	Liquidations        prometheus.Counter
	PriceUpdates        prometheus.Counter
	PricedInstruments   prometheus.Counter
	RefreshDur          prometheus.Histogram
	ConsistencyFailures prometheus.Counter
	JournalErrors       prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg gets a
// fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cfdledger_orders_total",
			Help: "Order lifecycle transitions by resulting status",
		}, []string{"status"}),
		TransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cfdledger_transactions_total",
			Help: "Transactions appended to account logs by type",
		}, []string{"type"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cfdledger_alerts_total",
			Help: "Risk alerts emitted by kind",
		}, []string{"kind"}),
		AlertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cfdledger_alerts_dropped_total",
			Help: "Alerts dropped because the dispatch buffer was full",
		}),
		Liquidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cfdledger_liquidations_total",
			Help: "Positions force closed on stop-out",
		}),
		PriceUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cfdledger_price_updates_total",
			Help: "Price update batches applied",
		}),
		PricedInstruments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cfdledger_priced_instruments_total",
			Help: "Instrument prices applied across all batches",
		}),
		RefreshDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cfdledger_refresh_duration_seconds",
			Help:    "Account aggregate refresh latency",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}),
		ConsistencyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cfdledger_consistency_failures_total",
			Help: "Accounts halted because replay disagreed with memoized state",
		}),
		JournalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cfdledger_journal_errors_total",
			Help: "Failed journal writes",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.OrdersTotal,
		m.TransactionsTotal,
		m.AlertsTotal,
		m.AlertsDropped,
		m.Liquidations,
		m.PriceUpdates,
		m.PricedInstruments,
		m.RefreshDur,
		m.ConsistencyFailures,
		m.JournalErrors,
	)
	return m
}

// Handler serves the registry the metrics were registered with.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Order(status string) {
	if m == nil {
		return
	}
	m.OrdersTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) Transaction(txType string) {
	if m == nil {
		return
	}
	m.TransactionsTotal.WithLabelValues(txType).Inc()
}

func (m *Metrics) Alert(kind string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) AlertDropped() {
	if m == nil {
		return
	}
	m.AlertsDropped.Inc()
}

func (m *Metrics) Liquidation() {
	if m == nil {
		return
	}
	m.Liquidations.Inc()
}

func (m *Metrics) Prices(n int) {
	if m == nil {
		return
	}
	m.PriceUpdates.Inc()
	m.PricedInstruments.Add(float64(n))
}

func (m *Metrics) Refresh(d time.Duration) {
	if m == nil {
		return
	}
	m.RefreshDur.Observe(d.Seconds())
}

func (m *Metrics) Consistency() {
	if m == nil {
		return
	}
	m.ConsistencyFailures.Inc()
}

func (m *Metrics) JournalError() {
	if m == nil {
		return
	}
	m.JournalErrors.Inc()
}
