// Package notify delivers engine alerts to outside channels. The engine hands
// alerts to a Dispatcher, which never blocks it; delivery happens on the
// dispatcher's own goroutine.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rustyeddy/cfdledger/engine"
	"github.com/rustyeddy/cfdledger/internal/logger"
	"github.com/rustyeddy/cfdledger/metrics"
)

// Notifier delivers one alert.
type Notifier interface {
	Notify(ctx context.Context, a engine.Alert) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, a engine.Alert) error

func (f NotifierFunc) Notify(ctx context.Context, a engine.Alert) error { return f(ctx, a) }

const (
	DefaultBuffer  = 256
	DefaultTimeout = 5 * time.Second
)

type DispatcherOptions struct {
	// Buffer is the queue length; Publish drops when it is full.
	Buffer int
	// Timeout bounds each Notify call.
	Timeout time.Duration
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Dispatcher is a fire-and-forget engine.AlertSink fanning alerts out to
// its notifiers in publish order.
type Dispatcher struct {
	notifiers []Notifier
	queue     chan engine.Alert
	timeout   time.Duration
	metrics   *metrics.Metrics
	log       *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(opts DispatcherOptions, notifiers ...Notifier) *Dispatcher {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}

	d := &Dispatcher{
		notifiers: notifiers,
		queue:     make(chan engine.Alert, opts.Buffer),
		timeout:   opts.Timeout,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish queues a for delivery. It never blocks: with the queue full or the
// dispatcher closed the alert is dropped and counted.
func (d *Dispatcher) Publish(a engine.Alert) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(a, "closed")
		return
	}
	select {
	case d.queue <- a:
	default:
		d.drop(a, "queue full")
	}
}

func (d *Dispatcher) drop(a engine.Alert, reason string) {
	d.metrics.AlertDropped()
	d.log.Warn("alert dropped", "account", a.AccountID, "kind", a.Kind, "alert", a.ID, "reason", reason)
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for a := range d.queue {
		d.deliver(a)
	}
}

func (d *Dispatcher) deliver(a engine.Alert) {
	for _, n := range d.notifiers {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := n.Notify(ctx, a); err != nil {
			d.log.Error("alert delivery failed", "account", a.AccountID, "kind", a.Kind, "alert", a.ID, "err", err)
		}
		cancel()
	}
}

// Close stops accepting alerts and waits until the queued ones are
// delivered or ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Log writes every alert to a structured logger, at a level matching its
// severity.
type Log struct {
	log *slog.Logger
}

func NewLog(l *slog.Logger) *Log {
	if l == nil {
		l = logger.Discard()
	}
	return &Log{log: l}
}

func (n *Log) Notify(ctx context.Context, a engine.Alert) error {
	level := slog.LevelInfo
	switch a.Severity {
	case engine.SeverityWarning:
		level = slog.LevelWarn
	case engine.SeverityCritical:
		level = slog.LevelError
	}

	attrs := []any{
		"alert", a.ID,
		"account", a.AccountID,
		"kind", a.Kind,
		"severity", a.Severity,
		"equity", a.Equity,
		"margin_used", a.MarginUsed,
		"margin_available", a.MarginAvailable,
	}
	if a.MarginRatio != nil {
		attrs = append(attrs, "margin_ratio", *a.MarginRatio)
	}
	if a.Instrument != "" {
		attrs = append(attrs, "instrument", a.Instrument, "position", a.PositionID, "unrealized", a.UnrealizedPnL)
	}
	n.log.Log(ctx, level, a.Message, attrs...)
	return nil
}
