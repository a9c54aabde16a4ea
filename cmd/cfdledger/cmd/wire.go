package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rustyeddy/cfdledger/config"
	"github.com/rustyeddy/cfdledger/engine"
	"github.com/rustyeddy/cfdledger/internal/logger"
	"github.com/rustyeddy/cfdledger/journal"
	"github.com/rustyeddy/cfdledger/market"
	"github.com/rustyeddy/cfdledger/metrics"
	"github.com/rustyeddy/cfdledger/notify"
)

// ledger is one engine with its collaborators wired from the config.
type ledger struct {
	cfg        *config.Config
	log        *slog.Logger
	metrics    *metrics.Metrics
	journal    journal.Journal
	redis      *notify.Redis
	dispatcher *notify.Dispatcher
	engine     *engine.Engine
}

func openJournal(c config.JournalConfig) (journal.Journal, error) {
	switch c.Type {
	case "csv":
		return journal.NewCSV(c.TransactionsFile, c.SnapshotsFile, c.AlertsFile)
	case "sqlite":
		return journal.NewSQLite(c.DBPath)
	}
	return nil, nil
}

func newLedger(cfg *config.Config) (*ledger, error) {
	l := &ledger{
		cfg:     cfg,
		log:     logger.New(cfg.LoggerOptions("cfdledger")),
		metrics: metrics.New(prometheus.NewRegistry()),
	}

	reg, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("instruments: %w", err)
	}

	l.journal, err = openJournal(cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("create journal: %w", err)
	}

	var notifiers []notify.Notifier
	if cfg.Notify.Log {
		notifiers = append(notifiers, notify.NewLog(l.log))
	}
	if cfg.Notify.Redis.Addr != "" {
		l.redis, err = notify.NewRedis(cfg.Notify.Redis)
		if err != nil {
			l.closeJournal()
			return nil, err
		}
		notifiers = append(notifiers, l.redis)
	}
	l.dispatcher = notify.NewDispatcher(notify.DispatcherOptions{
		Buffer:  cfg.Notify.Buffer,
		Metrics: l.metrics,
		Logger:  l.log,
	}, notifiers...)

	opts := engine.Options{
		Policy:      cfg.Risk,
		Instruments: reg,
		Prices:      market.NewPriceStore(),
		Commission:  cfg.Commission,
		Alerts:      l.dispatcher,
		Metrics:     l.metrics,
		Logger:      l.log,
	}
	if l.journal != nil {
		opts.Journal = l.journal
	}
	l.engine, err = engine.New(opts)
	if err != nil {
		l.Close(context.Background())
		return nil, err
	}
	return l, nil
}

// openAccounts opens every account listed in the config.
func (l *ledger) openAccounts(ctx context.Context) error {
	for _, spec := range l.cfg.Accounts {
		if _, err := l.engine.OpenAccount(ctx, spec); err != nil {
			return fmt.Errorf("open account %s: %w", spec.ID, err)
		}
	}
	return nil
}

func (l *ledger) closeJournal() error {
	if l.journal == nil {
		return nil
	}
	return l.journal.Close()
}

// Close drains pending alerts, then releases the journal and redis client.
func (l *ledger) Close(ctx context.Context) error {
	var errs []error
	if l.dispatcher != nil {
		errs = append(errs, l.dispatcher.Close(ctx))
	}
	if l.redis != nil {
		errs = append(errs, l.redis.Close())
	}
	errs = append(errs, l.closeJournal())
	return errors.Join(errs...)
}
