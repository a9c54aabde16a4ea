// Package engine is the accounting and risk core: order lifecycle, the
// position ledger, account aggregation, price driven revaluation, risk
// evaluation and corrections. Every account is its own single writer; work
// on different accounts never contends.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/rustyeddy/cfdledger/internal/id"
	"github.com/rustyeddy/cfdledger/internal/logger"
	"github.com/rustyeddy/cfdledger/market"
	"github.com/rustyeddy/cfdledger/metrics"
	"github.com/rustyeddy/cfdledger/risk"
)

// Journal is the persistence collaborator. It is called after the account
// lock is released, in append order.
type Journal interface {
	RecordTransaction(Transaction) error
	RecordSnapshot(at time.Time, a Account) error
	RecordAlert(Alert) error
}

// AlertSink is the notification collaborator. Publish must not block.
type AlertSink interface {
	Publish(Alert)
}

type Options struct {
	Policy      risk.Policy
	Instruments *market.Registry
	Prices      *market.PriceStore
	Commission  Commission
	Journal     Journal
	Alerts      AlertSink
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Clock       func() time.Time
}

type Engine struct {
	policy      risk.Policy
	instruments *market.Registry
	prices      *market.PriceStore
	commission  Commission
	journal     Journal
	alerts      AlertSink
	metrics     *metrics.Metrics
	log         *slog.Logger
	now         func() time.Time

	store *store
}

func New(opts Options) (*Engine, error) {
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("risk policy: %w", err)
	}
	e := &Engine{
		policy:      opts.Policy,
		instruments: opts.Instruments,
		prices:      opts.Prices,
		commission:  opts.Commission,
		journal:     opts.Journal,
		alerts:      opts.Alerts,
		metrics:     opts.Metrics,
		log:         opts.Logger,
		now:         opts.Clock,
		store:       newStore(),
	}
	if e.instruments == nil {
		e.instruments = market.DefaultRegistry()
	}
	if e.prices == nil {
		e.prices = market.NewPriceStore()
	}
	if e.log == nil {
		e.log = logger.Discard()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

func (e *Engine) Policy() risk.Policy { return e.policy }
func (e *Engine) Instruments() *market.Registry { return e.instruments }
func (e *Engine) Prices() *market.PriceStore { return e.prices }
func (e *Engine) Commission() Commission { return e.commission }
func (e *Engine) SetAlertSink(sink AlertSink) { e.alerts = sink }
func (e *Engine) SetJournal(j Journal) { e.journal = j }
func (e *Engine) SetClock(clock func() time.Time) { e.now = clock }

// write runs fn as the account's exclusive writer. Side effects queued by fn
// are published once the lock is dropped, in the order the writers held it.
func (e *Engine) write(accountID string, fn func(b *accountBook) error) error {
	b, err := e.store.account(accountID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.halted != nil {
		err := b.halted
		b.mu.Unlock()
		return err
	}
	err = fn(b)
	out := b.takeOutbox()
	b.publishMu.Lock()
	b.mu.Unlock()

	e.publish(out)
	b.publishMu.Unlock()
	return err
}

// read runs fn under the account's shared lock.
func (e *Engine) read(accountID string, fn func(b *accountBook) error) error {
	b, err := e.store.account(accountID)
	if err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fn(b)
}

func (e *Engine) publish(out outbox) {
	if e.journal != nil {
		for _, tx := range out.txs {
			if err := e.journal.RecordTransaction(tx); err != nil {
				e.metrics.JournalError()
				e.log.Error("journal transaction", "account", tx.AccountID, "tx", tx.ID, "err", err)
			}
		}
		for _, a := range out.alerts {
			if err := e.journal.RecordAlert(a); err != nil {
				e.metrics.JournalError()
				e.log.Error("journal alert", "account", a.AccountID, "alert", a.ID, "err", err)
			}
		}
		if out.snapshot != nil {
			if err := e.journal.RecordSnapshot(out.snapshotAt, *out.snapshot); err != nil {
				e.metrics.JournalError()
				e.log.Error("journal snapshot", "account", out.snapshot.ID, "err", err)
			}
		}
	}
	if e.alerts != nil {
		for _, a := range out.alerts {
			e.alerts.Publish(a)
		}
	}
}

// appendLocked stamps tx and appends it to the log. This is the only place
// the log grows.
func (e *Engine) appendLocked(b *accountBook, tx Transaction) Transaction {
	tx.AccountID = b.id
	if tx.Timestamp.IsZero() {
		tx.Timestamp = e.now()
	}
	if tx.ID == "" {
		tx.ID = id.At(tx.Timestamp)
	}
	tx.Seq = int64(len(b.log)) + 1

	b.txIndex[tx.ID] = len(b.log)
	if tx.CorrectionOf != "" && !tx.Reversal {
		b.applied[tx.CorrectionOf] = len(b.log)
	}
	b.log = append(b.log, tx)
	b.memo.balance += tx.CashEffect()
	b.memo.applied++

	e.store.indexTx(tx.ID, b.id)
	b.outbox.txs = append(b.outbox.txs, tx)
	e.metrics.Transaction(string(tx.Type))
	return tx
}

// settleLocked refreshes the aggregate, runs risk evaluation on it and queues
// the resulting snapshot for the journal.
func (e *Engine) settleLocked(ctx context.Context, b *accountBook) (Account, []Alert, error) {
	if _, err := e.refreshLocked(b); err != nil {
		return b.snapshot, nil, err
	}
	alerts, err := e.evaluateLocked(ctx, b)
	snap := b.snapshot
	b.outbox.snapshot = &snap
	b.outbox.snapshotAt = e.now()
	return snap, alerts, err
}

// OpenAccount registers an account and books its initial deposit.
func (e *Engine) OpenAccount(ctx context.Context, spec AccountSpec) (Account, error) {
	spec.ID = strings.TrimSpace(spec.ID)
	spec.Currency = strings.ToUpper(strings.TrimSpace(spec.Currency))
	if spec.ID == "" {
		return Account{}, invalid("id", "account id is required")
	}
	if spec.Currency == "" {
		return Account{}, invalid("currency", "account currency is required")
	}
	if spec.Deposit < 0 || !finite(spec.Deposit) {
		return Account{}, invalid("deposit", "initial deposit must be a non-negative amount")
	}

	b := newAccountBook(spec)
	if !e.store.addAccount(b) {
		return Account{}, invalid("id", "account %s already exists", spec.ID)
	}

	var snap Account
	err := e.write(spec.ID, func(b *accountBook) error {
		if spec.Deposit > 0 {
			e.appendLocked(b, Transaction{
				Type:        TxAdjustment,
				Quantity:    1,
				Price:       spec.Deposit,
				RealizedPnL: spec.Deposit,
				Note:        "initial deposit",
			})
		}
		var err error
		snap, _, err = e.settleLocked(ctx, b)
		return err
	})
	if err != nil {
		return Account{}, err
	}
	e.log.InfoContext(ctx, "account opened", "account", spec.ID, "currency", spec.Currency, "deposit", spec.Deposit)
	return snap, nil
}

// Adjust books a deposit (positive) or withdrawal (negative). A withdrawal
// may not exceed the free margin.
func (e *Engine) Adjust(ctx context.Context, accountID string, amount float64, note string) (Transaction, error) {
	if amount == 0 || !finite(amount) {
		return Transaction{}, invalid("amount", "adjustment amount must be non-zero")
	}

	var tx Transaction
	err := e.write(accountID, func(b *accountBook) error {
		if amount < 0 && -amount > b.snapshot.FreeMargin {
			return &InsufficientMarginError{Required: -amount, Available: b.snapshot.FreeMargin}
		}
		if note == "" {
			note = "deposit"
			if amount < 0 {
				note = "withdrawal"
			}
		}
		tx = e.appendLocked(b, Transaction{
			Type:        TxAdjustment,
			Quantity:    1,
			Price:       amount,
			RealizedPnL: amount,
			Note:        note,
		})
		_, _, err := e.settleLocked(ctx, b)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	e.log.InfoContext(ctx, "balance adjusted", "account", accountID, "amount", amount, "tx", tx.ID)
	return tx, nil
}

// Accounts returns every account ID, sorted.
func (e *Engine) Accounts() []string {
	return e.store.accountIDs()
}

// Snapshot returns a copy of the account's current aggregate.
func (e *Engine) Snapshot(accountID string) (Account, error) {
	var a Account
	err := e.read(accountID, func(b *accountBook) error {
		a = b.snapshot
		return nil
	})
	return a, err
}

// Transactions returns the account's log entries with from <= timestamp < to,
// ordered by timestamp then sequence. A zero bound is open.
func (e *Engine) Transactions(accountID string, from, to time.Time) ([]Transaction, error) {
	var out []Transaction
	err := e.read(accountID, func(b *accountBook) error {
		out = make([]Transaction, 0, len(b.log))
		for _, tx := range b.log {
			if !from.IsZero() && tx.Timestamp.Before(from) {
				continue
			}
			if !to.IsZero() && !tx.Timestamp.Before(to) {
				continue
			}
			out = append(out, tx)
		}
		return nil
	})
	sortTransactions(out)
	return out, err
}

// Transaction returns one log entry by ID.
func (e *Engine) Transaction(txID string) (Transaction, error) {
	acct, err := e.store.txOwner(txID)
	if err != nil {
		return Transaction{}, err
	}
	var tx Transaction
	err = e.read(acct, func(b *accountBook) error {
		idx, ok := b.txIndex[txID]
		if !ok {
			return &NotFoundError{Entity: "transaction", ID: txID}
		}
		tx = b.log[idx]
		return nil
	})
	return tx, err
}

// Positions returns the account's open positions sorted by instrument.
func (e *Engine) Positions(accountID string) ([]Position, error) {
	var out []Position
	err := e.read(accountID, func(b *accountBook) error {
		for _, instr := range b.instruments() {
			out = append(out, *b.positions[instr])
		}
		return nil
	})
	return out, err
}

// Position returns one open position by ID.
func (e *Engine) Position(positionID string) (Position, error) {
	acct, err := e.store.positionOwner(positionID)
	if err != nil {
		return Position{}, err
	}
	var out Position
	err = e.read(acct, func(b *accountBook) error {
		p := b.positionByID(positionID)
		if p == nil {
			return &NotFoundError{Entity: "position", ID: positionID}
		}
		out = *p
		return nil
	})
	return out, err
}

// Orders returns the account's orders in submission order.
func (e *Engine) Orders(accountID string) ([]Order, error) {
	var out []Order
	err := e.read(accountID, func(b *accountBook) error {
		out = make([]Order, 0, len(b.orderSeq))
		for _, oid := range b.orderSeq {
			out = append(out, *b.orders[oid])
		}
		return nil
	})
	return out, err
}

// Order returns one order by ID.
func (e *Engine) Order(orderID string) (Order, error) {
	acct, err := e.store.orderOwner(orderID)
	if err != nil {
		return Order{}, err
	}
	var out Order
	err = e.read(acct, func(b *accountBook) error {
		out = *b.orders[orderID]
		return nil
	})
	return out, err
}

// Alerts returns every alert emitted for the account, oldest first.
func (e *Engine) Alerts(accountID string) ([]Alert, error) {
	var out []Alert
	err := e.read(accountID, func(b *accountBook) error {
		out = append([]Alert(nil), b.alerts...)
		return nil
	})
	return out, err
}

func sortTransactions(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].Timestamp.Before(txs[j].Timestamp)
		}
		return txs[i].Seq < txs[j].Seq
	})
}
