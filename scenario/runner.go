package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rustyeddy/cfdledger/engine"
	"github.com/rustyeddy/cfdledger/internal/logger"
)

var expectations = map[string]error{
	"validation":          engine.ErrValidation,
	"insufficient_margin": engine.ErrInsufficientMargin,
	"invalid_state":       engine.ErrInvalidState,
	"not_found":           engine.ErrNotFound,
	"consistency":         engine.ErrConsistency,
}

// StepResult records what one step produced.
type StepResult struct {
	Step   int    `json:"step"`
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result is the state of the engine after a scenario.
type Result struct {
	Name     string           `json:"name"`
	Steps    []StepResult     `json:"steps"`
	Accounts []engine.Account `json:"accounts"`
	Alerts   []engine.Alert   `json:"alerts"`
}

// Runner plays scenarios against one engine. The runner owns the engine
// clock while a scenario runs.
type Runner struct {
	eng  *engine.Engine
	log  *slog.Logger
	refs map[string]string
	now  time.Time
}

func NewRunner(eng *engine.Engine, l *slog.Logger) *Runner {
	if l == nil {
		l = logger.Discard()
	}
	return &Runner{eng: eng, log: l, refs: make(map[string]string)}
}

// Ref returns the id a step stored under name.
func (r *Runner) Ref(name string) (string, bool) {
	id, ok := r.refs[name]
	return id, ok
}

func (r *Runner) resolve(ref string) string {
	if id, ok := r.refs[ref]; ok {
		return id
	}
	return ref
}

// Run opens the scenario's accounts, seeds its prices and plays every step.
// A step failing with its Expect error class is recorded and the run goes
// on. Any other failure stops the run.
func (r *Runner) Run(ctx context.Context, s *Scenario) (*Result, error) {
	r.now = s.Start
	if r.now.IsZero() {
		r.now = time.Now().UTC()
	}
	r.eng.SetClock(func() time.Time { return r.now })

	res := &Result{Name: s.Name}

	for _, spec := range s.Accounts {
		if _, err := r.eng.OpenAccount(ctx, spec); err != nil {
			return res, fmt.Errorf("open account %s: %w", spec.ID, err)
		}
	}
	if len(s.Prices) > 0 {
		if _, err := r.eng.UpdatePrices(ctx, s.Prices); err != nil {
			return res, fmt.Errorf("initial prices: %w", err)
		}
	}

	for i, st := range s.Steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r.now = r.now.Add(st.Advance)

		id, err := r.step(ctx, st)
		sr := StepResult{Step: i + 1, Action: st.Action, ID: id}
		if err != nil {
			sr.Error = err.Error()
		}
		res.Steps = append(res.Steps, sr)

		if st.Expect != "" {
			want := expectations[st.Expect]
			if err == nil {
				return res, fmt.Errorf("step %d (%s): expected %s error", i+1, st.Action, st.Expect)
			}
			if !errors.Is(err, want) {
				return res, fmt.Errorf("step %d (%s): expected %s error, got: %w", i+1, st.Action, st.Expect, err)
			}
			r.log.Info("scenario step rejected as expected", "step", i+1, "action", st.Action, "error", err)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("step %d (%s): %w", i+1, st.Action, err)
		}
		if st.As != "" && id != "" {
			r.refs[st.As] = id
		}
		r.log.Debug("scenario step", "step", i+1, "action", st.Action, "id", id)
	}

	for _, acct := range r.eng.Accounts() {
		a, err := r.eng.Snapshot(acct)
		if err != nil {
			return res, err
		}
		res.Accounts = append(res.Accounts, a)
		alerts, err := r.eng.Alerts(acct)
		if err != nil {
			return res, err
		}
		res.Alerts = append(res.Alerts, alerts...)
	}
	return res, nil
}

func (r *Runner) step(ctx context.Context, st Step) (string, error) {
	switch st.Action {
	case ActionSubmit:
		req := *st.Order
		if req.AccountID == "" {
			req.AccountID = st.Account
		}
		o, err := r.eng.Submit(ctx, req)
		return o.ID, err

	case ActionExecute:
		orderID := r.resolve(st.Ref)
		price := st.Price
		if price == 0 {
			o, err := r.eng.Order(orderID)
			if err != nil {
				return "", err
			}
			p, ok := r.eng.Prices().Price(o.Instrument)
			if !ok {
				return "", fmt.Errorf("no price for %s", o.Instrument)
			}
			price = p
		}
		tx, err := r.eng.Execute(ctx, orderID, price)
		return tx.ID, err

	case ActionCancel:
		o, err := r.eng.Cancel(ctx, r.resolve(st.Ref))
		return o.ID, err

	case ActionPrices:
		_, err := r.eng.UpdatePrices(ctx, st.Prices)
		return "", err

	case ActionClose:
		pos, err := r.position(st)
		if err != nil {
			return "", err
		}
		price := st.Price
		if price == 0 {
			price = pos.CurrentPrice
		}
		tx, err := r.eng.ClosePartial(ctx, pos.ID, st.Quantity, price)
		return tx.ID, err

	case ActionCorrect:
		txs, err := r.eng.CorrectTransaction(ctx, r.resolve(st.Ref), *st.Changes)
		return lastID(txs), err

	case ActionCorrectOrder:
		txs, err := r.eng.CorrectOrder(ctx, r.resolve(st.Ref), *st.Changes)
		return lastID(txs), err

	case ActionBackfill:
		bf := *st.Backfill
		if bf.AccountID == "" {
			bf.AccountID = st.Account
		}
		if bf.Timestamp.IsZero() {
			bf.Timestamp = r.now
		}
		o, _, err := r.eng.BackfillOrder(ctx, bf)
		return o.ID, err

	case ActionRecalculate:
		_, err := r.eng.Recalculate(ctx, st.Account)
		return "", err

	case ActionAdjust:
		tx, err := r.eng.Adjust(ctx, st.Account, st.Amount, st.Note)
		return tx.ID, err

	case ActionEvaluate:
		_, err := r.eng.Evaluate(ctx, st.Account)
		return "", err
	}
	return "", fmt.Errorf("unknown action %q", st.Action)
}

// position finds the position a close step targets. Ref may name a
// position or a transaction that touched one.
func (r *Runner) position(st Step) (engine.Position, error) {
	if st.Ref != "" {
		id := r.resolve(st.Ref)
		if tx, err := r.eng.Transaction(id); err == nil && tx.PositionID != "" {
			id = tx.PositionID
		}
		return r.eng.Position(id)
	}

	positions, err := r.eng.Positions(st.Account)
	if err != nil {
		return engine.Position{}, err
	}
	for _, p := range positions {
		if p.Instrument == st.Instrument {
			return p, nil
		}
	}
	return engine.Position{}, &engine.NotFoundError{Entity: "position", ID: st.Account + "/" + st.Instrument}
}

func lastID(txs []engine.Transaction) string {
	if len(txs) == 0 {
		return ""
	}
	return txs[len(txs)-1].ID
}
