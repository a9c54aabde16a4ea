// Package scenario drives the engine from a YAML script. A script opens
// accounts, seeds prices and then runs a list of steps, each one an order
// request, a price map, a correction or an account adjustment.
package scenario

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/cfdledger/engine"
)

// Step actions.
const (
	ActionSubmit       = "submit"
	ActionExecute      = "execute"
	ActionCancel       = "cancel"
	ActionPrices       = "prices"
	ActionClose        = "close"
	ActionCorrect      = "correct"
	ActionCorrectOrder = "correct_order"
	ActionBackfill     = "backfill"
	ActionRecalculate  = "recalculate"
	ActionAdjust       = "adjust"
	ActionEvaluate     = "evaluate"
)

var actions = map[string]bool{
	ActionSubmit: true, ActionExecute: true, ActionCancel: true, ActionPrices: true,
	ActionClose: true, ActionCorrect: true, ActionCorrectOrder: true, ActionBackfill: true,
	ActionRecalculate: true, ActionAdjust: true, ActionEvaluate: true,
}

// Scenario is one script.
type Scenario struct {
	Name     string               `yaml:"name"`
	Start    time.Time            `yaml:"start,omitempty"`
	Accounts []engine.AccountSpec `yaml:"accounts,omitempty"`
	Prices   map[string]float64   `yaml:"prices,omitempty"`
	Steps    []Step               `yaml:"steps"`
}

// Step is a single engine call. As names the entity the step produces so
// later steps can refer to it through Ref:
//
//	submit, backfill        the order
//	execute, close, adjust  the transaction
//	correct, correct_order  the last appended transaction
//
// A Ref that names nothing is used as a literal id.
type Step struct {
	Action string `yaml:"action"`
	As     string `yaml:"as,omitempty"`
	Ref    string `yaml:"ref,omitempty"`

	// Advance moves the scenario clock before the step runs.
	Advance time.Duration `yaml:"advance,omitempty"`

	Order      *engine.OrderRequest       `yaml:"order,omitempty"`
	Prices     map[string]float64         `yaml:"prices,omitempty"`
	Price      float64                    `yaml:"price,omitempty"`
	Account    string                     `yaml:"account,omitempty"`
	Instrument string                     `yaml:"instrument,omitempty"`
	Changes    *engine.TransactionChanges `yaml:"changes,omitempty"`
	Backfill   *engine.Backfill           `yaml:"backfill,omitempty"`
	Amount     float64                    `yaml:"amount,omitempty"`
	Note       string                     `yaml:"note,omitempty"`

	// Quantity limits a close to part of the position.
	Quantity float64 `yaml:"quantity,omitempty"`

	// Expect names the error class the step must fail with: validation,
	// insufficient_margin, invalid_state, not_found or consistency.
	Expect string `yaml:"expect,omitempty"`
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// Validate checks every step carries what its action needs.
func (s *Scenario) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("no steps")
	}
	for i, st := range s.Steps {
		if err := st.validate(); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, st.Action, err)
		}
	}
	return nil
}

func (st Step) validate() error {
	if !actions[st.Action] {
		return fmt.Errorf("unknown action %q", st.Action)
	}
	if st.Advance < 0 {
		return fmt.Errorf("advance must not be negative")
	}
	if st.Expect != "" {
		if _, ok := expectations[st.Expect]; !ok {
			return fmt.Errorf("unknown expect %q", st.Expect)
		}
	}

	switch st.Action {
	case ActionSubmit:
		if st.Order == nil {
			return fmt.Errorf("order is required")
		}
	case ActionExecute, ActionCancel, ActionCorrect, ActionCorrectOrder:
		if st.Ref == "" {
			return fmt.Errorf("ref is required")
		}
		if (st.Action == ActionCorrect || st.Action == ActionCorrectOrder) && st.Changes == nil {
			return fmt.Errorf("changes are required")
		}
	case ActionPrices:
		if len(st.Prices) == 0 {
			return fmt.Errorf("prices are required")
		}
	case ActionClose:
		if st.Ref == "" && (st.Account == "" || st.Instrument == "") {
			return fmt.Errorf("ref or account and instrument are required")
		}
	case ActionBackfill:
		if st.Backfill == nil {
			return fmt.Errorf("backfill is required")
		}
	case ActionRecalculate, ActionAdjust, ActionEvaluate:
		if st.Account == "" {
			return fmt.Errorf("account is required")
		}
	}
	return nil
}
