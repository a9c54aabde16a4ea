// market/instruments.go
package market

import (
	"fmt"
	"sort"
	"sync"
)

// InstrumentMeta describes how quantities and prices of one instrument turn
// into money. Quantity is always expressed in lots and one lot is
// ContractSize units of the base.
type InstrumentMeta struct {
	Name             string  `json:"name" yaml:"name"`
	BaseCurrency     string  `json:"base_currency" yaml:"base_currency"`
	QuoteCurrency    string  `json:"quote_currency" yaml:"quote_currency"`
	ContractSize     float64 `json:"contract_size" yaml:"contract_size"`
	PipLocation      int     `json:"pip_location" yaml:"pip_location"`
	MinimumTradeSize float64 `json:"minimum_trade_size,omitempty" yaml:"minimum_trade_size,omitempty"`
}

// Notional is the quote currency value of qty lots at price.
func (m InstrumentMeta) Notional(qty, price float64) float64 {
	return qty * m.ContractSize * price
}

// Validate checks the metadata is usable for margin and P&L math.
func (m InstrumentMeta) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("instrument name is required")
	}
	if m.QuoteCurrency == "" {
		return fmt.Errorf("instrument %s: quote_currency is required", m.Name)
	}
	if m.ContractSize <= 0 {
		return fmt.Errorf("instrument %s: contract_size must be positive", m.Name)
	}
	if m.MinimumTradeSize < 0 {
		return fmt.Errorf("instrument %s: minimum_trade_size must not be negative", m.Name)
	}
	return nil
}

// Instruments is the built-in catalogue.
var Instruments = map[string]InstrumentMeta{
	"EUR_USD": {Name: "EUR_USD", BaseCurrency: "EUR", QuoteCurrency: "USD", ContractSize: 100000, PipLocation: -4, MinimumTradeSize: 0.01},
	"GBP_USD": {Name: "GBP_USD", BaseCurrency: "GBP", QuoteCurrency: "USD", ContractSize: 100000, PipLocation: -4, MinimumTradeSize: 0.01},
	"AUD_USD": {Name: "AUD_USD", BaseCurrency: "AUD", QuoteCurrency: "USD", ContractSize: 100000, PipLocation: -4, MinimumTradeSize: 0.01},
	"USD_JPY": {Name: "USD_JPY", BaseCurrency: "USD", QuoteCurrency: "JPY", ContractSize: 100000, PipLocation: -2, MinimumTradeSize: 0.01},
	"XAU_USD": {Name: "XAU_USD", BaseCurrency: "XAU", QuoteCurrency: "USD", ContractSize: 100, PipLocation: -2, MinimumTradeSize: 0.01},
	"US30":    {Name: "US30", BaseCurrency: "US30", QuoteCurrency: "USD", ContractSize: 1, PipLocation: 0, MinimumTradeSize: 0.1},
	"SPX500":  {Name: "SPX500", BaseCurrency: "SPX500", QuoteCurrency: "USD", ContractSize: 1, PipLocation: -1, MinimumTradeSize: 0.1},
}

// Registry is a concurrency safe instrument catalogue.
type Registry struct {
	mu    sync.RWMutex
	metas map[string]InstrumentMeta
}

// NewRegistry returns a registry seeded with metas.
func NewRegistry(metas ...InstrumentMeta) *Registry {
	r := &Registry{metas: make(map[string]InstrumentMeta, len(metas))}
	for _, m := range metas {
		r.metas[m.Name] = m
	}
	return r
}

// DefaultRegistry returns a registry holding the built-in catalogue.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, m := range Instruments {
		r.metas[m.Name] = m
	}
	return r
}

// Register adds or replaces an instrument.
func (r *Registry) Register(m InstrumentMeta) error {
	if err := m.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metas[m.Name] = m
	return nil
}

// Lookup returns the metadata for name.
func (r *Registry) Lookup(name string) (InstrumentMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metas[name]
	return m, ok
}

// Names returns every registered instrument, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.metas))
	for name := range r.metas {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
