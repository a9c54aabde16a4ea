package market

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNoPrice is returned when an instrument has never been priced.
var ErrNoPrice = errors.New("price not found")

// Quote is the latest known price of an instrument.
type Quote struct {
	Instrument string    `json:"instrument"`
	Price      float64   `json:"price"`
	Time       time.Time `json:"time"`
}

// PriceStore keeps the last price per instrument.
type PriceStore struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewPriceStore() *PriceStore {
	return &PriceStore{quotes: make(map[string]Quote)}
}

func (ps *PriceStore) Set(q Quote) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.quotes[q.Instrument] = q
}

// SetAll stores a batch under one lock so readers never see half of it.
func (ps *PriceStore) SetAll(prices map[string]float64, at time.Time) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for instr, px := range prices {
		ps.quotes[instr] = Quote{Instrument: instr, Price: px, Time: at}
	}
}

func (ps *PriceStore) Get(instr string) (Quote, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	q, ok := ps.quotes[instr]
	if !ok {
		return Quote{}, fmt.Errorf("%s: %w", instr, ErrNoPrice)
	}
	return q, nil
}

// Price returns only the numeric price.
func (ps *PriceStore) Price(instr string) (float64, bool) {
	q, err := ps.Get(instr)
	if err != nil {
		return 0, false
	}
	return q.Price, true
}
