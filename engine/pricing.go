package engine

import (
	"context"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// PriceUpdate reports what a batch of prices touched.
type PriceUpdate struct {
	Accounts  []string  `json:"accounts"`
	Positions int       `json:"positions"`
	At        time.Time `json:"at"`
}

// UpdatePrices revalues every open position in the priced instruments. Each
// affected account is refreshed and risk evaluated exactly once, on its own
// goroutine, however many of its positions moved. The batch is rejected
// whole if any price is not positive or any instrument is unknown. No
// transactions are written except forced liquidation closes.
func (e *Engine) UpdatePrices(ctx context.Context, prices map[string]float64) (PriceUpdate, error) {
	instruments := make([]string, 0, len(prices))
	for instr := range prices {
		instruments = append(instruments, instr)
	}
	sort.Strings(instruments)

	for _, instr := range instruments {
		if _, ok := e.instruments.Lookup(instr); !ok {
			return PriceUpdate{}, invalid("instrument", "unknown instrument %q", instr)
		}
		if px := prices[instr]; !(px > 0) || !finite(px) {
			return PriceUpdate{}, invalid("price", "price for %s must be positive, got %v", instr, px)
		}
	}

	now := e.now()
	e.prices.SetAll(prices, now)
	e.metrics.Prices(len(prices))

	accounts := e.store.accountsHolding(instruments)
	var touched atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, acct := range accounts {
		acct := acct
		g.Go(func() error {
			return e.write(acct, func(b *accountBook) error {
				n := 0
				for _, instr := range instruments {
					p, ok := b.positions[instr]
					if !ok {
						continue
					}
					p.mark(prices[instr])
					p.UpdatedAt = now
					n++
				}
				if n == 0 {
					return nil
				}
				touched.Add(int64(n))
				_, _, err := e.settleLocked(ctx, b)
				return err
			})
		})
	}
	err := g.Wait()

	e.log.DebugContext(ctx, "prices applied", "instruments", len(instruments), "accounts", len(accounts), "positions", touched.Load())
	return PriceUpdate{Accounts: accounts, Positions: int(touched.Load()), At: now}, err
}
