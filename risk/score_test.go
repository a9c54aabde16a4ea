package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPositionScore(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()

	tests := []struct {
		name string
		in   PositionScoreInputs
		want float64
	}{
		{
			name: "flat low leverage",
			in:   PositionScoreInputs{Quantity: 1, EntryPrice: 100, ContractSize: 1, Leverage: 5},
			want: 20 + 0.2,
		},
		{
			name: "ten percent loss at max leverage",
			in:   PositionScoreInputs{Quantity: 1, EntryPrice: 100, ContractSize: 1, Leverage: 10, UnrealizedPnL: -10},
			want: 40 + 20 + 0.2,
		},
		{
			name: "saturated",
			in:   PositionScoreInputs{Quantity: 500, EntryPrice: 100, ContractSize: 1, Leverage: 20, UnrealizedPnL: -40000},
			want: 100,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, PositionScore(p, tt.in), 1e-9)
		})
	}
}

func TestAccountScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   AccountScoreInputs
		want float64
	}{
		{"idle", AccountScoreInputs{Balance: 1000, Equity: 1000}, 0},
		{"level below one", AccountScoreInputs{Balance: 1000, Equity: 900, MarginUsed: 1000}, 50 + 15},
		{"level two and a half", AccountScoreInputs{Balance: 1000, Equity: 1000, MarginUsed: 400}, 10},
		{"half losing", AccountScoreInputs{Balance: 1000, Equity: 1000, TotalTrades: 4, LosingTrades: 2}, 10},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, AccountScore(tt.in), 1e-9)
		})
	}
}
