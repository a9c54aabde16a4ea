package engine

import (
	"math"
	"time"
)

// Stats summarizes closed trades over a period.
type Stats struct {
	AccountID    string    `json:"accountId"`
	From         time.Time `json:"from,omitempty"`
	To           time.Time `json:"to,omitempty"`
	TotalTrades  int       `json:"totalTrades"`
	Wins         int       `json:"wins"`
	Losses       int       `json:"losses"`
	WinRate      float64   `json:"winRate"`
	GrossProfit  float64   `json:"grossProfit"`
	GrossLoss    float64   `json:"grossLoss"`
	TotalPnL     float64   `json:"totalPnl"`
	Commission   float64   `json:"commission"`
	NetPnL       float64   `json:"netPnl"`
	AverageWin   float64   `json:"averageWin"`
	AverageLoss  float64   `json:"averageLoss"`
	LargestWin   float64   `json:"largestWin"`
	LargestLoss  float64   `json:"largestLoss"`
	ProfitFactor *float64  `json:"profitFactor,omitempty"`
}

// EffectiveLog is log as it reads after corrections: each corrected
// original is replaced by its latest application and the correction entries
// themselves drop out. Originals keep their ID, type, sequence and time.
func EffectiveLog(log []Transaction) []Transaction {
	latest := make(map[string]Transaction)
	for _, tx := range log {
		if tx.Type == TxCorrection && !tx.Reversal {
			latest[tx.CorrectionOf] = tx
		}
	}

	out := make([]Transaction, 0, len(log))
	for _, tx := range log {
		if tx.Type == TxCorrection {
			continue
		}
		eff := tx
		if app, ok := latest[tx.ID]; ok {
			eff = app
			eff.ID = tx.ID
			eff.Type = tx.Type
			eff.Seq = tx.Seq
			eff.Timestamp = tx.Timestamp
			eff.CorrectionOf = ""
		}
		out = append(out, eff)
	}
	return out
}

// Statistics computes trading statistics from the corrected log for trades
// booked in [from, to). Zero bounds are open.
func (e *Engine) Statistics(accountID string, from, to time.Time) (Stats, error) {
	s := Stats{AccountID: accountID, From: from, To: to}
	err := e.read(accountID, func(b *accountBook) error {
		for _, tx := range EffectiveLog(b.log) {
			if !from.IsZero() && tx.Timestamp.Before(from) {
				continue
			}
			if !to.IsZero() && !tx.Timestamp.Before(to) {
				continue
			}
			if tx.Type == TxAdjustment {
				continue
			}
			s.Commission += tx.Commission
			if !tx.Closes() {
				continue
			}

			s.TotalTrades++
			s.TotalPnL += tx.RealizedPnL
			switch {
			case tx.RealizedPnL > 0:
				s.Wins++
				s.GrossProfit += tx.RealizedPnL
				s.LargestWin = math.Max(s.LargestWin, tx.RealizedPnL)
			case tx.RealizedPnL < 0:
				s.Losses++
				s.GrossLoss += -tx.RealizedPnL
				s.LargestLoss = math.Min(s.LargestLoss, tx.RealizedPnL)
			}
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	s.NetPnL = s.TotalPnL - s.Commission
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalTrades)
	}
	if s.Wins > 0 {
		s.AverageWin = s.GrossProfit / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AverageLoss = -s.GrossLoss / float64(s.Losses)
	}
	if s.GrossLoss > 0 {
		pf := s.GrossProfit / s.GrossLoss
		s.ProfitFactor = &pf
	}
	return s, nil
}
