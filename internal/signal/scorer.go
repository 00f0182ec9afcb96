package signal

import (
	"math"

	"github.com/oyi77/forex-trader-sub001/internal/config"
	"github.com/oyi77/forex-trader-sub001/internal/position"
)

// Scorer grades an open position for diagnostics. Scores are 0..100
// and never feed a trading decision; they surface in the status table
// and the trade journal.
type Scorer interface {
	Score(rec *position.Record, price float64, spec config.SymbolSpec) float64
	Name() string
}

// NeutralScorer pins every position at the midpoint. The default when
// no scoring capability is configured.
type NeutralScorer struct{}

func (NeutralScorer) Name() string { return "neutral" }

func (NeutralScorer) Score(*position.Record, float64, config.SymbolSpec) float64 { return 50 }

// ExcursionScorer rates how much of its best favorable excursion a
// position has kept. Trading at the peak scores 100, giving the whole
// excursion back scores 0. A position that never moved into profit
// has no excursion to rate and stays at the midpoint.
type ExcursionScorer struct{}

func (ExcursionScorer) Name() string { return "excursion" }

func (ExcursionScorer) Score(rec *position.Record, price float64, spec config.SymbolSpec) float64 {
	if rec.PeakProfitPips <= 0 {
		return 50
	}
	ratio := rec.ProfitPips(price, spec) / rec.PeakProfitPips
	return math.Max(0, math.Min(1, ratio)) * 100
}
