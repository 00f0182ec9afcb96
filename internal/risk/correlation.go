package risk

import (
	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/config"
	"github.com/oyi77/forex-trader-sub001/internal/position"
)

// Correlated reports whether two symbols are treated as correlated:
// the same symbol, a shared currency leg, or an explicitly configured
// pair.
func Correlated(symA, symB string, cfg *config.Config) bool {
	if symA == symB {
		return true
	}
	for _, p := range cfg.Risk.CorrelatedPairs {
		if (p.A == symA && p.B == symB) || (p.A == symB && p.B == symA) {
			return true
		}
	}
	a, okA := cfg.Spec(symA)
	b, okB := cfg.Spec(symB)
	if !okA || !okB {
		return false
	}
	return sharesLeg(a, b)
}

func sharesLeg(a, b config.SymbolSpec) bool {
	if a.Base == "" || b.Base == "" {
		return false
	}
	return a.Base == b.Base || a.Base == b.Quote ||
		a.Quote == b.Base || a.Quote == b.Quote
}

// CountCorrelated counts open positions correlated with a symbol. With
// side set, only positions on that side count; with SideAny every
// correlated position counts.
func CountCorrelated(symbol string, side broker.Side, open []*position.Record, cfg *config.Config) int {
	n := 0
	for _, rec := range open {
		if side != broker.SideAny && rec.Side != side {
			continue
		}
		if Correlated(symbol, rec.Symbol, cfg) {
			n++
		}
	}
	return n
}
