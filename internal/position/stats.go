package position

import (
	"math"
	"sync"
)

// Stats accumulates closed-trade performance for one strategy. Mean
// and variance of per-trade profit use Welford's online update so the
// numbers stay stable over long sessions.
type Stats struct {
	Trades            int     `json:"trades"`
	Wins              int     `json:"wins"`
	Losses            int     `json:"losses"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	GrossWin          float64 `json:"gross_win"`
	GrossLoss         float64 `json:"gross_loss"`
	TotalProfit       float64 `json:"total_profit"`
	Mean              float64 `json:"mean"`
	M2                float64 `json:"m2"`
}

// Record folds one closed trade's profit into the stats.
func (s *Stats) Record(profit float64) {
	s.Trades++
	s.TotalProfit += profit
	if profit >= 0 {
		s.Wins++
		s.GrossWin += profit
		s.ConsecutiveLosses = 0
	} else {
		s.Losses++
		s.GrossLoss += -profit
		s.ConsecutiveLosses++
	}

	delta := profit - s.Mean
	s.Mean += delta / float64(s.Trades)
	s.M2 += delta * (profit - s.Mean)
}

// WinRate is the fraction of closed trades that were profitable.
func (s *Stats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}

// AvgWin is the mean profit of winning trades.
func (s *Stats) AvgWin() float64 {
	if s.Wins == 0 {
		return 0
	}
	return s.GrossWin / float64(s.Wins)
}

// AvgLoss is the mean magnitude of losing trades.
func (s *Stats) AvgLoss() float64 {
	if s.Losses == 0 {
		return 0
	}
	return s.GrossLoss / float64(s.Losses)
}

// PayoffRatio is avg win over avg loss. Zero when either side of the
// book is still empty; the sizing chain special-cases that.
func (s *Stats) PayoffRatio() float64 {
	avgLoss := s.AvgLoss()
	if avgLoss == 0 {
		return 0
	}
	return s.AvgWin() / avgLoss
}

// StdDev is the sample standard deviation of per-trade profit.
func (s *Stats) StdDev() float64 {
	if s.Trades < 2 {
		return 0
	}
	return math.Sqrt(s.M2 / float64(s.Trades-1))
}

// Sharpe is mean per-trade profit over its standard deviation. Returns
// zero while there is not enough history to estimate dispersion.
func (s *Stats) Sharpe() float64 {
	sd := s.StdDev()
	if sd == 0 {
		return 0
	}
	return s.Mean / sd
}

// ProfitFactor is gross win over gross loss.
func (s *Stats) ProfitFactor() float64 {
	if s.GrossLoss == 0 {
		return 0
	}
	return s.GrossWin / s.GrossLoss
}

// Book keys strategy stats by name and keeps an account-wide roll-up.
type Book struct {
	mu         sync.RWMutex
	strategies map[string]*Stats
	account    Stats
}

// NewBook returns an empty stats book.
func NewBook() *Book {
	return &Book{strategies: make(map[string]*Stats)}
}

// Record folds one closed trade into both the strategy's stats and the
// account roll-up.
func (b *Book) Record(strategy string, profit float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.strategies[strategy]
	if !ok {
		s = &Stats{}
		b.strategies[strategy] = s
	}
	s.Record(profit)
	b.account.Record(profit)
}

// Stats returns a copy of one strategy's stats. Unknown strategies get
// an empty value.
func (b *Book) Stats(strategy string) Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.strategies[strategy]; ok {
		return *s
	}
	return Stats{}
}

// Account returns a copy of the account-wide roll-up.
func (b *Book) Account() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.account
}

// Strategies lists the strategy names with recorded trades.
func (b *Book) Strategies() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.strategies))
	for name := range b.strategies {
		names = append(names, name)
	}
	return names
}

// Snapshot exports the book for persistence.
func (b *Book) Snapshot() map[string]Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Stats, len(b.strategies)+1)
	for name, s := range b.strategies {
		out[name] = *s
	}
	out["__account__"] = b.account
	return out
}

// Restore reseeds the book from a persisted snapshot.
func (b *Book) Restore(snapshot map[string]Stats) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.strategies = make(map[string]*Stats, len(snapshot))
	for name, s := range snapshot {
		if name == "__account__" {
			b.account = s
			continue
		}
		copied := s
		b.strategies[name] = &copied
	}
}
