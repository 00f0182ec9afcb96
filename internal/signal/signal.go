// Package signal turns market snapshots into entry proposals. Sources
// here are deliberately thin condition checks; everything that makes a
// proposal safe to trade (sizing, admission, protective levels) lives
// in the sizing and risk packages.
package signal

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/config"
)

// TradeSignal proposes one entry. Confidence is 0..100 and feeds the
// sizer's confidence scaling.
type TradeSignal struct {
	Symbol     string
	Side       broker.Side
	Confidence float64
	Strategy   string
	Reason     string
	Time       time.Time
}

// Source produces entry proposals from a market snapshot. A source
// that returns nothing leaves the engine managing the existing book.
type Source interface {
	Signals(snap broker.MarketSnapshot) []TradeSignal
	Name() string
}

// FromConfig builds the configured source. Validation has already
// checked the name, so anything unrecognized falls back to manual.
func FromConfig(cfg config.SignalConfig) Source {
	if cfg.Source == "momentum" {
		return NewMomentumThreshold(cfg)
	}
	return Manual{}
}

// Manual never proposes entries. Positions are opened by an operator
// and the engine manages the existing book only.
type Manual struct{}

func (Manual) Name() string { return "manual" }

func (Manual) Signals(broker.MarketSnapshot) []TradeSignal { return nil }

// MomentumThreshold proposes an entry whenever the snapshot momentum
// crosses the configured threshold: long above it, short below the
// negated one. Confidence scales with the momentum reading. A
// per-symbol cooldown starts when a signal is emitted, whether or not
// the engine opens it, and is measured in snapshot time so replayed
// sessions behave the same as live ones.
type MomentumThreshold struct {
	threshold float64
	cooldown  time.Duration
	strategy  string

	mu   sync.Mutex
	last map[string]time.Time
}

func NewMomentumThreshold(cfg config.SignalConfig) *MomentumThreshold {
	th := cfg.MomentumThreshold
	if th <= 0 {
		th = 0.6
	}
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = "momentum"
	}
	return &MomentumThreshold{
		threshold: th,
		cooldown:  time.Duration(cfg.CooldownMinutes) * time.Minute,
		strategy:  strategy,
		last:      make(map[string]time.Time),
	}
}

func (m *MomentumThreshold) Name() string { return "momentum" }

func (m *MomentumThreshold) Signals(snap broker.MarketSnapshot) []TradeSignal {
	strength := math.Abs(snap.Momentum)
	if strength < m.threshold {
		return nil
	}
	side := broker.SideLong
	if snap.Momentum < 0 {
		side = broker.SideShort
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.last[snap.Symbol]; ok && snap.Time.Sub(last) < m.cooldown {
		return nil
	}
	m.last[snap.Symbol] = snap.Time

	return []TradeSignal{{
		Symbol:     snap.Symbol,
		Side:       side,
		Confidence: math.Min(strength, 1) * 100,
		Strategy:   m.strategy,
		Reason:     fmt.Sprintf("momentum %.2f crossed %.2f", snap.Momentum, m.threshold),
		Time:       snap.Time,
	}}
}
