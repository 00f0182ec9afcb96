// Package risk holds the admission gate, the portfolio aggregates and
// the correlation rules. The gate is the only component that can halt
// trading: once it latches EMERGENCY_STOPPED nothing but an explicit
// operator reset brings it back.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/config"
)

// State is the gate's admission state.
type State string

const (
	StateNormal           State = "NORMAL"
	StateEmergencyStopped State = "EMERGENCY_STOPPED"
)

// AdmissionRequest carries everything the gate needs to rule on one
// candidate trade. Projections are computed by the caller from the
// current aggregates plus the proposed volume.
type AdmissionRequest struct {
	Symbol                  string
	Strategy                string
	Side                    broker.Side
	Volume                  float64
	Equity                  float64
	OpenPositions           int
	StrategyPositions       int
	ProjectedExposure       float64
	ProjectedVaR            float64
	CorrelatedSameDirection int
}

// Admission is a definite yes or no. Rejections are outcomes, not
// errors, and always name the limit that blocked the trade.
type Admission struct {
	Allowed bool
	Reason  string
}

func rejected(format string, args ...interface{}) Admission {
	return Admission{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Gate tracks equity extremes, the daily loss window and the losing
// streak, and latches EMERGENCY_STOPPED when any profile trip fires.
type Gate struct {
	mu  sync.RWMutex
	cfg config.RiskConfig

	state     State
	reason    string
	trippedAt time.Time

	initialBalance    float64
	peakEquity        float64
	startOfDayBalance float64
	day               time.Time
	dailyRealized     float64
	consecutiveLosses int
}

// NewGate starts a gate in NORMAL with the configured initial balance
// as both peak and start-of-day anchor.
func NewGate(cfg config.RiskConfig) *Gate {
	return &Gate{
		cfg:               cfg,
		state:             StateNormal,
		initialBalance:    cfg.InitialBalance,
		peakEquity:        cfg.InitialBalance,
		startOfDayBalance: cfg.InitialBalance,
	}
}

// State returns the current admission state.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// TripReason returns why the gate latched, empty while NORMAL.
func (g *Gate) TripReason() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.reason
}

// Evaluate folds a fresh equity/balance reading into the gate. Called
// once per tick after the aggregates update; it rolls the daily window
// at UTC midnight, advances the peak and fires the profile trips.
// Returns true when this evaluation latched the emergency stop.
func (g *Gate) Evaluate(now time.Time, equity, balance float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	day := now.UTC().Truncate(24 * time.Hour)
	if g.day.IsZero() {
		g.day = day
	} else if day.After(g.day) {
		g.day = day
		g.dailyRealized = 0
		g.startOfDayBalance = balance
	}

	if equity > g.peakEquity {
		g.peakEquity = equity
	}

	if g.state == StateEmergencyStopped {
		return false
	}

	if g.peakEquity > 0 {
		drawdown := (g.peakEquity - equity) / g.peakEquity
		if drawdown >= g.cfg.MaxDrawdown {
			g.latch(now, fmt.Sprintf("drawdown %.1f%% reached limit %.1f%%",
				drawdown*100, g.cfg.MaxDrawdown*100))
			return true
		}
	}

	if g.startOfDayBalance > 0 && g.dailyRealized < 0 {
		loss := -g.dailyRealized
		if loss >= g.cfg.DailyLossLimit*g.startOfDayBalance {
			g.latch(now, fmt.Sprintf("daily loss %.2f reached limit %.2f",
				loss, g.cfg.DailyLossLimit*g.startOfDayBalance))
			return true
		}
	}

	if g.cfg.StreakTripsGate() && g.consecutiveLosses >= g.cfg.MaxConsecutiveLosses {
		g.latch(now, fmt.Sprintf("%d consecutive losses reached limit %d",
			g.consecutiveLosses, g.cfg.MaxConsecutiveLosses))
		return true
	}

	if g.cfg.Profile == config.ProfileExtreme && g.initialBalance > 0 {
		floor := g.initialBalance * (1 - g.cfg.CatastrophicLossFraction)
		if equity <= floor {
			g.latch(now, fmt.Sprintf("equity %.2f fell to catastrophic floor %.2f",
				equity, floor))
			return true
		}
	}

	return false
}

func (g *Gate) latch(now time.Time, reason string) {
	g.state = StateEmergencyStopped
	g.reason = reason
	g.trippedAt = now
}

// RecordTradeClose folds a closed trade into the daily window and the
// losing streak.
func (g *Gate) RecordTradeClose(profit float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyRealized += profit
	if profit < 0 {
		g.consecutiveLosses++
	} else {
		g.consecutiveLosses = 0
	}
}

// Admit rules on one candidate trade. Every rejection names its limit;
// none of them is an error.
func (g *Gate) Admit(req AdmissionRequest) Admission {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.state == StateEmergencyStopped {
		return rejected("emergency stop is latched (%s)", g.reason)
	}
	if req.OpenPositions >= g.cfg.MaxPositions {
		return rejected("open positions %d at limit %d", req.OpenPositions, g.cfg.MaxPositions)
	}
	if req.StrategyPositions >= g.cfg.MaxPerStrategy {
		return rejected("strategy %s positions %d at limit %d",
			req.Strategy, req.StrategyPositions, g.cfg.MaxPerStrategy)
	}
	if req.Equity > 0 && req.ProjectedExposure > req.Equity*g.cfg.MaxExposureMultiple {
		return rejected("projected exposure %.0f exceeds %gx equity",
			req.ProjectedExposure, g.cfg.MaxExposureMultiple)
	}
	if req.Equity > 0 && req.ProjectedVaR > req.Equity*g.cfg.MaxPortfolioVaRFraction {
		return rejected("projected VaR %.0f exceeds %.0f%% of equity",
			req.ProjectedVaR, g.cfg.MaxPortfolioVaRFraction*100)
	}
	if req.CorrelatedSameDirection >= g.cfg.MaxCorrelatedPositions {
		return rejected("%d correlated same-direction positions at limit %d",
			req.CorrelatedSameDirection, g.cfg.MaxCorrelatedPositions)
	}
	return Admission{Allowed: true}
}

// Reset clears the emergency latch. Only an operator calls this; the
// gate never resets itself. Returns false when the gate was not
// latched.
func (g *Gate) Reset() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateEmergencyStopped {
		return false
	}
	g.state = StateNormal
	g.reason = ""
	g.trippedAt = time.Time{}
	g.consecutiveLosses = 0
	return true
}

// ForceStop latches the emergency state from outside the evaluation
// path, for operator action or a fatal engine condition.
func (g *Gate) ForceStop(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateEmergencyStopped {
		return
	}
	g.latch(time.Now(), reason)
}

// Drawdown reports the current drawdown from peak for an equity value.
func (g *Gate) Drawdown(equity float64) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.peakEquity <= 0 {
		return 0
	}
	return (g.peakEquity - equity) / g.peakEquity
}

// DailyRealized returns today's realized profit and the balance the
// daily window anchors on.
func (g *Gate) DailyRealized() (realized, startOfDay float64) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dailyRealized, g.startOfDayBalance
}

// ConsecutiveLosses returns the current losing streak.
func (g *Gate) ConsecutiveLosses() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.consecutiveLosses
}

// Snapshot exports the gate for persistence.
type Snapshot struct {
	State             State     `json:"state"`
	Reason            string    `json:"reason,omitempty"`
	TrippedAt         time.Time `json:"tripped_at,omitempty"`
	InitialBalance    float64   `json:"initial_balance"`
	PeakEquity        float64   `json:"peak_equity"`
	StartOfDayBalance float64   `json:"start_of_day_balance"`
	Day               time.Time `json:"day"`
	DailyRealized     float64   `json:"daily_realized"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
}

// Export captures the gate state for the state file.
func (g *Gate) Export() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Snapshot{
		State:             g.state,
		Reason:            g.reason,
		TrippedAt:         g.trippedAt,
		InitialBalance:    g.initialBalance,
		PeakEquity:        g.peakEquity,
		StartOfDayBalance: g.startOfDayBalance,
		Day:               g.day,
		DailyRealized:     g.dailyRealized,
		ConsecutiveLosses: g.consecutiveLosses,
	}
}

// Restore reloads a persisted gate state. A latched emergency stop
// survives restarts; the reset must still come from an operator.
func (g *Gate) Restore(s Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s.State != "" {
		g.state = s.State
	}
	g.reason = s.Reason
	g.trippedAt = s.TrippedAt
	if s.InitialBalance > 0 {
		g.initialBalance = s.InitialBalance
	}
	if s.PeakEquity > 0 {
		g.peakEquity = s.PeakEquity
	}
	if s.StartOfDayBalance > 0 {
		g.startOfDayBalance = s.StartOfDayBalance
	}
	g.day = s.Day
	g.dailyRealized = s.DailyRealized
	g.consecutiveLosses = s.ConsecutiveLosses
}
