// Package recovery watches gateway failures for patterns a single
// retry cannot see: the same category failing over and over, or
// credential rejections that no amount of retrying will heal. The
// engine feeds it every categorized failure and acts on the verdict.
package recovery

import (
	"github.com/oyi77/forex-trader-sub001/internal/errors"
	"github.com/oyi77/forex-trader-sub001/internal/logger"
)

// Escalation is the monitor's verdict after one observed failure.
type Escalation int

const (
	// EscalationNone means the failure looks isolated.
	EscalationNone Escalation = iota
	// EscalationDegraded means one category keeps failing and the
	// session should be flagged unhealthy.
	EscalationDegraded
	// EscalationHalt means continuing is pointless, e.g. the venue
	// rejects our credentials.
	EscalationHalt
)

// Thresholds. A category degrades the session once it fills this much
// of the recent window; credential failures halt it once they are both
// frequent and dominant.
const (
	recentWindow       = 50
	degradedStreak     = 10
	credentialMinCount = 3
	credentialMinRate  = 0.5
)

// Monitor accumulates per-category failure statistics for one session.
// It is driven from the tick goroutine only and needs no locking.
type Monitor struct {
	stats    *errors.ErrorStats
	log      *logger.Logger
	degraded map[errors.ErrorCategory]bool
	halted   bool
}

// NewMonitor returns an empty monitor logging through the session log.
func NewMonitor(log *logger.Logger) *Monitor {
	return &Monitor{
		stats:    errors.NewErrorStats(recentWindow),
		log:      log,
		degraded: make(map[errors.ErrorCategory]bool),
	}
}

// Observe records one categorized failure and reports whether the
// accumulated pattern warrants escalation. Transitions are logged
// once; the verdict itself is repeated for as long as it holds.
func (m *Monitor) Observe(err *errors.EngineError) Escalation {
	if err == nil {
		return EscalationNone
	}
	m.stats.RecordError(err)

	cat := err.Category
	if cat == errors.ErrorCategoryCredentials {
		count := m.stats.ErrorsByCategory[cat]
		if count >= credentialMinCount && m.stats.GetErrorRate(cat) >= credentialMinRate {
			if !m.halted {
				m.halted = true
				m.log.Error("Credential failures dominate the gateway error stream (%d of %d), halting admissions",
					count, m.stats.TotalErrors)
			}
			return EscalationHalt
		}
	}

	if m.stats.HasRecentErrors(cat, degradedStreak) {
		if !m.degraded[cat] {
			m.degraded[cat] = true
			m.log.Warning("Gateway category %s failed %d times within the last %d errors",
				cat, degradedStreak, recentWindow)
		}
		return EscalationDegraded
	}
	return EscalationNone
}

// Stats exposes the session failure counters.
func (m *Monitor) Stats() *errors.ErrorStats { return m.stats }
