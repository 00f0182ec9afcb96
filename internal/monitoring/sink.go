package monitoring

import (
	"strings"

	"github.com/oyi77/forex-trader-sub001/internal/events"
)

// EventSink translates engine events into Prometheus counters. Attach
// it to the event stream and the trading counters keep themselves
// current without the engine calling this package directly.
type EventSink struct{}

// Publish implements events.Sink
func (EventSink) Publish(ev events.Event) {
	switch ev.Type {
	case events.TypePositionOpened:
		RecordOrder("open", ev.Symbol)
	case events.TypePositionClosed:
		RecordOrder("close", ev.Symbol)
		RecordClosedTrade(ev.Strategy, ev.Profit)
	case events.TypePartialClose:
		RecordPartialClose(ev.Symbol)
	case events.TypeStopModified:
		if ev.Reason == "trailing" {
			RecordTrailingMove(ev.Symbol)
		} else {
			RecordStopAdjustment(ev.Reason)
		}
	case events.TypeForcedExit:
		// Reason carries "rule: detail"; only the rule may label a
		// counter or the cardinality grows without bound.
		rule, _, _ := strings.Cut(ev.Reason, ":")
		RecordForcedExit(rule)
	case events.TypeReconciliationClose:
		RecordReconciliationClose()
	case events.TypeAdmissionRejected:
		RecordAdmission(false, rejectionLabel(ev.Reason))
	case events.TypeExecutionFailed:
		RecordGatewayError(ev.Reason)
	case events.TypeEmergencyStop:
		SetEmergency(true)
	case events.TypeGateReset:
		SetEmergency(false)
	}
}

// rejectionLabel maps a formatted gate rejection onto the limit that
// produced it. Rejection texts embed live numbers, so the raw string
// cannot be a label.
func rejectionLabel(reason string) string {
	switch {
	case strings.HasPrefix(reason, "emergency stop"):
		return "emergency_stop"
	case strings.HasPrefix(reason, "open positions"):
		return "max_positions"
	case strings.HasPrefix(reason, "strategy"):
		return "max_per_strategy"
	case strings.HasPrefix(reason, "projected exposure"):
		return "max_exposure"
	case strings.HasPrefix(reason, "projected VaR"):
		return "max_portfolio_var"
	case strings.Contains(reason, "correlated"):
		return "correlation"
	case strings.HasPrefix(reason, "sized to zero"):
		return "sized_to_zero"
	default:
		return "other"
	}
}
