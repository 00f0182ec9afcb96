package notifications

import (
	"fmt"

	"github.com/oyi77/forex-trader-sub001/internal/events"
	"github.com/oyi77/forex-trader-sub001/internal/logger"
)

// AlertSink forwards alert-worthy engine events to Telegram. Routine
// events (fills, stop moves) stay off the channel; only the ones an
// operator should wake up for go out.
type AlertSink struct {
	notifier *TelegramNotifier
	log      *logger.Logger
}

func NewAlertSink(notifier *TelegramNotifier, log *logger.Logger) *AlertSink {
	return &AlertSink{notifier: notifier, log: log}
}

// Publish implements events.Sink. Delivery happens off the tick
// goroutine; failures are logged and dropped.
func (s *AlertSink) Publish(ev events.Event) {
	var level, msg string

	switch ev.Type {
	case events.TypeEmergencyStop:
		level = "error"
		msg = fmt.Sprintf("EMERGENCY STOP\n%s\nAll entries blocked until an operator resets the gate.", ev.Reason)
	case events.TypeGateReset:
		level = "success"
		msg = fmt.Sprintf("Emergency latch cleared by %s. Trading resumes.", ev.Reason)
	case events.TypeForcedExit:
		level = "warning"
		msg = fmt.Sprintf("Forced exit %s %s\nReason: %s\nP/L: %.2f", ev.Symbol, ev.Ticket, ev.Reason, ev.Profit)
	case events.TypeExecutionFailed:
		level = "warning"
		msg = fmt.Sprintf("Gateway call failed for %s\n%s", ev.Symbol, ev.Reason)
	default:
		return
	}

	go func() {
		if err := s.notifier.SendAlert(level, msg); err != nil && s.log != nil {
			s.log.LogWarning("Telegram", "alert delivery failed: %v", err)
		}
	}()
}
