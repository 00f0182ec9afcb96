// Package events is the structured stream the engine exposes to
// collaborators: every admission, fill, stop move and close becomes one
// event. Delivery is fire-and-forget; a slow or broken sink never
// blocks the tick pipeline.
package events

import (
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
)

// Type names one kind of engine event.
type Type string

const (
	TypePositionOpened      Type = "position_opened"
	TypePositionClosed      Type = "position_closed"
	TypePartialClose        Type = "partial_close"
	TypeStopModified        Type = "stop_modified"
	TypeTrailingActivated   Type = "trailing_activated"
	TypeForcedExit          Type = "forced_exit"
	TypeReconciliationClose Type = "reconciliation_close"
	TypeAdmissionRejected   Type = "admission_rejected"
	TypeExecutionFailed     Type = "execution_failed"
	TypeEmergencyStop       Type = "emergency_stop"
	TypeGateReset           Type = "gate_reset"
)

// Event is one entry on the stream. Numeric fields are filled when the
// event type makes them meaningful and stay zero otherwise.
type Event struct {
	Type       Type          `json:"type"`
	Time       time.Time     `json:"time"`
	Strategy   string        `json:"strategy,omitempty"`
	Symbol     string        `json:"symbol,omitempty"`
	Ticket     broker.Ticket `json:"ticket,omitempty"`
	Side       broker.Side   `json:"side,omitempty"`
	Volume     float64       `json:"volume,omitempty"`
	Price      float64       `json:"price,omitempty"`
	StopLoss   float64       `json:"stop_loss,omitempty"`
	TakeProfit float64       `json:"take_profit,omitempty"`
	Profit     float64       `json:"profit,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

// Sink receives events. Implementations must not block.
type Sink interface {
	Publish(Event)
}
