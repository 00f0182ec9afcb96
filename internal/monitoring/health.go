package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const maxRecentErrors = 5

// staleAfter marks the engine degraded when no tick completed in time
const staleAfter = 2 * time.Minute

type HealthChecker struct {
	mu          sync.RWMutex
	lastTick    time.Time
	equity      float64
	gateState   string
	isConnected bool
	errors      []string
}

type HealthStatus struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	LastTick    time.Time `json:"last_tick"`
	Equity      float64   `json:"equity"`
	GateState   string    `json:"gate_state"`
	IsConnected bool      `json:"is_connected"`
	Uptime      string    `json:"uptime"`
	Errors      []string  `json:"errors,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		errors: make([]string, 0),
	}
}

// SetConnected records broker connectivity
func (h *HealthChecker) SetConnected(connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.isConnected = connected
}

// RecordTick records a completed engine tick
func (h *HealthChecker) RecordTick(equity float64, gateState string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastTick = time.Now()
	h.equity = equity
	h.gateState = gateState
}

// RecordError keeps the most recent errors for the health payload
func (h *HealthChecker) RecordError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
	if len(h.errors) > maxRecentErrors {
		h.errors = h.errors[len(h.errors)-maxRecentErrors:]
	}
}

// ClearErrors drops the recent error list
func (h *HealthChecker) ClearErrors() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = h.errors[:0]
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status, code := "healthy", http.StatusOK
	if !h.isConnected || (!h.lastTick.IsZero() && time.Since(h.lastTick) > staleAfter) {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	if len(h.errors) > 0 {
		status, code = "unhealthy", http.StatusInternalServerError
	}

	health := HealthStatus{
		Status:      status,
		Timestamp:   time.Now(),
		LastTick:    h.lastTick,
		Equity:      h.equity,
		GateState:   h.gateState,
		IsConnected: h.isConnected,
		Uptime:      time.Since(startTime).String(),
		Errors:      h.errors,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}
