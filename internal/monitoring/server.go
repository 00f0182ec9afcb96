package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/logger"
)

// ResetFunc clears the emergency latch on behalf of the named
// operator. It reports whether the latch was actually set.
type ResetFunc func(operator string) bool

// Server exposes /metrics, /health and the operator admin endpoint on
// one port
type Server struct {
	health *HealthChecker
	reset  ResetFunc
	log    *logger.Logger
	srv    *http.Server
}

// NewServer builds the monitoring server. reset may be nil when the
// engine runs without a gate (backtests).
func NewServer(port int, health *HealthChecker, reset ResetFunc, log *logger.Logger) *Server {
	s := &Server{
		health: health,
		reset:  reset,
		log:    log,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", NewMetricsHandler())
	mux.Handle("/health", health)
	mux.HandleFunc("/admin/reset-emergency", s.handleResetEmergency)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.log != nil {
				s.log.LogError("monitoring server", err)
			}
		}
	}()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleResetEmergency clears the emergency latch. POST only; the
// operator names themselves via the "operator" form value.
func (s *Server) handleResetEmergency(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	if s.reset == nil {
		http.Error(w, "no gate attached", http.StatusServiceUnavailable)
		return
	}

	operator := r.FormValue("operator")
	if operator == "" {
		operator = "unknown"
	}

	cleared := s.reset(operator)
	if s.log != nil {
		if cleared {
			s.log.Warning("Emergency latch reset by operator %q", operator)
		} else {
			s.log.Info("Reset requested by operator %q but the gate was not latched", operator)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"reset":    cleared,
		"operator": operator,
	})
}
