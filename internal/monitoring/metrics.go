package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var startTime = time.Now()

var (
	// Portfolio metrics
	equityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_equity",
			Help: "Current account equity",
		},
	)

	balanceGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_balance",
			Help: "Current account balance",
		},
	)

	exposureGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_exposure",
			Help: "Total open notional exposure",
		},
	)

	portfolioVaRGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_portfolio_var",
			Help: "Portfolio value at risk, 95 percent one day",
		},
	)

	drawdownGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_drawdown",
			Help: "Drawdown from peak equity as a fraction",
		},
	)

	openPositionsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_open_positions",
			Help: "Number of open positions",
		},
	)

	emergencyGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_emergency_stopped",
			Help: "1 while the risk gate is latched, 0 otherwise",
		},
	)

	// Trading metrics
	admissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_admissions_total",
			Help: "Admission decisions for sized trade intents",
		},
		[]string{"result"},
	)

	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_rejections_total",
			Help: "Admission rejections by limit",
		},
		[]string{"reason"},
	)

	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_orders_total",
			Help: "Orders confirmed by the gateway",
		},
		[]string{"action", "symbol"},
	)

	partialClosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_partial_closes_total",
			Help: "Partial closes taken at profit tiers",
		},
		[]string{"symbol"},
	)

	trailingMovesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_trailing_moves_total",
			Help: "Stop modifications made by the trailing engine",
		},
		[]string{"symbol"},
	)

	stopAdjustmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_stop_adjustments_total",
			Help: "Stop modifications made by the dynamic adjuster",
		},
		[]string{"channel"},
	)

	forcedExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_forced_exits_total",
			Help: "Positions force-closed by exit rules",
		},
		[]string{"reason"},
	)

	reconciliationClosesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trader_reconciliation_closes_total",
			Help: "Positions found closed at the gateway during reconciliation",
		},
	)

	closedTradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_closed_trades_total",
			Help: "Fully closed trades",
		},
		[]string{"strategy", "result"},
	)

	// Error metrics
	gatewayErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_gateway_errors_total",
			Help: "Failed gateway calls by error code",
		},
		[]string{"code"},
	)

	// Engine metrics
	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trader_tick_duration_seconds",
			Help:    "Wall time of one engine tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	lastTickGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_last_tick_timestamp_seconds",
			Help: "Unix time of the last completed tick",
		},
	)
)

func init() {
	// Register metrics
	prometheus.MustRegister(equityGauge)
	prometheus.MustRegister(balanceGauge)
	prometheus.MustRegister(exposureGauge)
	prometheus.MustRegister(portfolioVaRGauge)
	prometheus.MustRegister(drawdownGauge)
	prometheus.MustRegister(openPositionsGauge)
	prometheus.MustRegister(emergencyGauge)
	prometheus.MustRegister(admissionsTotal)
	prometheus.MustRegister(rejectionsTotal)
	prometheus.MustRegister(ordersTotal)
	prometheus.MustRegister(partialClosesTotal)
	prometheus.MustRegister(trailingMovesTotal)
	prometheus.MustRegister(stopAdjustmentsTotal)
	prometheus.MustRegister(forcedExitsTotal)
	prometheus.MustRegister(reconciliationClosesTotal)
	prometheus.MustRegister(closedTradesTotal)
	prometheus.MustRegister(gatewayErrorsTotal)
	prometheus.MustRegister(tickDuration)
	prometheus.MustRegister(lastTickGauge)
}

// MetricsHandler handles the Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// UpdatePortfolio refreshes the portfolio gauges after a tick
func UpdatePortfolio(equity, balance, exposure, totalVaR, drawdown float64, openPositions int) {
	equityGauge.Set(equity)
	balanceGauge.Set(balance)
	exposureGauge.Set(exposure)
	portfolioVaRGauge.Set(totalVaR)
	drawdownGauge.Set(drawdown)
	openPositionsGauge.Set(float64(openPositions))
}

// SetEmergency flips the emergency latch gauge
func SetEmergency(stopped bool) {
	if stopped {
		emergencyGauge.Set(1)
	} else {
		emergencyGauge.Set(0)
	}
}

// RecordAdmission records one admission decision
func RecordAdmission(allowed bool, reason string) {
	if allowed {
		admissionsTotal.WithLabelValues("allowed").Inc()
		return
	}
	admissionsTotal.WithLabelValues("rejected").Inc()
	rejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordOrder records a confirmed gateway order
func RecordOrder(action, symbol string) {
	ordersTotal.WithLabelValues(action, symbol).Inc()
}

// RecordPartialClose records a tier fill
func RecordPartialClose(symbol string) {
	partialClosesTotal.WithLabelValues(symbol).Inc()
}

// RecordTrailingMove records a trailing stop modification
func RecordTrailingMove(symbol string) {
	trailingMovesTotal.WithLabelValues(symbol).Inc()
}

// RecordStopAdjustment records a dynamic stop change by channel
func RecordStopAdjustment(channel string) {
	stopAdjustmentsTotal.WithLabelValues(channel).Inc()
}

// RecordForcedExit records a forced close by reason
func RecordForcedExit(reason string) {
	forcedExitsTotal.WithLabelValues(reason).Inc()
}

// RecordReconciliationClose records a position the venue closed for us
func RecordReconciliationClose() {
	reconciliationClosesTotal.Inc()
}

// RecordClosedTrade records a fully closed trade
func RecordClosedTrade(strategy string, profit float64) {
	result := "win"
	if profit < 0 {
		result = "loss"
	}
	closedTradesTotal.WithLabelValues(strategy, result).Inc()
}

// RecordGatewayError records a failed gateway call
func RecordGatewayError(code string) {
	gatewayErrorsTotal.WithLabelValues(code).Inc()
}

// ObserveTick records the duration of one engine tick
func ObserveTick(d time.Duration) {
	tickDuration.Observe(d.Seconds())
	lastTickGauge.Set(float64(time.Now().Unix()))
}
