package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Account metrics
	accountEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_engine_account_equity",
			Help: "Current account equity (balance + unrealized P&L)",
		},
	)

	accountHighWaterMark = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_engine_high_water_mark",
			Help: "Account-lifetime equity high-water mark",
		},
	)

	dailyPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_engine_daily_pnl",
			Help: "P&L of the current trading day",
		},
	)

	trailingDrawdown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_engine_trailing_drawdown",
			Help: "Distance from the high-water mark to current equity",
		},
	)

	// Risk state machine metrics
	riskState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_engine_state",
			Help: "Operating state (0=active, 1=warning, 2=halted)",
		},
	)

	riskEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_events_total",
			Help: "Total number of risk events emitted",
		},
		[]string{"type"},
	)

	// Trading metrics
	fillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_fills_total",
			Help: "Total number of fills recorded",
		},
		[]string{"sleeve", "market", "side"},
	)

	admissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_admissions_total",
			Help: "Total number of admission gate decisions",
		},
		[]string{"result", "reason"},
	)

	flattenAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_flatten_attempts_total",
			Help: "Total number of broker flatten attempts during halts",
		},
		[]string{"result"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_errors_total",
			Help: "Total number of errors",
		},
		[]string{"category"},
	)
)

func init() {
	// Register metrics
	prometheus.MustRegister(accountEquity)
	prometheus.MustRegister(accountHighWaterMark)
	prometheus.MustRegister(dailyPnL)
	prometheus.MustRegister(trailingDrawdown)
	prometheus.MustRegister(riskState)
	prometheus.MustRegister(riskEventsTotal)
	prometheus.MustRegister(fillsTotal)
	prometheus.MustRegister(admissionsTotal)
	prometheus.MustRegister(flattenAttemptsTotal)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// UpdateAccount updates the account gauges
func UpdateAccount(equity, highWaterMark, pnl, drawdown float64) {
	accountEquity.Set(equity)
	accountHighWaterMark.Set(highWaterMark)
	dailyPnL.Set(pnl)
	trailingDrawdown.Set(drawdown)
}

// SetRiskState updates the operating state gauge
func SetRiskState(state int) {
	riskState.Set(float64(state))
}

// RecordRiskEvent records a risk event metric
func RecordRiskEvent(eventType string) {
	riskEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordFill records a fill metric
func RecordFill(sleeve, market, side string) {
	fillsTotal.WithLabelValues(sleeve, market, side).Inc()
}

// RecordAdmission records an admission gate decision metric
func RecordAdmission(result, reason string) {
	admissionsTotal.WithLabelValues(result, reason).Inc()
}

// RecordFlattenAttempt records a flatten attempt metric
func RecordFlattenAttempt(result string) {
	flattenAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordError records an error metric
func RecordError(category string) {
	errorsTotal.WithLabelValues(category).Inc()
}
