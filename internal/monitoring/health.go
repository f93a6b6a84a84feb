package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

type HealthChecker struct {
	mu         sync.RWMutex
	lastEvent  time.Time
	riskState  string
	tradingDay string
	errors     []string
}

type HealthStatus struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	RiskState  string    `json:"risk_state"`
	TradingDay string    `json:"trading_day"`
	LastEvent  time.Time `json:"last_event"`
	Uptime     string    `json:"uptime"`
	Errors     []string  `json:"errors,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		errors: make([]string, 0),
	}
}

// RecordActivity notes that the engine processed an event
func (h *HealthChecker) RecordActivity(riskState, tradingDay string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastEvent = time.Now()
	h.riskState = riskState
	h.tradingDay = tradingDay
}

// RecordError appends a health-visible error
func (h *HealthChecker) RecordError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
	if len(h.errors) > 20 {
		h.errors = h.errors[len(h.errors)-20:]
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if h.lastEvent.IsZero() || time.Since(h.lastEvent) > time.Hour {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if len(h.errors) > 0 {
		status = "unhealthy"
		code = http.StatusInternalServerError
	}

	health := HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		RiskState:  h.riskState,
		TradingDay: h.tradingDay,
		LastEvent:  h.lastEvent,
		Uptime:     time.Since(startTime).String(),
		Errors:     h.errors,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}
