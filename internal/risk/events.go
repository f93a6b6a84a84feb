package risk

import "time"

// EventType identifies a discrete risk event on the observability stream
type EventType string

const (
	EventRiskWarning           EventType = "RISK_WARNING"
	EventRiskHalted            EventType = "RISK_HALTED"
	EventDailyReset            EventType = "DAILY_RESET"
	EventSessionCutoff         EventType = "SESSION_CUTOFF"
	EventPayoutEligiblePartial EventType = "PAYOUT_ELIGIBLE_PARTIAL"
	EventPayoutEligibleFull    EventType = "PAYOUT_ELIGIBLE_FULL"
	EventFlattenConfirmed      EventType = "FLATTEN_CONFIRMED"
	EventFlattenEscalated      EventType = "FLATTEN_ESCALATED"
)

// Event is one discrete occurrence on the risk event stream, carrying the
// metric values that triggered it.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	TradingDay string    `json:"trading_day"`
	DailyPnL   float64   `json:"daily_pnl"`
	DailyLoss  float64   `json:"daily_loss"`
	Drawdown   float64   `json:"drawdown"`
	Reason     string    `json:"reason"`
}
