package risk

import (
	"fmt"
	"time"

	"github.com/Pythefnos/Topstep-quant/internal/errors"
)

// OperatingState represents the risk state machine's state for one trading day.
// Transitions are one-directional within a day; rollover resets to Active.
type OperatingState int

const (
	StateActive OperatingState = iota
	StateWarning
	StateHalted
)

// String returns the string representation of the operating state
func (s OperatingState) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateWarning:
		return "WARNING"
	case StateHalted:
		return "HALTED"
	default:
		return "UNKNOWN"
	}
}

// Limits holds the account-level risk limits. Immutable per configuration
// load; the engine refuses to run with undefined limits.
type Limits struct {
	MaxDailyLoss        float64  `json:"max_daily_loss"`        // USD, e.g. 1000 on a 50K account
	MaxTrailingDrawdown float64  `json:"max_trailing_drawdown"` // USD, e.g. 2000 on a 50K account
	MaxPositionSize     float64  `json:"max_position_size"`     // contracts per market
	TradeLimitPerDay    int      `json:"trade_limit_per_day"`
	TradeLimitPerWeek   int      `json:"trade_limit_per_week"`
	AllowedMarkets      []string `json:"allowed_markets"`
}

// Validate refuses malformed limits; trading with undefined limits is
// never an option.
func (l Limits) Validate() error {
	if l.MaxDailyLoss <= 0 {
		return errors.NewConfigError("risk", "validate_limits",
			fmt.Sprintf("max daily loss must be strictly positive, got %v", l.MaxDailyLoss), nil)
	}
	if l.MaxTrailingDrawdown <= 0 {
		return errors.NewConfigError("risk", "validate_limits",
			fmt.Sprintf("max trailing drawdown must be strictly positive, got %v", l.MaxTrailingDrawdown), nil)
	}
	if l.MaxPositionSize <= 0 {
		return errors.NewConfigError("risk", "validate_limits",
			fmt.Sprintf("max position size must be strictly positive, got %v", l.MaxPositionSize), nil)
	}
	if l.TradeLimitPerDay < 0 || l.TradeLimitPerWeek < 0 {
		return errors.NewConfigError("risk", "validate_limits", "trade limits must be non-negative", nil)
	}
	if len(l.AllowedMarkets) == 0 {
		return errors.NewConfigError("risk", "validate_limits", "allowed markets must not be empty", nil)
	}
	return nil
}

// AllowedMarketSet returns the allowlist as a set for O(1) lookups
func (l Limits) AllowedMarketSet() map[string]struct{} {
	set := make(map[string]struct{}, len(l.AllowedMarkets))
	for _, market := range l.AllowedMarkets {
		set[market] = struct{}{}
	}
	return set
}

// Params tunes the state machine around the hard limits
type Params struct {
	// WarnFraction of a hard limit at which the Warning scale-down fires
	WarnFraction float64 `json:"warn_fraction"`
	// ReducedScaleFactor applied to every sleeve while in Warning
	ReducedScaleFactor float64 `json:"reduced_scale_factor"`
	// EvalInterval between timer-driven re-evaluations, catching
	// unrealized-P&L drift without new fills. Zero disables the engine's
	// timers; tests drive time through event timestamps instead.
	EvalInterval time.Duration `json:"eval_interval"`
	// CutoffLead before rollover at which positions are force-flattened
	// and sleeves disabled for the rest of the session. Zero disables.
	CutoffLead time.Duration `json:"cutoff_lead"`
	// FreezeDrawdownAtInitial applies the funded-account rule: once the
	// high-water mark exceeds the initial balance by the trailing
	// drawdown, the minimum-equity threshold freezes at the initial
	// balance instead of trailing further up.
	FreezeDrawdownAtInitial bool `json:"freeze_drawdown_at_initial"`
}

// DefaultParams returns sane state machine defaults
func DefaultParams() Params {
	return Params{
		WarnFraction:       0.9,
		ReducedScaleFactor: 0.5,
		EvalInterval:       5 * time.Second,
	}
}

// Validate checks the tuning parameters
func (p Params) Validate() error {
	if p.WarnFraction <= 0 || p.WarnFraction > 1 {
		return errors.NewConfigError("risk", "validate_params",
			fmt.Sprintf("warn fraction must be in (0, 1], got %v", p.WarnFraction), nil)
	}
	if p.ReducedScaleFactor < 0 || p.ReducedScaleFactor > 1 {
		return errors.NewConfigError("risk", "validate_params",
			fmt.Sprintf("reduced scale factor must be in [0, 1], got %v", p.ReducedScaleFactor), nil)
	}
	if p.EvalInterval < 0 || p.CutoffLead < 0 {
		return errors.NewConfigError("risk", "validate_params", "intervals must be non-negative", nil)
	}
	return nil
}
