// Package gate is the synchronous admission check every sleeve consults
// before an order reaches the execution boundary. The gate is the final
// authority: it enforces a halt even when a sleeve's own loop has not yet
// drained the directive.
package gate

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/Pythefnos/Topstep-quant/internal/monitoring"
	"github.com/Pythefnos/Topstep-quant/internal/risk"
	"github.com/Pythefnos/Topstep-quant/pkg/types"
)

// RejectReason identifies why an order was refused
type RejectReason string

const (
	ReasonNone             RejectReason = ""
	ReasonHalted           RejectReason = "HALTED"
	ReasonUnknownSleeve    RejectReason = "UNKNOWN_SLEEVE"
	ReasonSleeveDisabled   RejectReason = "SLEEVE_DISABLED"
	ReasonPositionLimit    RejectReason = "POSITION_LIMIT"
	ReasonMarketNotAllowed RejectReason = "MARKET_NOT_ALLOWED"
	ReasonDayTradeLimit    RejectReason = "DAY_TRADE_LIMIT"
	ReasonWeekTradeLimit   RejectReason = "WEEK_TRADE_LIMIT"
	ReasonInvalidOrder     RejectReason = "INVALID_ORDER"
)

// Decision is the typed result of an admission check. A rejection is a
// routine signal to the sleeve, never an error.
type Decision struct {
	Admitted bool         `json:"admitted"`
	Reason   RejectReason `json:"reason,omitempty"`
	Detail   string       `json:"detail,omitempty"`
	// ScaledQty is the quantity the sleeve's scaling factor permits;
	// populated on admission so the sleeve submits the reduced size.
	ScaledQty float64 `json:"scaled_qty,omitempty"`
}

// Gate evaluates orders against the published engine snapshot. Checks are
// in-memory and bounded-time; the gate never blocks on the event loop.
type Gate struct {
	limits   risk.Limits
	allowed  map[string]struct{}
	snapshot func() risk.Snapshot
	logger   zerolog.Logger
}

// New creates a gate over a snapshot source, normally Coordinator.Snapshot
func New(limits risk.Limits, snapshotFn func() risk.Snapshot, logger zerolog.Logger) *Gate {
	return &Gate{
		limits:   limits,
		allowed:  limits.AllowedMarketSet(),
		snapshot: snapshotFn,
		logger:   logger.With().Str("component", "gate").Logger(),
	}
}

// Admit checks a proposed order, short-circuiting on the first failure:
// operating state, sleeve enablement and scaled position size, market
// allowlist, then trade counts.
func (g *Gate) Admit(sleeveID string, order types.Order) Decision {
	decision := g.check(sleeveID, order)
	if decision.Admitted {
		monitoring.RecordAdmission("allow", "")
	} else {
		monitoring.RecordAdmission("reject", string(decision.Reason))
		g.logger.Debug().
			Str("sleeve", sleeveID).
			Str("market", order.Market).
			Str("reason", string(decision.Reason)).
			Str("detail", decision.Detail).
			Msg("order rejected")
	}
	return decision
}

func (g *Gate) check(sleeveID string, order types.Order) Decision {
	if order.Qty <= 0 || math.IsNaN(order.Qty) || math.IsInf(order.Qty, 0) {
		return reject(ReasonInvalidOrder, fmt.Sprintf("invalid order quantity %v", order.Qty))
	}

	snap := g.snapshot()

	if snap.State == risk.StateHalted {
		return reject(ReasonHalted, "trading halted for the day")
	}

	state, known := snap.Sleeves[sleeveID]
	if !known {
		return reject(ReasonUnknownSleeve, fmt.Sprintf("sleeve %q is not registered", sleeveID))
	}
	if !state.Enabled {
		return reject(ReasonSleeveDisabled, fmt.Sprintf("sleeve %q is disabled", sleeveID))
	}

	scaledQty := order.Qty * state.ScaleFactor
	if scaledQty <= 0 {
		return reject(ReasonPositionLimit, "scaling factor permits no size")
	}
	projected := math.Abs(state.Positions[order.Market] + order.Side.Signed()*scaledQty)
	if projected > g.limits.MaxPositionSize {
		return reject(ReasonPositionLimit, fmt.Sprintf(
			"projected position %.2f in %s exceeds limit %.2f", projected, order.Market, g.limits.MaxPositionSize))
	}

	if _, ok := g.allowed[order.Market]; !ok {
		return reject(ReasonMarketNotAllowed, fmt.Sprintf("market %s is not in the allowlist", order.Market))
	}

	if g.limits.TradeLimitPerDay > 0 && snap.Account.TradesToday >= g.limits.TradeLimitPerDay {
		return reject(ReasonDayTradeLimit, fmt.Sprintf(
			"%d trades today reached the daily limit %d", snap.Account.TradesToday, g.limits.TradeLimitPerDay))
	}
	if g.limits.TradeLimitPerWeek > 0 && snap.Account.TradesThisWeek >= g.limits.TradeLimitPerWeek {
		return reject(ReasonWeekTradeLimit, fmt.Sprintf(
			"%d trades this week reached the weekly limit %d", snap.Account.TradesThisWeek, g.limits.TradeLimitPerWeek))
	}

	return Decision{Admitted: true, ScaledQty: scaledQty}
}

func reject(reason RejectReason, detail string) Decision {
	return Decision{Admitted: false, Reason: reason, Detail: detail}
}
