// Package sleeve defines the coordination engine's view of one strategy
// unit: its published state, the directive channel control flows through,
// and the capability surface a strategy implementation provides. The engine
// never sees a sleeve's signal logic.
package sleeve

import (
	"context"
	"sync"
	"time"

	"github.com/Pythefnos/Topstep-quant/pkg/types"
)

// DirectiveType identifies a control instruction from the risk coordinator
type DirectiveType string

const (
	DirectiveScale   DirectiveType = "SCALE"   // adjust risk-scaling factor
	DirectiveFlatten DirectiveType = "FLATTEN" // close all positions now
	DirectiveDisable DirectiveType = "DISABLE" // stop trading until re-enabled
	DirectiveResume  DirectiveType = "RESUME"  // new day: re-enabled at full scale
)

// Directive is a control instruction delivered to every sleeve
type Directive struct {
	Type        DirectiveType `json:"type"`
	ScaleFactor float64       `json:"scale_factor,omitempty"`
	Reason      string        `json:"reason"`
	Timestamp   time.Time     `json:"timestamp"`
}

// State is the published snapshot of one sleeve. Owned by the risk
// coordinator; a sleeve reads its own state but never mutates another's.
type State struct {
	ID          string             `json:"id"`
	Enabled     bool               `json:"enabled"`
	ScaleFactor float64            `json:"scale_factor"` // in [0, 1]
	Positions   map[string]float64 `json:"positions"`    // market -> signed net qty
}

// Sleeve is the fixed capability surface a strategy unit implements.
// Implementations run as independent goroutines, push P&L through the
// coordinator, ask the admission gate before submitting orders, and react
// to directives arriving on their handle.
type Sleeve interface {
	ID() string
	Run(ctx context.Context, h *Handle) error
}

const directiveBuffer = 32

// Handle is the coordinator-owned endpoint for one sleeve
type Handle struct {
	id string

	mu          sync.RWMutex
	enabled     bool
	scaleFactor float64
	positions   map[string]float64

	directives chan Directive
}

// NewHandle creates an enabled handle at full scale
func NewHandle(id string) *Handle {
	return &Handle{
		id:          id,
		enabled:     true,
		scaleFactor: 1.0,
		positions:   make(map[string]float64),
		directives:  make(chan Directive, directiveBuffer),
	}
}

// ID returns the sleeve identifier
func (h *Handle) ID() string {
	return h.id
}

// Directives returns the channel the sleeve drains for control instructions
func (h *Handle) Directives() <-chan Directive {
	return h.directives
}

// Deliver enqueues a directive without ever blocking the coordinator.
// When the buffer is full the oldest directive is dropped: risk directives
// only ever tighten within a day, so the newest one is the one that counts.
func (h *Handle) Deliver(d Directive) {
	for {
		select {
		case h.directives <- d:
			return
		default:
			select {
			case <-h.directives:
			default:
			}
		}
	}
}

// State returns a copy of the published sleeve state
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()

	positions := make(map[string]float64, len(h.positions))
	for market, qty := range h.positions {
		positions[market] = qty
	}
	return State{
		ID:          h.id,
		Enabled:     h.enabled,
		ScaleFactor: h.scaleFactor,
		Positions:   positions,
	}
}

// SetEnabled updates the enabled flag. Called only by the coordinator.
func (h *Handle) SetEnabled(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enabled = enabled
}

// SetScaleFactor updates the risk-scaling factor. Called only by the coordinator.
func (h *Handle) SetScaleFactor(factor float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if factor < 0 {
		factor = 0
	}
	if factor > 1 {
		factor = 1
	}
	h.scaleFactor = factor
}

// ApplyPosition records the sleeve's net position for a market.
// Called only by the coordinator when a position update is ingested.
func (h *Handle) ApplyPosition(u types.PositionUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if u.NetQty == 0 {
		delete(h.positions, u.Market)
		return
	}
	h.positions[u.Market] = u.NetQty
}

// ApplyFill adjusts the sleeve's net position for an executed trade.
// Called only by the coordinator when a fill is ingested.
func (h *Handle) ApplyFill(f types.Fill) {
	h.mu.Lock()
	defer h.mu.Unlock()
	net := h.positions[f.Market] + f.Side.Signed()*f.Qty
	if net == 0 {
		delete(h.positions, f.Market)
		return
	}
	h.positions[f.Market] = net
}

// Position returns the sleeve's signed net position for one market
func (h *Handle) Position(market string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.positions[market]
}
