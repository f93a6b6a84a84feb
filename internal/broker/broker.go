// Package broker is the execution boundary of the coordination engine.
// The engine only ever needs two defensive operations from it, both
// idempotent and safe to call repeatedly during a halt retry loop.
package broker

import (
	"context"
	"sync"

	"github.com/Pythefnos/Topstep-quant/internal/errors"
)

// ExecutionBroker is the narrow interface to the order-execution gateway
type ExecutionBroker interface {
	// FlattenAll closes every open position with market orders
	FlattenAll(ctx context.Context) error
	// CancelAllWorking cancels every working order
	CancelAllWorking(ctx context.Context) error
}

// SimBroker is an in-memory execution boundary for paper runs and tests.
// Failures can be injected to exercise the halt retry path.
type SimBroker struct {
	mu            sync.Mutex
	positions     map[string]float64
	workingOrders int

	failFlattens int // next N FlattenAll calls fail
	failCancels  int // next N CancelAllWorking calls fail
	flattenCalls int
	cancelCalls  int
}

// NewSimBroker creates an empty simulated broker
func NewSimBroker() *SimBroker {
	return &SimBroker{positions: make(map[string]float64)}
}

// SetPosition seeds a position for a market
func (b *SimBroker) SetPosition(market string, netQty float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if netQty == 0 {
		delete(b.positions, market)
		return
	}
	b.positions[market] = netQty
}

// SetWorkingOrders seeds the count of working orders
func (b *SimBroker) SetWorkingOrders(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workingOrders = n
}

// FailNextFlattens makes the next n FlattenAll calls return an error
func (b *SimBroker) FailNextFlattens(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failFlattens = n
}

// FailNextCancels makes the next n CancelAllWorking calls return an error
func (b *SimBroker) FailNextCancels(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failCancels = n
}

// FlattenAll closes all simulated positions
func (b *SimBroker) FlattenAll(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.flattenCalls++
	if b.failFlattens > 0 {
		b.failFlattens--
		return errors.NewExecutionError("flatten_all", "injected flatten failure", nil)
	}
	b.positions = make(map[string]float64)
	return nil
}

// CancelAllWorking cancels all simulated working orders
func (b *SimBroker) CancelAllWorking(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cancelCalls++
	if b.failCancels > 0 {
		b.failCancels--
		return errors.NewExecutionError("cancel_all", "injected cancel failure", nil)
	}
	b.workingOrders = 0
	return nil
}

// Flat reports whether no positions remain open
func (b *SimBroker) Flat() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.positions) == 0
}

// WorkingOrders returns the count of simulated working orders
func (b *SimBroker) WorkingOrders() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.workingOrders
}

// FlattenCalls returns how many times FlattenAll has been invoked
func (b *SimBroker) FlattenCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flattenCalls
}

// CancelCalls returns how many times CancelAllWorking has been invoked
func (b *SimBroker) CancelCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelCalls
}
