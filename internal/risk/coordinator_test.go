package risk

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pythefnos/Topstep-quant/internal/broker"
	"github.com/Pythefnos/Topstep-quant/internal/calendar"
	"github.com/Pythefnos/Topstep-quant/internal/ledger"
	"github.com/Pythefnos/Topstep-quant/internal/payout"
	"github.com/Pythefnos/Topstep-quant/internal/sleeve"
	"github.com/Pythefnos/Topstep-quant/pkg/types"
)

const initialBalance = 50000.0

// sessionOpen is a Monday morning inside the 2025-03-10 trading day
func sessionOpen(t *testing.T) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	return time.Date(2025, 3, 10, 9, 0, 0, 0, loc)
}

func testLimits() Limits {
	return Limits{
		MaxDailyLoss:        1000,
		MaxTrailingDrawdown: 2000,
		MaxPositionSize:     5,
		TradeLimitPerDay:    20,
		TradeLimitPerWeek:   60,
		AllowedMarkets:      []string{"MES", "MNQ"},
	}
}

type fixture struct {
	coord   *Coordinator
	handle  *sleeve.Handle
	sim     *broker.SimBroker
	led     *ledger.Ledger
	tracker *payout.Tracker
	open    time.Time
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	open := sessionOpen(t)
	cal, err := calendar.New(calendar.DefaultTimezone, 17, 0)
	require.NoError(t, err)
	led := ledger.New(cal, initialBalance, open)
	tracker := payout.New(payout.DefaultConfig())
	sim := broker.NewSimBroker()

	params := DefaultParams()
	params.EvalInterval = 0 // tests drive time through event timestamps

	cfg := Config{
		InitialBalance: initialBalance,
		Limits:         testLimits(),
		Params:         params,
		Retry: broker.RetryConfig{
			MaxRetries:    2,
			InitialDelay:  time.Millisecond,
			MaxDelay:      time.Millisecond,
			BackoffFactor: 1.0,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	coord, err := New(cfg, cal, led, sim, tracker, nil, zerolog.Nop())
	require.NoError(t, err)

	handle, err := coord.RegisterSleeve("mm")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, coord.Start(ctx))
	t.Cleanup(func() {
		cancel()
		coord.Stop()
	})

	return &fixture{coord: coord, handle: handle, sim: sim, led: led, tracker: tracker, open: open}
}

func (f *fixture) fill(t *testing.T, pnl float64, ts time.Time) {
	t.Helper()
	require.NoError(t, f.coord.RecordFill("mm", types.Fill{
		Market:      "MES",
		Side:        types.SideBuy,
		Qty:         1,
		RealizedPnL: pnl,
		Timestamp:   ts,
	}))
}

func (f *fixture) mark(t *testing.T, unrealized, netQty float64, ts time.Time) {
	t.Helper()
	require.NoError(t, f.coord.RecordPosition("mm", types.PositionUpdate{
		Market:        "MES",
		NetQty:        netQty,
		UnrealizedPnL: unrealized,
		Timestamp:     ts,
	}))
}

func waitEvent(t *testing.T, ch <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

func drainDirectives(h *sleeve.Handle) []sleeve.Directive {
	var out []sleeve.Directive
	for {
		select {
		case d := <-h.Directives():
			out = append(out, d)
		default:
			return out
		}
	}
}

func TestWarningScalesSleevesDown(t *testing.T) {
	f := newFixture(t, nil)
	events := f.coord.Subscribe(8)

	f.fill(t, -400, f.open)
	assert.Equal(t, StateActive, f.coord.Snapshot().State)

	f.fill(t, -500, f.open.Add(time.Minute))

	snap := f.coord.Snapshot()
	assert.Equal(t, StateWarning, snap.State)
	assert.InDelta(t, -900, snap.Account.DailyPnL, 1e-9)
	assert.InDelta(t, 0.5, snap.Sleeves["mm"].ScaleFactor, 1e-9)
	assert.True(t, snap.Sleeves["mm"].Enabled, "warning reduces scale, it does not disable")

	ev := waitEvent(t, events, EventRiskWarning)
	assert.Equal(t, "2025-03-10", ev.TradingDay)
	assert.InDelta(t, 900, ev.DailyLoss, 1e-9)

	directives := drainDirectives(f.handle)
	require.NotEmpty(t, directives)
	last := directives[len(directives)-1]
	assert.Equal(t, sleeve.DirectiveScale, last.Type)
	assert.InDelta(t, 0.5, last.ScaleFactor, 1e-9)
}

func TestDailyLossHaltFlattensExactlyOnce(t *testing.T) {
	f := newFixture(t, nil)
	events := f.coord.Subscribe(8)
	f.sim.SetPosition("MES", 2)
	f.sim.SetWorkingOrders(3)

	f.fill(t, -400, f.open)
	f.fill(t, -500, f.open.Add(time.Minute))
	f.fill(t, -150, f.open.Add(2*time.Minute)) // 1050 loss crosses the 1000 limit

	snap := f.coord.Snapshot()
	assert.Equal(t, StateHalted, snap.State)
	assert.False(t, snap.Sleeves["mm"].Enabled)
	assert.Zero(t, snap.Sleeves["mm"].ScaleFactor)

	waitEvent(t, events, EventRiskHalted)
	waitEvent(t, events, EventFlattenConfirmed)
	assert.True(t, f.sim.Flat())
	assert.Zero(t, f.sim.WorkingOrders())
	assert.Equal(t, 1, f.sim.FlattenCalls())

	// further losses while halted do not re-trigger the flatten
	f.fill(t, -200, f.open.Add(3*time.Minute))
	assert.Equal(t, StateHalted, f.coord.Snapshot().State)
	assert.Equal(t, 1, f.sim.FlattenCalls())
}

func TestHaltIsTerminalUntilRollover(t *testing.T) {
	f := newFixture(t, nil)

	f.fill(t, -1200, f.open)
	require.Equal(t, StateHalted, f.coord.Snapshot().State)

	// a recovery within the day never lifts the halt
	f.fill(t, 800, f.open.Add(time.Hour))
	assert.Equal(t, StateHalted, f.coord.Snapshot().State)

	// the next session starts clean
	nextDay := f.open.Add(9 * time.Hour) // 18:00, past the 17:00 rollover
	f.fill(t, 50, nextDay)

	snap := f.coord.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.Equal(t, "2025-03-11", snap.TradingDay)
	assert.InDelta(t, 50, snap.Account.DailyPnL, 1e-9)
	assert.True(t, snap.Sleeves["mm"].Enabled)
	assert.InDelta(t, 1.0, snap.Sleeves["mm"].ScaleFactor, 1e-9)
}

func TestStaleEventNeverRollsTheDayBack(t *testing.T) {
	f := newFixture(t, nil)
	loc := f.open.Location()

	// move into the next session, then halt it
	f.fill(t, 100, f.open.Add(9*time.Hour)) // 18:00, trading day 2025-03-11
	f.fill(t, -1200, f.open.Add(10*time.Hour))
	require.Equal(t, StateHalted, f.coord.Snapshot().State)
	require.Equal(t, "2025-03-11", f.coord.Snapshot().TradingDay)

	// an in-flight mark stamped before the boundary arrives late
	f.mark(t, -50, 1, time.Date(2025, 3, 10, 16, 0, 0, 0, loc))

	snap := f.coord.Snapshot()
	assert.Equal(t, "2025-03-11", snap.TradingDay, "rollover only moves forward")
	assert.Equal(t, StateHalted, snap.State, "a stale timestamp never lifts a halt")
	assert.False(t, snap.Sleeves["mm"].Enabled)
}

func TestSingleUpdateCrossingBothThresholdsLandsHalted(t *testing.T) {
	f := newFixture(t, nil)
	events := f.coord.Subscribe(8)

	f.fill(t, -1500, f.open)

	assert.Equal(t, StateHalted, f.coord.Snapshot().State)
	ev := waitEvent(t, events, EventRiskHalted)
	assert.Equal(t, EventRiskHalted, ev.Type, "no intermediate warning for a single crossing")
}

func TestTrailingDrawdownHaltOnGiveback(t *testing.T) {
	f := newFixture(t, nil)
	events := f.coord.Subscribe(8)

	// run equity up to 52500, then give back to 50400: drawdown 2100
	f.mark(t, 2500, 3, f.open)
	require.Equal(t, StateActive, f.coord.Snapshot().State)
	f.mark(t, 400, 3, f.open.Add(time.Minute))

	snap := f.coord.Snapshot()
	assert.Equal(t, StateHalted, snap.State)
	assert.InDelta(t, 2100, snap.Account.TrailingDrawdown, 1e-9)

	ev := waitEvent(t, events, EventRiskHalted)
	assert.InDelta(t, 2100, ev.Drawdown, 1e-9)
	// the day itself is green; only the drawdown limit tripped
	assert.InDelta(t, 400, ev.DailyPnL, 1e-9)
}

func TestDrawdownFreezeAtInitialBalance(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Params.FreezeDrawdownAtInitial = true
		cfg.Limits.MaxDailyLoss = 5000
	})

	// HWM 53000 freezes the minimum-equity threshold at the initial
	// balance instead of trailing it up to 51000
	f.fill(t, 3000, f.open)
	f.fill(t, -2100, f.open.Add(time.Minute)) // equity 50900, raw drawdown 2100

	snap := f.coord.Snapshot()
	assert.NotEqual(t, StateHalted, snap.State,
		"equity 50900 is above the frozen 50000 threshold")
	assert.Equal(t, StateWarning, snap.State, "warning still follows the raw drawdown")

	f.fill(t, -1000, f.open.Add(2*time.Minute)) // equity 49900 breaches the freeze line
	assert.Equal(t, StateHalted, f.coord.Snapshot().State)
}

func TestFlattenEscalatesAfterRetryBudget(t *testing.T) {
	f := newFixture(t, nil)
	events := f.coord.Subscribe(8)
	f.sim.FailNextFlattens(10) // more than MaxRetries+1 attempts can consume

	f.fill(t, -1200, f.open)

	waitEvent(t, events, EventRiskHalted)
	ev := waitEvent(t, events, EventFlattenEscalated)
	assert.Contains(t, ev.Reason, "daily loss")
	assert.Equal(t, 3, f.sim.FlattenCalls(), "MaxRetries=2 means three attempts")
	assert.Equal(t, StateHalted, f.coord.Snapshot().State)
}

func TestSessionCutoffFlattensBeforeRollover(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Params.CutoffLead = 65 * time.Minute // 15:55 with a 17:00 rollover
	})
	events := f.coord.Subscribe(8)
	f.sim.SetPosition("MES", 1)

	loc := f.open.Location()
	require.NoError(t, f.coord.Reevaluate(time.Date(2025, 3, 10, 15, 0, 0, 0, loc)))
	assert.Equal(t, StateActive, f.coord.Snapshot().State)
	assert.True(t, f.coord.Snapshot().Sleeves["mm"].Enabled)

	require.NoError(t, f.coord.Reevaluate(time.Date(2025, 3, 10, 16, 0, 0, 0, loc)))

	ev := waitEvent(t, events, EventSessionCutoff)
	assert.Equal(t, "2025-03-10", ev.TradingDay)
	waitEvent(t, events, EventFlattenConfirmed)

	assert.Equal(t, StateActive, f.coord.Snapshot().State, "cutoff is scheduling, not a limit breach")
	assert.False(t, f.handle.State().Enabled)
	assert.True(t, f.sim.Flat())

	// re-enabled by the daily reset
	require.NoError(t, f.coord.Reevaluate(time.Date(2025, 3, 10, 17, 30, 0, 0, loc)))
	waitEvent(t, events, EventDailyReset)
	assert.True(t, f.handle.State().Enabled)
}

func TestPayoutMilestoneEmittedAtDayClose(t *testing.T) {
	f := newFixture(t, nil)
	events := f.coord.Subscribe(16)

	// five winning days in a row, each closed by the next day's first fill
	ts := f.open
	for day := 0; day < 5; day++ {
		f.fill(t, 300, ts)
		ts = ts.Add(24 * time.Hour)
		require.NoError(t, f.coord.Reevaluate(ts))
	}

	ev := waitEvent(t, events, EventPayoutEligiblePartial)
	assert.Contains(t, ev.Reason, "5 qualifying")
	assert.True(t, f.coord.Snapshot().Payout.PartialEligible)
	assert.False(t, f.coord.Snapshot().Payout.FullEligible)
}

func TestApplyPayoutRebaselinesHighWaterMark(t *testing.T) {
	f := newFixture(t, nil)

	f.fill(t, 2000, f.open)
	require.InDelta(t, 52000, f.coord.Snapshot().Account.HighWaterMark, 1e-9)

	require.NoError(t, f.coord.ApplyPayout(50000, f.open.Add(time.Hour)))

	snap := f.coord.Snapshot()
	assert.InDelta(t, 50000, snap.Account.Balance, 1e-9)
	assert.InDelta(t, 50000, snap.Account.HighWaterMark, 1e-9)
	assert.Zero(t, snap.Account.TrailingDrawdown)
	assert.Equal(t, 1, snap.Payout.PayoutsTaken)
}

func TestUnknownSleeveFillRejected(t *testing.T) {
	f := newFixture(t, nil)

	err := f.coord.RecordFill("ghost", types.Fill{
		Market: "MES", Side: types.SideBuy, Qty: 1, RealizedPnL: -100, Timestamp: f.open,
	})
	require.Error(t, err)
	assert.Zero(t, f.coord.Snapshot().Account.TradesToday)
}

func TestConfigDisabledSleeveStaysOffAcrossRollover(t *testing.T) {
	open := sessionOpen(t)
	cal, err := calendar.New(calendar.DefaultTimezone, 17, 0)
	require.NoError(t, err)
	led := ledger.New(cal, initialBalance, open)

	cfg := Config{
		InitialBalance:  initialBalance,
		Limits:          testLimits(),
		Params:          Params{WarnFraction: 0.9, ReducedScaleFactor: 0.5},
		Retry:           broker.DefaultRetryConfig(),
		DisabledSleeves: []string{"parked"},
	}
	coord, err := New(cfg, cal, led, broker.NewSimBroker(), payout.New(payout.DefaultConfig()), nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = coord.RegisterSleeve("parked")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, coord.Start(ctx))
	t.Cleanup(func() {
		cancel()
		coord.Stop()
	})

	assert.False(t, coord.Snapshot().Sleeves["parked"].Enabled)

	require.NoError(t, coord.Reevaluate(open.Add(24*time.Hour)))
	assert.False(t, coord.Snapshot().Sleeves["parked"].Enabled,
		"daily reset never re-enables a configuration-disabled sleeve")
}

func TestRejectsMalformedLimits(t *testing.T) {
	open := sessionOpen(t)
	cal, err := calendar.New(calendar.DefaultTimezone, 17, 0)
	require.NoError(t, err)
	led := ledger.New(cal, initialBalance, open)

	cfg := Config{
		InitialBalance: initialBalance,
		Limits:         Limits{}, // undefined limits
		Params:         DefaultParams(),
	}
	_, err = New(cfg, cal, led, broker.NewSimBroker(), payout.New(payout.DefaultConfig()), nil, zerolog.Nop())
	require.Error(t, err)
}
