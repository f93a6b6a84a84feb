// Package risk implements the coordination engine's state machine: one
// serialized event loop owns every state transition, evaluates the hard
// limits after each ledger update, and fans directives out to sleeves.
// Serialization is the correctness mechanism; evaluation order between two
// in-flight updates is not specified, only that each evaluation sees a
// consistent ledger state.
package risk

import (
	"context"
	"fmt"
	mathrand "math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/Pythefnos/Topstep-quant/internal/broker"
	"github.com/Pythefnos/Topstep-quant/internal/calendar"
	"github.com/Pythefnos/Topstep-quant/internal/errors"
	"github.com/Pythefnos/Topstep-quant/internal/ledger"
	"github.com/Pythefnos/Topstep-quant/internal/monitoring"
	"github.com/Pythefnos/Topstep-quant/internal/notifications"
	"github.com/Pythefnos/Topstep-quant/internal/payout"
	"github.com/Pythefnos/Topstep-quant/internal/sleeve"
	"github.com/Pythefnos/Topstep-quant/pkg/types"
)

// Config assembles everything the coordinator needs to enforce
type Config struct {
	InitialBalance  float64            `json:"initial_balance"`
	Limits          Limits             `json:"limits"`
	Params          Params             `json:"params"`
	Retry           broker.RetryConfig `json:"retry"`
	DisabledSleeves []string           `json:"disabled_sleeves"` // stay disabled across rollovers
}

// Snapshot is the atomically published view of the whole engine. Reads
// never touch the event loop, so gate checks stay bounded-time.
type Snapshot struct {
	State       OperatingState          `json:"state"`
	TradingDay  string                  `json:"trading_day"`
	Account     ledger.AccountState     `json:"account"`
	Sleeves     map[string]sleeve.State `json:"sleeves"`
	Payout      payout.Status           `json:"payout"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// Coordinator is the single owner of risk state. All mutation flows
// through one message channel drained by one goroutine; everything else
// reads the published snapshot.
type Coordinator struct {
	cfg      Config
	cal      *calendar.Calendar
	ledger   *ledger.Ledger
	broker   broker.ExecutionBroker
	journal  ledger.Journal
	tracker  *payout.Tracker
	notifier notifications.Notifier
	logger   zerolog.Logger

	msgs chan coordMsg

	// owned by the event loop
	state      OperatingState
	day        calendar.TradingDay
	cutoffDone bool
	sleeves    map[string]*sleeve.Handle
	offByCfg   map[string]struct{}

	snapshot atomic.Value // Snapshot

	subMu sync.Mutex
	subs  []chan Event

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	wg      sync.WaitGroup
}

type coordMsg struct {
	fill   *fillMsg
	mark   *markMsg
	tick   *tickMsg
	payout *payoutMsg
}

type fillMsg struct {
	sleeveID string
	fill     types.Fill
	reply    chan error
}

type markMsg struct {
	sleeveID string
	update   types.PositionUpdate
	reply    chan error
}

type tickMsg struct {
	at time.Time
}

type payoutMsg struct {
	newBalance float64
	at         time.Time
	reply      chan struct{}
}

// New creates a coordinator in the Active state. The configuration is
// validated up front; an engine with malformed limits never starts.
func New(cfg Config, cal *calendar.Calendar, led *ledger.Ledger, brk broker.ExecutionBroker,
	tracker *payout.Tracker, notifier notifications.Notifier, logger zerolog.Logger) (*Coordinator, error) {

	if err := cfg.Limits.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.InitialBalance <= 0 {
		return nil, errors.NewConfigError("risk", "new",
			fmt.Sprintf("initial balance must be strictly positive, got %v", cfg.InitialBalance), nil)
	}
	if notifier == nil {
		notifier = notifications.NoopNotifier{}
	}

	offByCfg := make(map[string]struct{}, len(cfg.DisabledSleeves))
	for _, id := range cfg.DisabledSleeves {
		offByCfg[id] = struct{}{}
	}

	c := &Coordinator{
		cfg:      cfg,
		cal:      cal,
		ledger:   led,
		broker:   brk,
		tracker:  tracker,
		notifier: notifier,
		logger:   logger.With().Str("component", "risk").Logger(),
		msgs:     make(chan coordMsg, 256),
		state:    StateActive,
		day:      led.CurrentDay(),
		sleeves:  make(map[string]*sleeve.Handle),
		offByCfg: offByCfg,
		entropy:  ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
	}
	c.publish()
	return c, nil
}

// SetJournal attaches an audit journal for risk events
func (c *Coordinator) SetJournal(j ledger.Journal) {
	c.journal = j
}

// RegisterSleeve admits a sleeve into coordination and returns its handle.
// Must be called before Start.
func (c *Coordinator) RegisterSleeve(id string) (*sleeve.Handle, error) {
	if c.started.Load() {
		return nil, errors.NewValidationError("risk", "register_sleeve",
			fmt.Sprintf("cannot register sleeve %q after start", id))
	}
	if _, exists := c.sleeves[id]; exists {
		return nil, errors.NewValidationError("risk", "register_sleeve",
			fmt.Sprintf("sleeve %q already registered", id))
	}

	h := sleeve.NewHandle(id)
	if _, off := c.offByCfg[id]; off {
		h.SetEnabled(false)
	}
	c.sleeves[id] = h
	c.ledger.RegisterSleeve(id)
	c.publish()
	return h, nil
}

// Start launches the event loop and, when an evaluation interval is
// configured, the timers that keep the engine honest between fills.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.started.Load() {
		return errors.NewValidationError("risk", "start", "coordinator already started")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started.Store(true)

	c.wg.Add(1)
	go c.loop()

	if c.cfg.Params.EvalInterval > 0 {
		c.wg.Add(1)
		go c.runTimers()
	}

	c.logger.Info().
		Float64("max_daily_loss", c.cfg.Limits.MaxDailyLoss).
		Float64("max_trailing_drawdown", c.cfg.Limits.MaxTrailingDrawdown).
		Str("trading_day", c.day.ID).
		Int("sleeves", len(c.sleeves)).
		Msg("🛡️ Risk coordinator started")
	return nil
}

// Stop shuts the loop down and waits for in-flight work, including any
// flatten retry still running.
func (c *Coordinator) Stop() {
	if !c.started.Load() || c.cancel == nil {
		return
	}
	c.cancel()
	c.wg.Wait()
}

// RecordFill ingests an executed trade. Blocks until the fill is applied
// and evaluated, so the next Snapshot call is guaranteed to reflect it.
func (c *Coordinator) RecordFill(sleeveID string, f types.Fill) error {
	m := &fillMsg{sleeveID: sleeveID, fill: f, reply: make(chan error, 1)}
	if err := c.send(coordMsg{fill: m}); err != nil {
		return err
	}
	select {
	case err := <-m.reply:
		return err
	case <-c.ctx.Done():
		return errors.NewValidationError("risk", "send", "coordinator stopped")
	}
}

// RecordPosition ingests a mark-to-market position update
func (c *Coordinator) RecordPosition(sleeveID string, u types.PositionUpdate) error {
	m := &markMsg{sleeveID: sleeveID, update: u, reply: make(chan error, 1)}
	if err := c.send(coordMsg{mark: m}); err != nil {
		return err
	}
	select {
	case err := <-m.reply:
		return err
	case <-c.ctx.Done():
		return errors.NewValidationError("risk", "send", "coordinator stopped")
	}
}

// Reevaluate enqueues a timer-style evaluation at the given instant.
// Rollover and session cutoff ride the same path as every other event.
func (c *Coordinator) Reevaluate(at time.Time) error {
	return c.send(coordMsg{tick: &tickMsg{at: at}})
}

// ApplyPayout rebaselines the account after a withdrawal: balance moves to
// the post-payout value and the high-water mark resets to it. Qualifying
// day counters persist.
func (c *Coordinator) ApplyPayout(newBalance float64, at time.Time) error {
	m := &payoutMsg{newBalance: newBalance, at: at, reply: make(chan struct{}, 1)}
	if err := c.send(coordMsg{payout: m}); err != nil {
		return err
	}
	select {
	case <-m.reply:
		return nil
	case <-c.ctx.Done():
		return errors.NewValidationError("risk", "send", "coordinator stopped")
	}
}

// Snapshot returns the last published engine view without touching the
// event loop.
func (c *Coordinator) Snapshot() Snapshot {
	return c.snapshot.Load().(Snapshot)
}

// Subscribe registers a buffered event channel. Slow consumers lose
// events rather than slowing the engine down.
func (c *Coordinator) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	c.subMu.Lock()
	c.subs = append(c.subs, ch)
	c.subMu.Unlock()
	return ch
}

func (c *Coordinator) send(m coordMsg) error {
	if !c.started.Load() {
		return errors.NewValidationError("risk", "send", "coordinator not started")
	}
	select {
	case c.msgs <- m:
		return nil
	case <-c.ctx.Done():
		return errors.NewValidationError("risk", "send", "coordinator stopped")
	}
}

func (c *Coordinator) loop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case m := <-c.msgs:
			c.handle(m)
		}
	}
}

func (c *Coordinator) handle(m coordMsg) {
	switch {
	case m.fill != nil:
		ts := m.fill.fill.Timestamp
		c.maybeRollover(ts)
		err := c.applyFill(m.fill)
		c.evaluate(ts)
		c.publish()
		m.fill.reply <- err

	case m.mark != nil:
		ts := m.mark.update.Timestamp
		c.maybeRollover(ts)
		err := c.applyMark(m.mark)
		c.evaluate(ts)
		c.publish()
		m.mark.reply <- err

	case m.tick != nil:
		c.maybeRollover(m.tick.at)
		c.evaluate(m.tick.at)
		c.publish()

	case m.payout != nil:
		c.maybeRollover(m.payout.at)
		c.ledger.ApplyPayout(m.payout.newBalance, m.payout.at)
		c.tracker.ApplyPayout(m.payout.at)
		c.logger.Info().
			Float64("new_balance", m.payout.newBalance).
			Msg("💸 Payout applied, high-water mark rebaselined")
		c.evaluate(m.payout.at)
		c.publish()
		m.payout.reply <- struct{}{}
	}
}

func (c *Coordinator) applyFill(m *fillMsg) error {
	_, err := c.ledger.RecordFill(m.sleeveID, m.fill)
	if err != nil {
		monitoring.RecordError("ledger")
		c.logger.Error().Err(err).Str("sleeve", m.sleeveID).Msg("rejected fill")
		return err
	}
	if h := c.sleeves[m.sleeveID]; h != nil {
		h.ApplyFill(m.fill)
	}
	monitoring.RecordFill(m.sleeveID, m.fill.Market, string(m.fill.Side))
	return nil
}

func (c *Coordinator) applyMark(m *markMsg) error {
	_, err := c.ledger.RecordMark(m.sleeveID, m.update)
	if err != nil {
		monitoring.RecordError("ledger")
		c.logger.Error().Err(err).Str("sleeve", m.sleeveID).Msg("rejected position update")
		return err
	}
	if h := c.sleeves[m.sleeveID]; h != nil {
		h.ApplyPosition(m.update)
	}
	return nil
}

// maybeRollover advances to a new trading day when the event timestamp has
// crossed the session boundary. Runs before the event is applied, so the
// first update of a new day lands on a clean slate.
func (c *Coordinator) maybeRollover(now time.Time) {
	closed, ok := c.ledger.Rollover(now)
	if !ok {
		return
	}

	for _, milestone := range c.tracker.RecordDayClose(closed.Day.ID, closed.Realized) {
		c.emitPayoutMilestone(milestone, closed, now)
	}

	c.state = StateActive
	c.day = c.ledger.CurrentDay()
	c.cutoffDone = false
	for id, h := range c.sleeves {
		if _, off := c.offByCfg[id]; off {
			continue
		}
		h.SetEnabled(true)
		h.SetScaleFactor(1.0)
		h.Deliver(sleeve.Directive{
			Type:        sleeve.DirectiveResume,
			ScaleFactor: 1.0,
			Reason:      "daily reset",
			Timestamp:   now,
		})
	}

	c.emit(EventDailyReset, c.ledger.Snapshot(),
		fmt.Sprintf("closed %s with realized %.2f, new day %s", closed.Day.ID, closed.Realized, c.day.ID), now)
	c.logger.Info().
		Str("closed_day", closed.Day.ID).
		Float64("realized", closed.Realized).
		Str("new_day", c.day.ID).
		Msg("🌅 Daily reset")
}

// evaluate runs the hard limits against the current ledger state. Halt
// checks run first: a single update that crosses both the warning and the
// halt threshold lands in Halted. Halted is terminal until rollover.
func (c *Coordinator) evaluate(now time.Time) {
	acct := c.ledger.Snapshot()
	dailyLoss := 0.0
	if acct.DailyPnL < 0 {
		dailyLoss = -acct.DailyPnL
	}

	if c.state != StateHalted {
		switch {
		case dailyLoss >= c.cfg.Limits.MaxDailyLoss:
			c.halt(acct, now, fmt.Sprintf("daily loss %.2f reached limit %.2f",
				dailyLoss, c.cfg.Limits.MaxDailyLoss))
		case c.drawdownBreached(acct):
			c.halt(acct, now, fmt.Sprintf("trailing drawdown %.2f reached limit %.2f",
				acct.TrailingDrawdown, c.cfg.Limits.MaxTrailingDrawdown))
		case c.state == StateActive:
			warn := c.cfg.Params.WarnFraction
			switch {
			case dailyLoss >= warn*c.cfg.Limits.MaxDailyLoss:
				c.warn(acct, now, fmt.Sprintf("daily loss %.2f reached %.0f%% of limit %.2f",
					dailyLoss, warn*100, c.cfg.Limits.MaxDailyLoss))
			case acct.TrailingDrawdown >= warn*c.cfg.Limits.MaxTrailingDrawdown:
				c.warn(acct, now, fmt.Sprintf("trailing drawdown %.2f reached %.0f%% of limit %.2f",
					acct.TrailingDrawdown, warn*100, c.cfg.Limits.MaxTrailingDrawdown))
			}
		}
	}

	if c.cutoffDue(now) {
		c.sessionCutoff(acct, now)
	}
}

// drawdownBreached applies the trailing drawdown limit. With the freeze
// rule on, the minimum-equity threshold stops trailing once it reaches the
// initial balance.
func (c *Coordinator) drawdownBreached(acct ledger.AccountState) bool {
	if !c.cfg.Params.FreezeDrawdownAtInitial {
		return acct.TrailingDrawdown >= c.cfg.Limits.MaxTrailingDrawdown
	}
	threshold := acct.HighWaterMark - c.cfg.Limits.MaxTrailingDrawdown
	if threshold > c.cfg.InitialBalance {
		threshold = c.cfg.InitialBalance
	}
	return acct.Equity <= threshold
}

// halt is the one-way door: scale to zero, disable, flatten. Called at
// most once per trading day because Halted is terminal until rollover.
func (c *Coordinator) halt(acct ledger.AccountState, now time.Time, reason string) {
	c.state = StateHalted

	for _, h := range c.sleeves {
		h.SetEnabled(false)
		h.SetScaleFactor(0)
		h.Deliver(sleeve.Directive{
			Type:      sleeve.DirectiveFlatten,
			Reason:    reason,
			Timestamp: now,
		})
	}

	c.emit(EventRiskHalted, acct, reason, now)
	c.logger.Error().
		Str("reason", reason).
		Float64("daily_pnl", acct.DailyPnL).
		Float64("drawdown", acct.TrailingDrawdown).
		Msg("🛑 RISK HALT: all trading stopped")

	if err := c.notifier.SendAlert("error", fmt.Sprintf("RISK HALT on %s: %s", acct.TradingDay, reason)); err != nil {
		c.logger.Warn().Err(err).Msg("failed to send halt alert")
	}

	c.flattenAsync(reason)
}

func (c *Coordinator) warn(acct ledger.AccountState, now time.Time, reason string) {
	c.state = StateWarning
	factor := c.cfg.Params.ReducedScaleFactor

	for _, h := range c.sleeves {
		h.SetScaleFactor(factor)
		h.Deliver(sleeve.Directive{
			Type:        sleeve.DirectiveScale,
			ScaleFactor: factor,
			Reason:      reason,
			Timestamp:   now,
		})
	}

	c.emit(EventRiskWarning, acct, reason, now)
	c.logger.Warn().
		Str("reason", reason).
		Float64("scale_factor", factor).
		Msg("⚠️ Risk warning: sleeves scaled down")

	if err := c.notifier.SendAlert("warning", fmt.Sprintf("Risk warning on %s: %s", acct.TradingDay, reason)); err != nil {
		c.logger.Warn().Err(err).Msg("failed to send warning alert")
	}
}

func (c *Coordinator) cutoffDue(now time.Time) bool {
	if c.cfg.Params.CutoffLead <= 0 || c.cutoffDone || c.state == StateHalted {
		return false
	}
	return !now.Before(c.day.End.Add(-c.cfg.Params.CutoffLead))
}

// sessionCutoff flattens ahead of the rollover boundary and parks every
// sleeve until the daily reset. The operating state stays as-is; this is
// scheduling, not a limit breach.
func (c *Coordinator) sessionCutoff(acct ledger.AccountState, now time.Time) {
	c.cutoffDone = true
	reason := fmt.Sprintf("session cutoff %s before rollover", c.cfg.Params.CutoffLead)

	for _, h := range c.sleeves {
		h.SetEnabled(false)
		h.Deliver(sleeve.Directive{
			Type:      sleeve.DirectiveFlatten,
			Reason:    reason,
			Timestamp: now,
		})
	}

	c.emit(EventSessionCutoff, acct, reason, now)
	c.logger.Info().Str("trading_day", c.day.ID).Msg("🕔 Session cutoff: flattening for the close")

	c.flattenAsync(reason)
}

// flattenAsync drives the broker flatten with bounded retries off the
// event loop. Exhausting the budget escalates to a fatal operator alert;
// the engine stays halted either way.
func (c *Coordinator) flattenAsync(reason string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		err := broker.Retry(c.ctx, c.cfg.Retry, func() error {
			if err := c.broker.FlattenAll(c.ctx); err != nil {
				monitoring.RecordFlattenAttempt("failure")
				return err
			}
			if err := c.broker.CancelAllWorking(c.ctx); err != nil {
				monitoring.RecordFlattenAttempt("failure")
				return err
			}
			monitoring.RecordFlattenAttempt("success")
			return nil
		})

		acct := c.ledger.Snapshot()
		if err != nil {
			c.emit(EventFlattenEscalated, acct, fmt.Sprintf("%s: %v", reason, err), time.Now())
			c.logger.Error().Err(err).Msg("🆘 Flatten retries exhausted, manual intervention required")
			if alertErr := c.notifier.SendAlert("fatal",
				fmt.Sprintf("FLATTEN FAILED on %s, positions may still be open: %v", acct.TradingDay, err)); alertErr != nil {
				c.logger.Error().Err(alertErr).Msg("failed to send escalation alert")
			}
			return
		}

		c.emit(EventFlattenConfirmed, acct, reason, time.Now())
		c.logger.Info().Msg("✅ Broker confirmed flat, working orders cancelled")
	}()
}

// emit journals, counts and broadcasts one risk event. Safe to call from
// the loop and from the flatten goroutine.
func (c *Coordinator) emit(eventType EventType, acct ledger.AccountState, reason string, now time.Time) {
	dailyLoss := 0.0
	if acct.DailyPnL < 0 {
		dailyLoss = -acct.DailyPnL
	}
	event := Event{
		ID:         c.newEventID(),
		Type:       eventType,
		Timestamp:  now,
		TradingDay: acct.TradingDay,
		DailyPnL:   acct.DailyPnL,
		DailyLoss:  dailyLoss,
		Drawdown:   acct.TrailingDrawdown,
		Reason:     reason,
	}

	monitoring.RecordRiskEvent(string(eventType))

	if c.journal != nil {
		_ = c.journal.AppendEvent(ledger.JournalEvent{
			ID:         event.ID,
			Timestamp:  event.Timestamp,
			TradingDay: event.TradingDay,
			Type:       string(event.Type),
			Detail:     event.Reason,
			DailyPnL:   event.DailyPnL,
			Drawdown:   event.Drawdown,
		})
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (c *Coordinator) emitPayoutMilestone(m payout.Milestone, closed ledger.DayClose, now time.Time) {
	eventType := EventPayoutEligiblePartial
	if m == payout.MilestoneFull {
		eventType = EventPayoutEligibleFull
	}
	status := c.tracker.Status()
	reason := fmt.Sprintf("%d qualifying winning days", status.QualifyingDays)
	c.emit(eventType, c.ledger.Snapshot(), reason, now)
	c.logger.Info().
		Str("milestone", string(m)).
		Int("qualifying_days", status.QualifyingDays).
		Str("closed_day", closed.Day.ID).
		Msg("💰 Payout eligibility milestone reached")
	if err := c.notifier.SendAlert("success",
		fmt.Sprintf("Payout milestone %s reached: %s", m, reason)); err != nil {
		c.logger.Warn().Err(err).Msg("failed to send payout alert")
	}
}

func (c *Coordinator) newEventID() string {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), c.entropy).String()
}

// publish stores the snapshot readers see. Called by the loop after every
// handled message, and during construction before the loop exists.
func (c *Coordinator) publish() {
	acct := c.ledger.Snapshot()
	sleeves := make(map[string]sleeve.State, len(c.sleeves))
	for id, h := range c.sleeves {
		sleeves[id] = h.State()
	}

	snap := Snapshot{
		State:       c.state,
		TradingDay:  acct.TradingDay,
		Account:     acct,
		Sleeves:     sleeves,
		GeneratedAt: time.Now(),
	}
	if c.tracker != nil {
		snap.Payout = c.tracker.Status()
	}
	c.snapshot.Store(snap)

	monitoring.UpdateAccount(acct.Equity, acct.HighWaterMark, acct.DailyPnL, acct.TrailingDrawdown)
	monitoring.SetRiskState(int(c.state))
}

// runTimers feeds periodic re-evaluations and the rollover wakeup into the
// message stream. Timers never mutate state directly.
func (c *Coordinator) runTimers() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Params.EvalInterval)
	defer ticker.Stop()

	rollover := time.NewTimer(c.cal.TimeUntilRollover(time.Now()) + time.Second)
	defer rollover.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_ = c.Reevaluate(time.Now())
		case <-rollover.C:
			_ = c.Reevaluate(time.Now())
			rollover.Reset(c.cal.TimeUntilRollover(time.Now()) + time.Second)
		}
	}
}
