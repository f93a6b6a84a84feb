// Package ledger maintains the append-only account record and the derived
// account state: equity, high-water mark, trailing drawdown, daily P&L and
// trade counts. Aggregation is incremental, O(1) per entry.
package ledger

import (
	"fmt"
	"math"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Pythefnos/Topstep-quant/internal/calendar"
	"github.com/Pythefnos/Topstep-quant/internal/errors"
	"github.com/Pythefnos/Topstep-quant/pkg/types"
)

// EntryKind distinguishes realized fills from mark-to-market snapshots
type EntryKind string

const (
	EntryFill EntryKind = "FILL" // realized P&L delta, counts as a trade
	EntryMark EntryKind = "MARK" // unrealized P&L snapshot, no trade count
)

// Entry is one immutable record in the account ledger
type Entry struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	TradingDay    string    `json:"trading_day"`
	SleeveID      string    `json:"sleeve_id"`
	Market        string    `json:"market"`
	Kind          EntryKind `json:"kind"`
	RealizedDelta float64   `json:"realized_delta"`
	Unrealized    float64   `json:"unrealized"`
	NetQty        float64   `json:"net_qty"`
}

// AccountState is the derived aggregate, recomputed on each entry
type AccountState struct {
	TradingDay       string    `json:"trading_day"`
	WeekID           string    `json:"week_id"`
	Balance          float64   `json:"balance"`
	Equity           float64   `json:"equity"`
	HighWaterMark    float64   `json:"high_water_mark"`
	TrailingDrawdown float64   `json:"trailing_drawdown"`
	DailyPnL         float64   `json:"daily_pnl"`
	DailyRealized    float64   `json:"daily_realized"`
	StartOfDayEquity float64   `json:"start_of_day_equity"`
	TradesToday      int       `json:"trades_today"`
	TradesThisWeek   int       `json:"trades_this_week"`
	LastUpdate       time.Time `json:"last_update"`
}

// DayClose summarizes a trading day at rollover
type DayClose struct {
	Day           calendar.TradingDay
	Realized      float64 // final realized P&L of the closed day
	ClosingEquity float64
}

// Ledger aggregates account P&L under single-writer discipline.
// All mutation goes through the coordinator's serialized event loop; the
// internal mutex makes stray concurrent reads safe, not concurrent writers
// correct.
type Ledger struct {
	mu  sync.Mutex
	cal *calendar.Calendar

	journal Journal // optional audit persistence

	sleeves map[string]struct{}

	initialBalance float64
	balance        float64 // initial balance + cumulative realized P&L
	highWaterMark  float64

	// latest unrealized P&L per (sleeve, market), plus its running sum
	unrealized      map[string]float64
	unrealizedTotal float64

	day              calendar.TradingDay
	weekID           string
	startOfDayEquity float64
	dailyRealized    float64
	tradesToday      int
	tradesThisWeek   int
	lastUpdate       time.Time

	// monotonic ULID entropy so entry ids sort by insertion order
	entropy *ulid.MonotonicEntropy
}

// New creates a ledger anchored at the trading day containing now
func New(cal *calendar.Calendar, initialBalance float64, now time.Time) *Ledger {
	day := cal.TradingDayFor(now)
	return &Ledger{
		cal:              cal,
		sleeves:          make(map[string]struct{}),
		unrealized:       make(map[string]float64),
		initialBalance:   initialBalance,
		balance:          initialBalance,
		highWaterMark:    initialBalance,
		day:              day,
		weekID:           day.WeekID(),
		startOfDayEquity: initialBalance,
		lastUpdate:       now,
		entropy:          ulid.Monotonic(mathrand.New(mathrand.NewSource(now.UnixNano())), 0),
	}
}

// SetJournal attaches an audit journal; every accepted entry is persisted
func (l *Ledger) SetJournal(j Journal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.journal = j
}

// RegisterSleeve makes a sleeve id acceptable at the recording boundary
func (l *Ledger) RegisterSleeve(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sleeves[id] = struct{}{}
}

// RecordFill appends a realized-P&L entry for an executed trade.
// Fails only on malformed input; a rejected fill is never silently dropped.
func (l *Ledger) RecordFill(sleeveID string, f types.Fill) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.validate(sleeveID, f.RealizedPnL); err != nil {
		return Entry{}, err
	}
	if f.Qty <= 0 || math.IsNaN(f.Qty) || math.IsInf(f.Qty, 0) {
		return Entry{}, errors.NewLedgerError("record_fill",
			fmt.Sprintf("sleeve %s: invalid fill quantity %v", sleeveID, f.Qty))
	}

	entry := Entry{
		ID:            l.newID(),
		Timestamp:     f.Timestamp,
		TradingDay:    l.day.ID,
		SleeveID:      sleeveID,
		Market:        f.Market,
		Kind:          EntryFill,
		RealizedDelta: f.RealizedPnL,
	}

	l.balance += f.RealizedPnL
	l.dailyRealized += f.RealizedPnL
	l.tradesToday++
	l.tradesThisWeek++
	l.refresh(f.Timestamp)
	l.append(entry)

	return entry, nil
}

// RecordMark appends an unrealized-P&L snapshot for one sleeve and market.
// Marks replace the sleeve's previous snapshot for that market; the running
// unrealized total is adjusted by the difference.
func (l *Ledger) RecordMark(sleeveID string, u types.PositionUpdate) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.validate(sleeveID, u.UnrealizedPnL); err != nil {
		return Entry{}, err
	}

	entry := Entry{
		ID:         l.newID(),
		Timestamp:  u.Timestamp,
		TradingDay: l.day.ID,
		SleeveID:   sleeveID,
		Market:     u.Market,
		Kind:       EntryMark,
		Unrealized: u.UnrealizedPnL,
		NetQty:     u.NetQty,
	}

	key := sleeveID + "|" + u.Market
	l.unrealizedTotal += u.UnrealizedPnL - l.unrealized[key]
	l.unrealized[key] = u.UnrealizedPnL
	l.refresh(u.Timestamp)
	l.append(entry)

	return entry, nil
}

// Rollover advances the ledger to the trading day containing now.
// Daily P&L and daily trade counts reset; the high-water mark and trailing
// drawdown carry across, they are account-lifetime quantities. Returns the
// closed day's summary and true when a rollover actually happened.
// Rollover only ever moves forward: a stale timestamp from an in-flight
// event that arrives after the boundary stays in the current day.
func (l *Ledger) Rollover(now time.Time) (DayClose, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.cal.TradingDayFor(now)
	if !next.Start.After(l.day.Start) {
		return DayClose{}, false
	}

	closed := DayClose{
		Day:           l.day,
		Realized:      l.dailyRealized,
		ClosingEquity: l.equity(),
	}

	l.day = next
	if wk := next.WeekID(); wk != l.weekID {
		l.weekID = wk
		l.tradesThisWeek = 0
	}
	l.tradesToday = 0
	l.dailyRealized = 0
	l.startOfDayEquity = l.equity()
	l.lastUpdate = now

	return closed, true
}

// ApplyPayout rebaselines the account after a payout is taken: the balance
// moves to the post-payout value and the high-water mark resets to it.
// Qualifying-day counters live in the payout tracker and are untouched here.
func (l *Ledger) ApplyPayout(newBalance float64, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balance = newBalance
	l.highWaterMark = newBalance + l.unrealizedTotal
	l.startOfDayEquity = l.equity()
	l.lastUpdate = now
}

// Snapshot returns the derived account state as of now
func (l *Ledger) Snapshot() AccountState {
	l.mu.Lock()
	defer l.mu.Unlock()

	equity := l.equity()
	return AccountState{
		TradingDay:       l.day.ID,
		WeekID:           l.weekID,
		Balance:          l.balance,
		Equity:           equity,
		HighWaterMark:    l.highWaterMark,
		TrailingDrawdown: l.highWaterMark - equity,
		DailyPnL:         equity - l.startOfDayEquity,
		DailyRealized:    l.dailyRealized,
		StartOfDayEquity: l.startOfDayEquity,
		TradesToday:      l.tradesToday,
		TradesThisWeek:   l.tradesThisWeek,
		LastUpdate:       l.lastUpdate,
	}
}

// CurrentDay returns the trading day the ledger is accumulating into
func (l *Ledger) CurrentDay() calendar.TradingDay {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.day
}

// newID mints a ULID under the ledger lock; the monotonic entropy keeps
// ids strictly increasing even within one millisecond.
func (l *Ledger) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), l.entropy).String()
}

func (l *Ledger) equity() float64 {
	return l.balance + l.unrealizedTotal
}

// refresh updates the high-water mark after a state change. The mark is
// monotonically non-decreasing, so trailing drawdown can never go negative.
func (l *Ledger) refresh(ts time.Time) {
	if eq := l.equity(); eq > l.highWaterMark {
		l.highWaterMark = eq
	}
	if ts.After(l.lastUpdate) {
		l.lastUpdate = ts
	}
}

func (l *Ledger) validate(sleeveID string, pnl float64) error {
	if _, ok := l.sleeves[sleeveID]; !ok {
		return errors.NewLedgerError("validate", fmt.Sprintf("unknown sleeve id %q", sleeveID))
	}
	if math.IsNaN(pnl) || math.IsInf(pnl, 0) {
		return errors.NewLedgerError("validate",
			fmt.Sprintf("sleeve %s: impossible P&L encoding %v", sleeveID, pnl))
	}
	return nil
}

func (l *Ledger) append(e Entry) {
	if l.journal == nil {
		return
	}
	// Journal failures must not block risk accounting; the in-memory
	// aggregate is authoritative and the journal reports its own failures.
	_ = l.journal.AppendEntry(e)
}
