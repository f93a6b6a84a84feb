// Package payout tracks progress toward funded-account payout eligibility:
// qualifying winning days accumulate across the account lifetime and unlock
// partial and full eligibility milestones.
package payout

import (
	"fmt"
	"sync"
	"time"

	"github.com/Pythefnos/Topstep-quant/internal/errors"
)

// Milestone identifies a payout eligibility threshold crossing
type Milestone string

const (
	MilestonePartial Milestone = "PARTIAL" // eligible to request a partial payout
	MilestoneFull    Milestone = "FULL"    // eligible to request a full payout
)

// Config holds the payout qualification rules
type Config struct {
	// WinningDayThreshold is the minimum realized P&L for a closed day
	// to count as a qualifying day
	WinningDayThreshold float64 `json:"winning_day_threshold"`
	// PartialDays qualifying days unlock partial eligibility
	PartialDays int `json:"partial_days"`
	// FullDays qualifying days unlock full eligibility
	FullDays int `json:"full_days"`
}

// DefaultConfig returns the standard funded-account qualification rules
func DefaultConfig() Config {
	return Config{
		WinningDayThreshold: 200.0,
		PartialDays:         5,
		FullDays:            30,
	}
}

// Validate checks the qualification rules
func (c Config) Validate() error {
	if c.WinningDayThreshold <= 0 {
		return errors.NewConfigError("payout", "validate",
			fmt.Sprintf("winning day threshold must be strictly positive, got %v", c.WinningDayThreshold), nil)
	}
	if c.PartialDays <= 0 || c.FullDays <= 0 {
		return errors.NewConfigError("payout", "validate", "milestone day counts must be strictly positive", nil)
	}
	if c.FullDays < c.PartialDays {
		return errors.NewConfigError("payout", "validate", "full milestone must not precede partial milestone", nil)
	}
	return nil
}

// Status is the tracker's published progress snapshot
type Status struct {
	QualifyingDays  int       `json:"qualifying_days"`
	PartialEligible bool      `json:"partial_eligible"`
	FullEligible    bool      `json:"full_eligible"`
	LastClosedDay   string    `json:"last_closed_day"`
	LastPayoutAt    time.Time `json:"last_payout_at,omitzero"`
	PayoutsTaken    int       `json:"payouts_taken"`
}

// Tracker accumulates qualifying winning days. One day closes exactly once;
// a repeated close for the same day id is ignored.
type Tracker struct {
	mu  sync.Mutex
	cfg Config

	qualifyingDays int
	lastClosedDay  string
	partial        bool
	full           bool
	payoutsTaken   int
	lastPayoutAt   time.Time
}

// New creates a tracker with zero qualifying days
func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// RecordDayClose ingests a closed trading day's realized P&L and returns the
// milestones this close unlocked, if any. Eligibility flags latch on the
// exact close that reaches the threshold, never before it.
func (t *Tracker) RecordDayClose(dayID string, realized float64) []Milestone {
	t.mu.Lock()
	defer t.mu.Unlock()

	if dayID == "" || dayID == t.lastClosedDay {
		return nil
	}
	t.lastClosedDay = dayID

	if realized < t.cfg.WinningDayThreshold {
		return nil
	}
	t.qualifyingDays++

	var unlocked []Milestone
	if !t.partial && t.qualifyingDays >= t.cfg.PartialDays {
		t.partial = true
		unlocked = append(unlocked, MilestonePartial)
	}
	if !t.full && t.qualifyingDays >= t.cfg.FullDays {
		t.full = true
		unlocked = append(unlocked, MilestoneFull)
	}
	return unlocked
}

// ApplyPayout records that a payout was taken. Qualifying-day counters and
// eligibility flags persist across payouts; only the account rebaselines.
func (t *Tracker) ApplyPayout(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.payoutsTaken++
	t.lastPayoutAt = at
}

// Status returns the current progress snapshot
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		QualifyingDays:  t.qualifyingDays,
		PartialEligible: t.partial,
		FullEligible:    t.full,
		LastClosedDay:   t.lastClosedDay,
		LastPayoutAt:    t.lastPayoutAt,
		PayoutsTaken:    t.payoutsTaken,
	}
}
