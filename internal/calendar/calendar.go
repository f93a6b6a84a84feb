// Package calendar resolves timestamps into trading-day identifiers.
//
// A trading day does not match a calendar day: the session rolls over at a
// fixed wall-clock instant (default 17:00 America/Chicago, the CME session
// open), and everything between two rollovers belongs to the trading day
// labeled with the calendar date on which the session ends.
package calendar

import (
	"fmt"
	"time"

	"github.com/Pythefnos/Topstep-quant/internal/errors"
)

// DefaultTimezone is the exchange timezone used when none is configured.
// America/Chicago keeps the 17:00 rollover pinned to the local hour across
// daylight-saving transitions.
const DefaultTimezone = "America/Chicago"

// TradingDay identifies one session between two rollover instants.
// Immutable once created; a new rollover produces a new value.
type TradingDay struct {
	ID    string    // calendar date the session ends on, formatted 2006-01-02
	Start time.Time // inclusive session start (previous rollover)
	End   time.Time // exclusive session end (next rollover)
}

// WeekID returns the ISO year-week identifier of the trading day,
// used for weekly trade-count limits.
func (d TradingDay) WeekID() string {
	end := d.End.Add(-time.Second) // stay inside the session
	year, week := end.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// Calendar classifies timestamps into trading days for a configured
// rollover hour and timezone.
type Calendar struct {
	loc            *time.Location
	rolloverHour   int
	rolloverMinute int
}

// New creates a calendar with the given timezone name and rollover wall-clock time
func New(timezone string, rolloverHour, rolloverMinute int) (*Calendar, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, errors.NewConfigError("calendar", "load_timezone",
			fmt.Sprintf("unknown timezone %q", timezone), err)
	}
	if rolloverHour < 0 || rolloverHour > 23 || rolloverMinute < 0 || rolloverMinute > 59 {
		return nil, errors.NewConfigError("calendar", "validate_rollover",
			fmt.Sprintf("rollover time %02d:%02d out of range", rolloverHour, rolloverMinute), nil)
	}
	return &Calendar{
		loc:            loc,
		rolloverHour:   rolloverHour,
		rolloverMinute: rolloverMinute,
	}, nil
}

// TradingDayFor resolves a timestamp to the trading day containing it.
// Any timestamp at or after the rollover instant belongs to the next
// trading day; exactly at the boundary counts as the new day. Across a
// daylight-saving transition time.Date resolves ambiguous local times to
// the earlier offset, so an ambiguous timestamp lands in the earlier
// trading day deterministically.
func (c *Calendar) TradingDayFor(ts time.Time) TradingDay {
	local := ts.In(c.loc)
	boundary := c.rolloverOn(local.Year(), local.Month(), local.Day())

	var start, end time.Time
	if local.Before(boundary) {
		start = c.rolloverOn(local.Year(), local.Month(), local.Day()-1)
		end = boundary
	} else {
		start = boundary
		end = c.rolloverOn(local.Year(), local.Month(), local.Day()+1)
	}

	return TradingDay{
		ID:    end.Format("2006-01-02"),
		Start: start,
		End:   end,
	}
}

// TimeUntilRollover returns the duration from ts to the next rollover instant
func (c *Calendar) TimeUntilRollover(ts time.Time) time.Duration {
	return c.TradingDayFor(ts).End.Sub(ts)
}

// Location returns the calendar's timezone
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// rolloverOn builds the rollover instant for a local calendar date.
// time.Date normalizes out-of-range days, which keeps month and DST
// arithmetic correct.
func (c *Calendar) rolloverOn(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, c.rolloverHour, c.rolloverMinute, 0, 0, c.loc)
}
