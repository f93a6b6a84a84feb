package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chicago(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	return loc
}

func TestTradingDayFor_BeforeRollover(t *testing.T) {
	cal, err := New("America/Chicago", 17, 0)
	require.NoError(t, err)

	// 10:30 local is inside the session that ends at 17:00 the same date
	ts := time.Date(2025, 3, 12, 10, 30, 0, 0, chicago(t))
	day := cal.TradingDayFor(ts)

	assert.Equal(t, "2025-03-12", day.ID)
	assert.Equal(t, time.Date(2025, 3, 11, 17, 0, 0, 0, chicago(t)), day.Start)
	assert.Equal(t, time.Date(2025, 3, 12, 17, 0, 0, 0, chicago(t)), day.End)
}

func TestTradingDayFor_AfterRollover(t *testing.T) {
	cal, err := New("America/Chicago", 17, 0)
	require.NoError(t, err)

	// 18:00 local belongs to the next trading day
	ts := time.Date(2025, 3, 12, 18, 0, 0, 0, chicago(t))
	day := cal.TradingDayFor(ts)

	assert.Equal(t, "2025-03-13", day.ID)
	assert.Equal(t, time.Date(2025, 3, 12, 17, 0, 0, 0, chicago(t)), day.Start)
}

func TestTradingDayFor_ExactlyAtBoundary(t *testing.T) {
	cal, err := New("America/Chicago", 17, 0)
	require.NoError(t, err)

	// The boundary instant counts as the start of the new day
	ts := time.Date(2025, 3, 12, 17, 0, 0, 0, chicago(t))
	day := cal.TradingDayFor(ts)

	assert.Equal(t, "2025-03-13", day.ID)
	assert.Equal(t, ts, day.Start)
}

func TestTradingDayFor_BothPathsAgree(t *testing.T) {
	cal, err := New("America/Chicago", 17, 0)
	require.NoError(t, err)

	// The timer path (querying at the boundary) and the event path
	// (querying on the first event after it) must agree on the identifier.
	boundary := time.Date(2025, 6, 5, 17, 0, 0, 0, chicago(t))
	afterEvent := boundary.Add(42 * time.Minute)

	assert.Equal(t, cal.TradingDayFor(boundary).ID, cal.TradingDayFor(afterEvent).ID)
}

func TestTradingDayFor_DSTSpringForward(t *testing.T) {
	cal, err := New("America/Chicago", 17, 0)
	require.NoError(t, err)

	// US DST starts 2025-03-09 at 02:00 local. The rollover stays at
	// 17:00 local on both sides of the transition.
	before := cal.TradingDayFor(time.Date(2025, 3, 8, 12, 0, 0, 0, chicago(t)))
	after := cal.TradingDayFor(time.Date(2025, 3, 10, 12, 0, 0, 0, chicago(t)))

	assert.Equal(t, 17, before.End.Hour())
	assert.Equal(t, 17, after.End.Hour())

	// The session spanning the transition is an hour shorter in absolute time
	spanning := cal.TradingDayFor(time.Date(2025, 3, 9, 12, 0, 0, 0, chicago(t)))
	assert.Equal(t, 23*time.Hour, spanning.End.Sub(spanning.Start))
}

func TestTradingDayFor_UTCTimestamp(t *testing.T) {
	cal, err := New("America/Chicago", 17, 0)
	require.NoError(t, err)

	// 2025-03-12 23:30 UTC is 18:30 in Chicago (CDT), past the rollover
	ts := time.Date(2025, 3, 12, 23, 30, 0, 0, time.UTC)
	day := cal.TradingDayFor(ts)

	assert.Equal(t, "2025-03-13", day.ID)
}

func TestTimeUntilRollover(t *testing.T) {
	cal, err := New("America/Chicago", 17, 0)
	require.NoError(t, err)

	ts := time.Date(2025, 3, 12, 16, 0, 0, 0, chicago(t))
	assert.Equal(t, time.Hour, cal.TimeUntilRollover(ts))
}

func TestWeekID(t *testing.T) {
	cal, err := New("America/Chicago", 17, 0)
	require.NoError(t, err)

	// 2025-01-06 is a Monday in ISO week 2
	day := cal.TradingDayFor(time.Date(2025, 1, 6, 10, 0, 0, 0, chicago(t)))
	assert.Equal(t, "2025-W02", day.WeekID())
}

func TestNew_UnknownTimezone(t *testing.T) {
	_, err := New("Mars/Olympus_Mons", 17, 0)
	assert.Error(t, err)
}

func TestNew_InvalidRolloverTime(t *testing.T) {
	_, err := New("America/Chicago", 25, 0)
	assert.Error(t, err)
}
