package payout

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		WinningDayThreshold: 200.0,
		PartialDays:         5,
		FullDays:            30,
	}
}

func TestPartialUnlocksOnFifthQualifyingDay(t *testing.T) {
	tracker := New(testConfig())

	for i := 1; i <= 4; i++ {
		unlocked := tracker.RecordDayClose(fmt.Sprintf("2025-03-%02d", i), 350.0)
		assert.Empty(t, unlocked, "no milestone before the fifth qualifying day")
	}
	assert.False(t, tracker.Status().PartialEligible)

	unlocked := tracker.RecordDayClose("2025-03-05", 350.0)
	require.Equal(t, []Milestone{MilestonePartial}, unlocked)
	assert.True(t, tracker.Status().PartialEligible)
	assert.False(t, tracker.Status().FullEligible)
}

func TestLosingAndSmallWinningDaysDoNotQualify(t *testing.T) {
	tracker := New(testConfig())

	tracker.RecordDayClose("2025-03-01", -500.0)
	tracker.RecordDayClose("2025-03-02", 150.0) // below threshold
	tracker.RecordDayClose("2025-03-03", 200.0) // exactly at threshold counts

	assert.Equal(t, 1, tracker.Status().QualifyingDays)
}

func TestDuplicateDayCloseIgnored(t *testing.T) {
	tracker := New(testConfig())

	tracker.RecordDayClose("2025-03-01", 400.0)
	tracker.RecordDayClose("2025-03-01", 400.0)

	assert.Equal(t, 1, tracker.Status().QualifyingDays)
}

func TestFullUnlocksAtThirtyDaysAndOnlyOnce(t *testing.T) {
	tracker := New(testConfig())

	var all []Milestone
	for i := 1; i <= 31; i++ {
		all = append(all, tracker.RecordDayClose(fmt.Sprintf("day-%02d", i), 300.0)...)
	}

	require.Equal(t, []Milestone{MilestonePartial, MilestoneFull}, all)
	assert.True(t, tracker.Status().FullEligible)
}

func TestPayoutKeepsQualifyingDays(t *testing.T) {
	tracker := New(testConfig())

	for i := 1; i <= 5; i++ {
		tracker.RecordDayClose(fmt.Sprintf("day-%02d", i), 300.0)
	}
	tracker.ApplyPayout(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))

	status := tracker.Status()
	assert.Equal(t, 5, status.QualifyingDays)
	assert.True(t, status.PartialEligible)
	assert.Equal(t, 1, status.PayoutsTaken)
}

func TestConfigValidation(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.WinningDayThreshold = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.FullDays = 3 // before partial
	assert.Error(t, bad.Validate())
}
