package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRange(t *testing.T, start, end string) DateRange {
	t.Helper()
	rng, err := NewDateRange(start, end)
	require.NoError(t, err)
	return rng
}

func mustBlock(t *testing.T, dow int, start, end string) TimeBlock {
	t.Helper()
	b, err := NewTimeBlock(dow, start, end)
	require.NoError(t, err)
	return b
}

func mustDate(t *testing.T, raw string) time.Time {
	t.Helper()
	d, err := ParseDate(raw)
	require.NoError(t, err)
	return d
}

func TestComputeAvailabilitySortsSegmentsPerWeekday(t *testing.T) {
	// 2024-01-01 is a Monday.
	rng := mustRange(t, "2024-01-01", "2024-01-07")
	blocks := []TimeBlock{
		mustBlock(t, 1, "19:00", "21:00"),
		mustBlock(t, 1, "10:00", "12:00"),
		mustBlock(t, 3, "09:00", "10:30"),
	}

	avail, err := ComputeAvailability(rng, blocks, nil)
	require.NoError(t, err)
	require.Len(t, avail.Days, 7)

	monday, ok := avail.Day("2024-01-01")
	require.True(t, ok)
	require.Len(t, monday.Segments, 2)
	assert.Equal(t, MustClock("10:00"), monday.Segments[0].Start)
	assert.Equal(t, MustClock("19:00"), monday.Segments[1].Start)
	assert.Equal(t, 240, monday.Capacity())

	tuesday, _ := avail.Day("2024-01-02")
	assert.Empty(t, tuesday.Segments)
	assert.NotNil(t, tuesday.Segments)
	assert.Equal(t, 0, tuesday.Capacity())

	assert.Equal(t, 330, avail.TotalCapacity())
}

func TestComputeAvailabilityExclusionSeverity(t *testing.T) {
	rng := mustRange(t, "2024-01-01", "2024-01-04")
	blocks := []TimeBlock{
		mustBlock(t, 1, "10:00", "12:00"),
		mustBlock(t, 2, "10:00", "12:00"),
		mustBlock(t, 3, "10:00", "12:00"),
		mustBlock(t, 4, "10:00", "12:00"),
	}
	exclusions := []Exclusion{
		{Date: mustDate(t, "2024-01-01"), Type: ExclusionHoliday},
		{Date: mustDate(t, "2024-01-02"), Type: ExclusionVacation},
		{Date: mustDate(t, "2024-01-03"), Type: ExclusionHoliday},
		{Date: mustDate(t, "2024-01-03"), Type: ExclusionPersonal},
		{Date: mustDate(t, "2024-01-04"), Type: ExclusionOther},
	}

	avail, err := ComputeAvailability(rng, blocks, exclusions)
	require.NoError(t, err)

	holiday, _ := avail.Day("2024-01-01")
	require.Len(t, holiday.Segments, 1)
	assert.True(t, holiday.Segments[0].SelfStudyOnly)
	assert.False(t, holiday.Dropped)

	vacation, _ := avail.Day("2024-01-02")
	assert.True(t, vacation.Dropped)
	assert.Empty(t, vacation.Segments)

	mixed, _ := avail.Day("2024-01-03")
	require.NotNil(t, mixed.Exclusion)
	assert.Equal(t, ExclusionPersonal, *mixed.Exclusion)
	assert.True(t, mixed.Dropped)

	other, _ := avail.Day("2024-01-04")
	require.Len(t, other.Segments, 1)
	assert.True(t, other.Segments[0].SelfStudyOnly)
}

func TestComputeAvailabilityRejectsInvalidBlocks(t *testing.T) {
	rng := mustRange(t, "2024-01-01", "2024-01-02")
	_, err := ComputeAvailability(rng, []TimeBlock{{DayOfWeek: 1, Start: MustClock("12:00"), End: MustClock("10:00")}}, nil)
	require.Error(t, err)

	_, err = ComputeAvailability(rng, []TimeBlock{{DayOfWeek: 9, Start: 0, End: 60}}, nil)
	require.Error(t, err)

	_, err = NewTimeBlock(1, "10:00", "10:00")
	require.Error(t, err)
}

func TestComputeAvailabilityRejectsReversedRange(t *testing.T) {
	_, err := NewDateRange("2024-02-01", "2024-01-01")
	require.Error(t, err)
}

func TestMergeBlockSetsOverridesByWeekday(t *testing.T) {
	template := []TimeBlock{
		mustBlock(t, 1, "09:00", "12:00"),
		mustBlock(t, 1, "13:00", "17:00"),
		mustBlock(t, 2, "09:00", "12:00"),
	}
	overrides := []TimeBlock{
		mustBlock(t, 1, "18:00", "20:00"),
	}

	merged := MergeBlockSets(template, overrides)
	require.Len(t, merged, 2)
	assert.Equal(t, 1, merged[0].DayOfWeek)
	assert.Equal(t, MustClock("18:00"), merged[0].Start)
	assert.Equal(t, 2, merged[1].DayOfWeek)
}

func TestSubtractIntervals(t *testing.T) {
	free := []Interval{{Start: 600, End: 720}, {Start: 1140, End: 1260}}
	occupied := []Interval{{Start: 630, End: 660}, {Start: 1100, End: 1170}}
	got := subtractIntervals(free, occupied)
	assert.Equal(t, []Interval{{Start: 600, End: 630}, {Start: 660, End: 720}, {Start: 1170, End: 1260}}, got)
}

func TestClockJSON(t *testing.T) {
	c := MustClock("07:05")
	raw, err := c.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `"07:05"`, string(raw))

	var parsed Clock
	require.NoError(t, parsed.UnmarshalJSON([]byte(`"23:59"`)))
	assert.Equal(t, Clock(23*60+59), parsed)

	require.Error(t, parsed.UnmarshalJSON([]byte(`"25:00"`)))
}
