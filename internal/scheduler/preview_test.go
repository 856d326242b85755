package scheduler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreviewMatchesAllocate(t *testing.T) {
	avail := mustAvailability(t, "2024-01-01", "2024-01-14", weekdayBlocks(t, "10:00", "12:00"), []Exclusion{
		{Date: mustDate(t, "2024-01-03"), Type: ExclusionHoliday},
	})
	in := Input{
		Contents: []Content{
			{ID: "book-1", Subject: "math", Difficulty: DifficultyStandard, Measure: BookMeasure{TotalPages: 50}},
			minutesContent("c-1", "eng", 80),
		},
		Availability: avail,
		Options:      Options{Type: SchedulerFixedCycle, StudentLevel: LevelLow},
	}
	alloc := newTestAllocator()

	direct, err := alloc.Allocate(in)
	require.NoError(t, err)
	preview, err := Preview(alloc, in)
	require.NoError(t, err)

	want, err := json.Marshal(direct)
	require.NoError(t, err)
	got, err := json.Marshal(preview.Result)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestBuildTimelineGroupsByDayAndWeek(t *testing.T) {
	avail := mustAvailability(t, "2024-01-04", "2024-01-10", weekdayBlocks(t, "10:00", "12:00"), nil)
	res, err := newTestAllocator().Allocate(Input{
		Contents:     []Content{minutesContent("a", "math", 90)},
		Availability: avail,
		Options:      Options{Type: SchedulerScore},
	})
	require.NoError(t, err)

	tl := BuildTimeline(res, avail)
	require.Len(t, tl.Days, 7)
	require.Len(t, tl.Weeks, 2)
	assert.Equal(t, "2024-01-04", tl.Weeks[0].StartDate)
	assert.Equal(t, "2024-01-07", tl.Weeks[0].EndDate)
	assert.Equal(t, "2024-01-08", tl.Weeks[1].StartDate)
	assert.Equal(t, 90, tl.Weeks[0].PlacedMinutes+tl.Weeks[1].PlacedMinutes)

	saturday := tl.Days[2]
	assert.Equal(t, "2024-01-06", saturday.Date)
	assert.Equal(t, 0, saturday.AvailableMinutes)
	assert.NotNil(t, saturday.Plans)
}

func TestBuildTimelineMarksEmptyReviewDays(t *testing.T) {
	// blocks only on weekdays, so the cycle's review day (Sunday) has no capacity
	avail := mustAvailability(t, "2024-01-01", "2024-01-14", weekdayBlocks(t, "10:00", "12:00"), nil)
	tl, err := Preview(newTestAllocator(), Input{
		Contents:     []Content{minutesContent("a", "math", 300)},
		Availability: avail,
		Options:      Options{Type: SchedulerFixedCycle},
	})
	require.NoError(t, err)
	require.Len(t, tl.Days, 14)

	sunday := tl.Days[6]
	assert.Equal(t, "2024-01-07", sunday.Date)
	assert.Empty(t, sunday.Plans)
	assert.Equal(t, DayTypeReview, sunday.DayType)
	assert.Equal(t, 1, sunday.CycleNumber)
	assert.Equal(t, 7, sunday.CycleDayNumber)

	nextMonday := tl.Days[7]
	assert.Equal(t, DayTypeStudy, nextMonday.DayType)
	assert.Equal(t, 2, nextMonday.CycleNumber)
	assert.Equal(t, 1, nextMonday.CycleDayNumber)
}
