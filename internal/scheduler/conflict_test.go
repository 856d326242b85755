package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func planAt(id, date, start, end string) Plan {
	s, e := MustClock(start), MustClock(end)
	return Plan{ID: id, ContentID: "c-" + id, Date: date, Start: s, End: e, DurationMinutes: int(e - s)}
}

func TestDetectConflictsTimeOverlap(t *testing.T) {
	candidates := []Plan{
		planAt("", "2024-01-01", "10:00", "11:00"),
		planAt("", "2024-01-01", "10:30", "11:30"),
		planAt("", "2024-01-01", "11:30", "12:00"),
	}
	conflicts := DetectConflicts(candidates, nil, Availability{})
	require.Len(t, conflicts, 1)
	assert.Equal(t, ConflictTimeOverlap, conflicts[0].Type)
	assert.Equal(t, SeverityError, conflicts[0].Severity)
	assert.Equal(t, []string{"candidate:0", "candidate:1"}, conflicts[0].PlanIDs)
	assert.Equal(t, StrategyShiftLater, conflicts[0].Strategy)
}

func TestDetectConflictsIgnoresExistingPairs(t *testing.T) {
	existing := []Plan{
		planAt("e1", "2024-01-01", "10:00", "11:00"),
		planAt("e2", "2024-01-01", "10:30", "11:30"),
	}
	candidates := []Plan{planAt("n1", "2024-01-01", "10:45", "11:15")}

	conflicts := DetectConflicts(candidates, existing, Availability{})
	require.Len(t, conflicts, 2)
	assert.Equal(t, []string{"n1", "e1"}, conflicts[0].PlanIDs)
	assert.Equal(t, []string{"n1", "e2"}, conflicts[1].PlanIDs)
}

func TestDetectConflictsHalfOpenBoundaries(t *testing.T) {
	candidates := []Plan{
		planAt("a", "2024-01-01", "10:00", "11:00"),
		planAt("b", "2024-01-01", "11:00", "12:00"),
		planAt("c", "2024-01-02", "10:00", "11:00"),
	}
	assert.Empty(t, DetectConflicts(candidates, nil, Availability{}))
}

func TestDetectConflictsOverAllocation(t *testing.T) {
	avail := mustAvailability(t, "2024-01-01", "2024-01-03", weekdayBlocks(t, "10:00", "11:00"), nil)

	// manual edit stretched a plan past the block
	candidates := []Plan{planAt("p1", "2024-01-01", "10:00", "11:30")}
	conflicts := DetectConflicts(candidates, nil, avail)
	require.Len(t, conflicts, 2)
	assert.Equal(t, ConflictCapacityExceeded, conflicts[0].Type)
	assert.Equal(t, 30, conflicts[0].ExcessMinutes)
	assert.Equal(t, StrategyMoveNextDay, conflicts[0].Strategy)
	assert.Equal(t, ConflictOutsideAvailability, conflicts[1].Type)
	assert.Equal(t, SeverityWarning, conflicts[1].Severity)

	last := []Plan{planAt("p2", "2024-01-03", "10:00", "11:30")}
	conflicts = DetectConflicts(last, nil, avail)
	require.NotEmpty(t, conflicts)
	assert.Equal(t, StrategyShrinkDuration, conflicts[0].Strategy)
}

func TestDetectConflictsCountsExistingOnlyInsideSegments(t *testing.T) {
	avail := mustAvailability(t, "2024-01-01", "2024-01-01", weekdayBlocks(t, "10:00", "12:00"), nil)
	existing := []Plan{
		planAt("e1", "2024-01-01", "11:30", "12:30"),
		planAt("e2", "2024-01-01", "11:45", "12:15"),
		planAt("e3", "2024-01-01", "20:00", "21:00"),
	}

	// e1 and e2 share 11:30-12:00 inside the block; e3 lies outside it
	fits := []Plan{planAt("p1", "2024-01-01", "10:00", "11:30")}
	assert.Empty(t, DetectConflicts(fits, existing, avail))

	over := []Plan{planAt("p1", "2024-01-01", "10:00", "11:20"), planAt("p2", "2024-01-01", "20:30", "20:45")}
	conflicts := DetectConflicts(over, existing, avail)
	var capacity *ConflictDetail
	for i := range conflicts {
		if conflicts[i].Type == ConflictCapacityExceeded {
			capacity = &conflicts[i]
		}
	}
	require.NotNil(t, capacity)
	assert.Equal(t, 5, capacity.ExcessMinutes)
	assert.ElementsMatch(t, []string{"p1", "p2"}, capacity.PlanIDs)
}

func TestDetectConflictsExcludedAndOutOfRange(t *testing.T) {
	avail := mustAvailability(t, "2024-01-01", "2024-01-02", weekdayBlocks(t, "10:00", "12:00"), []Exclusion{
		{Date: mustDate(t, "2024-01-02"), Type: ExclusionPersonal},
	})
	candidates := []Plan{
		planAt("x", "2024-01-02", "10:00", "10:30"),
		planAt("y", "2024-02-01", "10:00", "10:30"),
	}

	conflicts := DetectConflicts(candidates, nil, avail)
	require.Len(t, conflicts, 2)
	assert.Equal(t, ConflictExcludedDate, conflicts[0].Type)
	assert.Equal(t, StrategyMoveNextDay, conflicts[0].Strategy)
	assert.Equal(t, ConflictOutsideAvailability, conflicts[1].Type)
	assert.Equal(t, StrategySkip, conflicts[1].Strategy)
}

func TestHasBlockingPolicy(t *testing.T) {
	warnings := []ConflictDetail{{Type: ConflictExcludedDate, Severity: SeverityWarning}}
	assert.True(t, HasBlocking(warnings, false))
	assert.False(t, HasBlocking(warnings, true))

	errs := append(warnings, ConflictDetail{Type: ConflictTimeOverlap, Severity: SeverityError})
	assert.True(t, HasBlocking(errs, true))
	assert.False(t, HasBlocking(nil, false))
}
