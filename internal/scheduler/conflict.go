package scheduler

import (
	"fmt"
	"sort"
)

// ConflictType classifies a detected problem.
type ConflictType string

const (
	ConflictTimeOverlap         ConflictType = "time_overlap"
	ConflictCapacityExceeded    ConflictType = "capacity_exceeded"
	ConflictExcludedDate        ConflictType = "excluded_date"
	ConflictOutsideAvailability ConflictType = "outside_availability"
)

// Severity decides whether a conflict blocks a commit.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Strategy is a suggested resolution. The detector never applies it.
type Strategy string

const (
	StrategyShiftLater     Strategy = "shift-later"
	StrategyShrinkDuration Strategy = "shrink-duration"
	StrategyMoveNextDay    Strategy = "move-to-next-available-day"
	StrategySkip           Strategy = "skip"
)

// ConflictDetail describes one conflict and the plans it touches.
type ConflictDetail struct {
	Type          ConflictType `json:"type"`
	Severity      Severity     `json:"severity"`
	Date          string       `json:"date"`
	PlanIDs       []string     `json:"planIds"`
	Message       string       `json:"message"`
	Strategy      Strategy     `json:"strategy"`
	ExcessMinutes int          `json:"excessMinutes,omitempty"`
}

// Blocking reports whether the conflict must be resolved before commit.
func (c ConflictDetail) Blocking() bool {
	return c.Severity == SeverityError
}

// HasBlocking reports whether any conflict prevents a commit. Warnings block
// too unless allowWarnings is set.
func HasBlocking(conflicts []ConflictDetail, allowWarnings bool) bool {
	for _, c := range conflicts {
		if c.Blocking() {
			return true
		}
		if c.Severity == SeverityWarning && !allowWarnings {
			return true
		}
	}
	return false
}

type conflictEntry struct {
	id        string
	plan      Plan
	candidate bool
}

// DetectConflicts checks candidate plans against each other, against existing
// plans, and against availability when it is provided. Overlap detection is
// pairwise per date; pairs made only of existing plans are ignored.
func DetectConflicts(candidates, existing []Plan, availability Availability) []ConflictDetail {
	byDate := make(map[string][]conflictEntry)
	for i, p := range candidates {
		id := p.ID
		if id == "" {
			id = fmt.Sprintf("candidate:%d", i)
		}
		byDate[p.Date] = append(byDate[p.Date], conflictEntry{id: id, plan: p, candidate: true})
	}
	for i, p := range existing {
		id := p.ID
		if id == "" {
			id = fmt.Sprintf("existing:%d", i)
		}
		byDate[p.Date] = append(byDate[p.Date], conflictEntry{id: id, plan: p})
	}

	checkAvailability := len(availability.Days) > 0
	dates := make([]string, 0, len(byDate))
	load := make(map[string]int, len(byDate))
	for date, entries := range byDate {
		dates = append(dates, date)
		load[date] = dayLoad(entries, availability, date, checkAvailability)
	}
	sort.Strings(dates)

	conflicts := make([]ConflictDetail, 0)
	for _, date := range dates {
		entries := byDate[date]
		for i := 0; i < len(entries); i++ {
			for j := i + 1; j < len(entries); j++ {
				a, b := entries[i], entries[j]
				if !a.candidate && !b.candidate {
					continue
				}
				if a.plan.interval().Overlaps(b.plan.interval()) {
					conflicts = append(conflicts, ConflictDetail{
						Type:     ConflictTimeOverlap,
						Severity: SeverityError,
						Date:     date,
						PlanIDs:  []string{a.id, b.id},
						Message: fmt.Sprintf("%s %s-%s overlaps %s %s-%s",
							a.id, a.plan.Start, a.plan.End, b.id, b.plan.Start, b.plan.End),
						Strategy: StrategyShiftLater,
					})
				}
			}
		}

		if !checkAvailability {
			continue
		}
		day, inRange := availability.Day(date)
		candidateIDs := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.candidate {
				candidateIDs = append(candidateIDs, e.id)
			}
		}
		if len(candidateIDs) == 0 {
			continue
		}

		if inRange && !day.Dropped {
			if capacity := day.Capacity(); load[date] > capacity {
				strategy := StrategyShrinkDuration
				if hasSpareAfter(availability, load, date) {
					strategy = StrategyMoveNextDay
				}
				conflicts = append(conflicts, ConflictDetail{
					Type:          ConflictCapacityExceeded,
					Severity:      SeverityError,
					Date:          date,
					PlanIDs:       candidateIDs,
					Message:       fmt.Sprintf("%d planned minutes exceed %d available", load[date], capacity),
					Strategy:      strategy,
					ExcessMinutes: load[date] - capacity,
				})
			}
		}

		for _, e := range entries {
			if !e.candidate {
				continue
			}
			switch {
			case !inRange:
				conflicts = append(conflicts, ConflictDetail{
					Type:     ConflictOutsideAvailability,
					Severity: SeverityWarning,
					Date:     date,
					PlanIDs:  []string{e.id},
					Message:  "date is outside the planning range",
					Strategy: StrategySkip,
				})
			case day.Dropped:
				conflicts = append(conflicts, ConflictDetail{
					Type:     ConflictExcludedDate,
					Severity: SeverityWarning,
					Date:     date,
					PlanIDs:  []string{e.id},
					Message:  fmt.Sprintf("date is excluded (%s)", *day.Exclusion),
					Strategy: StrategyMoveNextDay,
				})
			case !withinSegments(day.Segments, e.plan.interval()):
				conflicts = append(conflicts, ConflictDetail{
					Type:     ConflictOutsideAvailability,
					Severity: SeverityWarning,
					Date:     date,
					PlanIDs:  []string{e.id},
					Message:  fmt.Sprintf("%s-%s is not inside an available block", e.plan.Start, e.plan.End),
					Strategy: StrategyShiftLater,
				})
			}
		}
	}
	return conflicts
}

// dayLoad sums candidate durations plus the capacity existing plans occupy.
// An existing plan only costs the minutes it covers inside the day's segments,
// matching what the allocator carves out before placing anything.
func dayLoad(entries []conflictEntry, availability Availability, date string, checkAvailability bool) int {
	day, inRange := availability.Day(date)
	carve := checkAvailability && inRange
	total := 0
	busy := make([]Interval, 0, len(entries))
	for _, e := range entries {
		if e.candidate || !carve {
			total += e.plan.DurationMinutes
			continue
		}
		busy = append(busy, e.plan.interval())
	}
	if carve {
		total += day.BusyMinutes(busy)
	}
	return total
}

func withinSegments(segments []Segment, iv Interval) bool {
	for _, s := range segments {
		if s.Contains(iv) {
			return true
		}
	}
	return false
}

func hasSpareAfter(availability Availability, load map[string]int, date string) bool {
	for _, d := range availability.Days {
		if d.Date <= date {
			continue
		}
		if d.Capacity() > load[d.Date] {
			return true
		}
	}
	return false
}
