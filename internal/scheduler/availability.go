package scheduler

import (
	"fmt"
	"sort"
	"time"
)

// TimeBlock is a recurring weekly availability window.
type TimeBlock struct {
	DayOfWeek int   `json:"dayOfWeek"`
	Start     Clock `json:"startTime"`
	End       Clock `json:"endTime"`
}

// NewTimeBlock parses "HH:MM" bounds and validates the block.
func NewTimeBlock(dayOfWeek int, start, end string) (TimeBlock, error) {
	s, err := ParseClock(start)
	if err != nil {
		return TimeBlock{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return TimeBlock{}, err
	}
	block := TimeBlock{DayOfWeek: dayOfWeek, Start: s, End: e}
	if err := block.Validate(); err != nil {
		return TimeBlock{}, err
	}
	return block, nil
}

// Validate enforces dayOfWeek in 0..6 and start < end.
func (b TimeBlock) Validate() error {
	if b.DayOfWeek < 0 || b.DayOfWeek > 6 {
		return fmt.Errorf("day of week %d out of range 0..6", b.DayOfWeek)
	}
	if !(Interval{Start: b.Start, End: b.End}).Valid() {
		return fmt.Errorf("time block %s-%s must have start before end", b.Start, b.End)
	}
	return nil
}

// MergeBlockSets overlays student overrides onto a camp template. Any weekday
// present in overrides replaces the template's blocks for that weekday.
func MergeBlockSets(template, overrides []TimeBlock) []TimeBlock {
	overridden := make(map[int]bool, 7)
	for _, b := range overrides {
		overridden[b.DayOfWeek] = true
	}
	merged := make([]TimeBlock, 0, len(template)+len(overrides))
	for _, b := range template {
		if !overridden[b.DayOfWeek] {
			merged = append(merged, b)
		}
	}
	merged = append(merged, overrides...)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].DayOfWeek != merged[j].DayOfWeek {
			return merged[i].DayOfWeek < merged[j].DayOfWeek
		}
		return merged[i].Start < merged[j].Start
	})
	return merged
}

// ExclusionType is a calendar override with a fixed severity order.
type ExclusionType string

const (
	ExclusionHoliday  ExclusionType = "휴일지정"
	ExclusionOther    ExclusionType = "기타"
	ExclusionPersonal ExclusionType = "개인사정"
	ExclusionVacation ExclusionType = "휴가"
)

// Severity ranks exclusion types; higher wins when several hit one date.
func (t ExclusionType) Severity() int {
	switch t {
	case ExclusionHoliday:
		return 1
	case ExclusionOther:
		return 2
	case ExclusionPersonal:
		return 3
	case ExclusionVacation:
		return 4
	default:
		return 0
	}
}

// BlocksStudy reports whether the type removes all segments for the day.
func (t ExclusionType) BlocksStudy() bool {
	return t == ExclusionPersonal || t == ExclusionVacation
}

// ParseExclusionType accepts the stored label or an English alias.
func ParseExclusionType(raw string) (ExclusionType, error) {
	switch raw {
	case string(ExclusionHoliday), "holiday":
		return ExclusionHoliday, nil
	case string(ExclusionOther), "other":
		return ExclusionOther, nil
	case string(ExclusionPersonal), "personal":
		return ExclusionPersonal, nil
	case string(ExclusionVacation), "vacation":
		return ExclusionVacation, nil
	default:
		return "", fmt.Errorf("unknown exclusion type %q", raw)
	}
}

// Exclusion marks one calendar date.
type Exclusion struct {
	Date time.Time
	Type ExclusionType
}

// Segment is an available half-open interval on a concrete date.
type Segment struct {
	Interval
	SelfStudyOnly bool `json:"selfStudyOnly,omitempty"`
}

// DayAvailability is the availability of one calendar date.
type DayAvailability struct {
	Date      string         `json:"date"`
	DayOfWeek int            `json:"dayOfWeek"`
	Segments  []Segment      `json:"segments"`
	Exclusion *ExclusionType `json:"exclusion,omitempty"`
	// Dropped is set when an exclusion removed every segment of the day.
	Dropped bool `json:"dropped,omitempty"`
}

// Capacity sums the segment minutes of the day.
func (d DayAvailability) Capacity() int {
	total := 0
	for _, s := range d.Segments {
		total += s.Minutes()
	}
	return total
}

// BusyMinutes returns how much of the day's capacity the busy intervals take.
// Time outside every segment costs nothing; overlapping busy ranges count once.
func (d DayAvailability) BusyMinutes(busy []Interval) int {
	if len(busy) == 0 {
		return 0
	}
	segs := make([]Interval, 0, len(d.Segments))
	for _, s := range d.Segments {
		segs = append(segs, s.Interval)
	}
	left := 0
	for _, iv := range subtractIntervals(segs, busy) {
		left += iv.Minutes()
	}
	return d.Capacity() - left
}

// Availability maps every date of a range to its segments.
type Availability struct {
	Range DateRange         `json:"-"`
	Days  []DayAvailability `json:"days"`

	index map[string]int
}

// Day returns the availability for a YYYY-MM-DD date.
func (a Availability) Day(date string) (DayAvailability, bool) {
	if a.index != nil {
		idx, ok := a.index[date]
		if !ok {
			return DayAvailability{}, false
		}
		return a.Days[idx], true
	}
	for _, d := range a.Days {
		if d.Date == date {
			return d, true
		}
	}
	return DayAvailability{}, false
}

// TotalCapacity sums the capacity of every date.
func (a Availability) TotalCapacity() int {
	total := 0
	for _, d := range a.Days {
		total += d.Capacity()
	}
	return total
}

// ComputeAvailability expands weekly blocks over the range and applies
// exclusions. Blocks are validated up front; an empty day is not an error.
func ComputeAvailability(rng DateRange, blocks []TimeBlock, exclusions []Exclusion) (Availability, error) {
	if err := rng.Validate(); err != nil {
		return Availability{}, err
	}
	byWeekday := make(map[int][]TimeBlock, 7)
	for i, b := range blocks {
		if err := b.Validate(); err != nil {
			return Availability{}, fmt.Errorf("block %d: %w", i, err)
		}
		byWeekday[b.DayOfWeek] = append(byWeekday[b.DayOfWeek], b)
	}
	for wd := range byWeekday {
		list := byWeekday[wd]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Start < list[j].Start })
	}

	strongest := make(map[string]ExclusionType, len(exclusions))
	for _, ex := range exclusions {
		if ex.Type.Severity() == 0 {
			return Availability{}, fmt.Errorf("exclusion on %s has unknown type %q", FormatDate(ex.Date), ex.Type)
		}
		key := FormatDate(ex.Date)
		if current, ok := strongest[key]; !ok || ex.Type.Severity() > current.Severity() {
			strongest[key] = ex.Type
		}
	}

	dates := rng.Dates()
	out := Availability{Range: rng, Days: make([]DayAvailability, 0, len(dates)), index: make(map[string]int, len(dates))}
	for _, date := range dates {
		key := FormatDate(date)
		day := DayAvailability{Date: key, DayOfWeek: int(date.Weekday()), Segments: []Segment{}}
		exType, excluded := strongest[key]
		if excluded {
			t := exType
			day.Exclusion = &t
		}
		switch {
		case excluded && exType.BlocksStudy():
			day.Dropped = true
		default:
			for _, b := range byWeekday[day.DayOfWeek] {
				day.Segments = append(day.Segments, Segment{
					Interval:      Interval{Start: b.Start, End: b.End},
					SelfStudyOnly: excluded,
				})
			}
		}
		out.index[key] = len(out.Days)
		out.Days = append(out.Days, day)
	}
	return out, nil
}
