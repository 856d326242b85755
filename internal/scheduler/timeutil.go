package scheduler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical calendar date format used across the engine.
const DateLayout = "2006-01-02"

const minutesPerDay = 24 * 60

// Clock is a time of day expressed in minutes since midnight.
type Clock int

// ParseClock converts "HH:MM" (or "HH:MM:SS") into minutes since midnight.
func ParseClock(raw string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", raw)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 24 {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	total := hours*60 + minutes
	if total > minutesPerDay {
		return 0, fmt.Errorf("time %q exceeds 24:00", raw)
	}
	return Clock(total), nil
}

// MustClock parses raw and panics on malformed input. Intended for fixtures.
func MustClock(raw string) Clock {
	c, err := ParseClock(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// String renders the clock as "HH:MM".
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// MarshalJSON encodes the clock as "HH:MM".
func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts "HH:MM" strings.
func (c *Clock) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("clock must be a string: %w", err)
	}
	parsed, err := ParseClock(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Interval is a half-open [Start, End) range of minutes within a day.
type Interval struct {
	Start Clock `json:"startTime"`
	End   Clock `json:"endTime"`
}

// Minutes returns the interval length.
func (i Interval) Minutes() int {
	if i.End <= i.Start {
		return 0
	}
	return int(i.End - i.Start)
}

// Valid reports whether Start < End and both fall within a day.
func (i Interval) Valid() bool {
	return i.Start >= 0 && i.End <= minutesPerDay && i.Start < i.End
}

// Overlaps reports whether two half-open intervals intersect.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start < other.End && other.Start < i.End
}

// Contains reports whether other lies entirely within i.
func (i Interval) Contains(other Interval) bool {
	return other.Start >= i.Start && other.End <= i.End
}

// subtractIntervals removes every occupied range from free and returns the
// remaining pieces in ascending order.
func subtractIntervals(free []Interval, occupied []Interval) []Interval {
	result := make([]Interval, 0, len(free))
	for _, segment := range free {
		pieces := []Interval{segment}
		for _, busy := range occupied {
			next := make([]Interval, 0, len(pieces)+1)
			for _, piece := range pieces {
				if !piece.Overlaps(busy) {
					next = append(next, piece)
					continue
				}
				if busy.Start > piece.Start {
					next = append(next, Interval{Start: piece.Start, End: busy.Start})
				}
				if busy.End < piece.End {
					next = append(next, Interval{Start: busy.End, End: piece.End})
				}
			}
			pieces = next
		}
		result = append(result, pieces...)
	}
	return result
}

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange parses two YYYY-MM-DD strings into a range.
func NewDateRange(start, end string) (DateRange, error) {
	from, err := ParseDate(start)
	if err != nil {
		return DateRange{}, err
	}
	to, err := ParseDate(end)
	if err != nil {
		return DateRange{}, err
	}
	rng := DateRange{Start: from, End: to}
	if err := rng.Validate(); err != nil {
		return DateRange{}, err
	}
	return rng, nil
}

// Validate ensures the range is well-formed.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("date range requires start and end")
	}
	if truncateDate(r.End).Before(truncateDate(r.Start)) {
		return fmt.Errorf("date range end %s precedes start %s", FormatDate(r.End), FormatDate(r.Start))
	}
	return nil
}

// Dates lists every calendar date in the range.
func (r DateRange) Dates() []time.Time {
	start := truncateDate(r.Start)
	end := truncateDate(r.End)
	if end.Before(start) {
		return nil
	}
	days := int(end.Sub(start).Hours()/24) + 1
	out := make([]time.Time, 0, days)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// Includes reports whether date falls inside the range.
func (r DateRange) Includes(date time.Time) bool {
	d := truncateDate(date)
	return !d.Before(truncateDate(r.Start)) && !d.After(truncateDate(r.End))
}

// ParseDate parses a YYYY-MM-DD calendar date in UTC.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", raw, err)
	}
	return t, nil
}

// FormatDate renders a date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
