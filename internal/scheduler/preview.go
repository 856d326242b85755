package scheduler

import "time"

// TimelineDay groups the plans of one date for rendering.
type TimelineDay struct {
	Date             string  `json:"date"`
	DayType          DayType `json:"dayType"`
	CycleNumber      int     `json:"cycleNumber,omitempty"`
	CycleDayNumber   int     `json:"cycleDayNumber,omitempty"`
	AvailableMinutes int     `json:"availableMinutes"`
	PlacedMinutes    int     `json:"placedMinutes"`
	Plans            []Plan  `json:"plans"`
}

// TimelineWeek totals a calendar week starting on Monday.
type TimelineWeek struct {
	Number        int    `json:"number"`
	StartDate     string `json:"startDate"`
	EndDate       string `json:"endDate"`
	PlacedMinutes int    `json:"placedMinutes"`
}

// Timeline is a what-if rendering of an allocation. Result is exactly what
// Allocate returns for the same input.
type Timeline struct {
	Result Result         `json:"result"`
	Days   []TimelineDay  `json:"days"`
	Weeks  []TimelineWeek `json:"weeks"`
}

// Preview runs the allocator without any side effect and groups its output.
func Preview(alloc *Allocator, in Input) (Timeline, error) {
	res, err := alloc.Allocate(in)
	if err != nil {
		return Timeline{}, err
	}
	return BuildTimeline(res, in.Availability), nil
}

// BuildTimeline groups an allocation result by date and week.
func BuildTimeline(res Result, availability Availability) Timeline {
	byDate := make(map[string][]Plan, len(availability.Days))
	for _, p := range res.Plans {
		byDate[p.Date] = append(byDate[p.Date], p)
	}

	schedule := make(map[string]DaySchedule, len(res.Schedule))
	for _, s := range res.Schedule {
		schedule[s.Date] = s
	}

	tl := Timeline{Result: res, Days: make([]TimelineDay, 0, len(availability.Days)), Weeks: []TimelineWeek{}}
	var week *TimelineWeek
	for _, d := range availability.Days {
		day := TimelineDay{
			Date:             d.Date,
			DayType:          DayTypeStudy,
			AvailableMinutes: d.Capacity(),
			Plans:            byDate[d.Date],
		}
		if day.Plans == nil {
			day.Plans = []Plan{}
		}
		slot, scheduled := schedule[d.Date]
		if scheduled {
			day.DayType = slot.DayType
			day.CycleNumber = slot.CycleNumber
			day.CycleDayNumber = slot.CycleDayNumber
		}
		for _, p := range day.Plans {
			day.PlacedMinutes += p.DurationMinutes
			if scheduled {
				continue
			}
			// results cached without a schedule
			if p.DayType == DayTypeReview {
				day.DayType = DayTypeReview
			}
			if p.CycleNumber > 0 {
				day.CycleNumber = p.CycleNumber
				day.CycleDayNumber = p.CycleDayNumber
			}
		}
		tl.Days = append(tl.Days, day)

		date, err := ParseDate(d.Date)
		if err != nil {
			continue
		}
		if week == nil || date.Weekday() == time.Monday {
			tl.Weeks = append(tl.Weeks, TimelineWeek{Number: len(tl.Weeks) + 1, StartDate: d.Date})
			week = &tl.Weeks[len(tl.Weeks)-1]
		}
		week.EndDate = d.Date
		week.PlacedMinutes += day.PlacedMinutes
	}
	return tl
}
