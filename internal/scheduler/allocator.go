package scheduler

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
)

// SchedulerType selects the allocation strategy of a plan group.
type SchedulerType string

const (
	SchedulerScore       SchedulerType = "score"
	SchedulerFixedCycle  SchedulerType = "fixed-cycle"
	SchedulerWeakSubject SchedulerType = "weak-subject"
	SchedulerCustom      SchedulerType = "custom"
)

// ErrInvalidInput wraps every input rejection raised before allocation.
var ErrInvalidInput = errors.New("invalid scheduling input")

// Options are the per-run scheduler settings.
type Options struct {
	Type                SchedulerType
	StudentLevel        StudentLevel
	MaxContentsPerGroup int
	// SubjectTargets caps study minutes per subject over the whole range.
	SubjectTargets map[string]int
	// SubjectRisk holds a 0..100 weakness index per subject.
	SubjectRisk map[string]float64
	StudyDays   int
	ReviewDays  int
}

// CustomEntry is a caller-supplied placement used by the custom strategy.
type CustomEntry struct {
	ContentID string `json:"contentId"`
	Date      string `json:"date"`
	Start     Clock  `json:"startTime"`
	End       Clock  `json:"endTime"`
}

// Input bundles everything one allocation run needs.
type Input struct {
	Contents     []Content
	Availability Availability
	Options      Options
	// Existing plans stay in place; their time is carved out of availability.
	Existing []Plan
	Custom   []CustomEntry
}

// Plan is a candidate study session.
type Plan struct {
	ID              string  `json:"id,omitempty"`
	ContentID       string  `json:"contentId"`
	Subject         string  `json:"subject,omitempty"`
	Date            string  `json:"date"`
	Start           Clock   `json:"startTime"`
	End             Clock   `json:"endTime"`
	DurationMinutes int     `json:"durationMinutes"`
	DayType         DayType `json:"dayType"`
	PlanNumber      int     `json:"planNumber"`
	CycleNumber     int     `json:"cycleNumber,omitempty"`
	CycleDayNumber  int     `json:"cycleDayNumber,omitempty"`
}

func (p Plan) interval() Interval {
	return Interval{Start: p.Start, End: p.End}
}

// UnplacedReason explains why minutes were left over.
type UnplacedReason string

const (
	ReasonCapacityShortfall UnplacedReason = "capacity_shortfall"
	ReasonSubjectTarget     UnplacedReason = "subject_target_reached"
	ReasonContentLimit      UnplacedReason = "content_limit"
)

// Unplaced reports a content whose required minutes were not all placed.
type Unplaced struct {
	ContentID        string         `json:"contentId"`
	RequiredMinutes  int            `json:"requiredMinutes"`
	PlacedMinutes    int            `json:"placedMinutes"`
	ShortfallMinutes int            `json:"shortfallMinutes"`
	Reason           UnplacedReason `json:"reason"`
}

// DaySchedule is the day type the allocator assigned to a date, whether or
// not anything was placed on it.
type DaySchedule struct {
	Date           string  `json:"date"`
	DayType        DayType `json:"dayType"`
	CycleNumber    int     `json:"cycleNumber,omitempty"`
	CycleDayNumber int     `json:"cycleDayNumber,omitempty"`
}

// Result is the allocator output before commit.
type Result struct {
	Plans     []Plan           `json:"plans"`
	Unplaced  []Unplaced       `json:"unplaced"`
	Conflicts []ConflictDetail `json:"conflicts"`
	Degraded  []string         `json:"degradedContentIds,omitempty"`
	Schedule  []DaySchedule    `json:"schedule,omitempty"`
}

// PlacedMinutes sums the duration of every placed plan.
func (r Result) PlacedMinutes() int {
	total := 0
	for _, p := range r.Plans {
		total += p.DurationMinutes
	}
	return total
}

// UnplacedMinutes sums the shortfall of every unplaced entry.
func (r Result) UnplacedMinutes() int {
	total := 0
	for _, u := range r.Unplaced {
		total += u.ShortfallMinutes
	}
	return total
}

// Allocator assigns contents to availability segments. It holds no mutable
// state between runs and never performs I/O.
type Allocator struct {
	cfg       Config
	estimator *DurationEstimator
}

// NewAllocator constructs an allocator. A nil estimator is built from cfg.
func NewAllocator(cfg Config, estimator *DurationEstimator, logger *zap.Logger) *Allocator {
	cfg = cfg.withDefaults()
	if estimator == nil {
		estimator = NewDurationEstimator(cfg, logger)
	}
	return &Allocator{cfg: cfg, estimator: estimator}
}

// Config exposes the effective configuration.
func (a *Allocator) Config() Config {
	return a.cfg
}

// Allocate runs the selected strategy. Only malformed input yields an error;
// capacity shortfalls and conflicts travel in the result.
func (a *Allocator) Allocate(in Input) (Result, error) {
	if err := a.validate(in); err != nil {
		return Result{}, err
	}
	durations := NewDurationCache(a.estimator, a.level(in.Options))
	if in.Options.Type == SchedulerCustom {
		return a.allocateCustom(in, durations), nil
	}
	run := newAllocationRun(a, in, durations)
	run.execute()
	return run.result(), nil
}

func (a *Allocator) level(opts Options) StudentLevel {
	level, err := ParseStudentLevel(string(opts.StudentLevel))
	if err != nil {
		return LevelMedium
	}
	return level
}

func (a *Allocator) validate(in Input) error {
	switch in.Options.Type {
	case SchedulerScore, SchedulerFixedCycle, SchedulerWeakSubject, SchedulerCustom:
	case "":
		return fmt.Errorf("%w: scheduler type is required", ErrInvalidInput)
	default:
		return fmt.Errorf("%w: unknown scheduler type %q", ErrInvalidInput, in.Options.Type)
	}
	if _, err := ParseStudentLevel(string(in.Options.StudentLevel)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	seen := make(map[string]bool, len(in.Contents))
	for _, c := range in.Contents {
		if c.ID == "" {
			return fmt.Errorf("%w: content id is required", ErrInvalidInput)
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: duplicate content %s", ErrInvalidInput, c.ID)
		}
		seen[c.ID] = true
	}
	for _, p := range in.Existing {
		if !p.interval().Valid() {
			return fmt.Errorf("%w: existing plan on %s has start %s not before end %s", ErrInvalidInput, p.Date, p.Start, p.End)
		}
	}
	for i, e := range in.Custom {
		if !seen[e.ContentID] {
			return fmt.Errorf("%w: custom entry %d references unknown content %s", ErrInvalidInput, i, e.ContentID)
		}
		if _, err := ParseDate(e.Date); err != nil {
			return fmt.Errorf("%w: custom entry %d: %v", ErrInvalidInput, i, err)
		}
		if !(Interval{Start: e.Start, End: e.End}).Valid() {
			return fmt.Errorf("%w: custom entry %d has start %s not before end %s", ErrInvalidInput, i, e.Start, e.End)
		}
	}
	return nil
}

func (a *Allocator) allocateCustom(in Input, durations *DurationCache) Result {
	byID := make(map[string]Content, len(in.Contents))
	for _, c := range in.Contents {
		byID[c.ID] = c
	}
	placed := make(map[string]int, len(in.Contents))
	plans := make([]Plan, 0, len(in.Custom))
	for i, e := range in.Custom {
		iv := Interval{Start: e.Start, End: e.End}
		plans = append(plans, Plan{
			ContentID:       e.ContentID,
			Subject:         byID[e.ContentID].Subject,
			Date:            e.Date,
			Start:           e.Start,
			End:             e.End,
			DurationMinutes: iv.Minutes(),
			DayType:         DayTypeStudy,
			PlanNumber:      i + 1,
		})
		placed[e.ContentID] += iv.Minutes()
	}

	res := Result{Plans: plans, Unplaced: []Unplaced{}}
	for _, d := range in.Availability.Days {
		res.Schedule = append(res.Schedule, DaySchedule{Date: d.Date, DayType: DayTypeStudy})
	}
	for _, c := range in.Contents {
		est := durations.Get(c, DayTypeStudy)
		if est.Degraded {
			res.Degraded = append(res.Degraded, c.ID)
		}
		if placed[c.ID] < est.Minutes {
			res.Unplaced = append(res.Unplaced, Unplaced{
				ContentID:        c.ID,
				RequiredMinutes:  est.Minutes,
				PlacedMinutes:    placed[c.ID],
				ShortfallMinutes: est.Minutes - placed[c.ID],
				Reason:           ReasonCapacityShortfall,
			})
		}
	}
	res.Conflicts = DetectConflicts(res.Plans, in.Existing, in.Availability)
	return res
}

type contentState struct {
	content        Content
	index          int
	required       int
	placed         int
	lastDay        int
	studiedInCycle int
}

func (c *contentState) remaining() int {
	return c.required - c.placed
}

type cycleSlot struct {
	dayType  DayType
	cycle    int
	cycleDay int
}

type allocationRun struct {
	alloc     *Allocator
	in        Input
	durations *DurationCache

	days            []DayAvailability
	free            [][]Interval
	capacity        []int
	slots           []cycleSlot
	studyCapFromDay []int

	states         []*contentState
	limited        []Content
	subjectPlaced  map[string]int
	totalPlaced    int
	nextPlanNumber int
	plans          []Plan
	degraded       []string
}

func newAllocationRun(a *Allocator, in Input, durations *DurationCache) *allocationRun {
	days := make([]DayAvailability, len(in.Availability.Days))
	copy(days, in.Availability.Days)
	sort.SliceStable(days, func(i, j int) bool { return days[i].Date < days[j].Date })

	occupied := make(map[string][]Interval, len(in.Existing))
	for _, p := range in.Existing {
		occupied[p.Date] = append(occupied[p.Date], p.interval())
	}

	run := &allocationRun{
		alloc:         a,
		in:            in,
		durations:     durations,
		days:          days,
		free:          make([][]Interval, len(days)),
		capacity:      make([]int, len(days)),
		subjectPlaced: make(map[string]int),
	}
	for i, d := range days {
		segs := make([]Interval, 0, len(d.Segments))
		for _, s := range d.Segments {
			segs = append(segs, s.Interval)
		}
		sort.SliceStable(segs, func(x, y int) bool { return segs[x].Start < segs[y].Start })
		run.free[i] = subtractIntervals(segs, occupied[d.Date])
		for _, iv := range run.free[i] {
			run.capacity[i] += iv.Minutes()
		}
	}
	run.slots = run.planCycle()
	run.studyCapFromDay = make([]int, len(days)+1)
	for i := len(days) - 1; i >= 0; i-- {
		run.studyCapFromDay[i] = run.studyCapFromDay[i+1]
		if run.slots[i].dayType == DayTypeStudy {
			run.studyCapFromDay[i] += run.capacity[i]
		}
	}

	limit := a.cfg.MaxContentsPerGroup
	if in.Options.MaxContentsPerGroup > 0 {
		limit = in.Options.MaxContentsPerGroup
	}
	for i, c := range in.Contents {
		est := durations.Get(c, DayTypeStudy)
		if est.Degraded {
			run.degraded = append(run.degraded, c.ID)
		}
		if i >= limit {
			run.limited = append(run.limited, c)
			continue
		}
		run.states = append(run.states, &contentState{content: c, index: i, required: est.Minutes, lastDay: -1})
	}
	return run
}

// planCycle assigns study/review day types. Under the fixed-cycle strategy
// days dropped by an exclusion do not advance the cycle counter.
func (r *allocationRun) planCycle() []cycleSlot {
	slots := make([]cycleSlot, len(r.days))
	if r.in.Options.Type != SchedulerFixedCycle {
		for i := range slots {
			slots[i] = cycleSlot{dayType: DayTypeStudy}
		}
		return slots
	}
	studyDays := r.alloc.cfg.StudyDays
	if r.in.Options.StudyDays > 0 {
		studyDays = r.in.Options.StudyDays
	}
	reviewDays := r.alloc.cfg.ReviewDays
	if r.in.Options.ReviewDays > 0 {
		reviewDays = r.in.Options.ReviewDays
	}
	length := studyDays + reviewDays
	counter := 0
	for i, d := range r.days {
		if d.Dropped {
			slots[i] = cycleSlot{dayType: DayTypeStudy}
			continue
		}
		pos := counter % length
		slot := cycleSlot{dayType: DayTypeStudy, cycle: counter/length + 1, cycleDay: pos + 1}
		if pos >= studyDays {
			slot.dayType = DayTypeReview
		}
		slots[i] = slot
		counter++
	}
	return slots
}

func (r *allocationRun) execute() {
	for i := range r.days {
		slot := r.slots[i]
		if slot.cycleDay == 1 {
			for _, st := range r.states {
				st.studiedInCycle = 0
			}
		}
		if r.days[i].Dropped || r.capacity[i] == 0 {
			continue
		}
		if slot.dayType == DayTypeReview {
			r.placeReviews(i)
			continue
		}
		r.placeStudy(i)
	}
}

func (r *allocationRun) placeStudy(day int) {
	type ranked struct {
		state *contentState
		score float64
	}
	candidates := make([]ranked, 0, len(r.states))
	for _, st := range r.states {
		if st.remaining() <= 0 || r.subjectRemaining(st.content.Subject) <= 0 {
			continue
		}
		candidates = append(candidates, ranked{state: st, score: r.score(st, day)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].state.index < candidates[j].state.index
	})

	for _, c := range candidates {
		if r.freeMinutes(day) == 0 {
			return
		}
		st := c.state
		quota := r.dailyQuota(st, day)
		if limit := r.subjectRemaining(st.content.Subject); quota > limit {
			quota = limit
		}
		if quota <= 0 {
			continue
		}
		placed := r.place(day, st.content, quota, DayTypeStudy)
		if placed == 0 {
			continue
		}
		st.placed += placed
		st.studiedInCycle += placed
		st.lastDay = day
		r.subjectPlaced[st.content.Subject] += placed
		r.totalPlaced += placed
	}
}

func (r *allocationRun) placeReviews(day int) {
	for _, st := range r.states {
		if st.studiedInCycle == 0 {
			continue
		}
		if r.freeMinutes(day) == 0 {
			return
		}
		minutes := r.alloc.estimator.ReviewMinutes(st.studiedInCycle)
		if minutes <= 0 {
			continue
		}
		r.place(day, st.content, minutes, DayTypeReview)
	}
}

// score ranks a content for one date: weakness, time since last session and
// how under-represented its subject is so far.
func (r *allocationRun) score(st *contentState, day int) float64 {
	cfg := r.alloc.cfg
	risk := r.in.Options.SubjectRisk[st.content.Subject]
	weakness := clamp(risk/100, 0, 1)

	recency := 1.0
	if st.lastDay >= 0 {
		recency = math.Min(float64(day-st.lastDay)/float64(cfg.RecencyHorizonDays), 1)
	}

	balance := 1.0
	if r.totalPlaced > 0 {
		balance = 1 - float64(r.subjectPlaced[st.content.Subject])/float64(r.totalPlaced)
	}
	return cfg.WeightWeakness*weakness + cfg.WeightRecency*recency + cfg.WeightBalance*balance
}

// dailyQuota spreads the remaining minutes over the remaining study capacity
// in proportion to today's share of it.
func (r *allocationRun) dailyQuota(st *contentState, day int) int {
	remainingCap := r.studyCapFromDay[day]
	if remainingCap <= 0 {
		return 0
	}
	quota := math.Ceil(float64(st.remaining()) * float64(r.capacity[day]) / float64(remainingCap))
	if r.in.Options.Type == SchedulerWeakSubject {
		quota = math.Ceil(quota*r.skew(st.content.Subject) - 1e-9)
	}
	q := int(quota)
	if q > st.remaining() {
		q = st.remaining()
	}
	return q
}

func (r *allocationRun) skew(subject string) float64 {
	cfg := r.alloc.cfg
	risk := r.in.Options.SubjectRisk[subject]
	if risk < cfg.WeakRiskThreshold {
		return 1
	}
	return 1 + (cfg.MaxSkewFactor-1)*clamp(risk/100, 0, 1)
}

func (r *allocationRun) subjectRemaining(subject string) int {
	target, ok := r.in.Options.SubjectTargets[subject]
	if !ok {
		return math.MaxInt32
	}
	return target - r.subjectPlaced[subject]
}

func (r *allocationRun) freeMinutes(day int) int {
	total := 0
	for _, iv := range r.free[day] {
		total += iv.Minutes()
	}
	return total
}

// place fills free segments of the day first-fit. Pieces of one session share
// a plan number; a segment shorter than the need is used up and the rest
// continues in the next segment of the same day.
func (r *allocationRun) place(day int, content Content, minutes int, dayType DayType) int {
	free := r.free[day]
	placed := 0
	planNumber := 0
	for j := range free {
		if minutes == 0 {
			break
		}
		avail := free[j].Minutes()
		if avail == 0 {
			continue
		}
		take := avail
		if minutes < take {
			take = minutes
		}
		if planNumber == 0 {
			r.nextPlanNumber++
			planNumber = r.nextPlanNumber
		}
		slot := r.slots[day]
		r.plans = append(r.plans, Plan{
			ContentID:       content.ID,
			Subject:         content.Subject,
			Date:            r.days[day].Date,
			Start:           free[j].Start,
			End:             free[j].Start + Clock(take),
			DurationMinutes: take,
			DayType:         dayType,
			PlanNumber:      planNumber,
			CycleNumber:     slot.cycle,
			CycleDayNumber:  slot.cycleDay,
		})
		free[j].Start += Clock(take)
		minutes -= take
		placed += take
	}
	return placed
}

func (r *allocationRun) result() Result {
	sort.SliceStable(r.plans, func(i, j int) bool {
		a, b := r.plans[i], r.plans[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.PlanNumber < b.PlanNumber
	})

	res := Result{Plans: r.plans, Unplaced: []Unplaced{}, Degraded: r.degraded}
	if res.Plans == nil {
		res.Plans = []Plan{}
	}
	res.Schedule = make([]DaySchedule, len(r.days))
	for i, d := range r.days {
		slot := r.slots[i]
		res.Schedule[i] = DaySchedule{Date: d.Date, DayType: slot.dayType, CycleNumber: slot.cycle, CycleDayNumber: slot.cycleDay}
	}
	for _, st := range r.states {
		if st.remaining() <= 0 {
			continue
		}
		reason := ReasonCapacityShortfall
		if r.subjectRemaining(st.content.Subject) <= 0 {
			reason = ReasonSubjectTarget
		}
		res.Unplaced = append(res.Unplaced, Unplaced{
			ContentID:        st.content.ID,
			RequiredMinutes:  st.required,
			PlacedMinutes:    st.placed,
			ShortfallMinutes: st.remaining(),
			Reason:           reason,
		})
	}
	for _, c := range r.limited {
		required := r.durations.Get(c, DayTypeStudy).Minutes
		res.Unplaced = append(res.Unplaced, Unplaced{
			ContentID:        c.ID,
			RequiredMinutes:  required,
			ShortfallMinutes: required,
			Reason:           ReasonContentLimit,
		})
	}
	res.Conflicts = DetectConflicts(res.Plans, r.in.Existing, r.in.Availability)
	return res
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
