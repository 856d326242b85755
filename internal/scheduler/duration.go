package scheduler

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Difficulty is the closed set of difficulty labels used for page pacing.
type Difficulty string

const (
	DifficultyUnspecified Difficulty = ""
	DifficultyBasic       Difficulty = "기초"
	DifficultyStandard    Difficulty = "기본"
	DifficultyAdvanced    Difficulty = "심화"
	DifficultyExpert      Difficulty = "최상"
)

// ErrInvalidDifficulty is returned when a label is outside the known set.
var ErrInvalidDifficulty = errors.New("invalid difficulty level")

// ParseDifficulty maps a stored label (Korean or English alias) to a Difficulty.
func ParseDifficulty(raw string) (Difficulty, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return DifficultyUnspecified, nil
	case string(DifficultyBasic), "basic":
		return DifficultyBasic, nil
	case string(DifficultyStandard), "standard":
		return DifficultyStandard, nil
	case string(DifficultyAdvanced), "advanced":
		return DifficultyAdvanced, nil
	case string(DifficultyExpert), "expert":
		return DifficultyExpert, nil
	default:
		return DifficultyUnspecified, fmt.Errorf("%w: %q", ErrInvalidDifficulty, raw)
	}
}

// DayType distinguishes regular study sessions from review sessions.
type DayType string

const (
	DayTypeStudy  DayType = "study"
	DayTypeReview DayType = "review"
)

// StudentLevel adjusts pacing for stronger or weaker students.
type StudentLevel string

const (
	LevelHigh   StudentLevel = "high"
	LevelMedium StudentLevel = "medium"
	LevelLow    StudentLevel = "low"
)

// ErrInvalidLevel is returned when a student level is outside the known set.
var ErrInvalidLevel = errors.New("invalid student level")

// ParseStudentLevel defaults an empty value to medium.
func ParseStudentLevel(raw string) (StudentLevel, error) {
	switch StudentLevel(strings.ToLower(strings.TrimSpace(raw))) {
	case "", LevelMedium:
		return LevelMedium, nil
	case LevelHigh:
		return LevelHigh, nil
	case LevelLow:
		return LevelLow, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, raw)
	}
}

// ContentKind names the variant of a content item.
type ContentKind string

const (
	KindBook    ContentKind = "book"
	KindLecture ContentKind = "lecture"
	KindCustom  ContentKind = "custom"
)

// Measure is the type-specific size of a content item. The set of
// implementations is closed to this package.
type Measure interface {
	Kind() ContentKind
	sealed()
}

// BookMeasure sizes a book by pages. A positive page range takes precedence
// over TotalPages.
type BookMeasure struct {
	TotalPages int
	StartPage  int
	EndPage    int
}

func (BookMeasure) Kind() ContentKind { return KindBook }
func (BookMeasure) sealed()           {}

// Pages returns the page count to schedule.
func (b BookMeasure) Pages() int {
	if b.EndPage > b.StartPage && b.StartPage >= 0 {
		return b.EndPage - b.StartPage
	}
	if b.TotalPages < 0 {
		return 0
	}
	return b.TotalPages
}

// LectureMeasure sizes a lecture by episodes.
type LectureMeasure struct {
	EpisodeDurations []int
	TotalDuration    int
	TotalEpisodes    int
	AssignedEpisodes int
}

func (LectureMeasure) Kind() ContentKind { return KindLecture }
func (LectureMeasure) sealed()           {}

// CustomMeasure holds a single figure that is pages at or above the page
// threshold and minutes below it.
type CustomMeasure struct {
	PageOrTime int
}

func (CustomMeasure) Kind() ContentKind { return KindCustom }
func (CustomMeasure) sealed()           {}

// Content is the engine view of one schedulable item.
type Content struct {
	ID         string
	Subject    string
	Difficulty Difficulty
	Measure    Measure
}

// Estimate is a duration figure plus a flag marking the legacy fallback.
type Estimate struct {
	Minutes  int  `json:"minutes"`
	Degraded bool `json:"degraded,omitempty"`
}

// DurationEstimator converts content size into study minutes.
type DurationEstimator struct {
	cfg    Config
	logger *zap.Logger
}

// NewDurationEstimator builds an estimator over an immutable config.
func NewDurationEstimator(cfg Config, logger *zap.Logger) *DurationEstimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DurationEstimator{cfg: cfg.withDefaults(), logger: logger}
}

// Estimate returns the minutes needed for content on the given day type at
// the given student level. Fractions are dropped once, at the end.
func (e *DurationEstimator) Estimate(content Content, dayType DayType, level StudentLevel) Estimate {
	var raw float64
	switch m := content.Measure.(type) {
	case BookMeasure:
		raw = float64(m.Pages()) * e.minutesPerPage(content.Difficulty)
	case LectureMeasure:
		raw = e.lectureMinutes(m)
	case CustomMeasure:
		if m.PageOrTime >= e.cfg.CustomPageThreshold {
			raw = float64(m.PageOrTime) * e.minutesPerPage(content.Difficulty)
		} else if m.PageOrTime > 0 {
			raw = float64(m.PageOrTime)
		}
	default:
		e.logger.Warn("duration estimate degraded to base unit",
			zap.String("content_id", content.ID),
			zap.Int("minutes", e.cfg.BaseUnitMinutes),
		)
		return Estimate{Minutes: e.cfg.BaseUnitMinutes, Degraded: true}
	}

	if dayType == DayTypeReview {
		raw *= e.cfg.ReviewRatio
	}
	raw *= e.levelCoefficient(level)
	return Estimate{Minutes: floorMinutes(raw)}
}

// ReviewMinutes discounts already studied minutes for a review session.
func (e *DurationEstimator) ReviewMinutes(studied int) int {
	return floorMinutes(float64(studied) * e.cfg.ReviewRatio)
}

func (e *DurationEstimator) minutesPerPage(d Difficulty) float64 {
	if v, ok := e.cfg.MinutesPerPage[d]; ok && v > 0 {
		return v
	}
	return e.cfg.DefaultMinutesPerPage
}

func (e *DurationEstimator) levelCoefficient(level StudentLevel) float64 {
	if v, ok := e.cfg.LevelCoefficients[level]; ok && v > 0 {
		return v
	}
	return 1
}

// lectureMinutes sums the stored episode durations and fills episodes
// without one from the lecture average, or the default episode length when
// the lecture has no totals.
func (e *DurationEstimator) lectureMinutes(m LectureMeasure) float64 {
	known, counted := 0, 0
	for _, d := range m.EpisodeDurations {
		if d > 0 {
			known += d
			counted++
		}
	}
	assigned := m.AssignedEpisodes
	if assigned <= 0 {
		assigned = m.TotalEpisodes
	}
	if assigned <= 0 {
		assigned = counted
	}
	if assigned <= 0 {
		assigned = 1
	}
	if counted >= assigned {
		return float64(known)
	}

	perEpisode := float64(e.cfg.DefaultEpisodeMinutes)
	if m.TotalDuration > 0 && m.TotalEpisodes > 0 {
		perEpisode = float64(m.TotalDuration) / float64(m.TotalEpisodes)
	}
	return float64(known) + perEpisode*float64(assigned-counted)
}

// floorMinutes drops fractional minutes. The epsilon absorbs binary
// representation error such as 0.1*3 != 0.3.
func floorMinutes(v float64) int {
	if v <= 0 {
		return 0
	}
	return int(math.Floor(v + 1e-9))
}

type durationKey struct {
	contentID string
	dayType   DayType
}

// DurationCache memoises estimates per (content, day type) for the lifetime
// of one scheduling run.
type DurationCache struct {
	estimator *DurationEstimator
	level     StudentLevel

	mu    sync.Mutex
	items map[durationKey]Estimate
}

// NewDurationCache scopes a cache to one estimator and student level.
func NewDurationCache(estimator *DurationEstimator, level StudentLevel) *DurationCache {
	return &DurationCache{estimator: estimator, level: level, items: make(map[durationKey]Estimate)}
}

// Get returns the cached estimate, computing it on first use.
func (c *DurationCache) Get(content Content, dayType DayType) Estimate {
	key := durationKey{contentID: content.ID, dayType: dayType}
	c.mu.Lock()
	defer c.mu.Unlock()
	if est, ok := c.items[key]; ok {
		return est
	}
	est := c.estimator.Estimate(content, dayType, c.level)
	c.items[key] = est
	return est
}
