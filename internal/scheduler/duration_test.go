package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationEstimatorBookRoundTrip(t *testing.T) {
	est := NewDurationEstimator(DefaultConfig(), nil)
	book := Content{ID: "book-1", Difficulty: DifficultyStandard, Measure: BookMeasure{TotalPages: 100}}

	assert.Equal(t, 600, est.Estimate(book, DayTypeStudy, LevelMedium).Minutes)
	assert.Equal(t, 300, est.Estimate(book, DayTypeReview, LevelMedium).Minutes)
	assert.Equal(t, 720, est.Estimate(book, DayTypeStudy, LevelLow).Minutes)
	assert.Equal(t, 480, est.Estimate(book, DayTypeStudy, LevelHigh).Minutes)
}

func TestDurationEstimatorDifficultyTable(t *testing.T) {
	est := NewDurationEstimator(DefaultConfig(), nil)
	cases := []struct {
		difficulty Difficulty
		want       int
	}{
		{DifficultyBasic, 40},
		{DifficultyStandard, 60},
		{DifficultyAdvanced, 80},
		{DifficultyExpert, 100},
		{DifficultyUnspecified, 60},
	}
	for _, tc := range cases {
		content := Content{ID: "b", Difficulty: tc.difficulty, Measure: BookMeasure{TotalPages: 10}}
		assert.Equal(t, tc.want, est.Estimate(content, DayTypeStudy, LevelMedium).Minutes, string(tc.difficulty))
	}
}

func TestDurationEstimatorBookPageRange(t *testing.T) {
	est := NewDurationEstimator(DefaultConfig(), nil)
	content := Content{ID: "b", Difficulty: DifficultyBasic, Measure: BookMeasure{TotalPages: 300, StartPage: 20, EndPage: 50}}
	assert.Equal(t, 120, est.Estimate(content, DayTypeStudy, LevelMedium).Minutes)
}

func TestDurationEstimatorLecture(t *testing.T) {
	est := NewDurationEstimator(DefaultConfig(), nil)

	known := Content{ID: "l1", Measure: LectureMeasure{EpisodeDurations: []int{25, 30, 35}}}
	assert.Equal(t, 90, est.Estimate(known, DayTypeStudy, LevelMedium).Minutes)

	averaged := Content{ID: "l2", Measure: LectureMeasure{TotalDuration: 400, TotalEpisodes: 10, AssignedEpisodes: 3}}
	assert.Equal(t, 120, est.Estimate(averaged, DayTypeStudy, LevelMedium).Minutes)

	unknown := Content{ID: "l3", Measure: LectureMeasure{AssignedEpisodes: 4}}
	assert.Equal(t, 120, est.Estimate(unknown, DayTypeStudy, LevelMedium).Minutes)

	// two of four assigned episodes have stored durations
	partial := Content{ID: "l5", Measure: LectureMeasure{EpisodeDurations: []int{25, 35}, TotalDuration: 400, TotalEpisodes: 10, AssignedEpisodes: 4}}
	assert.Equal(t, 140, est.Estimate(partial, DayTypeStudy, LevelMedium).Minutes)

	noTotals := Content{ID: "l6", Measure: LectureMeasure{EpisodeDurations: []int{20, 0}, AssignedEpisodes: 3}}
	assert.Equal(t, 80, est.Estimate(noTotals, DayTypeStudy, LevelMedium).Minutes)

	// difficulty does not scale lectures
	hard := Content{ID: "l4", Difficulty: DifficultyExpert, Measure: LectureMeasure{EpisodeDurations: []int{40}}}
	assert.Equal(t, 40, est.Estimate(hard, DayTypeStudy, LevelMedium).Minutes)
}

func TestDurationEstimatorCustomThreshold(t *testing.T) {
	est := NewDurationEstimator(DefaultConfig(), nil)

	pages := Content{ID: "c1", Difficulty: DifficultyBasic, Measure: CustomMeasure{PageOrTime: 100}}
	assert.Equal(t, 400, est.Estimate(pages, DayTypeStudy, LevelMedium).Minutes)

	minutes := Content{ID: "c2", Difficulty: DifficultyExpert, Measure: CustomMeasure{PageOrTime: 99}}
	assert.Equal(t, 99, est.Estimate(minutes, DayTypeStudy, LevelMedium).Minutes)
}

func TestDurationEstimatorFloorsOnce(t *testing.T) {
	est := NewDurationEstimator(DefaultConfig(), nil)
	// 45 * 0.5 * 1.2 = 27 exactly; flooring mid-way would give 26.
	content := Content{ID: "c", Measure: CustomMeasure{PageOrTime: 45}}
	assert.Equal(t, 27, est.Estimate(content, DayTypeReview, LevelLow).Minutes)

	odd := Content{ID: "o", Measure: CustomMeasure{PageOrTime: 35}}
	assert.Equal(t, 14, est.Estimate(odd, DayTypeReview, LevelHigh).Minutes)
}

func TestDurationEstimatorDegradesUnknownMeasure(t *testing.T) {
	est := NewDurationEstimator(DefaultConfig(), nil)
	got := est.Estimate(Content{ID: "legacy"}, DayTypeStudy, LevelLow)
	assert.Equal(t, Estimate{Minutes: 60, Degraded: true}, got)
}

func TestDurationEstimatorTunableConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReviewRatio = 0.25
	cfg.LevelCoefficients = map[StudentLevel]float64{LevelMedium: 1, LevelLow: 1.5, LevelHigh: 0.5}
	est := NewDurationEstimator(cfg, nil)
	book := Content{ID: "b", Difficulty: DifficultyStandard, Measure: BookMeasure{TotalPages: 100}}
	assert.Equal(t, 150, est.Estimate(book, DayTypeReview, LevelMedium).Minutes)
	assert.Equal(t, 900, est.Estimate(book, DayTypeStudy, LevelLow).Minutes)
}

func TestParseDifficulty(t *testing.T) {
	d, err := ParseDifficulty("심화")
	require.NoError(t, err)
	assert.Equal(t, DifficultyAdvanced, d)

	d, err = ParseDifficulty("Basic")
	require.NoError(t, err)
	assert.Equal(t, DifficultyBasic, d)

	_, err = ParseDifficulty("impossible")
	assert.ErrorIs(t, err, ErrInvalidDifficulty)
}

func TestParseStudentLevel(t *testing.T) {
	l, err := ParseStudentLevel("")
	require.NoError(t, err)
	assert.Equal(t, LevelMedium, l)

	_, err = ParseStudentLevel("genius")
	assert.ErrorIs(t, err, ErrInvalidLevel)
}

func TestDurationCacheMemoises(t *testing.T) {
	est := NewDurationEstimator(DefaultConfig(), nil)
	cache := NewDurationCache(est, LevelMedium)
	content := Content{ID: "b", Measure: BookMeasure{TotalPages: 10}}

	first := cache.Get(content, DayTypeStudy)
	content.Measure = BookMeasure{TotalPages: 1000}
	second := cache.Get(content, DayTypeStudy)

	assert.Equal(t, first, second)
	assert.Equal(t, 3000, cache.Get(content, DayTypeReview).Minutes)
}
