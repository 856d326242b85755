package scheduler

// Config carries the tunable constants of the engine. It is passed by value
// into the estimator and allocator so a scheduling run never observes a
// change mid-flight.
type Config struct {
	MinutesPerPage        map[Difficulty]float64
	DefaultMinutesPerPage float64
	ReviewRatio           float64
	LevelCoefficients     map[StudentLevel]float64
	DefaultEpisodeMinutes int
	BaseUnitMinutes       int
	CustomPageThreshold   int

	MaxContentsPerGroup int
	MaxSkewFactor       float64
	WeakRiskThreshold   float64
	StudyDays           int
	ReviewDays          int

	WeightWeakness     float64
	WeightRecency      float64
	WeightBalance      float64
	RecencyHorizonDays int
}

// DefaultConfig returns the stock tuning used when no overrides are given.
func DefaultConfig() Config {
	return Config{
		MinutesPerPage: map[Difficulty]float64{
			DifficultyBasic:    4,
			DifficultyStandard: 6,
			DifficultyAdvanced: 8,
			DifficultyExpert:   10,
		},
		DefaultMinutesPerPage: 6,
		ReviewRatio:           0.5,
		LevelCoefficients: map[StudentLevel]float64{
			LevelHigh:   0.8,
			LevelMedium: 1.0,
			LevelLow:    1.2,
		},
		DefaultEpisodeMinutes: 30,
		BaseUnitMinutes:       60,
		CustomPageThreshold:   100,
		MaxContentsPerGroup:   9,
		MaxSkewFactor:         1.5,
		WeakRiskThreshold:     30,
		StudyDays:             6,
		ReviewDays:            1,
		WeightWeakness:        0.5,
		WeightRecency:         0.3,
		WeightBalance:         0.2,
		RecencyHorizonDays:    14,
	}
}

// withDefaults fills zero values from DefaultConfig so partially specified
// configs stay usable.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if len(c.MinutesPerPage) == 0 {
		c.MinutesPerPage = def.MinutesPerPage
	}
	if c.DefaultMinutesPerPage <= 0 {
		c.DefaultMinutesPerPage = def.DefaultMinutesPerPage
	}
	if c.ReviewRatio <= 0 {
		c.ReviewRatio = def.ReviewRatio
	}
	if len(c.LevelCoefficients) == 0 {
		c.LevelCoefficients = def.LevelCoefficients
	}
	if c.DefaultEpisodeMinutes <= 0 {
		c.DefaultEpisodeMinutes = def.DefaultEpisodeMinutes
	}
	if c.BaseUnitMinutes <= 0 {
		c.BaseUnitMinutes = def.BaseUnitMinutes
	}
	if c.CustomPageThreshold <= 0 {
		c.CustomPageThreshold = def.CustomPageThreshold
	}
	if c.MaxContentsPerGroup <= 0 {
		c.MaxContentsPerGroup = def.MaxContentsPerGroup
	}
	if c.MaxSkewFactor < 1 {
		c.MaxSkewFactor = def.MaxSkewFactor
	}
	if c.WeakRiskThreshold <= 0 {
		c.WeakRiskThreshold = def.WeakRiskThreshold
	}
	if c.StudyDays <= 0 {
		c.StudyDays = def.StudyDays
	}
	if c.ReviewDays <= 0 {
		c.ReviewDays = def.ReviewDays
	}
	if c.WeightWeakness == 0 && c.WeightRecency == 0 && c.WeightBalance == 0 {
		c.WeightWeakness = def.WeightWeakness
		c.WeightRecency = def.WeightRecency
		c.WeightBalance = def.WeightBalance
	}
	if c.RecencyHorizonDays <= 0 {
		c.RecencyHorizonDays = def.RecencyHorizonDays
	}
	return c
}
