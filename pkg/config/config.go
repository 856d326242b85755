package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const (
	devJWTSecret     = "dev_secret"
	devExportsSecret = "dev_exports_secret"
)

// Lock backends supported by the plan group lock.
const (
	LockBackendMemory   = "memory"
	LockBackendRedis    = "redis"
	LockBackendPostgres = "postgres"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Scheduler  SchedulerConfig
	Lock       LockConfig
	Preview    PreviewConfig
	PlanGroups PlanGroupConfig
	Exports    ExportsConfig
	Batch      BatchConfig
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

type RedisConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulerConfig carries the tunable constants of the allocation engine.
type SchedulerConfig struct {
	ReviewRatio            float64
	LevelCoefHigh          float64
	LevelCoefMedium        float64
	LevelCoefLow           float64
	MinutesPerPageBasic    float64
	MinutesPerPageStandard float64
	MinutesPerPageAdvanced float64
	MinutesPerPageExpert   float64
	DefaultEpisodeMinutes  int
	BaseUnitMinutes        int
	CustomPageThreshold    int
	MaxContentsPerGroup    int
	MaxSkewFactor          float64
	WeakRiskThreshold      float64
	StudyDays              int
	ReviewDays             int
	WeightWeakness         float64
	WeightRecency          float64
	WeightBalance          float64
	RecencyHorizonDays     int
}

// LockConfig selects the plan group lock backend.
type LockConfig struct {
	Backend string
	TTL     time.Duration
}

// PreviewConfig governs caching of timeline previews.
type PreviewConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// PlanGroupConfig controls the soft delete retention window.
type PlanGroupConfig struct {
	Retention     time.Duration
	SweepInterval time.Duration
}

// ExportsConfig configures timetable export storage.
type ExportsConfig struct {
	Enabled          bool
	StorageDir       string
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	CleanupInterval  time.Duration
	CSVByteOrderMark bool
}

// BatchConfig tunes the batch reschedule worker pool.
type BatchConfig struct {
	Workers    int
	Retries    int
	BufferSize int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:            v.GetString("DB_HOST"),
		Port:            v.GetInt("DB_PORT"),
		User:            v.GetString("DB_USER"),
		Password:        v.GetString("DB_PASSWORD"),
		Name:            v.GetString("DB_NAME"),
		SSLMode:         v.GetString("DB_SSL_MODE"),
		MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		ConnMaxLifetime: parseDuration(v.GetString("DB_CONN_MAX_LIFETIME"), time.Hour),
		ConnectTimeout:  parseDuration(v.GetString("DB_CONNECT_TIMEOUT"), 5*time.Second),
	}

	cfg.Redis = RedisConfig{
		Enabled:   v.GetBool("REDIS_ENABLED"),
		Host:      v.GetString("REDIS_HOST"),
		Port:      v.GetInt("REDIS_PORT"),
		Password:  v.GetString("REDIS_PASSWORD"),
		DB:        v.GetInt("REDIS_DB"),
		PoolSize:  v.GetInt("REDIS_POOL_SIZE"),
		KeyPrefix: v.GetString("REDIS_KEY_PREFIX"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Scheduler = SchedulerConfig{
		ReviewRatio:            v.GetFloat64("REVIEW_RATIO"),
		LevelCoefHigh:          v.GetFloat64("LEVEL_COEF_HIGH"),
		LevelCoefMedium:        v.GetFloat64("LEVEL_COEF_MEDIUM"),
		LevelCoefLow:           v.GetFloat64("LEVEL_COEF_LOW"),
		MinutesPerPageBasic:    v.GetFloat64("MINUTES_PER_PAGE_BASIC"),
		MinutesPerPageStandard: v.GetFloat64("MINUTES_PER_PAGE_STANDARD"),
		MinutesPerPageAdvanced: v.GetFloat64("MINUTES_PER_PAGE_ADVANCED"),
		MinutesPerPageExpert:   v.GetFloat64("MINUTES_PER_PAGE_EXPERT"),
		DefaultEpisodeMinutes:  v.GetInt("DEFAULT_EPISODE_MINUTES"),
		BaseUnitMinutes:        v.GetInt("BASE_UNIT_MINUTES"),
		CustomPageThreshold:    v.GetInt("CUSTOM_PAGE_THRESHOLD"),
		MaxContentsPerGroup:    v.GetInt("MAX_CONTENTS_PER_GROUP"),
		MaxSkewFactor:          v.GetFloat64("MAX_SKEW_FACTOR"),
		WeakRiskThreshold:      v.GetFloat64("WEAK_RISK_THRESHOLD"),
		StudyDays:              v.GetInt("STUDY_DAYS"),
		ReviewDays:             v.GetInt("REVIEW_DAYS"),
		WeightWeakness:         v.GetFloat64("WEIGHT_WEAKNESS"),
		WeightRecency:          v.GetFloat64("WEIGHT_RECENCY"),
		WeightBalance:          v.GetFloat64("WEIGHT_BALANCE"),
		RecencyHorizonDays:     v.GetInt("RECENCY_HORIZON_DAYS"),
	}

	cfg.Lock = LockConfig{
		Backend: strings.ToLower(v.GetString("LOCK_BACKEND")),
		TTL:     parseDuration(v.GetString("LOCK_TTL"), 0),
	}

	cfg.Preview = PreviewConfig{
		CacheEnabled: v.GetBool("PREVIEW_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("PREVIEW_CACHE_TTL"), 10*time.Minute),
	}

	cfg.PlanGroups = PlanGroupConfig{
		Retention:     parseDuration(v.GetString("PLAN_GROUP_RETENTION"), 720*time.Hour),
		SweepInterval: parseDuration(v.GetString("PLAN_GROUP_SWEEP_INTERVAL"), time.Hour),
	}

	cfg.Exports = ExportsConfig{
		Enabled:          v.GetBool("ENABLE_EXPORTS"),
		StorageDir:       v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret:  v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval:  parseDuration(v.GetString("EXPORTS_CLEANUP_INTERVAL"), time.Hour),
		CSVByteOrderMark: v.GetBool("EXPORTS_CSV_BOM"),
	}

	cfg.Batch = BatchConfig{
		Workers:    v.GetInt("BATCH_WORKERS"),
		Retries:    v.GetInt("BATCH_RETRIES"),
		BufferSize: v.GetInt("BATCH_BUFFER_SIZE"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the planner cannot run with. Production refuses
// the development secrets.
func (c *Config) Validate() error {
	var problems []string
	switch c.Lock.Backend {
	case LockBackendMemory, LockBackendRedis, LockBackendPostgres:
	default:
		problems = append(problems, fmt.Sprintf("LOCK_BACKEND %q is not one of memory, redis, postgres", c.Lock.Backend))
	}
	if c.Lock.Backend == LockBackendRedis && !c.Redis.Enabled {
		problems = append(problems, "LOCK_BACKEND=redis requires REDIS_ENABLED")
	}
	// The engine reads zero as "use the default", so zero is not a valid setting.
	if r := c.Scheduler.ReviewRatio; r <= 0 || r > 1 {
		problems = append(problems, "REVIEW_RATIO must be within (0,1]")
	}
	if c.Scheduler.StudyDays < 1 || c.Scheduler.ReviewDays < 1 {
		problems = append(problems, "STUDY_DAYS and REVIEW_DAYS must be positive")
	}
	if c.Batch.Workers < 1 {
		problems = append(problems, "BATCH_WORKERS must be positive")
	}
	if c.Env == EnvProduction {
		if c.JWT.Secret == "" || c.JWT.Secret == devJWTSecret {
			problems = append(problems, "JWT_SECRET must be set in production")
		}
		if c.Exports.Enabled && (c.Exports.SignedURLSecret == "" || c.Exports.SignedURLSecret == devExportsSecret) {
			problems = append(problems, "EXPORTS_SIGNED_URL_SECRET must be set in production")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "study_planner")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DB_CONNECT_TIMEOUT", "5s")

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_KEY_PREFIX", "planner")

	v.SetDefault("JWT_SECRET", devJWTSecret)
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("REVIEW_RATIO", 0.5)
	v.SetDefault("LEVEL_COEF_HIGH", 0.8)
	v.SetDefault("LEVEL_COEF_MEDIUM", 1.0)
	v.SetDefault("LEVEL_COEF_LOW", 1.2)
	v.SetDefault("MINUTES_PER_PAGE_BASIC", 4)
	v.SetDefault("MINUTES_PER_PAGE_STANDARD", 6)
	v.SetDefault("MINUTES_PER_PAGE_ADVANCED", 8)
	v.SetDefault("MINUTES_PER_PAGE_EXPERT", 10)
	v.SetDefault("DEFAULT_EPISODE_MINUTES", 30)
	v.SetDefault("BASE_UNIT_MINUTES", 60)
	v.SetDefault("CUSTOM_PAGE_THRESHOLD", 100)
	v.SetDefault("MAX_CONTENTS_PER_GROUP", 9)
	v.SetDefault("MAX_SKEW_FACTOR", 1.5)
	v.SetDefault("WEAK_RISK_THRESHOLD", 30)
	v.SetDefault("STUDY_DAYS", 6)
	v.SetDefault("REVIEW_DAYS", 1)
	v.SetDefault("WEIGHT_WEAKNESS", 0.5)
	v.SetDefault("WEIGHT_RECENCY", 0.3)
	v.SetDefault("WEIGHT_BALANCE", 0.2)
	v.SetDefault("RECENCY_HORIZON_DAYS", 14)

	v.SetDefault("LOCK_BACKEND", LockBackendMemory)
	v.SetDefault("LOCK_TTL", "0s")

	v.SetDefault("PREVIEW_CACHE_ENABLED", false)
	v.SetDefault("PREVIEW_CACHE_TTL", "10m")

	v.SetDefault("PLAN_GROUP_RETENTION", "720h")
	v.SetDefault("PLAN_GROUP_SWEEP_INTERVAL", "1h")

	v.SetDefault("ENABLE_EXPORTS", true)
	v.SetDefault("EXPORTS_CSV_BOM", true)
	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", devExportsSecret)
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("EXPORTS_CLEANUP_INTERVAL", "1h")

	v.SetDefault("BATCH_WORKERS", 2)
	v.SetDefault("BATCH_RETRIES", 1)
	v.SetDefault("BATCH_BUFFER_SIZE", 64)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
