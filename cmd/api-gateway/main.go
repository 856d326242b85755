package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/study-planner-api/api/swagger"
	"github.com/noah-isme/study-planner-api/internal/lock"
	"github.com/noah-isme/study-planner-api/internal/repository"
	"github.com/noah-isme/study-planner-api/internal/scheduler"
	"github.com/noah-isme/study-planner-api/internal/service"
	"github.com/noah-isme/study-planner-api/pkg/cache"
	"github.com/noah-isme/study-planner-api/pkg/config"
	"github.com/noah-isme/study-planner-api/pkg/database"
	"github.com/noah-isme/study-planner-api/pkg/export"
	"github.com/noah-isme/study-planner-api/pkg/jobs"
	"github.com/noah-isme/study-planner-api/pkg/logger"
	"github.com/noah-isme/study-planner-api/pkg/storage"
)

// @title Study Planner API
// @version 1.0.0
// @description Study plan scheduling, preview and transactional rescheduling.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	// Redis is optional unless it backs the plan group lock.
	rdb, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		if cfg.Lock.Backend == config.LockBackendRedis {
			logr.Fatal("redis required by lock backend", zap.Error(err))
		}
		logr.Warn("redis unavailable, preview cache disabled", zap.Error(err))
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close() //nolint:errcheck
	}

	app, err := buildApp(cfg, db, rdb, logr)
	if err != nil {
		logr.Fatal("failed to wire application", zap.Error(err))
	}
	app.start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, app, logr),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}
	app.batchQueue.Stop()
	logr.Info("server stopped")
}

// app holds the wired services that handlers and background loops share.
type app struct {
	db    *sqlx.DB
	redis *redis.Client

	metrics      *service.MetricsService
	tokens       *service.TokenService
	availability *service.AvailabilityService
	planGroups   *service.PlanGroupService
	preview      *service.PreviewService
	reschedule   *service.RescheduleService
	batch        *service.BatchRescheduleService
	exports      *service.ExportService
	batchQueue   *jobs.Queue
}

func buildApp(cfg *config.Config, db *sqlx.DB, rdb *redis.Client, logr *zap.Logger) (*app, error) {
	validate := validator.New()
	metrics := service.NewMetricsService()

	planGroupRepo := repository.NewPlanGroupRepository(db)
	planRepo := repository.NewPlanRepository(db)
	logRepo := repository.NewRescheduleLogRepository(db)
	contentRepo := repository.NewContentRepository(db)
	blockSetRepo := repository.NewBlockSetRepository(db)
	exclusionRepo := repository.NewExclusionRepository(db)

	var previewCache *service.CacheService
	if rdb != nil {
		cacheRepo := repository.NewCacheRepository(rdb, cfg.Redis.KeyPrefix, logr)
		previewCache = service.NewCacheService(cacheRepo, metrics, cfg.Preview.CacheTTL, logr, cfg.Preview.CacheEnabled)
	}

	locker, err := newLocker(cfg.Lock, db, rdb)
	if err != nil {
		return nil, err
	}

	engineCfg := schedulerConfig(cfg.Scheduler)
	estimator := scheduler.NewDurationEstimator(engineCfg, logr)
	allocator := scheduler.NewAllocator(engineCfg, estimator, logr)

	resolver := service.NewContentResolverService(contentRepo, estimator, logr)
	availability := service.NewAvailabilityService(blockSetRepo, exclusionRepo, validate, logr)

	a := &app{db: db, redis: rdb, metrics: metrics, availability: availability}
	a.tokens = service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})
	a.planGroups = service.NewPlanGroupService(planGroupRepo, logRepo, validate, logr, service.PlanGroupConfig{
		Retention:     cfg.PlanGroups.Retention,
		SweepInterval: cfg.PlanGroups.SweepInterval,
		MaxContents:   engineCfg.MaxContentsPerGroup,
	})
	a.preview = service.NewPreviewService(planGroupRepo, planRepo, resolver, availability, allocator, previewCache, metrics, validate, logr,
		service.PreviewConfig{CacheTTL: cfg.Preview.CacheTTL})
	a.reschedule = service.NewRescheduleService(planGroupRepo, planRepo, logRepo, resolver, availability, allocator, locker, previewCache, metrics, validate, logr)

	a.batch = service.NewBatchRescheduleService(a.reschedule, metrics, validate, logr, service.BatchConfig{
		ResultTTL:       time.Hour,
		CleanupInterval: 10 * time.Minute,
	})
	a.batchQueue = jobs.NewQueue("reschedule-batch", a.batch.ProcessJob, jobs.QueueConfig{
		Workers:     cfg.Batch.Workers,
		BufferSize:  cfg.Batch.BufferSize,
		MaxRetries:  cfg.Batch.Retries,
		RetryDelay:  500 * time.Millisecond,
		Retryable:   service.Retryable,
		OnExhausted: a.batch.HandleExhausted,
		Logger:      logr,
	})
	a.batch.AttachQueue(a.batchQueue)

	if cfg.Exports.Enabled {
		files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			return nil, fmt.Errorf("init export storage: %w", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		var csvOpts []export.CSVOption
		if cfg.Exports.CSVByteOrderMark {
			csvOpts = append(csvOpts, export.WithBOM())
		}
		a.exports = service.NewExportService(planGroupRepo, planRepo, files, signer, service.ExportConfig{
			APIPrefix:       cfg.APIPrefix,
			ResultTTL:       cfg.Exports.SignedURLTTL,
			CleanupInterval: cfg.Exports.CleanupInterval,
		}, logr, export.NewCSVExporter(csvOpts...), nil)
	}
	return a, nil
}

func (a *app) start(ctx context.Context) {
	a.batchQueue.Start(ctx)
	a.batch.StartCleanup(ctx)
	a.planGroups.StartPurgeSweeper(ctx)
	if a.exports != nil {
		a.exports.StartCleanup(ctx)
	}
}

func newLocker(cfg config.LockConfig, db *sqlx.DB, rdb *redis.Client) (lock.Locker, error) {
	switch cfg.Backend {
	case "", config.LockBackendMemory:
		return lock.NewMemoryLocker(cfg.TTL), nil
	case config.LockBackendRedis:
		if rdb == nil {
			return nil, errors.New("redis lock backend requires a redis connection")
		}
		return lock.NewRedisLocker(rdb, cfg.TTL), nil
	case config.LockBackendPostgres:
		return lock.NewPostgresLocker(db), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

func schedulerConfig(c config.SchedulerConfig) scheduler.Config {
	cfg := scheduler.DefaultConfig()
	cfg.MinutesPerPage = map[scheduler.Difficulty]float64{
		scheduler.DifficultyBasic:    c.MinutesPerPageBasic,
		scheduler.DifficultyStandard: c.MinutesPerPageStandard,
		scheduler.DifficultyAdvanced: c.MinutesPerPageAdvanced,
		scheduler.DifficultyExpert:   c.MinutesPerPageExpert,
	}
	cfg.DefaultMinutesPerPage = c.MinutesPerPageStandard
	cfg.ReviewRatio = c.ReviewRatio
	cfg.LevelCoefficients = map[scheduler.StudentLevel]float64{
		scheduler.LevelHigh:   c.LevelCoefHigh,
		scheduler.LevelMedium: c.LevelCoefMedium,
		scheduler.LevelLow:    c.LevelCoefLow,
	}
	cfg.DefaultEpisodeMinutes = c.DefaultEpisodeMinutes
	cfg.BaseUnitMinutes = c.BaseUnitMinutes
	cfg.CustomPageThreshold = c.CustomPageThreshold
	cfg.MaxContentsPerGroup = c.MaxContentsPerGroup
	cfg.MaxSkewFactor = c.MaxSkewFactor
	cfg.WeakRiskThreshold = c.WeakRiskThreshold
	cfg.StudyDays = c.StudyDays
	cfg.ReviewDays = c.ReviewDays
	cfg.WeightWeakness = c.WeightWeakness
	cfg.WeightRecency = c.WeightRecency
	cfg.WeightBalance = c.WeightBalance
	cfg.RecencyHorizonDays = c.RecencyHorizonDays
	return cfg
}
