package main

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/study-planner-api/internal/handler"
	"github.com/noah-isme/study-planner-api/internal/middleware"
	"github.com/noah-isme/study-planner-api/pkg/config"
	"github.com/noah-isme/study-planner-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/study-planner-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/study-planner-api/pkg/middleware/requestid"
)

func newRouter(cfg *config.Config, a *app, logr *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(a.metrics))

	checks := map[string]handler.Pinger{"postgres": a.db}
	if a.redis != nil {
		checks["redis"] = handler.PingerFunc(func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}
	metricsHandler := handler.NewMetricsHandler(a.metrics, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	prefix := "/" + strings.Trim(cfg.APIPrefix, "/")
	api := r.Group(prefix, middleware.WithResponseMeta())

	planGroupHandler := handler.NewPlanGroupHandler(a.planGroups)
	planningHandler := handler.NewPlanningHandler(a.planGroups, a.preview, a.reschedule, a.batch)
	availabilityHandler := handler.NewAvailabilityHandler(a.availability)

	if a.exports != nil {
		exportHandler := handler.NewExportHandler(a.planGroups, a.exports)
		// Signed tokens authorise downloads, so no bearer token is required.
		api.GET("/exports/download", exportHandler.Download)
		api.POST("/plan-groups/:id/export", middleware.JWT(a.tokens), middleware.RequireRoles(middleware.AllRoles...), exportHandler.Export)
	}

	secured := api.Group("", middleware.JWT(a.tokens), middleware.RequireRoles(middleware.AllRoles...))
	secured.POST("/availability", availabilityHandler.Compute)

	groups := secured.Group("/plan-groups")
	groups.POST("", planGroupHandler.Create)
	groups.GET("/:id", planGroupHandler.Get)
	groups.DELETE("/:id", planGroupHandler.Delete)
	groups.POST("/:id/restore", planGroupHandler.Restore)
	groups.GET("/:id/history", planGroupHandler.History)
	for _, action := range []string{"activate", "pause", "resume", "archive", "complete"} {
		groups.POST("/:id/"+action, planGroupHandler.Transition(action))
	}
	groups.POST("/:id/preview", planningHandler.Preview)
	groups.POST("/:id/conflicts", planningHandler.Conflicts)
	groups.POST("/:id/reschedule", planningHandler.Reschedule)

	batch := groups.Group("/reschedule/batch", middleware.RequireRoles(middleware.Staff...))
	batch.POST("", planningHandler.SubmitBatch)
	batch.GET("/:id", planningHandler.BatchStatus)

	system := secured.Group("/system", middleware.RequireRoles(middleware.Staff...))
	system.GET("/metrics", metricsHandler.Snapshot)

	return r
}
