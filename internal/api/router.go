package api

import (
	"github.com/gin-gonic/gin"

	"github.com/drumcap/hooklabs-elite-sub003/internal/middleware"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/config"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/health"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/logging"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/metrics"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/tracing"
)

// Dependencies are the collaborators of the HTTP router. Gateway is
// required; the others fall back to no-op or default implementations.
type Dependencies struct {
	Config  *config.Config
	Gateway Gateway
	Store   SummaryStore
	Live    LiveSummary
	Health  *health.Service
	Metrics *metrics.Metrics
	Tracer  *tracing.TracingService
	Logger  *logging.Logger
}

// NewRouter creates and configures the API router
func NewRouter(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}
	m := deps.Metrics
	if m == nil {
		m = &metrics.Metrics{}
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = tracing.NewNoopService()
	}
	healthService := deps.Health
	if healthService == nil {
		healthService = health.NewService(logger, nil)
	}

	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(logger, m))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(tracer.TracingMiddleware())
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.ErrorLoggingMiddleware(logger))
	router.Use(CORSMiddleware(cfg.Server.CORSOrigins))
	router.Use(SecurityHeadersMiddleware())
	router.Use(m.PrometheusMiddleware())

	router.GET("/health", healthService.Handler())
	router.GET("/health/live", healthService.LivenessHandler())
	if cfg.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	handler := NewGatewayHandler(deps.Gateway, deps.Store, deps.Live)

	v1 := router.Group("/api/v1")
	v1.Use(ServiceAuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer))
	{
		gw := v1.Group("/gateway")
		gw.POST("/calls", handler.Call)
		gw.GET("/results/:id", handler.GetResult)
		gw.POST("/batches/:dependency", handler.ProcessBatch)
		gw.GET("/dependencies", handler.Dependencies)
		gw.DELETE("/cache/tags/:tag", handler.InvalidateCacheTag)
		gw.GET("/metrics/summary", handler.MetricsSummary)
	}

	router.NoRoute(func(c *gin.Context) {
		NotFoundResponse(c, "route not found")
	})

	return router
}
