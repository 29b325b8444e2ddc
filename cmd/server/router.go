package main

import (
	"fmt"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/ZanzyTHEbar/babblebear/internal/cache"
	"github.com/ZanzyTHEbar/babblebear/internal/config"
	"github.com/ZanzyTHEbar/babblebear/internal/dashboard"
	_ "github.com/ZanzyTHEbar/babblebear/internal/docs"
	apperrors "github.com/ZanzyTHEbar/babblebear/internal/errors"
	"github.com/ZanzyTHEbar/babblebear/internal/middleware"
	"github.com/ZanzyTHEbar/babblebear/internal/monitoring"
	"github.com/ZanzyTHEbar/babblebear/internal/ratelimit"
	"github.com/ZanzyTHEbar/babblebear/internal/resilience"
	"github.com/ZanzyTHEbar/babblebear/internal/security"
)

type statsFunc func() map[string]interface{}

// routerDeps is everything the HTTP layer needs.
type routerDeps struct {
	cfg       *config.Config
	service   *dashboard.Service
	metrics   *monitoring.Metrics
	logger    *monitoring.Logger
	health    *resilience.HealthRegistry
	breakers  *resilience.CircuitBreakerRegistry
	cache     *cache.Cache
	compress  *middleware.CompressionMiddleware
	limiter   *ratelimit.RateLimiter
	security  *security.SecurityMiddleware
	tokenInfo config.TokenInfo
	memory    *monitoring.MemoryMonitor
	stores    map[string]statsFunc
}

// cachedRoutes are GET routes whose responses are served from the cache.
var cachedRoutes = []string{
	"/dashboard",
	"/children",
	"/children/:id/recordings",
	"/children/:id/assessments",
}

func setupRouter(deps *routerDeps) (*gin.Engine, error) {
	r := gin.New()

	if err := r.SetTrustedProxies(deps.cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("setting trusted proxies: %w", err)
	}

	sec := deps.security

	// monitoring first so every request is counted, including rejected ones
	r.Use(monitoring.RequestIDMiddleware())
	r.Use(apperrors.RecoveryHandler())
	r.Use(monitoring.MonitoringMiddleware(deps.metrics, deps.logger))
	r.Use(monitoring.SecurityMonitoringMiddleware(deps.logger, sec.Config().MaxUploadBytes))
	r.Use(apperrors.ErrorHandler())

	r.Use(security.SecurityHeadersMiddleware(sec.Config().EnableHSTS))
	r.Use(sec.CORS())
	r.Use(deps.limiter.IPRateLimitMiddleware("/health"))
	r.Use(sec.RequestTimeout)
	r.Use(sec.ValidateContentType)
	r.Use(sec.LimitUploadSize)
	r.Use(deps.compress.Handler())

	r.Use(deps.cache.InvalidateMiddleware())
	r.Use(deps.cache.Middleware(deps.metrics, cachedRoutes...))

	h := &handlers{deps: deps}

	r.GET("/health", h.health)
	r.GET("/metrics", h.metricsSnapshot)
	r.GET("/cache/stats", h.cacheStats)
	r.GET("/ratelimit/status", deps.limiter.HandleRateLimitStatus())

	r.GET("/dashboard", h.dashboard)

	r.GET("/children", h.listChildren)
	r.POST("/children", h.createChild)
	r.PUT("/children/:id", h.updateChild)
	r.GET("/children/:id/score", h.childScore)
	r.GET("/children/:id/recordings", h.childRecordings)
	r.GET("/children/:id/assessments", h.listAssessments)
	r.POST("/children/:id/assessments", h.generateAssessment)

	r.POST("/recordings", h.uploadRecording)

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r, nil
}
