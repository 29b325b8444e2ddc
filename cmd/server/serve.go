package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/babblebear/internal/adapters"
	"github.com/ZanzyTHEbar/babblebear/internal/cache"
	"github.com/ZanzyTHEbar/babblebear/internal/config"
	"github.com/ZanzyTHEbar/babblebear/internal/dashboard"
	"github.com/ZanzyTHEbar/babblebear/internal/database"
	apperrors "github.com/ZanzyTHEbar/babblebear/internal/errors"
	"github.com/ZanzyTHEbar/babblebear/internal/middleware"
	"github.com/ZanzyTHEbar/babblebear/internal/monitoring"
	"github.com/ZanzyTHEbar/babblebear/internal/ratelimit"
	"github.com/ZanzyTHEbar/babblebear/internal/resilience"
	"github.com/ZanzyTHEbar/babblebear/internal/security"
)

const (
	memorySampleInterval = 30 * time.Second
	memoryPressure       = 0.85
	pruneInterval        = 24 * time.Hour
)

var serveCmd = &cli.Command{
	Name:   "serve",
	Usage:  "Run the dashboard API server",
	Action: runServe,
}

func runServe(c *cli.Context) error {
	cfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return err
	}
	if c.Bool(debugFlag.Name) {
		cfg.Logging.Level = "debug"
	}

	logger := monitoring.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger.Logger)

	token, err := config.NewTokenSource().Token()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, token, logger)
}

// application owns every long-lived component of a running server.
type application struct {
	deps    *routerDeps
	db      *database.DB
	backend *adapters.BackendClient
	redis   *ratelimit.RedisClient
	pruner  *dashboard.HistoryPruner
	memory  *monitoring.MemoryMonitor
}

func newApplication(ctx context.Context, cfg *config.Config, token string, logger *monitoring.Logger) (*application, error) {
	metrics := monitoring.NewMetrics()
	health := resilience.NewHealthRegistry(resilience.DefaultHealthConfig())
	breakers := resilience.NewCircuitBreakerRegistry()

	pool := resilience.NewConnectionPool(resilience.PoolConfig{
		MaxIdle:     10,
		MaxActive:   20,
		IdleTimeout: 90 * time.Second,
		Timeout:     cfg.Backend.Timeout,
	})

	backend, err := adapters.NewBackendClient(cfg.Backend, token, adapters.Options{
		Breakers: breakers,
		Health:   health,
		Pool:     pool,
		Observer: &monitoring.BackendObserver{APIName: adapters.ServiceName, Metrics: metrics, Logger: logger},
	})
	if err != nil {
		return nil, apperrors.NewConfigurationError("backend client", err)
	}
	health.Register(adapters.ServiceName, backend.Ping)

	db, err := database.NewDB(cfg.Storage.DataDir)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("opening score history: %w", err)
	}
	repo := database.NewRepository(db)

	redisClient, err := ratelimit.NewRedisClient(ctx, cfg.RateLimit)
	if err != nil {
		slog.Warn("Redis unavailable, rate limiting in memory", "error", err)
	}
	if redisClient.IsEnabled() {
		health.Register("redis", redisClient.HealthCheck)
	}
	limiter := ratelimit.NewRateLimiter(redisClient, ratelimit.ConfigFrom(cfg.RateLimit), metrics)

	service := dashboard.NewService(backend, repo, dashboard.Options{
		Metrics: metrics,
		Logger:  logger,
	})

	tokenInfo := config.InspectToken(token, time.Now())
	if tokenInfo.Expired {
		logger.SecurityLogger("api_token_expired", "", "", map[string]interface{}{"expires_at": tokenInfo.ExpiresAt})
	} else if tokenInfo.ExpiringSoon {
		logger.SecurityLogger("api_token_expiring", "", "", map[string]interface{}{"time_remaining": tokenInfo.TimeRemaining})
	}

	memory := monitoring.NewMemoryMonitor(memorySampleInterval, memoryPressure, metrics, logger)
	compress := middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig())

	return &application{
		deps: &routerDeps{
			cfg:       cfg,
			service:   service,
			metrics:   metrics,
			logger:    logger,
			health:    health,
			breakers:  breakers,
			cache:     cache.NewCache(cfg.Cache.TTL),
			compress:  compress,
			limiter:   limiter,
			security:  security.NewSecurityMiddleware(security.ConfigFrom(cfg.Server)),
			tokenInfo: tokenInfo,
			memory:    memory,
			stores: map[string]statsFunc{
				"database":    db.GetPoolStats,
				"redis":       redisClient.GetPoolStats,
				"compression": compress.GetStats,
			},
		},
		db:      db,
		backend: backend,
		redis:   redisClient,
		pruner:  dashboard.NewHistoryPruner(repo, cfg.Storage.RetentionDays, pruneInterval),
		memory:  memory,
	}, nil
}

// Close releases resources in reverse order of creation.
func (a *application) Close() {
	a.deps.limiter.Close()
	apperrors.SafeClose(a.redis, "redis client")
	apperrors.SafeClose(a.db, "score history database")
	apperrors.SafeClose(a.backend, "backend client")
}

func serve(ctx context.Context, cfg *config.Config, token string, logger *monitoring.Logger) error {
	gin.SetMode(cfg.Server.Mode)

	app, err := newApplication(ctx, cfg, token, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	router, err := setupRouter(app.deps)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.deps.health.StartHealthChecks(gctx)
		return nil
	})
	g.Go(func() error {
		app.memory.Run(gctx)
		return nil
	})
	g.Go(func() error {
		app.deps.cache.StartCleanup(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		app.pruner.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.SystemLogger("server_start", fmt.Sprintf("listening on %s, backend %s", srv.Addr, cfg.Backend.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("Server exited")
	return err
}
