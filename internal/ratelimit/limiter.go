package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"

	"github.com/ZanzyTHEbar/babblebear/internal/config"
	"github.com/ZanzyTHEbar/babblebear/internal/monitoring"
)

// Config holds rate limiter configuration
type Config struct {
	IPLimitPerMin   int           // requests per client IP per minute
	BurstMultiplier int           // burst capacity as a multiple of the limit
	CleanupInterval time.Duration // how often idle in-memory limiters are dropped
	IdleTTL         time.Duration // how long an unused in-memory limiter is kept
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() Config {
	return Config{
		IPLimitPerMin:   120,
		BurstMultiplier: 2,
		CleanupInterval: 10 * time.Minute,
		IdleTTL:         30 * time.Minute,
	}
}

// ConfigFrom builds a limiter config from the application settings.
func ConfigFrom(cfg config.RateLimitConfig) Config {
	c := DefaultConfig()
	if cfg.RequestsPerMinute > 0 {
		c.IPLimitPerMin = cfg.RequestsPerMinute
	}
	if cfg.BurstMultiplier > 0 {
		c.BurstMultiplier = cfg.BurstMultiplier
	}
	return c
}

// Rate is a limit of Limit requests per Period. Burst defaults to Limit.
type Rate struct {
	Limit  int
	Period time.Duration
	Burst  int
}

func (r Rate) burst() int {
	if r.Burst > 0 {
		return r.Burst
	}
	return r.Limit
}

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type fallbackEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides distributed rate limiting with Redis and in-memory fallback
type RateLimiter struct {
	redisLimiter *redis_rate.Limiter
	redisClient  *RedisClient
	config       Config
	metrics      *monitoring.Metrics

	fallbackLimiters map[string]*fallbackEntry
	fallbackMutex    sync.Mutex

	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

// NewRateLimiter creates a new rate limiter. A nil or disabled Redis client
// means in-memory limiting only.
func NewRateLimiter(redisClient *RedisClient, cfg Config, metrics *monitoring.Metrics) *RateLimiter {
	defaults := DefaultConfig()
	if cfg.IPLimitPerMin <= 0 {
		cfg.IPLimitPerMin = defaults.IPLimitPerMin
	}
	if cfg.BurstMultiplier <= 0 {
		cfg.BurstMultiplier = 1
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaults.CleanupInterval
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaults.IdleTTL
	}
	if redisClient == nil {
		redisClient = &RedisClient{}
	}

	rl := &RateLimiter{
		redisClient:      redisClient,
		config:           cfg,
		metrics:          metrics,
		fallbackLimiters: make(map[string]*fallbackEntry),
		now:              time.Now,
		stop:             make(chan struct{}),
	}

	if redisClient.IsEnabled() {
		rl.redisLimiter = redis_rate.NewLimiter(redisClient.GetClient())
		slog.Info("Redis rate limiter initialized")
	} else {
		slog.Info("Using in-memory rate limiting")
	}

	go rl.cleanupLoop()

	return rl
}

// IPRate is the per-IP limit derived from the config.
func (rl *RateLimiter) IPRate() Rate {
	return Rate{
		Limit:  rl.config.IPLimitPerMin,
		Period: time.Minute,
		Burst:  rl.config.IPLimitPerMin * rl.config.BurstMultiplier,
	}
}

// AllowIP checks if an IP address is allowed to make a request (per-minute limit)
func (rl *RateLimiter) AllowIP(ctx context.Context, ip string) (*Result, error) {
	return rl.Allow(ctx, ipKey(ip), rl.IPRate())
}

func ipKey(ip string) string {
	return fmt.Sprintf("ratelimit:ip:%s", ip)
}

// Allow checks key against r using Redis when available. Redis failures
// fall back to the in-memory limiter so a broken Redis never blocks traffic.
func (rl *RateLimiter) Allow(ctx context.Context, key string, r Rate) (*Result, error) {
	if r.Limit <= 0 || r.Period <= 0 {
		return nil, fmt.Errorf("invalid rate %d per %s", r.Limit, r.Period)
	}

	if rl.redisLimiter != nil && rl.redisClient.IsEnabled() {
		result, err := rl.allowRedis(ctx, key, r)
		if err == nil {
			return result, nil
		}
		slog.Warn("Redis rate limit check failed, using fallback", "key", key, "error", err)
		if rl.metrics != nil {
			rl.metrics.IncrementRateLimitRedisError()
		}
	}

	if rl.metrics != nil {
		rl.metrics.IncrementRateLimitFallback()
	}
	return rl.allowFallback(key, r), nil
}

func (rl *RateLimiter) allowRedis(ctx context.Context, key string, r Rate) (*Result, error) {
	res, err := rl.redisLimiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   r.Limit,
		Burst:  r.burst(),
		Period: r.Period,
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}

	result := &Result{
		Allowed:   res.Allowed > 0,
		Limit:     r.Limit,
		Remaining: res.Remaining,
		ResetAt:   rl.now().Add(res.ResetAfter),
	}
	if !result.Allowed {
		result.RetryAfter = res.RetryAfter
	}
	return result, nil
}

// allowFallback is a token bucket per key; the bucket holds Burst tokens
// and refills at Limit per Period.
func (rl *RateLimiter) allowFallback(key string, r Rate) *Result {
	now := rl.now()
	every := rate.Limit(float64(r.Limit) / r.Period.Seconds())

	rl.fallbackMutex.Lock()
	entry, exists := rl.fallbackLimiters[key]
	if !exists {
		entry = &fallbackEntry{limiter: rate.NewLimiter(every, r.burst())}
		rl.fallbackLimiters[key] = entry
	}
	entry.lastSeen = now
	rl.fallbackMutex.Unlock()

	limiter := entry.limiter
	result := &Result{Limit: r.Limit}

	reservation := limiter.ReserveN(now, 1)
	switch delay := reservation.DelayFrom(now); {
	case !reservation.OK():
		result.RetryAfter = r.Period
	case delay > 0:
		reservation.CancelAt(now)
		result.RetryAfter = delay
	default:
		result.Allowed = true
	}

	tokens := limiter.TokensAt(now)
	if tokens > 0 {
		result.Remaining = int(math.Floor(tokens))
	}

	missing := float64(r.burst()) - tokens
	if missing < 0 {
		missing = 0
	}
	result.ResetAt = now.Add(time.Duration(missing / float64(every) * float64(time.Second)))

	return result
}

// Reset forgets the state of one client IP.
func (rl *RateLimiter) Reset(ctx context.Context, ip string) error {
	key := ipKey(ip)

	rl.fallbackMutex.Lock()
	delete(rl.fallbackLimiters, key)
	rl.fallbackMutex.Unlock()

	if rl.redisLimiter != nil && rl.redisClient.IsEnabled() {
		if err := rl.redisLimiter.Reset(ctx, key); err != nil {
			return fmt.Errorf("failed to reset %s: %w", key, err)
		}
	}
	return nil
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup drops in-memory limiters idle longer than IdleTTL.
func (rl *RateLimiter) cleanup() int {
	cutoff := rl.now().Add(-rl.config.IdleTTL)

	rl.fallbackMutex.Lock()
	defer rl.fallbackMutex.Unlock()

	removed := 0
	for key, entry := range rl.fallbackLimiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.fallbackLimiters, key)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("Cleaned up fallback rate limiters", "removed", removed, "remaining", len(rl.fallbackLimiters))
	}
	return removed
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.fallbackMutex.Lock()
	fallbackCount := len(rl.fallbackLimiters)
	rl.fallbackMutex.Unlock()

	stats := map[string]interface{}{
		"redis_enabled":     rl.redisClient.IsEnabled(),
		"fallback_limiters": fallbackCount,
		"config": map[string]interface{}{
			"ip_limit_per_min": rl.config.IPLimitPerMin,
			"burst_multiplier": rl.config.BurstMultiplier,
		},
	}

	if rl.redisClient.IsEnabled() {
		stats["redis_pool"] = rl.redisClient.GetPoolStats()
	}

	return stats
}

// Close stops the cleanup loop. The Redis client is owned by the caller.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}
