package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the service configuration.
const (
	DefaultPort             = 8080
	DefaultMode             = "release"
	DefaultRequestTimeout   = 30 * time.Second
	DefaultShutdownTimeout  = 30 * time.Second
	DefaultMaxUploadMB      = 50
	DefaultBackendURL       = "http://localhost:8000"
	DefaultBackendTimeout   = 15 * time.Second
	DefaultRetryAttempts    = 3
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
	DefaultSuccessThreshold = 2
	DefaultDataDir          = "./data"
	DefaultRetentionDays    = 365
	DefaultCacheTTL         = 2 * time.Minute
	DefaultRequestsPerMin   = 120
	DefaultBurstMultiplier  = 2
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port int `yaml:"port"`

	// Mode is the gin mode: debug | release | test.
	Mode string `yaml:"mode"`

	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`

	// AllowedOrigins lists the dashboard origins accepted by CORS.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxUploadMB caps the size of a recording upload.
	MaxUploadMB int `yaml:"max_upload_mb"`
}

// BackendConfig points at the analysis backend REST API.
type BackendConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// StorageConfig controls the local score history database.
type StorageConfig struct {
	DataDir       string `yaml:"data_dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// CacheConfig controls the GET response cache.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// RateLimitConfig controls per-IP rate limiting. Redis is used when RedisAddr is set.
type RateLimitConfig struct {
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	BurstMultiplier   int    `yaml:"burst_multiplier"`
	RedisAddr         string `yaml:"redis_addr"`
	RedisPassword     string `yaml:"redis_password"`
	RedisDB           int    `yaml:"redis_db"`
}

// LoggingConfig controls the default slog handler.
type LoggingConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`

	// Format is one of: json | text.
	Format string `yaml:"format"`
}

// Load builds the configuration from defaults, the optional YAML file at path
// and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            DefaultPort,
			Mode:            DefaultMode,
			RequestTimeout:  DefaultRequestTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			AllowedOrigins:  []string{"http://localhost:5173"},
			MaxUploadMB:     DefaultMaxUploadMB,
		},
		Backend: BackendConfig{
			BaseURL:          DefaultBackendURL,
			Timeout:          DefaultBackendTimeout,
			RetryAttempts:    DefaultRetryAttempts,
			FailureThreshold: DefaultFailureThreshold,
			RecoveryTimeout:  DefaultRecoveryTimeout,
			SuccessThreshold: DefaultSuccessThreshold,
		},
		Storage: StorageConfig{
			DataDir:       DefaultDataDir,
			RetentionDays: DefaultRetentionDays,
		},
		Cache: CacheConfig{
			TTL: DefaultCacheTTL,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: DefaultRequestsPerMin,
			BurstMultiplier:   DefaultBurstMultiplier,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

type lookupFunc func(key string) (string, bool)

// applyEnv overlays BABBLEBEAR_* variables. PORT is honoured for hosting platforms.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			parts := strings.Split(v, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			*dst = out
		}
	}

	var errs []string
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}

	num("PORT", &cfg.Server.Port)
	num("BABBLEBEAR_PORT", &cfg.Server.Port)
	str("BABBLEBEAR_MODE", &cfg.Server.Mode)
	dur("BABBLEBEAR_REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)
	dur("BABBLEBEAR_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	list("BABBLEBEAR_TRUSTED_PROXIES", &cfg.Server.TrustedProxies)
	list("BABBLEBEAR_ALLOWED_ORIGINS", &cfg.Server.AllowedOrigins)
	num("BABBLEBEAR_MAX_UPLOAD_MB", &cfg.Server.MaxUploadMB)

	str("BABBLEBEAR_BACKEND_URL", &cfg.Backend.BaseURL)
	dur("BABBLEBEAR_BACKEND_TIMEOUT", &cfg.Backend.Timeout)
	num("BABBLEBEAR_BACKEND_RETRY_ATTEMPTS", &cfg.Backend.RetryAttempts)

	str("BABBLEBEAR_DATA_DIR", &cfg.Storage.DataDir)
	num("BABBLEBEAR_RETENTION_DAYS", &cfg.Storage.RetentionDays)

	dur("BABBLEBEAR_CACHE_TTL", &cfg.Cache.TTL)

	num("BABBLEBEAR_RATELIMIT_PER_MINUTE", &cfg.RateLimit.RequestsPerMinute)
	str("BABBLEBEAR_REDIS_ADDR", &cfg.RateLimit.RedisAddr)
	str("BABBLEBEAR_REDIS_PASSWORD", &cfg.RateLimit.RedisPassword)
	num("BABBLEBEAR_REDIS_DB", &cfg.RateLimit.RedisDB)

	str("BABBLEBEAR_LOG_LEVEL", &cfg.Logging.Level)
	str("BABBLEBEAR_LOG_FORMAT", &cfg.Logging.Format)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks structural constraints on the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("server.mode %q unknown: want debug|release|test", c.Server.Mode)
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("server.max_upload_mb must be at least 1")
	}

	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.base_url %q must be an absolute http(s) URL", c.Backend.BaseURL)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	if c.Backend.RetryAttempts < 1 {
		return fmt.Errorf("backend.retry_attempts must be at least 1")
	}
	if c.Backend.FailureThreshold < 1 || c.Backend.SuccessThreshold < 1 {
		return fmt.Errorf("backend circuit breaker thresholds must be at least 1")
	}
	if c.Backend.RecoveryTimeout <= 0 {
		return fmt.Errorf("backend.recovery_timeout must be positive")
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if c.Storage.RetentionDays < 1 {
		return fmt.Errorf("storage.retention_days must be at least 1")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}
	if c.RateLimit.RequestsPerMinute < 1 {
		return fmt.Errorf("ratelimit.requests_per_minute must be at least 1")
	}
	if c.RateLimit.BurstMultiplier < 1 {
		return fmt.Errorf("ratelimit.burst_multiplier must be at least 1")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q unknown: want debug|info|warn|error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q unknown: want json|text", c.Logging.Format)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}

// MaxUploadBytes is MaxUploadMB in bytes.
func (s ServerConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}

// Retention is the score history retention window.
func (s StorageConfig) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}
