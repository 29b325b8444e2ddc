package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HealthLevel is the derived health of an external service
type HealthLevel int

const (
	LevelNormal HealthLevel = iota
	LevelDegraded
	LevelCritical
)

func (l HealthLevel) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelDegraded:
		return "degraded"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText renders the level by name in JSON.
func (l HealthLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// HealthConfig holds the thresholds used to derive a HealthLevel
type HealthConfig struct {
	DegradedThreshold   float64       `json:"degraded_threshold"` // error rate 0.0-1.0
	CriticalThreshold   float64       `json:"critical_threshold"` // error rate 0.0-1.0
	MinRequests         int64         `json:"min_requests"`       // requests in window before the rate counts
	CriticalConsecutive int           `json:"critical_consecutive"`
	Window              time.Duration `json:"window"`
	CheckInterval       time.Duration `json:"check_interval"`
	CheckTimeout        time.Duration `json:"check_timeout"`
}

// DefaultHealthConfig returns sensible defaults
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		DegradedThreshold:   0.1,
		CriticalThreshold:   0.5,
		MinRequests:         5,
		CriticalConsecutive: 5,
		Window:              5 * time.Minute,
		CheckInterval:       time.Minute,
		CheckTimeout:        5 * time.Second,
	}
}

// ServiceHealth is a snapshot of one service's health
type ServiceHealth struct {
	ServiceName         string      `json:"service_name"`
	Level               HealthLevel `json:"level"`
	ErrorRate           float64     `json:"error_rate"`
	TotalRequests       int64       `json:"total_requests"`
	ErrorCount          int64       `json:"error_count"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastError           string      `json:"last_error,omitempty"`
	LastErrorTime       *time.Time  `json:"last_error_time,omitempty"`
	LastActivity        *time.Time  `json:"last_activity,omitempty"`
	StatusMessage       string      `json:"status_message"`
}

// HealthCheckFunc probes a service
type HealthCheckFunc func(ctx context.Context) error

type serviceState struct {
	health      ServiceHealth
	windowStart time.Time
	check       HealthCheckFunc
}

// HealthRegistry tracks request outcomes per external service
type HealthRegistry struct {
	config HealthConfig
	now    func() time.Time

	mu       sync.RWMutex
	services map[string]*serviceState
}

// NewHealthRegistry creates an empty registry
func NewHealthRegistry(config HealthConfig) *HealthRegistry {
	return &HealthRegistry{
		config:   config,
		now:      time.Now,
		services: make(map[string]*serviceState),
	}
}

// Register adds a service. check may be nil; when set it is run by
// StartHealthChecks whenever the service has been idle for a check interval.
func (hr *HealthRegistry) Register(serviceName string, check HealthCheckFunc) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	hr.services[serviceName] = &serviceState{
		health: ServiceHealth{
			ServiceName:   serviceName,
			Level:         LevelNormal,
			StatusMessage: "Service is healthy",
		},
		windowStart: hr.now(),
		check:       check,
	}
	slog.Info("Registered service for health tracking", "service", serviceName)
}

// RecordSuccess records a successful request
func (hr *HealthRegistry) RecordSuccess(serviceName string) {
	hr.record(serviceName, nil)
}

// RecordError records a failed request
func (hr *HealthRegistry) RecordError(serviceName string, err error) {
	hr.record(serviceName, err)
}

func (hr *HealthRegistry) record(serviceName string, err error) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	state, exists := hr.services[serviceName]
	if !exists {
		return
	}

	now := hr.now()
	h := &state.health
	if hr.config.Window > 0 && now.Sub(state.windowStart) > hr.config.Window {
		h.TotalRequests = 0
		h.ErrorCount = 0
		state.windowStart = now
	}

	h.TotalRequests++
	h.LastActivity = &now
	if err != nil {
		h.ErrorCount++
		h.ConsecutiveFailures++
		h.LastError = err.Error()
		h.LastErrorTime = &now
	} else {
		h.ConsecutiveFailures = 0
	}
	h.ErrorRate = float64(h.ErrorCount) / float64(h.TotalRequests)

	hr.updateLevel(h)
}

// updateLevel must be called with mu held.
func (hr *HealthRegistry) updateLevel(h *ServiceHealth) {
	oldLevel := h.Level

	rateCounts := h.TotalRequests >= hr.config.MinRequests
	switch {
	case hr.config.CriticalConsecutive > 0 && h.ConsecutiveFailures >= hr.config.CriticalConsecutive:
		h.Level = LevelCritical
		h.StatusMessage = "Service is failing every request"
	case rateCounts && h.ErrorRate >= hr.config.CriticalThreshold:
		h.Level = LevelCritical
		h.StatusMessage = "Service is in critical state - high error rate"
	case rateCounts && h.ErrorRate >= hr.config.DegradedThreshold:
		h.Level = LevelDegraded
		h.StatusMessage = "Service is degraded - elevated error rate"
	default:
		h.Level = LevelNormal
		h.StatusMessage = "Service is healthy"
	}

	if oldLevel != h.Level {
		slog.Warn("Service health level changed",
			"service", h.ServiceName,
			"old_level", oldLevel.String(),
			"new_level", h.Level.String(),
			"error_rate", h.ErrorRate,
			"total_requests", h.TotalRequests,
			"error_count", h.ErrorCount)
	}
}

// ServiceHealth returns a copy of the named service's health
func (hr *HealthRegistry) ServiceHealth(serviceName string) (ServiceHealth, bool) {
	hr.mu.RLock()
	defer hr.mu.RUnlock()

	state, exists := hr.services[serviceName]
	if !exists {
		return ServiceHealth{}, false
	}
	return state.health, true
}

// All returns copies of every service's health
func (hr *HealthRegistry) All() map[string]ServiceHealth {
	hr.mu.RLock()
	defer hr.mu.RUnlock()

	result := make(map[string]ServiceHealth, len(hr.services))
	for name, state := range hr.services {
		result[name] = state.health
	}
	return result
}

// IsAvailable is false only when the service is critical or unknown
func (hr *HealthRegistry) IsAvailable(serviceName string) bool {
	h, ok := hr.ServiceHealth(serviceName)
	return ok && h.Level != LevelCritical
}

// Reset clears a service's counters
func (hr *HealthRegistry) Reset(serviceName string) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	if state, exists := hr.services[serviceName]; exists {
		state.health = ServiceHealth{
			ServiceName:   serviceName,
			Level:         LevelNormal,
			StatusMessage: "Service is healthy",
		}
		state.windowStart = hr.now()
		slog.Info("Service health reset", "service", serviceName)
	}
}

// StartHealthChecks probes idle services until ctx is done
func (hr *HealthRegistry) StartHealthChecks(ctx context.Context) {
	if hr.config.CheckInterval <= 0 {
		return
	}
	ticker := time.NewTicker(hr.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hr.runChecks(ctx)
		}
	}
}

func (hr *HealthRegistry) runChecks(ctx context.Context) {
	type pending struct {
		name  string
		check HealthCheckFunc
	}

	now := hr.now()
	var due []pending
	hr.mu.RLock()
	for name, state := range hr.services {
		if state.check == nil {
			continue
		}
		if last := state.health.LastActivity; last != nil && now.Sub(*last) < hr.config.CheckInterval {
			continue
		}
		due = append(due, pending{name: name, check: state.check})
	}
	hr.mu.RUnlock()

	for _, p := range due {
		checkCtx, cancel := context.WithTimeout(ctx, hr.config.CheckTimeout)
		err := p.check(checkCtx)
		cancel()

		if err != nil {
			slog.Warn("Health check failed", "service", p.name, "error", err)
		}
		hr.record(p.name, err)
	}
}
