package resilience

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// PoolConfig sizes the shared transport used for one upstream host
type PoolConfig struct {
	MaxIdle     int           `json:"max_idle"`
	MaxActive   int           `json:"max_active"`
	IdleTimeout time.Duration `json:"idle_timeout"`
	Timeout     time.Duration `json:"timeout"`
}

// DefaultPoolConfig returns sensible defaults
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdle:     10,
		MaxActive:   20,
		IdleTimeout: 90 * time.Second,
		Timeout:     30 * time.Second,
	}
}

// ConnectionPool bounds the number of in-flight requests to one upstream and
// shares a tuned transport between them. A slot is held until the response
// body is closed.
type ConnectionPool struct {
	config    PoolConfig
	client    *http.Client
	transport *http.Transport
	slots     chan struct{}

	active   atomic.Int64
	total    atomic.Int64
	failures atomic.Int64
	closed   atomic.Bool
}

// NewConnectionPool creates a pool, filling zero config values with defaults.
func NewConnectionPool(config PoolConfig) *ConnectionPool {
	defaults := DefaultPoolConfig()
	if config.MaxIdle <= 0 {
		config.MaxIdle = defaults.MaxIdle
	}
	if config.MaxActive <= 0 {
		config.MaxActive = defaults.MaxActive
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          config.MaxIdle,
		MaxConnsPerHost:       config.MaxActive,
		MaxIdleConnsPerHost:   config.MaxIdle,
		IdleConnTimeout:       config.IdleTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &ConnectionPool{
		config:    config,
		transport: transport,
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		slots: make(chan struct{}, config.MaxActive),
	}
}

// Do sends req once a slot is free or fails when the request context ends first.
func (cp *ConnectionPool) Do(req *http.Request) (*http.Response, error) {
	if cp.closed.Load() {
		return nil, fmt.Errorf("connection pool closed")
	}

	select {
	case cp.slots <- struct{}{}:
	case <-req.Context().Done():
		return nil, req.Context().Err()
	}
	cp.active.Add(1)
	cp.total.Add(1)

	start := time.Now()
	resp, err := cp.client.Do(req)
	if err != nil {
		cp.release()
		cp.failures.Add(1)
		slog.Debug("Upstream request failed",
			"method", req.Method,
			"url", req.URL.Redacted(),
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	resp.Body = &releasingBody{ReadCloser: resp.Body, release: cp.release}
	return resp, nil
}

func (cp *ConnectionPool) release() {
	cp.active.Add(-1)
	<-cp.slots
}

type releasingBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}

// PoolStats is a point-in-time view of a pool
type PoolStats struct {
	ActiveRequests int64 `json:"active_requests"`
	TotalRequests  int64 `json:"total_requests"`
	Failures       int64 `json:"transport_failures"`
	MaxActive      int   `json:"max_active"`
	MaxIdle        int   `json:"max_idle"`
	IdleTimeoutMS  int64 `json:"idle_timeout_ms"`
}

// Stats returns connection pool statistics
func (cp *ConnectionPool) Stats() PoolStats {
	return PoolStats{
		ActiveRequests: cp.active.Load(),
		TotalRequests:  cp.total.Load(),
		Failures:       cp.failures.Load(),
		MaxActive:      cp.config.MaxActive,
		MaxIdle:        cp.config.MaxIdle,
		IdleTimeoutMS:  cp.config.IdleTimeout.Milliseconds(),
	}
}

// Close rejects new requests and drops idle connections
func (cp *ConnectionPool) Close() error {
	if cp.closed.Swap(true) {
		return nil
	}
	cp.transport.CloseIdleConnections()
	slog.Info("Connection pool closed", "total_requests", cp.total.Load())
	return nil
}
