package cache

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// Header reports whether a response came from the cache.
const Header = "X-Cache"

// Metrics is the part of monitoring.Metrics the cache reports to.
type Metrics interface {
	IncrementCacheHit()
	IncrementCacheMiss()
}

// CacheItem represents a cached response with expiration
type CacheItem struct {
	Data        []byte    `json:"data"`
	ContentType string    `json:"content_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (c *CacheItem) expiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Cache provides thread-safe caching with TTL
type Cache struct {
	mu    sync.RWMutex
	items map[string]*CacheItem
	ttl   time.Duration

	hits          int64
	misses        int64
	invalidations int64

	now func() time.Time
}

// NewCache creates a new cache with the specified TTL
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		items: make(map[string]*CacheItem),
		ttl:   ttl,
		now:   time.Now,
	}
}

// StartCleanup removes expired items every interval until ctx is done.
func (c *Cache) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *Cache) removeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, item := range c.items {
		if item.expiredAt(now) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Key hashes a request identity into a cache key.
func Key(method, path, rawQuery string) string {
	hash := md5.Sum([]byte(method + " " + path + "?" + rawQuery))
	return fmt.Sprintf("%x", hash)
}

// Get retrieves an item from the cache
func (c *Cache) Get(key string) (*CacheItem, bool) {
	c.mu.RLock()
	item, exists := c.items[key]
	c.mu.RUnlock()

	if !exists || item.expiredAt(c.now()) {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	return item, true
}

// Set stores an item in the cache
func (c *Cache) Set(key string, data []byte, contentType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.set(key, data, contentType)
}

// SetIfCurrent stores an item only when no invalidation happened since
// generation was read with Generation. It reports whether it stored.
func (c *Cache) SetIfCurrent(key string, data []byte, contentType string, generation int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if atomic.LoadInt64(&c.invalidations) != generation {
		return false
	}
	c.set(key, data, contentType)
	return true
}

// Generation counts invalidations so far.
func (c *Cache) Generation() int64 {
	return atomic.LoadInt64(&c.invalidations)
}

func (c *Cache) set(key string, data []byte, contentType string) {
	c.items[key] = &CacheItem{
		Data:        data,
		ContentType: contentType,
		ExpiresAt:   c.now().Add(c.ttl),
	}
}

// Delete removes an item from the cache
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// Invalidate drops every cached response. Any write may change the
// dashboard, scores and lists at once, so there is no finer scope.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.items = make(map[string]*CacheItem)
	atomic.AddInt64(&c.invalidations, 1)
	c.mu.Unlock()
}

// Size returns the number of items in the cache
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// Stats returns cache statistics
func (c *Cache) Stats() map[string]interface{} {
	c.mu.RLock()
	now := c.now()
	totalItems := len(c.items)
	expiredItems := 0
	for _, item := range c.items {
		if item.expiredAt(now) {
			expiredItems++
		}
	}
	c.mu.RUnlock()

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses) * 100
	}

	return map[string]interface{}{
		"total_items":      totalItems,
		"expired_items":    expiredItems,
		"active_items":     totalItems - expiredItems,
		"ttl_seconds":      c.ttl.Seconds(),
		"hits":             hits,
		"misses":           misses,
		"hit_rate_percent": hitRate,
		"invalidations":    atomic.LoadInt64(&c.invalidations),
	}
}

// Middleware caches successful GET responses of the given routes. Routes
// are gin route patterns such as "/children/:id/score".
func (c *Cache) Middleware(metrics Metrics, routes ...string) gin.HandlerFunc {
	cacheable := make(map[string]bool, len(routes))
	for _, r := range routes {
		cacheable[r] = true
	}

	return func(ctx *gin.Context) {
		if ctx.Request.Method != http.MethodGet || !cacheable[ctx.FullPath()] {
			ctx.Next()
			return
		}

		key := Key(ctx.Request.Method, ctx.Request.URL.Path, ctx.Request.URL.RawQuery)

		if item, found := c.Get(key); found {
			slog.Debug("Cache hit", "key", key[:8]+"...")
			if metrics != nil {
				metrics.IncrementCacheHit()
			}
			ctx.Header(Header, "HIT")
			ctx.Data(http.StatusOK, item.ContentType, item.Data)
			ctx.Abort()
			return
		}

		if metrics != nil {
			metrics.IncrementCacheMiss()
		}
		ctx.Header(Header, "MISS")

		// a write landing while this GET runs may leave the body stale
		generation := c.Generation()
		wrapper := &responseWriter{ResponseWriter: ctx.Writer, body: &bytes.Buffer{}}
		ctx.Writer = wrapper
		ctx.Next()

		if wrapper.Status() != http.StatusOK {
			return
		}
		if c.SetIfCurrent(key, wrapper.body.Bytes(), wrapper.Header().Get("Content-Type"), generation) {
			slog.Debug("Response cached", "key", key[:8]+"...")
		} else {
			slog.Debug("Cache invalidated during request, not storing", "key", key[:8]+"...")
		}
	}
}

// InvalidateMiddleware clears the cache after every successful write.
func (c *Cache) InvalidateMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Next()

		switch ctx.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}
		if status := ctx.Writer.Status(); status >= 200 && status < 300 {
			c.Invalidate()
		}
	}
}

// responseWriter wraps gin.ResponseWriter to capture response body
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
