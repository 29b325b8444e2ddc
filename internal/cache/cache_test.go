package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	hits, misses int64
}

func (m *countingMetrics) IncrementCacheHit()  { atomic.AddInt64(&m.hits, 1) }
func (m *countingMetrics) IncrementCacheMiss() { atomic.AddInt64(&m.misses, 1) }

func init() {
	gin.SetMode(gin.TestMode)
}

func TestKeyIsStable(t *testing.T) {
	a := Key("GET", "/dashboard", "")
	assert.Len(t, a, 32)
	assert.Equal(t, a, Key("GET", "/dashboard", ""))
	assert.NotEqual(t, a, Key("GET", "/dashboard", "x=1"))
	assert.NotEqual(t, a, Key("GET", "/children", ""))
}

func TestGetSetExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(time.Minute)
	c.now = func() time.Time { return now }

	c.Set("k", []byte("v"), "text/plain")
	item, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), item.Data)
	assert.Equal(t, "text/plain", item.ContentType)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats["hits"])
	assert.EqualValues(t, 1, stats["misses"])
	assert.Equal(t, 1, stats["expired_items"])

	assert.Equal(t, 1, c.removeExpired())
	assert.Zero(t, c.Size())
}

func TestDeleteAndInvalidate(t *testing.T) {
	c := NewCache(time.Minute)
	c.Set("a", []byte("1"), "")
	c.Set("b", []byte("2"), "")

	c.Delete("a")
	assert.Equal(t, 1, c.Size())

	c.Invalidate()
	assert.Zero(t, c.Size())
	assert.EqualValues(t, 1, c.Stats()["invalidations"])
}

func TestStartCleanupStopsWithContext(t *testing.T) {
	c := NewCache(time.Nanosecond)
	c.Set("a", []byte("1"), "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.StartCleanup(ctx, time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return c.Size() == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}

func newCachedRouter(c *Cache, metrics Metrics, calls *int64) *gin.Engine {
	router := gin.New()
	router.Use(c.InvalidateMiddleware())
	router.Use(c.Middleware(metrics, "/dashboard", "/children/:id/score"))

	router.GET("/dashboard", func(ctx *gin.Context) {
		n := atomic.AddInt64(calls, 1)
		ctx.JSON(http.StatusOK, gin.H{"call": n})
	})
	router.GET("/children/:id/score", func(ctx *gin.Context) {
		atomic.AddInt64(calls, 1)
		if ctx.Param("id") == "missing" {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"child": ctx.Param("id")})
	})
	router.GET("/uncached", func(ctx *gin.Context) {
		atomic.AddInt64(calls, 1)
		ctx.String(http.StatusOK, "ok")
	})
	router.POST("/children", func(ctx *gin.Context) {
		ctx.Status(http.StatusCreated)
	})
	router.POST("/bad", func(ctx *gin.Context) {
		ctx.Status(http.StatusBadRequest)
	})
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestMiddlewareCachesConfiguredRoutes(t *testing.T) {
	c := NewCache(time.Minute)
	metrics := &countingMetrics{}
	var calls int64
	router := newCachedRouter(c, metrics, &calls)

	first := get(router, "/dashboard")
	assert.Equal(t, "MISS", first.Header().Get(Header))

	second := get(router, "/dashboard")
	assert.Equal(t, "HIT", second.Header().Get(Header))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Contains(t, second.Header().Get("Content-Type"), "application/json")
	assert.EqualValues(t, 1, calls)

	get(router, "/children/1/score")
	get(router, "/children/2/score")
	get(router, "/children/1/score")
	assert.EqualValues(t, 3, calls)

	get(router, "/uncached")
	get(router, "/uncached")
	assert.EqualValues(t, 5, calls)

	assert.EqualValues(t, 2, metrics.hits)
	assert.EqualValues(t, 3, metrics.misses)
}

func TestMiddlewareSkipsErrors(t *testing.T) {
	c := NewCache(time.Minute)
	var calls int64
	router := newCachedRouter(c, nil, &calls)

	get(router, "/children/missing/score")
	w := get(router, "/children/missing/score")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.EqualValues(t, 2, calls)
	assert.Zero(t, c.Size())
}

func TestWritesInvalidate(t *testing.T) {
	c := NewCache(time.Minute)
	var calls int64
	router := newCachedRouter(c, nil, &calls)

	get(router, "/dashboard")
	require.Equal(t, 1, c.Size())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bad", nil))
	assert.Equal(t, 1, c.Size(), "failed writes keep the cache")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/children", nil))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Zero(t, c.Size())

	assert.Equal(t, "MISS", get(router, "/dashboard").Header().Get(Header))
	assert.EqualValues(t, 2, calls)
}

func TestInvalidationDuringRequestSkipsStore(t *testing.T) {
	tests := []struct {
		name       string
		invalidate bool
		wantSize   int
	}{
		{name: "quiet request is stored", wantSize: 1},
		{name: "write during request is not stored", invalidate: true, wantSize: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCache(time.Minute)
			router := gin.New()
			router.Use(c.Middleware(nil, "/dashboard"))
			router.GET("/dashboard", func(ctx *gin.Context) {
				if tt.invalidate {
					c.Invalidate()
				}
				ctx.JSON(http.StatusOK, gin.H{"ok": true})
			})

			w := get(router, "/dashboard")
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.wantSize, c.Size())
		})
	}
}

func TestSetIfCurrent(t *testing.T) {
	c := NewCache(time.Minute)

	gen := c.Generation()
	assert.True(t, c.SetIfCurrent("a", []byte("1"), "text/plain", gen))

	c.Invalidate()
	assert.False(t, c.SetIfCurrent("b", []byte("2"), "text/plain", gen))
	assert.True(t, c.SetIfCurrent("b", []byte("2"), "text/plain", c.Generation()))

	_, found := c.Get("b")
	assert.True(t, found)
	assert.Equal(t, 1, c.Size())
}
