package ratelimit

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HandleRateLimitStatus reports the limit that applies to the caller and
// the limiter backend in use. It does not consume a token.
func (rl *RateLimiter) HandleRateLimitStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		r := rl.IPRate()

		status := gin.H{
			"ip": c.ClientIP(),
			"limits": gin.H{
				"ip_per_minute": gin.H{
					"limit":  r.Limit,
					"burst":  r.burst(),
					"period": "1 minute",
				},
			},
			"limiter":   rl.GetStats(),
			"timestamp": time.Now().Format(time.RFC3339),
		}

		if rl.metrics != nil {
			status["metrics"] = rl.metrics.GetRateLimitStats()
		}

		c.JSON(http.StatusOK, status)
	}
}
