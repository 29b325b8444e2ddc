package security

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// apiContentSecurityPolicy fits a JSON API: nothing may be loaded or framed.
const apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'"

// docsContentSecurityPolicy lets the Swagger UI load its own assets and run
// the inline bootstrap script of its index page.
const docsContentSecurityPolicy = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; frame-ancestors 'none'; base-uri 'none'; form-action 'none'"

// docsPathPrefix is where the API documentation is served.
const docsPathPrefix = "/swagger/"

// SecurityHeadersMiddleware adds security headers to all responses. The
// microphone stays allowed for same-origin pages because the dashboard
// records audio.
func SecurityHeadersMiddleware(enableHSTS bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(self), camera=()")
		if strings.HasPrefix(c.Request.URL.Path, docsPathPrefix) {
			c.Header("Content-Security-Policy", docsContentSecurityPolicy)
		} else {
			c.Header("Content-Security-Policy", apiContentSecurityPolicy)
		}

		if enableHSTS || c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
