package security

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/babblebear/internal/babble"
	"github.com/ZanzyTHEbar/babblebear/internal/config"
	apperrors "github.com/ZanzyTHEbar/babblebear/internal/errors"
)

// SecurityConfig holds security configuration
type SecurityConfig struct {
	MaxTextLength  int           `json:"max_text_length"`
	AllowedOrigins []string      `json:"allowed_origins"`
	RequestTimeout time.Duration `json:"request_timeout"`
	MaxUploadBytes int64         `json:"max_upload_bytes"`
	EnableHSTS     bool          `json:"enable_hsts"`
}

// DefaultSecurityConfig returns secure defaults
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		MaxTextLength:  2000,
		AllowedOrigins: []string{"http://localhost:5173"},
		RequestTimeout: 30 * time.Second,
		MaxUploadBytes: 50 << 20,
	}
}

// ConfigFrom derives the security settings from the server config.
func ConfigFrom(server config.ServerConfig) SecurityConfig {
	c := DefaultSecurityConfig()
	if len(server.AllowedOrigins) > 0 {
		c.AllowedOrigins = server.AllowedOrigins
	}
	if server.RequestTimeout > 0 {
		c.RequestTimeout = server.RequestTimeout
	}
	if server.MaxUploadMB > 0 {
		c.MaxUploadBytes = server.MaxUploadBytes()
	}
	c.EnableHSTS = server.Mode == "release" && len(server.TrustedProxies) > 0
	return c
}

// SecurityMiddleware provides request hygiene middleware and input cleaning
type SecurityMiddleware struct {
	config SecurityConfig
}

// NewSecurityMiddleware creates a new security middleware instance
func NewSecurityMiddleware(config SecurityConfig) *SecurityMiddleware {
	return &SecurityMiddleware{config: config}
}

// Config returns the active settings.
func (sm *SecurityMiddleware) Config() SecurityConfig {
	return sm.config
}

var suspiciousPatterns = []string{
	"<script", "</script>", "javascript:", "vbscript:", "data:text/html",
}

var eventHandlerPattern = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)

// ValidateText rejects free text that is too long, not UTF-8, holds NUL
// bytes or looks like markup injection.
func (sm *SecurityMiddleware) ValidateText(input string) error {
	if utf8.RuneCountInString(input) > sm.config.MaxTextLength {
		return fmt.Errorf("text exceeds maximum length of %d characters", sm.config.MaxTextLength)
	}
	if strings.Contains(input, "\x00") {
		return fmt.Errorf("text contains invalid characters")
	}
	if !utf8.ValidString(input) {
		return fmt.Errorf("text contains invalid UTF-8 encoding")
	}

	lower := strings.ToLower(input)
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(lower, pattern) {
			return fmt.Errorf("text contains suspicious patterns")
		}
	}
	if eventHandlerPattern.MatchString(input) {
		return fmt.Errorf("text contains suspicious patterns")
	}

	return nil
}

var (
	scriptPattern  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	htmlTagPattern = regexp.MustCompile(`<[^>]+>`)
	spacePattern   = regexp.MustCompile(`[ \t]+`)
)

// SanitizeText strips markup and collapses runs of spaces. Line breaks in
// notes are kept.
func (sm *SecurityMiddleware) SanitizeText(input string) string {
	input = scriptPattern.ReplaceAllString(input, "")
	input = htmlTagPattern.ReplaceAllString(input, "")
	input = spacePattern.ReplaceAllString(input, " ")
	return strings.TrimSpace(input)
}

// CleanChildInput sanitizes the free-text fields of a child profile and
// returns per-field problems, or nil.
func (sm *SecurityMiddleware) CleanChildInput(in *babble.ChildInput) map[string]string {
	problems := make(map[string]string)

	for field, value := range map[string]*string{"name": &in.Name, "notes": &in.Notes} {
		if err := sm.ValidateText(*value); err != nil {
			problems[field] = err.Error()
			continue
		}
		*value = sm.SanitizeText(*value)
	}

	if len(problems) == 0 {
		return nil
	}
	return problems
}

// ValidateContentType only lets JSON and multipart bodies through on writes.
func (sm *SecurityMiddleware) ValidateContentType(c *gin.Context) {
	switch c.Request.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		c.Next()
		return
	}

	contentType := strings.ToLower(c.GetHeader("Content-Type"))
	if contentType != "" &&
		!strings.HasPrefix(contentType, "application/json") &&
		!strings.HasPrefix(contentType, "multipart/form-data") {
		appErr := apperrors.NewValidationError("unsupported content type", contentType)
		appErr.HTTPStatus = http.StatusUnsupportedMediaType
		apperrors.Respond(c, appErr)
		return
	}

	c.Next()
}

// LimitUploadSize caps request bodies at MaxUploadBytes.
func (sm *SecurityMiddleware) LimitUploadSize(c *gin.Context) {
	if sm.config.MaxUploadBytes > 0 && c.Request.Body != nil {
		if c.Request.ContentLength > sm.config.MaxUploadBytes {
			appErr := apperrors.NewValidationError(fmt.Sprintf("request body exceeds %d bytes", sm.config.MaxUploadBytes))
			appErr.HTTPStatus = http.StatusRequestEntityTooLarge
			apperrors.Respond(c, appErr)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, sm.config.MaxUploadBytes)
	}
	c.Next()
}

// RequestTimeout bounds the request context; backend calls made by the
// handler inherit the deadline.
func (sm *SecurityMiddleware) RequestTimeout(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), sm.config.RequestTimeout)
	defer cancel()

	c.Request = c.Request.WithContext(ctx)
	c.Header("X-Timeout", strconv.Itoa(int(sm.config.RequestTimeout.Seconds())))

	c.Next()
}

// CORS allows the configured dashboard origins.
func (sm *SecurityMiddleware) CORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     sm.config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "X-Cache", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
