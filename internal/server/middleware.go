package server

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultRequestsPerWindow = 30
	defaultRateLimitWindow   = time.Minute
)

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.Writer.Header()
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-Frame-Options", "DENY")
		header.Set("X-XSS-Protection", "1; mode=block")
		header.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Next()
	}
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "Accept", "Last-Event-ID"},
		ExposeHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:        12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "*" {
			cfg.AllowAllOrigins = true
			origins = nil
			break
		}
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if !cfg.AllowAllOrigins {
		if len(origins) == 0 {
			origins = []string{"http://localhost:3000"}
		}
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// RateLimitConfig describes the per-client request budget.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Clock    func() time.Time
	Logger   *zap.Logger
}

// RateLimiter counts requests per client address in fixed windows.
type RateLimiter struct {
	mu        sync.Mutex
	windows   map[string]*clientWindow
	limit     int
	window    time.Duration
	clock     func() time.Time
	nextSweep time.Time
	logger    *zap.Logger
}

type clientWindow struct {
	count   int
	resetAt time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	limit := cfg.Requests
	if limit <= 0 {
		limit = defaultRequestsPerWindow
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		windows: make(map[string]*clientWindow),
		limit:   limit,
		window:  window,
		clock:   clock,
		logger:  logger,
	}
}

// Allow records one request for key and reports whether it fits the current window.
func (rl *RateLimiter) Allow(key string) (allowed bool, remaining int, resetAt time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock()
	rl.sweepLocked(now)

	current, ok := rl.windows[key]
	if !ok || !now.Before(current.resetAt) {
		current = &clientWindow{resetAt: now.Add(rl.window)}
		rl.windows[key] = current
	}
	if current.count >= rl.limit {
		return false, 0, current.resetAt
	}
	current.count++
	return true, rl.limit - current.count, current.resetAt
}

// sweepLocked drops expired windows at most once per window length.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Before(rl.nextSweep) {
		return
	}
	for key, entry := range rl.windows {
		if !now.Before(entry.resetAt) {
			delete(rl.windows, key)
		}
	}
	rl.nextSweep = now.Add(rl.window)
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		allowed, remaining, resetAt := rl.Allow(key)

		header := c.Writer.Header()
		header.Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		header.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		header.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			wait := resetAt.Sub(rl.clock())
			header.Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			rl.logger.Warn("request rate limited", zap.String("client_ip", key), zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":          errorRateLimited,
				"retry_after_ms": wait.Milliseconds(),
			})
			return
		}
		c.Next()
	}
}

func retryAfterSeconds(wait time.Duration) int {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
