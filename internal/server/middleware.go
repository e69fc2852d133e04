package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// requestLogger logs each request through slog and feeds the HTTP
// metrics. Route templates keep the path label cardinality bounded.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()

		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(elapsed.Seconds())

		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", elapsed,
			"client", c.ClientIP())
	}
}

// rateLimiter enforces a fixed-window per-IP request limit. Windows
// reset every minute; stale IPs are dropped on reset.
type rateLimiter struct {
	mu          sync.Mutex
	counts      map[string]int
	windowStart time.Time
	limit       int
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{
		counts:      make(map[string]int),
		windowStart: time.Now(),
		limit:       perMinute,
	}
}

func (r *rateLimiter) allow(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.windowStart) >= time.Minute {
		r.counts = make(map[string]int)
		r.windowStart = now
	}

	r.counts[ip]++
	return r.counts[ip] <= r.limit
}

// rateLimitMiddleware rejects clients that exceed the per-IP budget.
// A limit of zero or less disables limiting.
func rateLimitMiddleware(perMinute int) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	limiter := newRateLimiter(perMinute)
	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			rateLimited.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, try again later",
			})
			return
		}
		c.Next()
	}
}
