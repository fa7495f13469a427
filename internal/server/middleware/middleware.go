// Package middleware holds the gin middleware shared by every HTTP route.
package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"codelink/backend/internal/logger"
	"codelink/backend/internal/telemetry/metrics"
)

// HeaderRequestID carries the request ID in both directions.
const HeaderRequestID = "X-Request-ID"

const maxRequestIDLength = 64

// RequestID reuses a sane incoming X-Request-ID or generates one, echoes it on the response,
// and stores it in the request context for logger.L.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLength || strings.ContainsAny(id, " \t\r\n") {
			id = uuid.New().String()
		}
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// AccessLog logs one line per request. 5xx log at error, 4xx at warn, the rest at info.
func AccessLog(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"route", route(c),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		log := logger.L(c.Request.Context(), base)
		switch {
		case status >= 500:
			log.Error("request completed with error", attrs...)
		case status >= 400:
			log.Warn("request completed with client error", attrs...)
		default:
			log.Info("request completed", attrs...)
		}
	}
}

// Recover turns a panic into a generic 500 and logs it.
func Recover(base *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		logger.L(c.Request.Context(), base).Error("panic recovered", "error", recovered, "route", route(c))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}

// CORS sets the cross-origin headers. An empty allow-list answers any origin with "*".
func CORS(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 0
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowAll {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range origins {
				if origin == allowed {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					c.Writer.Header().Set("Vary", "Origin")
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, x-login-code, x-fingerprint, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Metrics records request count and latency per route template. Safe with a nil registry.
func Metrics(reg *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if reg == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		r := route(c)
		reg.HTTPRequests.WithLabelValues(c.Request.Method, r, strconv.Itoa(c.Writer.Status())).Inc()
		reg.HTTPDuration.WithLabelValues(c.Request.Method, r).Observe(time.Since(start).Seconds())
	}
}

// route returns the matched route template so unmatched paths share one label.
func route(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return "unmatched"
}

// RateLimiter keeps one token bucket per client IP. Idle buckets are dropped by Sweep.
type RateLimiter struct {
	limit rate.Limit
	burst int
	reg   *metrics.Registry

	mu      sync.Mutex
	clients map[string]*client
	nowF    func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter returns a limiter allowing rps requests per second with the given burst per IP.
// A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int, reg *metrics.Registry) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		reg:     reg,
		clients: make(map[string]*client),
		nowF:    time.Now,
	}
}

// Allow reports whether ip may make a request now.
func (l *RateLimiter) Allow(ip string) bool {
	if l.limit <= 0 {
		return true
	}
	now := l.nowF()
	l.mu.Lock()
	cl, ok := l.clients[ip]
	if !ok {
		cl = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = cl
	}
	cl.lastSeen = now
	l.mu.Unlock()
	return cl.limiter.AllowN(now, 1)
}

// Sweep drops buckets idle for longer than idle.
func (l *RateLimiter) Sweep(idle time.Duration) {
	cutoff := l.nowF().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, cl := range l.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// Len returns the number of tracked clients.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Handler rejects over-limit requests with 429 and Retry-After.
func (l *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			if l.reg != nil {
				l.reg.RateLimited.Inc()
			}
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
