// Package server wires the HTTP and gRPC servers.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	audithandler "codelink/backend/internal/audit/handler"
	"codelink/backend/internal/handshake/handler"
	"codelink/backend/internal/health"
	"codelink/backend/internal/server/middleware"
	"codelink/backend/internal/telemetry/metrics"
)

const (
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 60 * time.Second
	// writeSlack is added to the long-poll cap so a full wait still fits the write timeout.
	writeSlack = 10 * time.Second
)

// HTTPDeps holds what the HTTP router serves. Audit, Health, Metrics and Limiter are optional.
type HTTPDeps struct {
	Handshake   handler.HandshakeService
	Audit       *audithandler.Handler
	Health      *health.Checker
	Metrics     *metrics.Registry
	Limiter     *middleware.RateLimiter
	CORSOrigins []string
	Logger      *slog.Logger
}

// NewRouter returns the gin engine with the middleware chain, the handshake routes, the
// optional audit route, /health and /metrics. The rate limiter spares /health and /metrics.
func NewRouter(deps HTTPDeps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Recover(log),
		middleware.AccessLog(log),
		middleware.Metrics(deps.Metrics),
		middleware.CORS(deps.CORSOrigins),
	)

	if deps.Health != nil {
		r.GET("/health", deps.Health.Handler())
	} else {
		r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	}
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	routes := r.Group("/")
	if deps.Limiter != nil {
		routes.Use(deps.Limiter.Handler())
	}
	handler.NewHandler(deps.Handshake, log).Register(routes)
	if deps.Audit != nil {
		deps.Audit.Register(routes)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}

// NewHTTPServer returns an http.Server for h whose write timeout leaves room for a full long poll.
func NewHTTPServer(addr string, h http.Handler, maxWait time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      maxWait + writeSlack,
		IdleTimeout:       idleTimeout,
	}
}
