// Package health reports readiness by pinging the relational store and the TTL store.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultTimeout = 2 * time.Second

// Pinger is a dependency that can report whether it is reachable (e.g. *sqlx.DB, RedisStore).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// PingContext calls f.
func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// StatusSetter is the part of grpc's health server that Watch updates.
type StatusSetter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// Checker pings named dependencies. A Checker without dependencies is always healthy.
type Checker struct {
	deps    map[string]Pinger
	timeout time.Duration
	logger  *slog.Logger
}

// NewChecker returns a Checker. Nil pingers are skipped.
func NewChecker(deps map[string]Pinger, logger *slog.Logger) *Checker {
	c := &Checker{deps: make(map[string]Pinger, len(deps)), timeout: defaultTimeout, logger: logger}
	for name, p := range deps {
		if p != nil {
			c.deps[name] = p
		}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Check pings every dependency and returns the joined failures, or nil when all are up.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var errs []error
	for name, p := range c.deps {
		if err := p.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Handler serves GET /health: 200 {"status":"ok"} or 503 {"status":"unavailable"}.
func (c *Checker) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Header("Cache-Control", "no-store")
		if err := c.Check(ctx.Request.Context()); err != nil {
			c.logger.Warn("health check failed", "error", err)
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// Watch runs Check every interval and mirrors the result into the gRPC health server
// for the overall ("") service until ctx is done.
func (c *Checker) Watch(ctx context.Context, interval time.Duration, setter StatusSetter) {
	c.update(ctx, setter)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.update(ctx, setter)
		}
	}
}

func (c *Checker) update(ctx context.Context, setter StatusSetter) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := c.Check(ctx); err != nil {
		c.logger.Warn("health check failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	setter.SetServingStatus("", status)
}
