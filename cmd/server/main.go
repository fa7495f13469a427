// Server runs the codelink handshake HTTP API and the gRPC health service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"

	"codelink/backend/internal/audit"
	audithandler "codelink/backend/internal/audit/handler"
	auditrepo "codelink/backend/internal/audit/repository"
	"codelink/backend/internal/config"
	"codelink/backend/internal/db"
	"codelink/backend/internal/handshake/repository"
	"codelink/backend/internal/handshake/service"
	"codelink/backend/internal/health"
	"codelink/backend/internal/logger"
	"codelink/backend/internal/server"
	"codelink/backend/internal/server/middleware"
	"codelink/backend/internal/telemetry"
	"codelink/backend/internal/telemetry/metrics"
	telemetryotel "codelink/backend/internal/telemetry/otel"
	"codelink/backend/internal/telemetry/producer"
	"codelink/backend/internal/tokenstore"
)

const (
	healthInterval   = 10 * time.Second
	limiterSweep     = time.Minute
	limiterIdle      = 10 * time.Minute
	tokenPrune       = time.Minute
	shutdownDeadline = 30 * time.Second
)

// Version is set via ldflags.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.ValidateSecrets(); err != nil {
		return err
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(log)
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()

	reg := metrics.NewRegistry()

	emitters := telemetry.Fanout{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	kafkaProducer := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic)
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
		log.Info("publishing handshake events to kafka", "topic", cfg.TelemetryKafkaTopic)
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()
	emitters = append(emitters, audit.NewLogger(st.audit))

	svc, err := service.New(st.repo, st.tokens, service.Config{
		Pepper:      cfg.TokenPepper,
		BcryptCost:  cfg.BcryptCost,
		CodeTTL:     cfg.CodeLifetime(),
		TokenTTL:    cfg.TokenLifetime(),
		MaxAttempts: cfg.IssueMaxAttempts,
	}, service.Options{
		Emitter:       emitters,
		Metrics:       reg,
		Tracer:        providers.Tracer("codelink/handshake"),
		Logger:        log,
		RedeemMaxWait: cfg.RedeemWaitLimit(),
	})
	if err != nil {
		return fmt.Errorf("handshake service: %w", err)
	}

	checker := health.NewChecker(st.pingers, log)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, reg)
	go sweepLimiter(ctx, limiter)

	var auditHandler *audithandler.Handler
	if cfg.AuditToken != "" {
		auditHandler = audithandler.NewHandler(st.audit, cfg.AuditToken, log)
		log.Info("audit trail exposed at /audit/:recordId")
	}

	router := server.NewRouter(server.HTTPDeps{
		Handshake:   svc,
		Audit:       auditHandler,
		Health:      checker,
		Metrics:     reg,
		Limiter:     limiter,
		CORSOrigins: cfg.CORSOrigins(),
		Logger:      log,
	})
	httpServer := server.NewHTTPServer(cfg.HTTPAddr, router, cfg.RedeemWaitLimit())

	errCh := make(chan error, 2)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
		}
		srv, healthServer := server.NewGRPCServer()
		grpcServer = srv
		go checker.Watch(ctx, healthInterval, healthServer)
		go func() {
			log.Info("grpc health server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server failed", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	// Let in-flight async emits finish before closing their sinks.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := kafkaProducer.Close(); err != nil {
		log.Error("kafka producer close", "error", err)
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Error("otel shutdown", "error", err)
	}
	log.Info("server stopped")
	return nil
}

type stores struct {
	repo    repository.Repository
	tokens  tokenstore.Store
	audit   auditrepo.Repository
	pingers map[string]health.Pinger
	close   func()
}

// openStores connects Postgres and Redis. Outside production an empty DATABASE_URL selects
// in-memory stores for single-instance development.
func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		if cfg.Env == "production" {
			return nil, errors.New("config: DATABASE_URL is required in production")
		}
		log.Warn("DATABASE_URL not set; using in-memory stores (single instance, data lost on restart)")
		tokens := tokenstore.NewMemoryStore()
		go pruneTokens(ctx, tokens)
		return &stores{
			repo:   repository.NewMemoryRepository(),
			tokens: tokens,
			audit:  auditrepo.NewMemoryRepository(),
			close:  func() {},
		}, nil
	}

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	redisStore, err := tokenstore.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	return &stores{
		repo:   repository.NewPostgresRepository(sqlDB),
		tokens: redisStore,
		audit:  auditrepo.NewPostgresRepository(sqlDB),
		pingers: map[string]health.Pinger{
			"postgres": sqlDB,
			"redis":    health.PingFunc(redisStore.Ping),
		},
		close: func() {
			if err := redisStore.Close(); err != nil {
				log.Error("redis close", "error", err)
			}
			if err := sqlDB.Close(); err != nil {
				log.Error("postgres close", "error", err)
			}
		},
	}, nil
}

func sweepLimiter(ctx context.Context, l *middleware.RateLimiter) {
	ticker := time.NewTicker(limiterSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(limiterIdle)
		}
	}
}

// pruneTokens drops tokens that expired without being redeemed from the in-memory store.
func pruneTokens(ctx context.Context, s *tokenstore.MemoryStore) {
	ticker := time.NewTicker(tokenPrune)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Prune(); n > 0 {
				slog.Debug("pruned expired tokens", "count", n)
			}
		}
	}
}
