// Worker consumes handshake events from Kafka and pushes them to Loki.
// Set KAFKA_BROKERS, TELEMETRY_KAFKA_TOPIC, KAFKA_GROUP_ID, and LOKI_URL.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"codelink/backend/internal/config"
	"codelink/backend/internal/logger"
	"codelink/backend/internal/telemetry/forwarder"
	"codelink/backend/internal/telemetry/loki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	brokers := cfg.TelemetryKafkaBrokersList()
	if len(brokers) == 0 {
		log.Error("worker: KAFKA_BROKERS is required")
		os.Exit(1)
	}
	if cfg.LokiURL == "" {
		log.Error("worker: LOKI_URL is required")
		os.Exit(1)
	}

	reader := forwarder.NewKafkaReader(brokers, cfg.TelemetryKafkaTopic, cfg.KafkaGroupID)
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker: consuming", "topic", cfg.TelemetryKafkaTopic, "group", cfg.KafkaGroupID, "loki", cfg.LokiURL)
	pushed := forwarder.New(reader, loki.NewClient(cfg.LokiURL, nil), log).Run(ctx)
	log.Info("worker: stopped", "pushed", pushed)
}
