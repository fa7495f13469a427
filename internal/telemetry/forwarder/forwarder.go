// Package forwarder moves handshake events from Kafka to Loki.
package forwarder

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	pushTimeout  = 10 * time.Second
	readBackoff  = time.Second
	maxReadBytes = 10e6
)

// MessageReader is the part of *kafka.Reader the forwarder uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Pusher stores one raw event (e.g. *loki.Client).
type Pusher interface {
	PushEventJSON(ctx context.Context, raw []byte) error
}

// NewKafkaReader returns a consumer-group reader for topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       maxReadBytes,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})
}

// Forwarder reads events and pushes each one. Push failures are logged and the event is skipped.
type Forwarder struct {
	reader MessageReader
	pusher Pusher
	logger *slog.Logger
}

// New returns a Forwarder.
func New(reader MessageReader, pusher Pusher, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{reader: reader, pusher: pusher, logger: logger}
}

// Run forwards until ctx is done and returns the number of events pushed.
func (f *Forwarder) Run(ctx context.Context) int {
	pushed := 0
	for {
		msg, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return pushed
			}
			f.logger.Warn("kafka read failed", "error", err)
			select {
			case <-ctx.Done():
				return pushed
			case <-time.After(readBackoff):
			}
			continue
		}

		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		err = f.pusher.PushEventJSON(pushCtx, msg.Value)
		cancel()
		if err != nil {
			f.logger.Error("loki push failed", "partition", msg.Partition, "offset", msg.Offset, "error", err)
			continue
		}
		pushed++
	}
}
