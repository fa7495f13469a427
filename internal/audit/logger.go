// Package audit keeps a durable trail of handshake events next to the authentication records.
package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"codelink/backend/internal/audit/domain"
	auditrepo "codelink/backend/internal/audit/repository"
	telemetrydomain "codelink/backend/internal/telemetry/domain"
)

// Logger persists handshake events through the audit repository. It implements
// telemetry.EventEmitter so it sits in the same fanout as OTel and Kafka.
type Logger struct {
	repo auditrepo.Repository
}

// NewLogger returns a Logger that persists to repo.
func NewLogger(repo auditrepo.Repository) *Logger {
	return &Logger{repo: repo}
}

// Emit writes one audit entry for event. A nil repo or event is a no-op.
func (l *Logger) Emit(ctx context.Context, event *telemetrydomain.Event) error {
	if l == nil || l.repo == nil || event == nil {
		return nil
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		Action:    event.EventType,
		Source:    event.Source,
		RecordID:  event.RecordID,
		Reason:    event.Reason,
		RequestID: requestID(event.Metadata),
		CreatedAt: event.CreatedAt,
	}
	if len(event.Metadata) > 0 {
		entry.Metadata = string(event.Metadata)
	}
	return l.repo.Create(ctx, entry)
}

func requestID(meta json.RawMessage) string {
	if len(meta) == 0 {
		return ""
	}
	var m struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(meta, &m); err != nil {
		return ""
	}
	return m.RequestID
}
