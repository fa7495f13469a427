// Package domain defines the handshake events published to OTel logs, Kafka and Loki.
package domain

import (
	"encoding/json"
	"time"
)

// Event types emitted by the handshake service.
const (
	EventCodeIssued    = "code_issued"
	EventCodeApproved  = "code_approved"
	EventTokenRedeemed = "token_redeemed"
	EventVerifyFailed  = "verify_failed"
)

// Event is a single handshake event. It never carries a token, hash or pepper.
type Event struct {
	EventType string          `json:"eventType"`
	Source    string          `json:"source"`
	RecordID  string          `json:"recordId,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewEvent returns an event of eventType stamped with the current UTC time.
func NewEvent(eventType, source, recordID string) *Event {
	return &Event{
		EventType: eventType,
		Source:    source,
		RecordID:  recordID,
		CreatedAt: time.Now().UTC(),
	}
}
