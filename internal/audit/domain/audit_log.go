// Package domain defines the persisted handshake audit entry.
package domain

import "time"

// AuditLog is one handshake event kept in the relational store.
type AuditLog struct {
	ID        string
	Action    string
	Source    string
	RecordID  string
	Reason    string
	RequestID string
	Metadata  string
	CreatedAt time.Time
}
