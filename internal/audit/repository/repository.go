package repository

import (
	"context"

	"codelink/backend/internal/audit/domain"
)

// MaxListLimit caps ListByRecord; a limit of zero or less also means MaxListLimit.
const MaxListLimit = 100

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// ListByRecord returns up to limit entries of one authentication record, newest first.
	ListByRecord(ctx context.Context, recordID string, limit int) ([]*domain.AuditLog, error)
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
