package repository

import (
	"context"
	"sort"
	"sync"

	"codelink/backend/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process. For tests and development runs.
type MemoryRepository struct {
	mu   sync.Mutex
	logs []*domain.AuditLog
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Create stores a copy of a.
func (r *MemoryRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.logs = append(r.logs, &cp)
	return nil
}

// ListByRecord returns copies of the entries for recordID, newest first.
func (r *MemoryRepository) ListByRecord(ctx context.Context, recordID string, limit int) ([]*domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AuditLog
	for _, l := range r.logs {
		if l.RecordID == recordID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
