package repository

import (
	"context"
	"sync"
	"time"

	"codelink/backend/internal/handshake/domain"
)

// MemoryRepository is an in-process Repository with the same uniqueness rules as the
// Postgres schema. For tests and single-instance development runs only.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]*domain.AuthenticationRecord
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*domain.AuthenticationRecord)}
}

// Create releases stale holders of rec.LoginCode and inserts a copy of rec.
func (r *MemoryRepository) Create(ctx context.Context, rec *domain.AuthenticationRecord, releaseBefore time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.LoginCode == rec.LoginCode && existing.CodeReleasedAt == nil && !existing.ExpiresAt.After(releaseBefore) {
			at := rec.CreatedAt
			existing.CodeReleasedAt = &at
		}
	}
	for _, existing := range r.records {
		if existing.Fingerprint == rec.Fingerprint {
			return domain.ErrLoginCodeTaken
		}
		if existing.LoginCode == rec.LoginCode && existing.CodeReleasedAt == nil {
			return domain.ErrLoginCodeTaken
		}
	}
	cp := *rec
	r.records[rec.ID] = &cp
	return nil
}

// GetActiveByLoginCode returns a copy of the record holding loginCode, or nil.
func (r *MemoryRepository) GetActiveByLoginCode(ctx context.Context, loginCode string) (*domain.AuthenticationRecord, error) {
	return r.find(func(rec *domain.AuthenticationRecord) bool {
		return rec.LoginCode == loginCode && rec.CodeReleasedAt == nil
	}), nil
}

// GetByLoginCodeAndFingerprint returns a copy of the active record bound to both values, or nil.
func (r *MemoryRepository) GetByLoginCodeAndFingerprint(ctx context.Context, loginCode, fingerprint string) (*domain.AuthenticationRecord, error) {
	return r.find(func(rec *domain.AuthenticationRecord) bool {
		return rec.LoginCode == loginCode && rec.Fingerprint == fingerprint && rec.CodeReleasedAt == nil
	}), nil
}

// GetByFingerprint returns a copy of the record for fingerprint, or nil.
func (r *MemoryRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.AuthenticationRecord, error) {
	return r.find(func(rec *domain.AuthenticationRecord) bool { return rec.Fingerprint == fingerprint }), nil
}

// SetHashAndSalt mirrors the conditional update of the Postgres repository.
func (r *MemoryRepository) SetHashAndSalt(ctx context.Context, id, hash string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.HashAndSalt != "" || rec.CodeReleasedAt != nil || !at.Before(rec.ExpiresAt) {
		return false, nil
	}
	rec.HashAndSalt = hash
	rec.ApprovedAt = &at
	return true, nil
}

// ClearHashAndSalt resets the approval if the record still holds hash and was not redeemed.
func (r *MemoryRepository) ClearHashAndSalt(ctx context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok && rec.HashAndSalt == hash && rec.RedeemedAt == nil {
		rec.HashAndSalt = ""
		rec.ApprovedAt = nil
	}
	return nil
}

// MarkRedeemed sets RedeemedAt unless already set.
func (r *MemoryRepository) MarkRedeemed(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok && rec.RedeemedAt == nil {
		rec.RedeemedAt = &at
	}
	return nil
}

// Get returns a copy of the record with id, or nil.
func (r *MemoryRepository) Get(id string) *domain.AuthenticationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

func (r *MemoryRepository) find(match func(*domain.AuthenticationRecord) bool) *domain.AuthenticationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if match(rec) {
			cp := *rec
			return &cp
		}
	}
	return nil
}
