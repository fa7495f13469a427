package repository

import (
	"context"
	"time"

	"codelink/backend/internal/handshake/domain"
)

// Repository defines persistence for authentication records.
type Repository interface {
	// Create inserts rec. Before inserting it releases any holder of the same login code whose
	// approval deadline is at or before releaseBefore. Returns domain.ErrLoginCodeTaken when an
	// active record still holds the code (or the fingerprint).
	Create(ctx context.Context, rec *domain.AuthenticationRecord, releaseBefore time.Time) error
	// GetActiveByLoginCode returns the record currently holding loginCode, or nil if none.
	GetActiveByLoginCode(ctx context.Context, loginCode string) (*domain.AuthenticationRecord, error)
	// GetByLoginCodeAndFingerprint returns the active record matching both values, or nil.
	GetByLoginCodeAndFingerprint(ctx context.Context, loginCode, fingerprint string) (*domain.AuthenticationRecord, error)
	// GetByFingerprint returns the record for fingerprint, or nil if not found.
	GetByFingerprint(ctx context.Context, fingerprint string) (*domain.AuthenticationRecord, error)
	// SetHashAndSalt stores hash on the record if it has none yet and is still approvable at at.
	// Returns false when no row was updated.
	SetHashAndSalt(ctx context.Context, id, hash string, at time.Time) (bool, error)
	// ClearHashAndSalt undoes SetHashAndSalt if the record still holds hash.
	ClearHashAndSalt(ctx context.Context, id, hash string) error
	// MarkRedeemed records the first redemption time of the record.
	MarkRedeemed(ctx context.Context, id string, at time.Time) error
}
