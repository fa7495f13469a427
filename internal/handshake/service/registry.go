package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"codelink/backend/internal/handshake/domain"
	"codelink/backend/internal/security"
)

// RegistryRepo is the minimal authentication repository needed by the code registry.
type RegistryRepo interface {
	Create(ctx context.Context, rec *domain.AuthenticationRecord, releaseBefore time.Time) error
	GetByLoginCodeAndFingerprint(ctx context.Context, loginCode, fingerprint string) (*domain.AuthenticationRecord, error)
}

// IssuedCode is what the requester receives from Issue.
type IssuedCode struct {
	RecordID    string
	LoginCode   string
	Fingerprint string
	ExpiresAt   time.Time
	// Attempts is how many inserts issuance needed; more than one means collisions were retried.
	Attempts int
}

// RegistryConfig holds the code registry settings.
type RegistryConfig struct {
	// CodeTTL is how long an issued code can be approved.
	CodeTTL time.Duration
	// TokenTTL is the ephemeral token lifetime. A code is reusable only once every token keyed by it has expired.
	TokenTTL time.Duration
	// MaxAttempts bounds the insert retries on a uniqueness collision.
	MaxAttempts int
}

// CodeRegistry allocates (login code, fingerprint) pairs and checks their binding.
type CodeRegistry struct {
	repo RegistryRepo
	cfg  RegistryConfig

	newCode        func() (string, error)
	newFingerprint func() string
	nowF           func() time.Time
}

// NewCodeRegistry returns a CodeRegistry backed by repo.
func NewCodeRegistry(repo RegistryRepo, cfg RegistryConfig) *CodeRegistry {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &CodeRegistry{
		repo:           repo,
		cfg:            cfg,
		newCode:        security.GenerateLoginCode,
		newFingerprint: func() string { return uuid.New().String() },
		nowF:           func() time.Time { return time.Now().UTC() },
	}
}

// Issue generates a fresh login code and fingerprint and persists them as a new record.
// On a uniqueness collision both values are regenerated, up to MaxAttempts times.
func (r *CodeRegistry) Issue(ctx context.Context) (*IssuedCode, error) {
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		code, err := r.newCode()
		if err != nil {
			return nil, err
		}
		now := r.nowF()
		rec := &domain.AuthenticationRecord{
			ID:          uuid.New().String(),
			LoginCode:   code,
			Fingerprint: r.newFingerprint(),
			CreatedAt:   now,
			ExpiresAt:   now.Add(r.cfg.CodeTTL),
		}
		err = r.repo.Create(ctx, rec, now.Add(-r.cfg.TokenTTL))
		if errors.Is(err, domain.ErrLoginCodeTaken) {
			continue
		}
		if err != nil {
			return nil, storeError("issue", err)
		}
		return &IssuedCode{
			RecordID:    rec.ID,
			LoginCode:   rec.LoginCode,
			Fingerprint: rec.Fingerprint,
			ExpiresAt:   rec.ExpiresAt,
			Attempts:    attempt,
		}, nil
	}
	return nil, ErrCodeSpaceExhausted
}

// VerifyBinding returns the active record whose login code and fingerprint both match,
// or ErrNotBound. Which half of the pair was wrong is not revealed.
func (r *CodeRegistry) VerifyBinding(ctx context.Context, loginCode, fingerprint string) (*domain.AuthenticationRecord, error) {
	rec, err := r.repo.GetByLoginCodeAndFingerprint(ctx, loginCode, fingerprint)
	if err != nil {
		return nil, storeError("verify binding", err)
	}
	if rec == nil {
		return nil, ErrNotBound
	}
	return rec, nil
}
