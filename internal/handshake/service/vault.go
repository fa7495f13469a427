package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"codelink/backend/internal/handshake/domain"
	"codelink/backend/internal/security"
	"codelink/backend/internal/tokenstore"
)

// VaultRepo is the minimal authentication repository needed by the token vault.
type VaultRepo interface {
	GetActiveByLoginCode(ctx context.Context, loginCode string) (*domain.AuthenticationRecord, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*domain.AuthenticationRecord, error)
	SetHashAndSalt(ctx context.Context, id, hash string, at time.Time) (bool, error)
	ClearHashAndSalt(ctx context.Context, id, hash string) error
	MarkRedeemed(ctx context.Context, id string, at time.Time) error
}

// TokenHasher derives and checks the durable proof of a token.
type TokenHasher interface {
	Hash(token string) (string, error)
	Compare(hash, token string) bool
}

// Reasons a presented token was rejected by Verify. Only used for telemetry.
const (
	reasonNoRecord    = "no_record"
	reasonNotApproved = "not_approved"
	reasonMismatch    = "mismatch"
)

// TokenVault mints tokens on approval, hands each one out once, and checks presented tokens
// against the stored hash.
type TokenVault struct {
	repo     VaultRepo
	store    tokenstore.Store
	hasher   TokenHasher
	registry *CodeRegistry
	tokenTTL time.Duration
	logger   *slog.Logger

	// dummyHash is compared against when no hash exists, so a miss costs one bcrypt run too.
	dummyHash string
	newToken  func() (string, error)
	nowF      func() time.Time
}

// NewTokenVault returns a TokenVault. registry is used by Redeem to check the fingerprint binding.
func NewTokenVault(repo VaultRepo, store tokenstore.Store, hasher TokenHasher, registry *CodeRegistry, tokenTTL time.Duration, logger *slog.Logger) (*TokenVault, error) {
	if logger == nil {
		logger = slog.Default()
	}
	seed, err := security.GenerateToken()
	if err != nil {
		return nil, err
	}
	dummy, err := hasher.Hash(seed)
	if err != nil {
		return nil, err
	}
	return &TokenVault{
		repo:      repo,
		store:     store,
		hasher:    hasher,
		registry:  registry,
		tokenTTL:  tokenTTL,
		logger:    logger,
		dummyHash: dummy,
		newToken:  security.GenerateToken,
		nowF:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Approve mints a token for loginCode. The hash is written to the relational store first and
// the plaintext token to the TTL store second, so a failed second write leaves redeem Pending.
// A failed second write also rolls the hash back so the approver can retry.
func (v *TokenVault) Approve(ctx context.Context, loginCode string) (*domain.AuthenticationRecord, error) {
	rec, err := v.repo.GetActiveByLoginCode(ctx, loginCode)
	if err != nil {
		return nil, storeError("approve", err)
	}
	now := v.nowF()
	if rec == nil {
		return nil, ErrNotFound
	}
	if rec.Approved() {
		return nil, ErrAlreadyApproved
	}
	if !rec.ApprovableAt(now) {
		return nil, ErrNotFound
	}

	token, err := v.newToken()
	if err != nil {
		return nil, err
	}
	hash, err := v.hasher.Hash(token)
	if err != nil {
		return nil, err
	}
	ok, err := v.repo.SetHashAndSalt(ctx, rec.ID, hash, now)
	if err != nil {
		return nil, storeError("approve", err)
	}
	if !ok {
		return nil, ErrAlreadyApproved
	}

	if err := v.store.Set(ctx, loginCode, token, v.tokenTTL); err != nil {
		// The write may have landed even though the reply was lost. Drop it before the hash goes,
		// or Redeem could hand out a token Verify never accepts.
		cleanupCtx := context.WithoutCancel(ctx)
		if _, _, popErr := v.store.Pop(cleanupCtx, loginCode); popErr != nil {
			v.logger.Warn("approve: could not drop token after token store failure", "record_id", rec.ID, "error", popErr)
		}
		if clearErr := v.repo.ClearHashAndSalt(cleanupCtx, rec.ID, hash); clearErr != nil {
			v.logger.Warn("approve: could not roll back hash after token store failure", "record_id", rec.ID, "error", clearErr)
		}
		return nil, storeError("approve", err)
	}

	rec.HashAndSalt = hash
	rec.ApprovedAt = &now
	return rec, nil
}

// Redeem hands out the token for loginCode exactly once, after checking the fingerprint binding.
// Returns ErrPending while no token is waiting and ErrNotBound for a wrong pair. A pending result
// for a redeemed or expired record also wraps errTokenGone.
func (v *TokenVault) Redeem(ctx context.Context, loginCode, fingerprint string) (string, *domain.AuthenticationRecord, error) {
	rec, err := v.registry.VerifyBinding(ctx, loginCode, fingerprint)
	if err != nil {
		return "", nil, err
	}
	token, ok, err := v.store.Pop(ctx, loginCode)
	if err != nil {
		return "", nil, storeError("redeem", err)
	}
	now := v.nowF()
	if !ok {
		if state := rec.StateAt(now, v.tokenTTL); state == domain.StateRedeemed || state == domain.StateExpired {
			return "", nil, fmt.Errorf("%w: record %s: %w", ErrPending, state, errTokenGone)
		}
		return "", nil, ErrPending
	}
	if err := v.repo.MarkRedeemed(context.WithoutCancel(ctx), rec.ID, now); err != nil {
		v.logger.Warn("redeem: could not mark record redeemed", "record_id", rec.ID, "error", err)
	} else {
		rec.RedeemedAt = &now
	}
	return token, rec, nil
}

// Verify reports whether token is the one approved for the record bound to fingerprint.
// A missing record, a record without a hash and a wrong token all yield false. The error is
// reserved for store failures.
func (v *TokenVault) Verify(ctx context.Context, fingerprint, token string) (bool, error) {
	ok, _, err := v.verify(ctx, fingerprint, token)
	return ok, err
}

func (v *TokenVault) verify(ctx context.Context, fingerprint, token string) (bool, string, error) {
	rec, err := v.repo.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		return false, "", storeError("verify", err)
	}
	switch {
	case rec == nil:
		v.hasher.Compare(v.dummyHash, token)
		return false, reasonNoRecord, nil
	case !rec.Approved():
		v.hasher.Compare(v.dummyHash, token)
		return false, reasonNotApproved, nil
	case !v.hasher.Compare(rec.HashAndSalt, token):
		return false, reasonMismatch, nil
	}
	return true, "", nil
}
