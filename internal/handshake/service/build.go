package service

import (
	"time"

	"codelink/backend/internal/handshake/repository"
	"codelink/backend/internal/security"
	"codelink/backend/internal/tokenstore"
)

// Config holds the handshake settings read from the environment.
type Config struct {
	Pepper      string
	BcryptCost  int
	CodeTTL     time.Duration
	TokenTTL    time.Duration
	MaxAttempts int
}

// New assembles the registry, vault and service over repo and store.
func New(repo repository.Repository, store tokenstore.Store, cfg Config, opts Options) (*HandshakeService, error) {
	hasher, err := security.NewTokenHasher(cfg.Pepper, cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	registry := NewCodeRegistry(repo, RegistryConfig{
		CodeTTL:     cfg.CodeTTL,
		TokenTTL:    cfg.TokenTTL,
		MaxAttempts: cfg.MaxAttempts,
	})
	vault, err := NewTokenVault(repo, store, hasher, registry, cfg.TokenTTL, opts.Logger)
	if err != nil {
		return nil, err
	}
	return NewHandshakeService(registry, vault, opts), nil
}
