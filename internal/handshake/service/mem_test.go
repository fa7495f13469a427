package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"codelink/backend/internal/handshake/domain"
	"codelink/backend/internal/handshake/repository"
	"codelink/backend/internal/security"
	"codelink/backend/internal/tokenstore"
)

// flakyRepo wraps the in-memory repository and fails every call while err is set.
type flakyRepo struct {
	*repository.MemoryRepository
	mu  sync.Mutex
	err error
}

func newFlakyRepo() *flakyRepo {
	return &flakyRepo{MemoryRepository: repository.NewMemoryRepository()}
}

func (r *flakyRepo) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *flakyRepo) failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *flakyRepo) Create(ctx context.Context, rec *domain.AuthenticationRecord, releaseBefore time.Time) error {
	if err := r.failure(); err != nil {
		return err
	}
	return r.MemoryRepository.Create(ctx, rec, releaseBefore)
}

func (r *flakyRepo) GetActiveByLoginCode(ctx context.Context, loginCode string) (*domain.AuthenticationRecord, error) {
	if err := r.failure(); err != nil {
		return nil, err
	}
	return r.MemoryRepository.GetActiveByLoginCode(ctx, loginCode)
}

func (r *flakyRepo) GetByLoginCodeAndFingerprint(ctx context.Context, loginCode, fingerprint string) (*domain.AuthenticationRecord, error) {
	if err := r.failure(); err != nil {
		return nil, err
	}
	return r.MemoryRepository.GetByLoginCodeAndFingerprint(ctx, loginCode, fingerprint)
}

func (r *flakyRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.AuthenticationRecord, error) {
	if err := r.failure(); err != nil {
		return nil, err
	}
	return r.MemoryRepository.GetByFingerprint(ctx, fingerprint)
}

func (r *flakyRepo) SetHashAndSalt(ctx context.Context, id, hash string, at time.Time) (bool, error) {
	if err := r.failure(); err != nil {
		return false, err
	}
	return r.MemoryRepository.SetHashAndSalt(ctx, id, hash, at)
}

func (r *flakyRepo) record(id string) domain.AuthenticationRecord {
	return *r.Get(id)
}

// failingStore is a tokenstore.Store whose calls fail with err.
type failingStore struct {
	err error
}

func (s failingStore) Set(context.Context, string, string, time.Duration) error { return s.err }
func (s failingStore) Pop(context.Context, string) (string, bool, error)       { return "", false, s.err }

// lostReplyStore applies every Set and then reports a failure, like a write whose reply timed out.
type lostReplyStore struct {
	tokenstore.Store
}

func (s lostReplyStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.Store.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return errors.New("redis: i/o timeout")
}

// fakeClock is a settable time source shared by the components under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const (
	testTokenTTL = 60 * time.Second
	testCodeTTL  = 10 * time.Minute
	testPepper   = "test-pepper-0123456789"
)

var errDBDown = errors.New("dial tcp: connection refused")

// harness wires a registry, vault and service over in-memory stores and a fake clock.
type harness struct {
	repo     *flakyRepo
	store    *tokenstore.MemoryStore
	clock    *fakeClock
	registry *CodeRegistry
	vault    *TokenVault
	svc      *HandshakeService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, nil)
}

func newHarnessWithStore(t *testing.T, store tokenstore.Store) *harness {
	t.Helper()
	h := &harness{
		repo:  newFlakyRepo(),
		store: tokenstore.NewMemoryStore(),
		clock: &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)},
	}
	h.store.SetClock(h.clock.Now)
	if store == nil {
		store = h.store
	}
	hasher, err := security.NewTokenHasher(testPepper, security.MinTokenCost)
	if err != nil {
		t.Fatalf("NewTokenHasher: %v", err)
	}
	h.registry = NewCodeRegistry(h.repo, RegistryConfig{CodeTTL: testCodeTTL, TokenTTL: testTokenTTL, MaxAttempts: 5})
	h.registry.nowF = h.clock.Now
	h.vault, err = NewTokenVault(h.repo, store, hasher, h.registry, testTokenTTL, nil)
	if err != nil {
		t.Fatalf("NewTokenVault: %v", err)
	}
	h.vault.nowF = h.clock.Now
	h.svc = NewHandshakeService(h.registry, h.vault, Options{PollInterval: 10 * time.Millisecond, RedeemMaxWait: time.Second})
	return h
}
