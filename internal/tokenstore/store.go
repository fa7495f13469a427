// Package tokenstore holds approved authentication tokens until they are redeemed or expire.
package tokenstore

import (
	"context"
	"sync"
	"time"
)

// Store is a key/value store with per-key expiry and an atomic read-and-delete.
type Store interface {
	// Set stores value under key for ttl, replacing any previous value.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Pop returns and deletes the value under key in one step. ok is false when the key is
	// missing or expired. Of any number of concurrent Pop calls for one key at most one gets ok.
	Pop(ctx context.Context, key string) (value string, ok bool, err error)
}

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-process Store for tests and single-instance development runs.
type MemoryStore struct {
	mu   sync.Mutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the store's time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowF = now
}

// Set stores value under key until now+ttl. A non-positive ttl deletes the key.
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl <= 0 {
		delete(s.m, key)
		return nil
	}
	s.m[key] = entry{value: value, expiresAt: s.nowF().Add(ttl)}
	return nil
}

// Pop returns and removes the value under key if present and not expired.
func (s *MemoryStore) Pop(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok {
		return "", false, nil
	}
	delete(s.m, key)
	if !e.expiresAt.After(s.nowF()) {
		return "", false, nil
	}
	return e.value, true, nil
}

// Prune drops expired entries that were never popped and returns how many it removed.
func (s *MemoryStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	removed := 0
	for k, e := range s.m {
		if !e.expiresAt.After(now) {
			delete(s.m, k)
			removed++
		}
	}
	return removed
}
