package tokenstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryStore_SetPop(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Set(ctx, "482913", "token-1", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := store.Pop(ctx, "482913")
	if err != nil || !ok {
		t.Fatalf("Pop = %q, %v, %v; want value", v, ok, err)
	}
	if v != "token-1" {
		t.Errorf("value = %q, want token-1", v)
	}

	_, ok, err = store.Pop(ctx, "482913")
	if err != nil {
		t.Fatalf("second Pop: %v", err)
	}
	if ok {
		t.Error("second Pop should miss")
	}
}

func TestMemoryStore_Pop_Missing(t *testing.T) {
	store := NewMemoryStore()
	v, ok, err := store.Pop(context.Background(), "nonexistent")
	if err != nil || ok || v != "" {
		t.Errorf("Pop = %q, %v, %v; want miss", v, ok, err)
	}
}

func TestMemoryStore_Pop_Expired(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	ctx := context.Background()

	_ = store.Set(ctx, "482913", "token-1", 60*time.Second)
	now = now.Add(60 * time.Second)

	if _, ok, _ := store.Pop(ctx, "482913"); ok {
		t.Error("Pop at expiry should miss")
	}
	if n := store.Prune(); n != 0 {
		t.Errorf("Pop should have removed the expired entry, Prune removed %d", n)
	}
}

func TestMemoryStore_Prune(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	ctx := context.Background()

	_ = store.Set(ctx, "111111", "short", 30*time.Second)
	_ = store.Set(ctx, "222222", "long", 90*time.Second)
	now = now.Add(time.Minute)

	if n := store.Prune(); n != 1 {
		t.Fatalf("Prune removed %d, want 1", n)
	}
	if v, ok, _ := store.Pop(ctx, "222222"); !ok || v != "long" {
		t.Errorf("live entry lost: %q, %v", v, ok)
	}
	if n := store.Prune(); n != 0 {
		t.Errorf("second Prune removed %d, want 0", n)
	}
}

func TestMemoryStore_Set_Overwrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Set(ctx, "k", "old", time.Minute)
	_ = store.Set(ctx, "k", "new", time.Minute)
	v, ok, _ := store.Pop(ctx, "k")
	if !ok || v != "new" {
		t.Errorf("Pop = %q, %v; want new", v, ok)
	}
}

func TestMemoryStore_Set_NonPositiveTTLDeletes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Set(ctx, "k", "v", time.Minute)
	_ = store.Set(ctx, "k", "v", 0)
	if _, ok, _ := store.Pop(ctx, "k"); ok {
		t.Error("zero ttl should delete the key")
	}
}

func TestMemoryStore_ConcurrentPop(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Set(ctx, "482913", "token-1", time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := store.Pop(ctx, "482913"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("winners = %d, want exactly 1", wins.Load())
	}
}
