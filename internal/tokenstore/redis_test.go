package tokenstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore_SetPop(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "482913", "token-1", 60*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !mr.Exists(KeyPrefix + "482913") {
		t.Fatal("key should be stored under the prefix")
	}
	if ttl := mr.TTL(KeyPrefix + "482913"); ttl != 60*time.Second {
		t.Errorf("TTL = %v, want 60s", ttl)
	}

	v, ok, err := store.Pop(ctx, "482913")
	if err != nil || !ok || v != "token-1" {
		t.Fatalf("Pop = %q, %v, %v; want token-1", v, ok, err)
	}
	if mr.Exists(KeyPrefix + "482913") {
		t.Error("Pop should delete the key")
	}
	if _, ok, _ := store.Pop(ctx, "482913"); ok {
		t.Error("second Pop should miss")
	}
}

func TestRedisStore_Pop_Expired(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	_ = store.Set(ctx, "482913", "token-1", 60*time.Second)
	mr.FastForward(61 * time.Second)

	v, ok, err := store.Pop(ctx, "482913")
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if ok || v != "" {
		t.Errorf("Pop after TTL = %q, %v; want miss", v, ok)
	}
}

func TestRedisStore_ConcurrentPop(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	_ = store.Set(ctx, "482913", "token-1", time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := store.Pop(ctx, "482913"); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("winners = %d, want exactly 1", wins.Load())
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	store, mr := newTestRedisStore(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := store.Set(ctx, "482913", "token-1", time.Minute); err == nil {
		t.Error("Set should fail when Redis is down")
	}
	if _, _, err := store.Pop(ctx, "482913"); err == nil {
		t.Error("Pop should fail when Redis is down")
	}
	if err := store.Ping(ctx); err == nil {
		t.Error("Ping should fail when Redis is down")
	}
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := NewRedisStore(context.Background(), addr, "", 0); err == nil {
		t.Fatal("NewRedisStore should fail for an unreachable server")
	}
}

func TestRetryRedisOperation(t *testing.T) {
	ctx := context.Background()
	calls := 0
	v, err := retryRedisOperation(ctx, func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("connection reset")
		}
		return 7, nil
	})
	if err != nil || v != 7 {
		t.Fatalf("retryRedisOperation = %d, %v; want 7", v, err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}

	calls = 0
	_, err = retryRedisOperation(ctx, func() (int, error) {
		calls++
		return 0, redis.ErrClosed
	})
	if !errors.Is(err, redis.ErrClosed) {
		t.Errorf("err = %v, want wrapped redis.ErrClosed", err)
	}
	if calls != maxRetries {
		t.Errorf("calls = %d, want %d", calls, maxRetries)
	}
}
