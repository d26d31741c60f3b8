package caches

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/permit"
)

func testSnapshot() *permit.Snapshot {
	return permit.NewSnapshot(
		[]string{"events.read", "events.create"},
		[]permit.Role{{ID: 1, Code: "designer", Level: 10, Active: true}},
		[]int64{3},
	)
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRistrettoCache(t *testing.T) {
	ctx := context.Background()
	c, err := NewRistretto(0, 0, 0)
	if err != nil {
		t.Fatalf("new ristretto: %v", err)
	}
	defer c.Close()

	if _, err := c.Get(ctx, 5); !errors.Is(err, permit.ErrCacheMiss) {
		t.Fatalf("expected miss on empty cache, got %v", err)
	}
	if err := c.Put(ctx, 5, testSnapshot(), time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	snap, err := c.Get(ctx, 5)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !snap.HasPermission("events.read") || !snap.HasMenu(3) {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.ExpiresAt.Sub(snap.CachedAt) != time.Minute {
		t.Fatalf("expected one minute between cached and expiry, got %v", snap.ExpiresAt.Sub(snap.CachedAt))
	}

	if err := c.Invalidate(ctx, 5); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := c.Get(ctx, 5); !errors.Is(err, permit.ErrCacheMiss) {
		t.Fatalf("expected miss after invalidate, got %v", err)
	}
}

func TestRistrettoExpiresByClock(t *testing.T) {
	ctx := context.Background()
	c, err := NewRistretto(0, 0, 0)
	if err != nil {
		t.Fatalf("new ristretto: %v", err)
	}
	defer c.Close()
	now := time.Now()
	c.now = func() time.Time { return now }
	if err := c.Put(ctx, 7, testSnapshot(), time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}
	c.now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := c.Get(ctx, 7); !errors.Is(err, permit.ErrCacheMiss) {
		t.Fatalf("expected expired snapshot to miss, got %v", err)
	}
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniRedis(t)
	c := NewRedis(client, "")

	if _, err := c.Get(ctx, 5); !errors.Is(err, permit.ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := c.Put(ctx, 5, testSnapshot(), time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	if !mr.Exists("permit:snapshot:5") {
		t.Fatalf("expected snapshot key in redis")
	}
	snap, err := c.Get(ctx, 5)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !snap.HasPermission("events.create") || !snap.HasRole("designer") || !snap.HasMenu(3) {
		t.Fatalf("snapshot did not survive the round trip: %+v", snap)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := c.Get(ctx, 5); !errors.Is(err, permit.ErrCacheMiss) {
		t.Fatalf("expected miss after ttl, got %v", err)
	}

	if err := c.Put(ctx, 5, testSnapshot(), time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.Invalidate(ctx, 5); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := c.Get(ctx, 5); !errors.Is(err, permit.ErrCacheMiss) {
		t.Fatalf("expected miss after invalidate, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	ctx := context.Background()
	mr, _ := newMiniRedis(t)
	for _, cfg := range []permit.EngineConfig{
		{CacheBackend: "memory"},
		{CacheBackend: "ristretto", RistrettoNumCounters: 1000, RistrettoMaxCost: 1 << 20},
		{CacheBackend: "redis", RedisAddr: mr.Addr()},
	} {
		c, closeFn, err := FromConfig(ctx, cfg)
		if err != nil {
			t.Fatalf("%s: %v", cfg.CacheBackend, err)
		}
		if err := c.Put(ctx, 1, testSnapshot(), time.Minute); err != nil {
			t.Fatalf("%s put: %v", cfg.CacheBackend, err)
		}
		if _, err := c.Get(ctx, 1); err != nil {
			t.Fatalf("%s get: %v", cfg.CacheBackend, err)
		}
		if err := closeFn(); err != nil {
			t.Fatalf("%s close: %v", cfg.CacheBackend, err)
		}
	}
	if _, _, err := FromConfig(ctx, permit.EngineConfig{CacheBackend: "memcached"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
