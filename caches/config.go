package caches

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/permit"
)

// FromConfig builds the cache named by cfg.CacheBackend. The returned close
// function releases its resources.
func FromConfig(ctx context.Context, cfg permit.EngineConfig) (permit.Cache, func() error, error) {
	switch cfg.CacheBackend {
	case "", "memory":
		c := permit.NewMemoryCache()
		c.StartJanitor(time.Minute)
		return c, func() error { c.Close(); return nil }, nil
	case "ristretto":
		c, err := NewRistretto(cfg.RistrettoNumCounters, cfg.RistrettoMaxCost, cfg.RistrettoBuffer)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case "redis":
		client, err := NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		return NewRedis(client, cfg.RedisPrefix), client.Close, nil
	}
	return nil, nil, fmt.Errorf("caches: unknown backend %q", cfg.CacheBackend)
}
