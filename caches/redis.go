package caches

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/permit"
)

// DefaultRedisPrefix namespaces permit keys and channels.
const DefaultRedisPrefix = "permit"

// NewRedisClient connects to addr and pings it.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("caches: ping redis: %w", err)
	}
	return client, nil
}

// Redis shares snapshots between engine instances. Snapshots are stored as
// JSON under <prefix>:snapshot:<principal> with the TTL as key expiry.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

func (r *Redis) key(principalID int64) string {
	return r.prefix + ":snapshot:" + strconv.FormatInt(principalID, 10)
}

func (r *Redis) Get(ctx context.Context, principalID int64) (*permit.Snapshot, error) {
	data, err := r.client.Get(ctx, r.key(principalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, permit.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	snap := &permit.Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %d: %w", principalID, err)
	}
	if snap.Expired(r.now()) {
		return nil, permit.ErrCacheMiss
	}
	return snap, nil
}

func (r *Redis) Put(ctx context.Context, principalID int64, snap *permit.Snapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap.Stamp(r.now(), ttl))
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(principalID), data, ttl).Err()
}

func (r *Redis) Invalidate(ctx context.Context, principalID int64) error {
	return r.client.Del(ctx, r.key(principalID)).Err()
}

var _ permit.Cache = (*Redis)(nil)
