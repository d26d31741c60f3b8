package caches

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/oarkflow/permit"
)

const (
	defaultNumCounters = 1e5
	defaultMaxCost     = 1 << 26
	defaultBufferItems = 64
)

// Ristretto is a bounded in-process snapshot cache. Each snapshot costs its
// permission and menu count plus one, so MaxCost bounds memory roughly by
// the number of grants held.
type Ristretto struct {
	cache *ristretto.Cache
	now   func() time.Time
}

// NewRistretto builds a ristretto-backed cache. Zero values pick defaults.
func NewRistretto(numCounters, maxCost, bufferItems int64) (*Ristretto, error) {
	if numCounters <= 0 {
		numCounters = defaultNumCounters
	}
	if maxCost <= 0 {
		maxCost = defaultMaxCost
	}
	if bufferItems <= 0 {
		bufferItems = defaultBufferItems
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &Ristretto{cache: c, now: time.Now}, nil
}

func (r *Ristretto) Get(_ context.Context, principalID int64) (*permit.Snapshot, error) {
	v, ok := r.cache.Get(principalID)
	if !ok {
		return nil, permit.ErrCacheMiss
	}
	snap, ok := v.(*permit.Snapshot)
	if !ok || snap.Expired(r.now()) {
		return nil, permit.ErrCacheMiss
	}
	return snap, nil
}

// Put stores the snapshot and waits for the write to become visible.
// Ristretto may still refuse an item under admission pressure; that is a
// later miss, not an error.
func (r *Ristretto) Put(_ context.Context, principalID int64, snap *permit.Snapshot, ttl time.Duration) error {
	stamped := snap.Stamp(r.now(), ttl)
	cost := int64(len(stamped.Permissions) + len(stamped.Menus) + 1)
	r.cache.SetWithTTL(principalID, stamped, cost, ttl)
	r.cache.Wait()
	return nil
}

func (r *Ristretto) Invalidate(_ context.Context, principalID int64) error {
	r.cache.Del(principalID)
	return nil
}

func (r *Ristretto) Close() error {
	r.cache.Close()
	return nil
}

var _ permit.Cache = (*Ristretto)(nil)
