package permit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCacheMiss is returned by Cache.Get when no live snapshot exists.
var ErrCacheMiss = errors.New("permit: cache miss")

// Cache stores per-principal snapshots. Get must treat expired entries as a
// miss. Put replaces the entry atomically: readers observe either the old or
// the new snapshot.
type Cache interface {
	Get(ctx context.Context, principalID int64) (*Snapshot, error)
	Put(ctx context.Context, principalID int64, snap *Snapshot, ttl time.Duration) error
	Invalidate(ctx context.Context, principalID int64) error
}

// MemoryCache is a single-process Cache: a map guarded by a RWMutex with
// lazy expiry on read and an optional janitor goroutine.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[int64]*Snapshot
	now     func() time.Time
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[int64]*Snapshot), now: time.Now}
}

// WithClock replaces the time source. Tests use it to expire entries.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) Get(_ context.Context, principalID int64) (*Snapshot, error) {
	c.mu.RLock()
	snap, ok := c.entries[principalID]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	if snap.Expired(c.now()) {
		c.mu.Lock()
		// only evict what we saw; a concurrent Put may have replaced it
		if cur, ok := c.entries[principalID]; ok && cur == snap {
			delete(c.entries, principalID)
		}
		c.mu.Unlock()
		return nil, ErrCacheMiss
	}
	return snap, nil
}

func (c *MemoryCache) Put(_ context.Context, principalID int64, snap *Snapshot, ttl time.Duration) error {
	stamped := snap.Stamp(c.now(), ttl)
	c.mu.Lock()
	c.entries[principalID] = stamped
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, principalID int64) error {
	c.mu.Lock()
	delete(c.entries, principalID)
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep evicts every expired entry and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, snap := range c.entries {
		if snap.Expired(now) {
			delete(c.entries, id)
			n++
		}
	}
	return n
}

// StartJanitor sweeps expired entries every interval until Close is called.
func (c *MemoryCache) StartJanitor(interval time.Duration) {
	c.mu.Lock()
	if c.stop != nil || interval <= 0 {
		c.mu.Unlock()
		return
	}
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

// Close stops the janitor if it is running.
func (c *MemoryCache) Close() {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
		c.wg.Wait()
	}
}
