package permit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/oarkflow/permit/logger"
)

const (
	DefaultCacheTTL      = 5 * time.Minute
	DefaultLookupTimeout = 2 * time.Second
	DefaultAuditBuffer   = 1024
)

// epochStripes is the number of invalidation counters. Principals share a
// counter when their ids collide modulo epochStripes.
const epochStripes = 1024

// ============================================================================
// AUTHORIZATION ENGINE
// ============================================================================

// Engine answers authorization questions about principals. It is safe for
// concurrent use; the snapshot cache is its only shared mutable state.
type Engine struct {
	store         GrantStore
	resolver      *Resolver
	cache         Cache
	cacheTTL      time.Duration
	lookupTimeout time.Duration

	logger      logger.Logger
	traceIDFunc logger.TraceIDFunc
	metrics     *Metrics

	auditStore     AuditStore
	auditMu        sync.RWMutex // guards auditCh against Close
	auditClosed    bool
	auditCh        chan AuditEntry
	auditDone      chan struct{}
	auditBuffer    int
	auditDecisions bool

	optionalRuleGate bool

	hub *InvalidationHub

	policiesMu sync.RWMutex
	policies   map[string]Policy

	flights   singleflight.Group
	epochs    [epochStripes]atomic.Uint64
	closeOnce sync.Once
}

// EngineOption configures an Engine.
type EngineOption func(*Engine) error

// WithCache replaces the default MemoryCache.
func WithCache(c Cache) EngineOption {
	return func(e *Engine) error {
		if c == nil {
			return errors.New("permit: nil cache")
		}
		e.cache = c
		return nil
	}
}

// WithCacheTTL sets how long resolved snapshots stay cached.
func WithCacheTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		if ttl <= 0 {
			return fmt.Errorf("permit: cache ttl must be positive, got %s", ttl)
		}
		e.cacheTTL = ttl
		return nil
	}
}

// WithLookupTimeout bounds each grant store fan-out.
func WithLookupTimeout(d time.Duration) EngineOption {
	return func(e *Engine) error {
		if d <= 0 {
			return fmt.Errorf("permit: lookup timeout must be positive, got %s", d)
		}
		e.lookupTimeout = d
		return nil
	}
}

// WithAuditStore sends audit entries to s through a buffered worker.
func WithAuditStore(s AuditStore) EngineOption {
	return func(e *Engine) error {
		e.auditStore = s
		return nil
	}
}

// WithAuditBuffer sets the audit queue capacity.
func WithAuditBuffer(n int) EngineOption {
	return func(e *Engine) error {
		if n > 0 {
			e.auditBuffer = n
		}
		return nil
	}
}

// WithDecisionAudit audits every decision, not only super-admin bypasses.
func WithDecisionAudit(enabled bool) EngineOption {
	return func(e *Engine) error {
		e.auditDecisions = enabled
		return nil
	}
}

// WithOptionalRuleGate makes optional composite rules count: when a composite
// has optional rules, at least one of them must pass. Off by default, in
// which case optional rules never change the outcome.
func WithOptionalRuleGate(enabled bool) EngineOption {
	return func(e *Engine) error {
		e.optionalRuleGate = enabled
		return nil
	}
}

// WithMetrics records counters on m.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) error {
		e.metrics = m
		return nil
	}
}

// WithInvalidationHub forwards every Invalidate to h so other instances can
// drop their copies.
func WithInvalidationHub(h *InvalidationHub) EngineOption {
	return func(e *Engine) error {
		e.hub = h
		return nil
	}
}

// WithPolicies registers named policies for EvaluateNamed.
func WithPolicies(policies map[string]Policy) EngineOption {
	return func(e *Engine) error {
		for name, p := range policies {
			if err := e.RegisterPolicy(name, p); err != nil {
				return err
			}
		}
		return nil
	}
}

// NewEngine builds an Engine over store.
func NewEngine(store GrantStore, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("permit: grant store is required")
	}
	e := &Engine{
		store:         store,
		cache:         NewMemoryCache(),
		cacheTTL:      DefaultCacheTTL,
		lookupTimeout: DefaultLookupTimeout,
		logger:        logger.NewPhusluLogger(),
		traceIDFunc:   func() string { return uuid.NewString() },
		auditBuffer:   DefaultAuditBuffer,
		policies:      make(map[string]Policy),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.resolver = NewResolver(store, e.logger)

	if e.auditStore != nil {
		e.auditCh = make(chan AuditEntry, e.auditBuffer)
		e.auditDone = make(chan struct{})
		go e.drainAudit()
	}
	return e, nil
}

// Close flushes pending audit entries and stops the audit worker. Decisions
// made after Close still answer; their audit entries are dropped.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.auditCh == nil {
			return
		}
		e.auditMu.Lock()
		e.auditClosed = true
		close(e.auditCh)
		e.auditMu.Unlock()
		<-e.auditDone
	})
}

// RegisterPolicy stores p under name for EvaluateNamed.
func (e *Engine) RegisterPolicy(name string, p Policy) error {
	if name == "" {
		return errors.New("permit: policy name is required")
	}
	if p == nil {
		return fmt.Errorf("permit: policy %q is nil", name)
	}
	e.policiesMu.Lock()
	e.policies[name] = p
	e.policiesMu.Unlock()
	return nil
}

// Policy returns the named policy.
func (e *Engine) Policy(name string) (Policy, bool) {
	e.policiesMu.RLock()
	defer e.policiesMu.RUnlock()
	p, ok := e.policies[name]
	return p, ok
}

// ============================================================================
// SNAPSHOTS & CACHE
// ============================================================================

// epoch returns the invalidation counter covering principalID. Counters only
// grow, so a shared stripe can cause extra re-resolution but never a stale hit.
func (e *Engine) epoch(principalID int64) *atomic.Uint64 {
	return &e.epochs[uint64(principalID)%epochStripes]
}

// snapshot returns the cached snapshot or resolves a fresh one. Concurrent
// misses for the same principal share one resolution.
func (e *Engine) snapshot(ctx context.Context, principalID int64) (*Snapshot, error) {
	snap, err := e.cache.Get(ctx, principalID)
	if err == nil && snap != nil {
		e.metrics.cacheLookup(true)
		return snap, nil
	}
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		e.logger.Error("snapshot cache read failed", "principal_id", principalID, "error", err)
	}
	e.metrics.cacheLookup(false)

	gen := e.epoch(principalID).Load()
	key := strconv.FormatInt(principalID, 10) + "@" + strconv.FormatUint(gen, 10)
	v, err, _ := e.flights.Do(key, func() (any, error) {
		return e.populate(ctx, principalID, gen, e.cacheTTL)
	})
	if err != nil {
		e.metrics.resolveFailure()
		e.logger.Error("snapshot resolution failed", "principal_id", principalID, "error", err)
		return nil, err
	}
	return v.(*Snapshot), nil
}

// populate resolves and caches a snapshot. If an invalidation for the
// principal lands while resolving, the entry just written is dropped again.
func (e *Engine) populate(ctx context.Context, principalID int64, gen uint64, ttl time.Duration) (*Snapshot, error) {
	lctx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()
	snap, err := e.resolver.Resolve(lctx, principalID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.cache.Put(ctx, principalID, snap, ttl); err != nil {
		e.logger.Error("snapshot cache write failed", "principal_id", principalID, "error", err)
		return snap, nil
	}
	if e.epoch(principalID).Load() != gen {
		if err := e.cache.Invalidate(ctx, principalID); err != nil {
			e.logger.Error("dropping stale snapshot failed", "principal_id", principalID, "error", err)
		}
	}
	return snap, nil
}

// Invalidate discards the principal's cached snapshot so the next decision
// reflects the grant store. It is also forwarded to the invalidation hub.
func (e *Engine) Invalidate(ctx context.Context, principalID int64) error {
	if err := e.InvalidateLocal(ctx, principalID); err != nil {
		return err
	}
	if e.hub != nil {
		e.hub.Notify(principalID)
	}
	return nil
}

// InvalidateLocal is Invalidate without the hub broadcast. Remote
// invalidation listeners call it.
func (e *Engine) InvalidateLocal(ctx context.Context, principalID int64) error {
	if principalID <= 0 {
		return ErrInvalidPrincipal
	}
	e.epoch(principalID).Add(1)
	if err := e.cache.Invalidate(ctx, principalID); err != nil {
		return fmt.Errorf("invalidate principal %d: %w", principalID, err)
	}
	e.logger.Debug("snapshot invalidated", "principal_id", principalID)
	return nil
}

// Prime resolves the principal now and caches the snapshot for ttl. A
// non-positive ttl uses the engine default.
func (e *Engine) Prime(ctx context.Context, principalID int64, ttl time.Duration) error {
	if principalID <= 0 {
		return ErrInvalidPrincipal
	}
	if ttl <= 0 {
		ttl = e.cacheTTL
	}
	_, err := e.populate(ctx, principalID, e.epoch(principalID).Load(), ttl)
	return err
}

// ============================================================================
// AUDIT
// ============================================================================

func (e *Engine) audit(entry AuditEntry) {
	if e.auditCh == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	e.auditMu.RLock()
	defer e.auditMu.RUnlock()
	if e.auditClosed {
		e.logger.Warn("engine closed, audit entry dropped", "principal_id", entry.PrincipalID, "capability", entry.Capability)
		return
	}
	select {
	case e.auditCh <- entry:
	default:
		e.logger.Warn("audit queue full, entry dropped", "principal_id", entry.PrincipalID, "capability", entry.Capability)
	}
}

func (e *Engine) drainAudit() {
	defer close(e.auditDone)
	bg := context.Background()
	for entry := range e.auditCh {
		if err := e.auditStore.LogDecision(bg, &entry); err != nil {
			e.logger.Error("audit write failed", "id", entry.ID, "error", err)
		}
	}
}

// GetAccessLog queries the configured audit store.
func (e *Engine) GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	if e.auditStore == nil {
		return nil, errors.New("permit: no audit store configured")
	}
	return e.auditStore.GetAccessLog(ctx, filter)
}
