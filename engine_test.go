package permit_test

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/logger"
)

// eventGrants is the reference tenant used across the engine tests.
//
//	principal 5  designer (10)            events.read@menu3, events.create@menu4(hidden)
//	principal 9  super_admin (100)        no grants
//	principal 11 organizer (10)           events.update
//	principal 12 designer + organizer     tie on level
//	principal 13 admin (50), locked
func eventGrants() *permit.Config {
	return permit.NewConfigBuilder().
		AddRole(1, "designer", 10).
		AddRole(2, permit.RoleSuperAdmin, 100).
		AddRole(3, "organizer", 10).
		AddRole(4, permit.RoleAdmin, 50).
		AddPermission(1, "events.read").
		AddPermission(2, "events.create").
		AddPermission(3, "events.update").
		AddPermission(4, "events.delete").
		AddMenu(3, 0, true).
		AddMenu(4, 0, false).
		Assign(5, 1).
		Assign(9, 2).
		Assign(11, 3).
		Assign(12, 1).
		Assign(12, 3).
		Grant(1, "events.read", 3).
		Grant(1, "events.create", 4).
		Grant(3, "events.update", 0).
		Build()
}

func newEventEngine(t testing.TB, opts ...permit.EngineOption) (*permit.Engine, *permit.MemoryGrantStore) {
	t.Helper()
	store := permit.NewMemoryGrantStore()
	cfg := eventGrants()
	cfg.Accesses = append(cfg.Accesses, permit.Access{UserID: 13, RoleID: 4, Status: permit.AccessLocked})
	if err := cfg.Seed(context.Background(), store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	opts = append([]permit.EngineOption{permit.WithLogger(logger.NewNullLogger())}, opts...)
	engine, err := permit.NewEngine(store, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, store
}

func TestPrincipalScenario(t *testing.T) {
	ctx := context.Background()
	engine, _ := newEventEngine(t)

	if !engine.HasPermission(ctx, 5, "events.read") {
		t.Fatalf("designer should read events")
	}
	if !engine.HasPermission(ctx, 5, " Events.Read ") {
		t.Fatalf("permission codes should be normalized")
	}
	if !engine.HasPermission(ctx, 5, "events.create") {
		t.Fatalf("a hidden menu still confers its permission")
	}
	if engine.HasPermission(ctx, 5, "events.delete") {
		t.Fatalf("designer must not delete events")
	}
	if !engine.CanAccessResource(ctx, 5, "events", "read") {
		t.Fatalf("resource check should map to events.read")
	}
	if !engine.HasRole(ctx, 5, "designer") || engine.HasRole(ctx, 5, "organizer") {
		t.Fatalf("unexpected role membership")
	}
	if !engine.HasMenuAccess(ctx, 5, 3) {
		t.Fatalf("menu 3 should be visible")
	}
	if engine.HasMenuAccess(ctx, 5, 4) {
		t.Fatalf("hidden menu 4 must not be visible")
	}
	role, ok := engine.HighestRole(ctx, 5)
	if !ok || role.Code != "designer" || role.Level != 10 {
		t.Fatalf("highest role = %+v, %v", role, ok)
	}
	if got := engine.VisibleMenus(ctx, 5); !reflect.DeepEqual(got, []int64{3}) {
		t.Fatalf("visible menus = %v", got)
	}
	if got := engine.EffectivePermissions(ctx, 5); !reflect.DeepEqual(got, []string{"events.create", "events.read"}) {
		t.Fatalf("effective permissions = %v", got)
	}
	if !engine.HasAnyPermission(ctx, 5, []string{"events.delete", "events.read"}) {
		t.Fatalf("any-of should match events.read")
	}
	if engine.HasAllPermissions(ctx, 5, []string{"events.delete", "events.read"}) {
		t.Fatalf("all-of must fail on events.delete")
	}
	if !engine.HasAllRoles(ctx, 12, []string{"designer", "organizer"}) {
		t.Fatalf("principal 12 holds both roles")
	}
}

func TestSuperAdminBypass(t *testing.T) {
	ctx := context.Background()
	audit := permit.NewMemoryAuditStore()
	rec := logger.NewRecorder()
	engine, _ := newEventEngine(t, permit.WithAuditStore(audit), permit.WithLogger(rec))

	if !engine.HasPermission(ctx, 9, "billing.refund") {
		t.Fatalf("super admin should bypass permission checks")
	}
	if !engine.CanAccessResource(ctx, 9, "billing", "refund") {
		t.Fatalf("super admin should bypass resource checks")
	}
	if !engine.IsSuperAdmin(ctx, 9) || !engine.IsAdmin(ctx, 9) {
		t.Fatalf("principal 9 is a super admin")
	}
	if engine.HasRole(ctx, 9, "designer") {
		t.Fatalf("role checks are never bypassed")
	}
	if engine.HasMenuAccess(ctx, 9, 3) {
		t.Fatalf("menu checks are never bypassed")
	}
	if engine.HasPermission(ctx, 9, "") || engine.HasAnyPermission(ctx, 9, nil) {
		t.Fatalf("invalid input denies before the bypass")
	}
	if engine.Evaluate(ctx, 9, permit.PermissionPolicy{Operator: "some", Codes: []string{"events.read"}}) {
		t.Fatalf("unknown operator denies before the bypass")
	}

	engine.Close()
	entries, err := engine.GetAccessLog(ctx, permit.AuditFilter{PrincipalID: 9, BypassedOnly: true})
	if err != nil {
		t.Fatalf("access log: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("bypass audit entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if !e.Allowed || e.MatchedBy != permit.RoleSuperAdmin || e.ID == "" || e.TraceID == "" {
			t.Fatalf("unexpected audit entry %+v", e)
		}
	}
	if n := rec.Count("info", "super admin bypass"); n != 2 {
		t.Fatalf("bypass log lines = %d, want 2", n)
	}
}

func TestInvalidInputsDeny(t *testing.T) {
	ctx := context.Background()
	engine, _ := newEventEngine(t)

	denied := map[string]bool{
		"negative principal":    engine.HasPermission(ctx, -1, "events.read"),
		"zero principal":        engine.HasPermission(ctx, 0, "events.read"),
		"empty code":            engine.HasPermission(ctx, 5, ""),
		"menu zero":             engine.HasMenuAccess(ctx, 5, 0),
		"empty any":             engine.HasAnyPermission(ctx, 5, []string{}),
		"empty all":             engine.HasAllPermissions(ctx, 5, nil),
		"empty roles":           engine.HasAnyRole(ctx, 5, nil),
		"empty role":            engine.HasRole(ctx, 5, "  "),
		"empty resource":        engine.CanAccessResource(ctx, 5, "", "read"),
		"nil policy":            engine.Evaluate(ctx, 5, nil),
		"unknown principal":     engine.HasPermission(ctx, 404, "events.read"),
		"invalid principal all": engine.HasAllPermissions(ctx, -5, []string{"events.read"}),
	}
	for name, got := range denied {
		if got {
			t.Errorf("%s: expected deny", name)
		}
	}
	if got := engine.EffectivePermissions(ctx, -1); got == nil || len(got) != 0 {
		t.Fatalf("effective permissions for invalid principal = %#v", got)
	}
	if got := engine.VisibleMenus(ctx, 0); got == nil || len(got) != 0 {
		t.Fatalf("visible menus for invalid principal = %#v", got)
	}
	if _, ok := engine.HighestRole(ctx, 404); ok {
		t.Fatalf("principal without roles has no highest role")
	}
	if err := engine.Invalidate(ctx, 0); !errors.Is(err, permit.ErrInvalidPrincipal) {
		t.Fatalf("invalidate(0) = %v", err)
	}
}

func TestHighestRoleTieBreak(t *testing.T) {
	ctx := context.Background()
	engine, _ := newEventEngine(t)

	role, ok := engine.HighestRole(ctx, 12)
	if !ok || role.Code != "designer" {
		t.Fatalf("tie on level should pick the smallest code, got %+v", role)
	}
	roles := engine.Roles(ctx, 12)
	if len(roles) != 2 || roles[0].Code != "designer" || roles[1].Code != "organizer" {
		t.Fatalf("roles = %+v", roles)
	}
}

func TestInactiveEdgesAreIgnored(t *testing.T) {
	ctx := context.Background()
	engine, store := newEventEngine(t)

	if engine.HasRole(ctx, 13, permit.RoleAdmin) || engine.IsAdmin(ctx, 13) {
		t.Fatalf("locked access must not confer the role")
	}

	_ = store.PutPermission(ctx, permit.Permission{ID: 5, Code: "reports.view", Active: false})
	_ = store.PutAuthorization(ctx, permit.Authorization{RoleID: 1, PermissionCode: "reports.view"})
	_ = store.PutMenu(ctx, permit.Menu{ID: 6, Visible: true, Active: false})
	_ = store.PutAuthorization(ctx, permit.Authorization{RoleID: 1, PermissionCode: "events.delete", MenuID: 6})
	_ = store.PutRole(ctx, permit.Role{ID: 7, Code: "archived", Level: 99, Active: false})
	_ = store.PutAccess(ctx, permit.Access{UserID: 5, RoleID: 7, Status: permit.AccessActive})
	_ = engine.Invalidate(ctx, 5)

	if engine.HasPermission(ctx, 5, "reports.view") {
		t.Fatalf("inactive permission must not be granted")
	}
	if engine.HasPermission(ctx, 5, "events.delete") || engine.HasMenuAccess(ctx, 5, 6) {
		t.Fatalf("grant through an inactive menu must be ignored")
	}
	if engine.HasRole(ctx, 5, "archived") {
		t.Fatalf("inactive role must be ignored")
	}
	if role, _ := engine.HighestRole(ctx, 5); role.Code != "designer" {
		t.Fatalf("inactive role must not rank, got %s", role.Code)
	}

	_ = store.DeleteRole(ctx, 1)
	_ = engine.Invalidate(ctx, 5)
	if engine.HasPermission(ctx, 5, "events.read") {
		t.Fatalf("deleted role must drop its grants")
	}
}

func TestInvalidateRefreshesSnapshot(t *testing.T) {
	ctx := context.Background()
	engine, store := newEventEngine(t)

	if engine.HasPermission(ctx, 5, "events.delete") {
		t.Fatalf("precondition: no delete")
	}
	grant := permit.Authorization{RoleID: 1, PermissionCode: "events.delete"}
	if err := store.PutAuthorization(ctx, grant); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if engine.HasPermission(ctx, 5, "events.delete") {
		t.Fatalf("cached snapshot should still deny until invalidated")
	}
	if err := engine.Invalidate(ctx, 5); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if !engine.HasPermission(ctx, 5, "events.delete") {
		t.Fatalf("new grant should be visible after invalidation")
	}

	if err := store.RevokeAuthorization(ctx, grant); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	_ = engine.Invalidate(ctx, 5)
	if engine.HasPermission(ctx, 5, "events.delete") {
		t.Fatalf("revoked grant must be denied after invalidation")
	}
}

func TestPrimeAndExpiry(t *testing.T) {
	ctx := context.Background()
	var clock atomic.Int64
	clock.Store(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	cache := permit.NewMemoryCache().WithClock(func() time.Time { return time.Unix(0, clock.Load()) })
	engine, store := newEventEngine(t, permit.WithCache(cache))

	if err := engine.Prime(ctx, 5, time.Second); err != nil {
		t.Fatalf("prime: %v", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("prime should cache one snapshot")
	}
	_ = store.PutAuthorization(ctx, permit.Authorization{RoleID: 1, PermissionCode: "events.delete"})
	if engine.HasPermission(ctx, 5, "events.delete") {
		t.Fatalf("primed snapshot should be served")
	}
	clock.Add(int64(2 * time.Second))
	if !engine.HasPermission(ctx, 5, "events.delete") {
		t.Fatalf("expired snapshot should be re-resolved")
	}
	if err := engine.Prime(ctx, -1, 0); !errors.Is(err, permit.ErrInvalidPrincipal) {
		t.Fatalf("prime(-1) = %v", err)
	}
}

// flakyStore fails authorization lookups while broken is set.
type flakyStore struct {
	*permit.MemoryGrantStore
	broken atomic.Bool
}

func (s *flakyStore) FindActiveAuthorizationsByRole(ctx context.Context, roleID int64) ([]permit.Authorization, error) {
	if s.broken.Load() {
		return nil, errors.New("connection reset")
	}
	return s.MemoryGrantStore.FindActiveAuthorizationsByRole(ctx, roleID)
}

func TestResolverFailureDenies(t *testing.T) {
	ctx := context.Background()
	_, seeded := newEventEngine(t)
	store := &flakyStore{MemoryGrantStore: seeded}
	store.broken.Store(true)
	rec := logger.NewRecorder()
	engine, err := permit.NewEngine(store, permit.WithLogger(rec))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()

	if engine.HasPermission(ctx, 5, "events.read") {
		t.Fatalf("lookup failure must deny")
	}
	if engine.HasRole(ctx, 5, "designer") {
		t.Fatalf("a partial snapshot must not be used for role checks")
	}
	if got := engine.EffectivePermissions(ctx, 5); len(got) != 0 {
		t.Fatalf("effective permissions on failure = %v", got)
	}
	if rec.Count("error", "snapshot resolution failed") == 0 {
		t.Fatalf("resolution failure should be logged")
	}

	store.broken.Store(false)
	if !engine.HasPermission(ctx, 5, "events.read") {
		t.Fatalf("failures must not be cached")
	}
}

// slowStore blocks access lookups until the context gives up.
type slowStore struct{ *permit.MemoryGrantStore }

func (s slowStore) FindActiveAccessesByUser(ctx context.Context, principalID int64) ([]permit.Access, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return s.MemoryGrantStore.FindActiveAccessesByUser(ctx, principalID)
	}
}

func TestLookupTimeoutDenies(t *testing.T) {
	_, seeded := newEventEngine(t)
	engine, err := permit.NewEngine(slowStore{seeded}, permit.WithLogger(logger.NewNullLogger()), permit.WithLookupTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()

	start := time.Now()
	if engine.HasPermission(context.Background(), 5, "events.read") {
		t.Fatalf("timed out lookup must deny")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("lookup timeout was not applied")
	}
}

// gateStore parks the first authorization lookup after it has read the
// store, so the resolution it feeds is stale by the time it finishes.
type gateStore struct {
	*permit.MemoryGrantStore
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (s *gateStore) FindActiveAuthorizationsByRole(ctx context.Context, roleID int64) ([]permit.Authorization, error) {
	auths, err := s.MemoryGrantStore.FindActiveAuthorizationsByRole(ctx, roleID)
	if s.armed.CompareAndSwap(true, false) {
		close(s.entered)
		<-s.release
	}
	return auths, err
}

func TestInvalidateDuringResolutionIsNotLost(t *testing.T) {
	ctx := context.Background()
	_, seeded := newEventEngine(t)
	store := &gateStore{MemoryGrantStore: seeded, entered: make(chan struct{}), release: make(chan struct{})}
	store.armed.Store(true)
	engine, err := permit.NewEngine(store, permit.WithLogger(logger.NewNullLogger()))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.HasPermission(ctx, 5, "events.delete")
	}()
	<-store.entered

	if err := seeded.PutAuthorization(ctx, permit.Authorization{RoleID: 1, PermissionCode: "events.delete"}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := engine.Invalidate(ctx, 5); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	close(store.release)
	wg.Wait()

	if !engine.HasPermission(ctx, 5, "events.delete") {
		t.Fatalf("stale in-flight resolution overwrote the invalidation")
	}
}

func TestDecisionAuditDrainsOnClose(t *testing.T) {
	ctx := context.Background()
	audit := permit.NewMemoryAuditStore()
	engine, _ := newEventEngine(t, permit.WithAuditStore(audit), permit.WithDecisionAudit(true), permit.WithAuditBuffer(256))

	for i := 0; i < 50; i++ {
		engine.HasPermission(ctx, 5, "events.read")
		engine.HasPermission(ctx, 5, "events.delete")
	}
	engine.Close()

	all, _ := audit.GetAccessLog(ctx, permit.AuditFilter{})
	if len(all) != 100 {
		t.Fatalf("audited decisions = %d, want 100", len(all))
	}
	denied := 0
	for _, e := range all {
		if !e.Allowed {
			denied++
			if e.Reason == "" {
				t.Fatalf("denied entry without reason: %+v", e)
			}
		}
	}
	if denied != 50 {
		t.Fatalf("denied entries = %d, want 50", denied)
	}
	limited, _ := audit.GetAccessLog(ctx, permit.AuditFilter{Capability: "permission:events.read", Limit: 10})
	if len(limited) != 10 {
		t.Fatalf("limited entries = %d, want 10", len(limited))
	}
}

func TestNewEngineRejectsBadOptions(t *testing.T) {
	store := permit.NewMemoryGrantStore()
	if _, err := permit.NewEngine(nil); err == nil {
		t.Fatalf("nil store should be rejected")
	}
	if _, err := permit.NewEngine(store, permit.WithCacheTTL(0)); err == nil {
		t.Fatalf("zero ttl should be rejected")
	}
	if _, err := permit.NewEngine(store, permit.WithLookupTimeout(-time.Second)); err == nil {
		t.Fatalf("negative lookup timeout should be rejected")
	}
	if _, err := permit.NewEngine(store, permit.WithCache(nil)); err == nil {
		t.Fatalf("nil cache should be rejected")
	}
	if _, err := permit.NewEngine(store, permit.WithPolicies(map[string]permit.Policy{"": permit.AnyRole("x")})); err == nil {
		t.Fatalf("unnamed policy should be rejected")
	}
	engine, err := permit.NewEngine(store, permit.WithLogger(logger.NewNullLogger()))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()
	if _, err := engine.GetAccessLog(context.Background(), permit.AuditFilter{}); err == nil {
		t.Fatalf("access log without audit store should fail")
	}
}

func TestDecisionsAfterCloseStillAnswer(t *testing.T) {
	ctx := context.Background()
	rec := logger.NewRecorder()
	audit := permit.NewMemoryAuditStore()
	engine, _ := newEventEngine(t, permit.WithLogger(rec), permit.WithAuditStore(audit), permit.WithDecisionAudit(true))
	engine.Close()

	if !engine.HasPermission(ctx, 9, "events.read") {
		t.Fatalf("super admin should still be granted after close")
	}
	if !engine.HasPermission(ctx, 5, "events.read") {
		t.Fatalf("designer should still be granted after close")
	}
	if engine.HasPermission(ctx, 5, "events.delete") {
		t.Fatalf("missing permission granted after close")
	}
	if n := rec.Count("warn", "engine closed, audit entry dropped"); n != 3 {
		t.Fatalf("dropped audit warnings = %d, want 3", n)
	}
	if all, _ := audit.GetAccessLog(ctx, permit.AuditFilter{}); len(all) != 0 {
		t.Fatalf("entries written after close: %+v", all)
	}
}

func TestExplainSharesTraceIDWithAudit(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	nextID := func() string { return "trace-" + strconv.FormatInt(calls.Add(1), 10) }
	audit := permit.NewMemoryAuditStore()
	engine, _ := newEventEngine(t, permit.WithTraceIDFunc(nextID), permit.WithAuditStore(audit), permit.WithDecisionAudit(true))

	bypass := engine.Explain(ctx, 9, permit.AnyPermission("billing.refund"))
	decided := engine.Explain(ctx, 5, permit.AnyPermission("events.read"))
	engine.Close()

	if bypass.TraceID != "trace-1" || decided.TraceID != "trace-2" {
		t.Fatalf("trace ids = %q, %q; want one id per decision", bypass.TraceID, decided.TraceID)
	}
	all, _ := audit.GetAccessLog(ctx, permit.AuditFilter{})
	if len(all) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(all))
	}
	got := map[int64]string{}
	for _, e := range all {
		got[e.PrincipalID] = e.TraceID
	}
	if got[9] != bypass.TraceID || got[5] != decided.TraceID {
		t.Fatalf("audit trace ids %v do not match decisions", got)
	}
}
