package stores

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/logger"
)

func TestRedisAccessStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := NewRedisAccessStore(client, "permit:", permit.NewMemoryGrantStore())
	seedEventGrants(t, store)

	if !mr.Exists("permit:access:5") {
		t.Fatalf("memberships should live in redis")
	}
	if err := store.PutAccess(ctx, permit.Access{UserID: 5, RoleID: 2, Status: permit.AccessLocked}); err != nil {
		t.Fatal(err)
	}
	if err := store.PutAccess(ctx, permit.Access{UserID: 5, RoleID: 2, Status: "gone"}); err == nil {
		t.Fatalf("invalid status should be rejected")
	}
	accesses, err := store.FindActiveAccessesByUser(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(accesses) != 1 || accesses[0].RoleID != 1 {
		t.Fatalf("locked membership must not be active: %+v", accesses)
	}

	engine, err := permit.NewEngine(store, permit.WithLogger(logger.NewNullLogger()))
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()
	if !engine.HasPermission(ctx, 5, "events.read") {
		t.Fatalf("designer should read events")
	}
	if !engine.IsSuperAdmin(ctx, 9) {
		t.Fatalf("principal 9 is a super admin")
	}

	if err := store.RevokeAccess(ctx, 5, 1); err != nil {
		t.Fatal(err)
	}
	_ = engine.Invalidate(ctx, 5)
	if engine.HasPermission(ctx, 5, "events.read") {
		t.Fatalf("revoked membership must deny")
	}

	mr.Close()
	if _, err := store.FindActiveAccessesByUser(ctx, 5); err == nil {
		t.Fatalf("redis outage should surface as an error")
	}
}
