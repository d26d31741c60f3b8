package stores

import (
	"context"
	"database/sql"
	"testing"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/permit"
)

// newTestDB opens a migrated in-memory sqlite database. One connection keeps
// every query on the same in-memory database.
func newTestDB(t *testing.T) *squealx.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// seedEventGrants writes the reference scenario: principal 5 is a designer
// with events.read scoped to visible menu 3, and principal 9 a super admin.
func seedEventGrants(t *testing.T, w permit.GrantWriter) {
	t.Helper()
	cfg := permit.NewConfigBuilder().
		AddRole(1, "designer", 10).
		AddRole(2, permit.RoleSuperAdmin, 100).
		AddPermission(1, "events.read").
		AddPermission(2, "events.create").
		AddMenu(3, 0, true).
		AddMenu(4, 0, false).
		Assign(5, 1).
		Assign(9, 2).
		Grant(1, "events.read", 3).
		Grant(1, "events.create", 4).
		Build()
	if err := cfg.Seed(context.Background(), w); err != nil {
		t.Fatalf("seed: %v", err)
	}
}
