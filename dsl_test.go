package permit_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/logger"
)

const eventsDSL = `
# events tenant
role 1 designer level:10 name:"Event Designer"
role 2 super_admin level:100 system
permission 1 events.read group:events
permission 2 events.create
menu 3
menu 4 parent:3 hidden
access 5 1
access 13 2 status:lock
grant 1 events.read menu:3
grant 1 events.create
policy editors "role:any:designer; ?permission:any:events.create"
engine cache_ttl=60000 cache_backend=ristretto optional_rule_gate=true
`

func TestDSLParser(t *testing.T) {
	cfg, err := permit.NewDSLParser().Parse([]byte(eventsDSL))
	if err != nil {
		t.Fatal(err)
	}

	if len(cfg.Roles) != 2 {
		t.Errorf("expected 2 roles, got %d", len(cfg.Roles))
	}
	if cfg.Roles[0].Name != "Event Designer" || cfg.Roles[0].Level != 10 {
		t.Errorf("role 1 = %+v", cfg.Roles[0])
	}
	if !cfg.Roles[1].IsSystem || cfg.Roles[1].Name != permit.RoleSuperAdmin {
		t.Errorf("role 2 = %+v", cfg.Roles[1])
	}
	if cfg.Permissions[0].Group != "events" || !cfg.Permissions[1].Active {
		t.Errorf("permissions = %+v", cfg.Permissions)
	}
	if m := cfg.Menus[1]; m.ParentID != 3 || m.Visible || !m.Active {
		t.Errorf("menu 4 = %+v", m)
	}
	if cfg.Accesses[0].Status != permit.AccessActive || cfg.Accesses[1].Status != permit.AccessLocked {
		t.Errorf("accesses = %+v", cfg.Accesses)
	}
	if cfg.Authorizations[0].MenuID != 3 || cfg.Authorizations[1].MenuID != 0 {
		t.Errorf("grants = %+v", cfg.Authorizations)
	}
	if cfg.Policies["editors"] != "role:any:designer; ?permission:any:events.create" {
		t.Errorf("policy = %q", cfg.Policies["editors"])
	}
	if cfg.Engine.CacheTTL != 60000 || cfg.Engine.CacheBackend != "ristretto" || !cfg.Engine.OptionalRuleGate {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("parsed config should validate: %v", err)
	}
}

func TestDSLRoundTrip(t *testing.T) {
	cfg, err := permit.NewDSLParser().Parse([]byte(eventsDSL))
	if err != nil {
		t.Fatal(err)
	}
	out, err := cfg.ToDSL()
	if err != nil {
		t.Fatal(err)
	}
	back, err := permit.NewDSLParser().Parse(out)
	if err != nil {
		t.Fatalf("re-parse:\n%s\n%v", out, err)
	}
	if !reflect.DeepEqual(cfg, back) {
		t.Fatalf("round trip changed the config:\n%s", out)
	}
}

func TestDSLErrors(t *testing.T) {
	cases := map[string]string{
		"role x designer":                   "invalid role id",
		"tenant org1":                       "unknown directive",
		`role 1 designer name:"Event`:       "unterminated quote",
		"access 5 1 status:gone":            "invalid access status",
		"grant 1 events.read scope:3":       "unknown grant option",
		"engine cache_ttl":                  "not key=value",
		"engine turbo=1":                    "unknown engine setting",
		"engine audit_decisions=maybe":      "audit_decisions",
		`policy bad "group:any:x"`:          "unknown policy type",
		"menu 3 parent:-1":                  "invalid parent menu id",
		"permission 1":                      "permission requires",
		"role 1 designer level:high":        "invalid level",
		"\n\n  # comment\nrole 0 designer": "line 4",
	}
	for src, want := range cases {
		_, err := permit.NewDSLParser().Parse([]byte(src))
		if err == nil {
			t.Fatalf("%q: expected error", src)
		}
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("%q: error %q does not mention %q", src, err, want)
		}
	}
}

func TestDSLWithEngine(t *testing.T) {
	ctx := context.Background()
	cfg, err := permit.NewConfigLoader().LoadDSL([]byte(eventsDSL))
	if err != nil {
		t.Fatal(err)
	}
	store := permit.NewMemoryGrantStore()
	engine, err := permit.NewEngine(store, append(cfg.Engine.Options(), permit.WithLogger(logger.NewNullLogger()))...)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()
	if err := engine.ApplyConfig(ctx, cfg, store); err != nil {
		t.Fatal(err)
	}

	if !engine.HasPermission(ctx, 5, "events.read") || !engine.HasMenuAccess(ctx, 5, 3) {
		t.Fatalf("designer should read events through menu 3")
	}
	if engine.IsSuperAdmin(ctx, 13) {
		t.Fatalf("locked access must not make 13 a super admin")
	}
	if !engine.EvaluateNamed(ctx, 5, "editors") {
		t.Fatalf("editors policy should pass with the optional gate satisfied")
	}
}

func TestDSLFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.permit")
	if err := os.WriteFile(path, []byte(eventsDSL), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := permit.NewConfigLoader().LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Authorizations) != 2 {
		t.Fatalf("grants = %d", len(cfg.Authorizations))
	}
}

func ExampleDSLParser() {
	cfg, err := permit.NewDSLParser().Parse([]byte(`
role 1 designer level:10
permission 1 events.read
menu 3
access 5 1
grant 1 events.read menu:3
`))
	if err != nil {
		panic(err)
	}
	store := permit.NewMemoryGrantStore()
	engine, _ := permit.NewEngine(store, permit.WithLogger(logger.NewNullLogger()))
	defer engine.Close()
	_ = engine.ApplyConfig(context.Background(), cfg, store)

	fmt.Println(engine.HasPermission(context.Background(), 5, "events.read"))
	fmt.Println(engine.VisibleMenus(context.Background(), 5))
	// Output:
	// true
	// [3]
}
