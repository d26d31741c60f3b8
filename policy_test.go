package permit_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/oarkflow/permit"
)

func TestParsePolicyExpr(t *testing.T) {
	cases := map[string]permit.Policy{
		"permission:any:events.read,events.update": permit.AnyPermission("events.read", "events.update"),
		"role:all:organizer":                       permit.AllRoles("organizer"),
		"menu:any:3, 4":                            permit.AnyMenu(3, 4),
		"resource:events:create":                   permit.ResourceAction("events", "create"),
		"ROLE:ANY:'designer'":                      permit.AnyRole("designer"),
		"role:all:organizer; ?permission:any:events.read": permit.NewCompositeBuilder().
			Require(permit.AllRoles("organizer")).
			Optional(permit.AnyPermission("events.read")).
			Build(),
		"?menu:all:3": permit.CompositePolicy{Rules: []permit.Rule{{Policy: permit.AllMenus(3)}}},
	}
	for expr, want := range cases {
		got, err := permit.ParsePolicyExpr(expr)
		if err != nil {
			t.Fatalf("%q: %v", expr, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("%q parsed to %#v, want %#v", expr, got, want)
		}
	}

	for _, bad := range []string{"", "role", "role:some:x", "menu:any:three", "resource:events", "group:any:x", " ; "} {
		if _, err := permit.ParsePolicyExpr(bad); err == nil {
			t.Fatalf("%q should not parse", bad)
		}
	}
}

func TestPolicyStringReadsBack(t *testing.T) {
	policies := []permit.Policy{
		permit.AllPermissions("events.read", "events.update"),
		permit.AnyMenu(3, 4),
		permit.ResourceAction("events", "create"),
		permit.NewCompositeBuilder().Require(permit.AnyRole("designer")).Build(),
		permit.NewCompositeBuilder().Optional(permit.AnyRole("designer")).Require(permit.AllMenus(3)).Build(),
	}
	for _, p := range policies {
		back, err := permit.ParsePolicyExpr(p.String())
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if !reflect.DeepEqual(back, p) {
			t.Fatalf("%s read back as %s", p, back)
		}
	}
}

func TestPolicyJSON(t *testing.T) {
	p := permit.NewCompositeBuilder().
		Require(permit.AllRoles("organizer")).
		Optional(permit.AnyMenu(3)).
		Require(permit.ResourceAction("events", "create")).
		Build()
	data, err := permit.MarshalPolicy(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := permit.ParsePolicy(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(back, p) {
		t.Fatalf("json read back as %s", back)
	}

	got, err := permit.ParsePolicy([]byte(`{"type":"composite","rules":[{"type":"menu","operator":"all","operands":["3",4]}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c := got.(permit.CompositePolicy)
	if c.Rules[0].Required {
		t.Fatalf("required must default to false")
	}
	if m := c.Rules[0].Policy.(permit.MenuPolicy); !reflect.DeepEqual(m.MenuIDs, []int64{3, 4}) {
		t.Fatalf("menu operands = %v", m.MenuIDs)
	}

	for _, bad := range []string{`{"type":"tenant"}`, `{}`, `{"type":"role","operands":[1]}`, `[`} {
		if _, err := permit.ParsePolicy([]byte(bad)); err == nil {
			t.Fatalf("%s should not parse", bad)
		}
	}
	if _, err := permit.MarshalPolicy(nil); err == nil || !strings.Contains(err.Error(), "nil") {
		t.Fatalf("nil policy should not marshal: %v", err)
	}
}

func TestPermissionCodes(t *testing.T) {
	for _, ok := range []string{"events.read", "event_types.bulk-update", "a1.b2"} {
		if err := permit.ValidatePermissionCode(ok); err != nil {
			t.Fatalf("%q: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "events", "Events.read", "events.read.all", ".read", "events.", "1events.read"} {
		if err := permit.ValidatePermissionCode(bad); err == nil {
			t.Fatalf("%q should be invalid", bad)
		}
	}
	if got := permit.PermissionCode(" Events ", "READ"); got != "events.read" {
		t.Fatalf("PermissionCode = %q", got)
	}
	if res, act, ok := permit.SplitPermissionCode("events.read"); !ok || res != "events" || act != "read" {
		t.Fatalf("split = %q %q %v", res, act, ok)
	}
	if _, _, ok := permit.SplitPermissionCode("events.read.all"); ok {
		t.Fatalf("three segments must not split")
	}
}
