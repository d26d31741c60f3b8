package permit

import (
	"strconv"
	"strings"
)

// Operator combines the operands of a leaf policy.
type Operator string

const (
	OperatorAny Operator = "any"
	OperatorAll Operator = "all"
)

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	return o == OperatorAny || o == OperatorAll
}

// Kind names a policy variant. It is the "type" tag of the JSON form and the
// rule prefix of the textual form.
type Kind string

const (
	KindPermission Kind = "permission"
	KindRole       Kind = "role"
	KindMenu       Kind = "menu"
	KindResource   Kind = "resource"
	KindComposite  Kind = "composite"
)

// Policy is a closed set of capability descriptions. The unexported marker
// method keeps the set of variants fixed to the types in this package.
type Policy interface {
	Kind() Kind
	String() string
	isPolicy()
}

// PermissionPolicy requires any/all of the listed permission codes.
type PermissionPolicy struct {
	Operator Operator
	Codes    []string
}

// RolePolicy requires any/all of the listed role codes.
type RolePolicy struct {
	Operator Operator
	Codes    []string
}

// MenuPolicy requires access to any/all of the listed menus.
type MenuPolicy struct {
	Operator Operator
	MenuIDs  []int64
}

// ResourcePolicy is sugar for a single permission "resource.action".
type ResourcePolicy struct {
	Resource string
	Action   string
}

// Rule is one step of a composite policy.
type Rule struct {
	Policy   Policy
	Required bool
}

// CompositePolicy evaluates its rules in order. Required rules gate the
// outcome; optional rules do not.
type CompositePolicy struct {
	Rules []Rule
}

func (PermissionPolicy) Kind() Kind { return KindPermission }
func (RolePolicy) Kind() Kind       { return KindRole }
func (MenuPolicy) Kind() Kind       { return KindMenu }
func (ResourcePolicy) Kind() Kind   { return KindResource }
func (CompositePolicy) Kind() Kind  { return KindComposite }

func (PermissionPolicy) isPolicy() {}
func (RolePolicy) isPolicy()       {}
func (MenuPolicy) isPolicy()       {}
func (ResourcePolicy) isPolicy()   {}
func (CompositePolicy) isPolicy()  {}

func (p PermissionPolicy) String() string {
	return string(KindPermission) + ":" + string(p.Operator) + ":" + strings.Join(p.Codes, ",")
}

func (p RolePolicy) String() string {
	return string(KindRole) + ":" + string(p.Operator) + ":" + strings.Join(p.Codes, ",")
}

func (p MenuPolicy) String() string {
	var b strings.Builder
	b.WriteString(string(KindMenu))
	b.WriteByte(':')
	b.WriteString(string(p.Operator))
	b.WriteByte(':')
	for i, id := range p.MenuIDs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(id, 10))
	}
	return b.String()
}

func (p ResourcePolicy) String() string {
	return string(KindResource) + ":" + p.Resource + ":" + p.Action
}

func (p CompositePolicy) String() string {
	parts := make([]string, 0, len(p.Rules))
	for _, r := range p.Rules {
		s := "<nil>"
		if r.Policy != nil {
			s = r.Policy.String()
		}
		if !r.Required {
			s = "?" + s
		}
		parts = append(parts, s)
	}
	s := strings.Join(parts, "; ")
	if len(p.Rules) == 1 && p.Rules[0].Required {
		// a single required rule would otherwise read back as a leaf
		s += ";"
	}
	return s
}
