package permit

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePolicyExpr parses the compact textual policy form used by config files,
// the CLI and route guards:
//
//	permission:any:events.read,events.update
//	role:all:organizer
//	menu:any:3,4
//	resource:events:create
//	role:all:organizer; ?permission:any:events.read
//
// Rules are separated by ';'. A '?' prefix marks a rule optional. A single
// rule without ';' is the leaf policy itself; anything else is a composite.
func ParsePolicyExpr(s string) (Policy, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty policy expression")
	}
	if !strings.Contains(s, ";") && !strings.HasPrefix(s, "?") {
		return parseRuleExpr(s)
	}
	rules := make([]Rule, 0, 4)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		required := true
		if strings.HasPrefix(part, "?") {
			required = false
			part = strings.TrimSpace(part[1:])
		}
		p, err := parseRuleExpr(part)
		if err != nil {
			return nil, err
		}
		rules = append(rules, Rule{Policy: p, Required: required})
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("composite policy %q has no rules", s)
	}
	return CompositePolicy{Rules: rules}, nil
}

// MustParsePolicyExpr is like ParsePolicyExpr but panics on error. Intended
// for package-level policy declarations.
func MustParsePolicyExpr(s string) Policy {
	p, err := ParsePolicyExpr(s)
	if err != nil {
		panic(err)
	}
	return p
}

func parseRuleExpr(s string) (Policy, error) {
	kind, rest, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("rule %q: expected <type>:<...>", s)
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	if Kind(kind) == KindResource {
		res, act, ok := strings.Cut(rest, ":")
		if !ok || strings.TrimSpace(res) == "" || strings.TrimSpace(act) == "" {
			return nil, fmt.Errorf("rule %q: expected resource:<resource>:<action>", s)
		}
		return ResourcePolicy{Resource: strings.TrimSpace(res), Action: strings.TrimSpace(act)}, nil
	}
	opRaw, operands, ok := strings.Cut(rest, ":")
	if !ok {
		return nil, fmt.Errorf("rule %q: expected %s:<any|all>:<operands>", s, kind)
	}
	op := Operator(strings.ToLower(strings.TrimSpace(opRaw)))
	if !op.Valid() {
		return nil, fmt.Errorf("rule %q: unknown operator %q", s, opRaw)
	}
	list := splitCSV(operands)
	switch Kind(kind) {
	case KindPermission:
		return PermissionPolicy{Operator: op, Codes: list}, nil
	case KindRole:
		return RolePolicy{Operator: op, Codes: list}, nil
	case KindMenu:
		ids := make([]int64, 0, len(list))
		for _, v := range list {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("rule %q: menu id %q: %w", s, v, err)
			}
			ids = append(ids, id)
		}
		return MenuPolicy{Operator: op, MenuIDs: ids}, nil
	}
	return nil, fmt.Errorf("rule %q: unknown policy type %q", s, kind)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.Trim(strings.TrimSpace(p), `"'`))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
