package permit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// policyJSON is the tagged wire form of a Policy:
//
//	{"type":"permission","operator":"any","operands":["events.read"]}
//	{"type":"resource","resource":"events","action":"create"}
//	{"type":"composite","rules":[{"type":"role","operator":"all","operands":["organizer"],"required":true}]}
type policyJSON struct {
	Type     Kind              `json:"type"`
	Operator Operator          `json:"operator,omitempty"`
	Operands []json.RawMessage `json:"operands,omitempty"`
	Resource string            `json:"resource,omitempty"`
	Action   string            `json:"action,omitempty"`
	Rules    []ruleJSON        `json:"rules,omitempty"`
}

type ruleJSON struct {
	policyJSON
	Required bool `json:"required"`
}

// ParsePolicy decodes the tagged JSON form. Unknown types are rejected here,
// so a decoded Policy is always one of the known variants.
func ParsePolicy(data []byte) (Policy, error) {
	var raw policyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	return raw.toPolicy()
}

// MarshalPolicy encodes p in the tagged JSON form.
func MarshalPolicy(p Policy) ([]byte, error) {
	raw, err := fromPolicy(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(raw)
}

func (r policyJSON) toPolicy() (Policy, error) {
	switch r.Type {
	case KindPermission, KindRole:
		codes, err := stringOperands(r.Operands)
		if err != nil {
			return nil, fmt.Errorf("%s policy: %w", r.Type, err)
		}
		if r.Type == KindPermission {
			return PermissionPolicy{Operator: r.Operator, Codes: codes}, nil
		}
		return RolePolicy{Operator: r.Operator, Codes: codes}, nil
	case KindMenu:
		ids, err := menuOperands(r.Operands)
		if err != nil {
			return nil, fmt.Errorf("menu policy: %w", err)
		}
		return MenuPolicy{Operator: r.Operator, MenuIDs: ids}, nil
	case KindResource:
		return ResourcePolicy{Resource: r.Resource, Action: r.Action}, nil
	case KindComposite:
		rules := make([]Rule, 0, len(r.Rules))
		for i, rr := range r.Rules {
			p, err := rr.policyJSON.toPolicy()
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			rules = append(rules, Rule{Policy: p, Required: rr.Required})
		}
		return CompositePolicy{Rules: rules}, nil
	case "":
		return nil, fmt.Errorf("policy type is required")
	}
	return nil, fmt.Errorf("unknown policy type %q", r.Type)
}

func fromPolicy(p Policy) (policyJSON, error) {
	switch v := p.(type) {
	case PermissionPolicy:
		return policyJSON{Type: KindPermission, Operator: v.Operator, Operands: stringsRaw(v.Codes)}, nil
	case RolePolicy:
		return policyJSON{Type: KindRole, Operator: v.Operator, Operands: stringsRaw(v.Codes)}, nil
	case MenuPolicy:
		ops := make([]json.RawMessage, 0, len(v.MenuIDs))
		for _, id := range v.MenuIDs {
			ops = append(ops, json.RawMessage(strconv.FormatInt(id, 10)))
		}
		return policyJSON{Type: KindMenu, Operator: v.Operator, Operands: ops}, nil
	case ResourcePolicy:
		return policyJSON{Type: KindResource, Resource: v.Resource, Action: v.Action}, nil
	case CompositePolicy:
		out := policyJSON{Type: KindComposite, Rules: make([]ruleJSON, 0, len(v.Rules))}
		for i, r := range v.Rules {
			inner, err := fromPolicy(r.Policy)
			if err != nil {
				return policyJSON{}, fmt.Errorf("rule %d: %w", i, err)
			}
			out.Rules = append(out.Rules, ruleJSON{policyJSON: inner, Required: r.Required})
		}
		return out, nil
	case nil:
		return policyJSON{}, fmt.Errorf("nil policy")
	}
	return policyJSON{}, fmt.Errorf("unsupported policy %T", p)
}

func stringOperands(ops []json.RawMessage) ([]string, error) {
	out := make([]string, 0, len(ops))
	for i, op := range ops {
		var s string
		if err := json.Unmarshal(op, &s); err != nil {
			return nil, fmt.Errorf("operand %d: expected string", i)
		}
		out = append(out, s)
	}
	return out, nil
}

func menuOperands(ops []json.RawMessage) ([]int64, error) {
	out := make([]int64, 0, len(ops))
	for i, op := range ops {
		var n int64
		if err := json.Unmarshal(op, &n); err == nil {
			out = append(out, n)
			continue
		}
		var s string
		if err := json.Unmarshal(op, &s); err != nil {
			return nil, fmt.Errorf("operand %d: expected menu id", i)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("operand %d: %w", i, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func stringsRaw(ss []string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(ss))
	for _, s := range ss {
		b, _ := json.Marshal(s)
		out = append(out, b)
	}
	return out
}
