package permit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CheckRequest is the wire form of a single decision, used by the CLI and
// admin tooling. Exactly one of the capability fields must be set.
type CheckRequest struct {
	PrincipalID int64           `json:"principal_id"`
	Permission  string          `json:"permission,omitempty"`
	Permissions []string        `json:"permissions,omitempty"`
	Operator    Operator        `json:"operator,omitempty"` // for Permissions, defaults to any
	Role        string          `json:"role,omitempty"`
	MenuID      int64           `json:"menu_id,omitempty"`
	Resource    string          `json:"resource,omitempty"` // "resource:action" or "resource.action"
	Expr        string          `json:"expr,omitempty"`
	Policy      json.RawMessage `json:"policy,omitempty"`
	PolicyName  string          `json:"policy_name,omitempty"`
}

var errAmbiguousCheck = errors.New("permit: check request must name exactly one capability")

// ToPolicy converts the request into the policy it describes. Named
// policies are looked up by the engine, so lookup is passed in.
func (r *CheckRequest) ToPolicy(lookup func(name string) (Policy, bool)) (Policy, error) {
	var out []Policy
	if r.Permission != "" {
		out = append(out, AnyPermission(r.Permission))
	}
	if len(r.Permissions) > 0 {
		op := r.Operator
		if op == "" {
			op = OperatorAny
		}
		out = append(out, PermissionPolicy{Operator: op, Codes: r.Permissions})
	}
	if r.Role != "" {
		out = append(out, AnyRole(r.Role))
	}
	if r.MenuID != 0 {
		out = append(out, AnyMenu(r.MenuID))
	}
	if r.Resource != "" {
		res, act, ok := strings.Cut(r.Resource, ":")
		if !ok {
			res, act, ok = strings.Cut(r.Resource, ".")
		}
		if !ok {
			return nil, fmt.Errorf("permit: resource %q must be resource:action", r.Resource)
		}
		out = append(out, ResourceAction(res, act))
	}
	if r.Expr != "" {
		p, err := ParsePolicyExpr(r.Expr)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(r.Policy) > 0 {
		p, err := ParsePolicy(r.Policy)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if r.PolicyName != "" {
		p, ok := lookup(r.PolicyName)
		if !ok {
			return nil, fmt.Errorf("permit: unknown policy %q", r.PolicyName)
		}
		out = append(out, p)
	}
	if len(out) != 1 {
		return nil, errAmbiguousCheck
	}
	return out[0], nil
}

// Check explains the decision described by req. Malformed requests return an
// error together with a denying Decision.
func (e *Engine) Check(ctx context.Context, req *CheckRequest) (*Decision, error) {
	if req == nil {
		return &Decision{Reason: "empty request"}, errors.New("permit: nil check request")
	}
	p, err := req.ToPolicy(e.Policy)
	if err != nil {
		return &Decision{PrincipalID: req.PrincipalID, Reason: err.Error()}, err
	}
	return e.Explain(ctx, req.PrincipalID, p), nil
}
