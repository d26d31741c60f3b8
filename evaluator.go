package permit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// maxPolicyDepth bounds composite nesting.
const maxPolicyDepth = 32

// Decision is the explained outcome of evaluating a policy.
type Decision struct {
	TraceID     string        `json:"trace_id"`
	PrincipalID int64         `json:"principal_id"`
	Policy      string        `json:"policy"`
	Allowed     bool          `json:"allowed"`
	Bypassed    bool          `json:"bypassed"`
	MatchedBy   string        `json:"matched_by,omitempty"`
	Reason      string        `json:"reason"`
	Trace       []string      `json:"trace,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	Duration    time.Duration `json:"duration"`
}

// evalState carries one decision's snapshot and trace.
type evalState struct {
	traceID     string
	principalID int64
	snap        *Snapshot
	explain     bool
	traceOnly   int // depth of optional rules evaluated only for the trace
	trace       []string
	bypassed    bool
	matchedBy   string
	reason      string
	result      bool
}

func (s *evalState) tracef(format string, args ...any) {
	if s.explain {
		s.trace = append(s.trace, fmt.Sprintf(format, args...))
	}
}

func (s *evalState) deny(reason string) bool {
	if s.reason == "" {
		s.reason = reason
	}
	return false
}

// decide resolves the snapshot and runs check against it. Resolution
// failures deny.
func (e *Engine) decide(ctx context.Context, principalID int64, kind Kind, capability string, explain bool, check func(*evalState) bool) *evalState {
	st := &evalState{traceID: e.decisionTraceID(explain), principalID: principalID, explain: explain}
	if principalID <= 0 {
		st.deny("invalid principal")
		e.metrics.decision(kind, false)
		return st
	}
	snap, err := e.snapshot(ctx, principalID)
	if err != nil {
		st.deny("authorization state unavailable")
		st.tracef("resolve: %v", err)
		e.metrics.decision(kind, false)
		return st
	}
	st.snap = snap
	allowed := check(st)
	if allowed {
		st.reason = ""
	} else if st.reason == "" {
		st.reason = "not granted"
	}
	e.metrics.decision(kind, allowed)
	if e.auditDecisions && !st.bypassed {
		e.audit(AuditEntry{
			TraceID:     st.traceID,
			Timestamp:   time.Now(),
			PrincipalID: principalID,
			Capability:  capability,
			Allowed:     allowed,
			MatchedBy:   st.matchedBy,
			Reason:      st.reason,
		})
	}
	if allowed {
		st.reason = "granted"
	}
	st.result = allowed
	return st
}

// decisionTraceID returns the id shared by a decision's explanation and its
// audit entries. Decisions that produce neither get none.
func (e *Engine) decisionTraceID(explain bool) string {
	if !explain && e.auditCh == nil {
		return ""
	}
	return e.traceIDFunc()
}

// superAdminBypass grants permission and resource checks to super admins.
// Every use is logged, audited and counted, except inside rules traced only
// for an explanation.
func (e *Engine) superAdminBypass(st *evalState, capability string) bool {
	if !st.snap.HasRole(RoleSuperAdmin) {
		return false
	}
	if st.traceOnly > 0 {
		st.tracef("%s: super admin override applies", capability)
		return true
	}
	now := time.Now()
	st.bypassed = true
	st.matchedBy = RoleSuperAdmin
	st.tracef("%s: granted by super admin override", capability)
	e.metrics.bypass()
	e.logger.Info("super admin bypass", "principal_id", st.principalID, "capability", capability, "timestamp", now)
	e.audit(AuditEntry{
		TraceID:     st.traceID,
		Timestamp:   now,
		PrincipalID: st.principalID,
		Capability:  capability,
		Allowed:     true,
		Bypassed:    true,
		MatchedBy:   RoleSuperAdmin,
		Reason:      "super admin override",
	})
	return true
}

// ============================================================================
// LEAF CHECKS
// ============================================================================

func (e *Engine) checkPermissions(st *evalState, op Operator, codes []string) bool {
	if !op.Valid() {
		e.logger.Warn("unknown policy operator", "principal_id", st.principalID, "operator", string(op))
		return st.deny("unknown operator " + string(op))
	}
	if len(codes) == 0 {
		return st.deny("empty permission list")
	}
	normalized := make([]string, len(codes))
	for i, c := range codes {
		normalized[i] = normalizeCode(c)
	}
	capability := "permission:" + string(op) + ":" + strings.Join(normalized, ",")
	if e.superAdminBypass(st, capability) {
		return true
	}
	return matchOperands(st, op, normalized, func(code string) bool {
		return code != "" && st.snap.HasPermission(code)
	}, "permission")
}

func (e *Engine) checkRoles(st *evalState, op Operator, codes []string) bool {
	if !op.Valid() {
		e.logger.Warn("unknown policy operator", "principal_id", st.principalID, "operator", string(op))
		return st.deny("unknown operator " + string(op))
	}
	if len(codes) == 0 {
		return st.deny("empty role list")
	}
	trimmed := make([]string, len(codes))
	for i, c := range codes {
		trimmed[i] = strings.TrimSpace(c)
	}
	return matchOperands(st, op, trimmed, func(code string) bool {
		return code != "" && st.snap.HasRole(code)
	}, "role")
}

func (e *Engine) checkMenus(st *evalState, op Operator, ids []int64) bool {
	if !op.Valid() {
		e.logger.Warn("unknown policy operator", "principal_id", st.principalID, "operator", string(op))
		return st.deny("unknown operator " + string(op))
	}
	if len(ids) == 0 {
		return st.deny("empty menu list")
	}
	return matchOperands(st, op, ids, func(id int64) bool {
		return id > 0 && st.snap.HasMenu(id)
	}, "menu")
}

func (e *Engine) checkResource(st *evalState, resource, action string) bool {
	resource = normalizeCode(resource)
	action = normalizeCode(action)
	if resource == "" || action == "" {
		return st.deny("resource and action are required")
	}
	code := PermissionCode(resource, action)
	if e.superAdminBypass(st, "resource:"+resource+":"+action) {
		return true
	}
	if st.snap.HasPermission(code) {
		st.matchedBy = code
		st.tracef("resource %s: granted", code)
		return true
	}
	st.tracef("resource %s: missing", code)
	return st.deny("missing permission " + code)
}

func matchOperands[T comparable](st *evalState, op Operator, operands []T, has func(T) bool, noun string) bool {
	for _, o := range operands {
		ok := has(o)
		st.tracef("%s %v: %t", noun, o, ok)
		switch {
		case ok && op == OperatorAny:
			st.matchedBy = fmt.Sprint(o)
			return true
		case !ok && op == OperatorAll:
			return st.deny(fmt.Sprintf("missing %s %v", noun, o))
		}
	}
	if op == OperatorAll {
		st.matchedBy = fmt.Sprint(operands[len(operands)-1])
		return true
	}
	return st.deny("no " + noun + " matched")
}

// ============================================================================
// POLICY EVALUATION
// ============================================================================

func (e *Engine) eval(st *evalState, p Policy, depth int) bool {
	if depth > maxPolicyDepth {
		e.logger.Warn("policy nesting too deep", "principal_id", st.principalID, "depth", depth)
		return st.deny("policy nesting too deep")
	}
	switch v := p.(type) {
	case PermissionPolicy:
		return e.checkPermissions(st, v.Operator, v.Codes)
	case RolePolicy:
		return e.checkRoles(st, v.Operator, v.Codes)
	case MenuPolicy:
		return e.checkMenus(st, v.Operator, v.MenuIDs)
	case ResourcePolicy:
		return e.checkResource(st, v.Resource, v.Action)
	case CompositePolicy:
		return e.evalComposite(st, v, depth)
	case *PermissionPolicy:
		if v != nil {
			return e.checkPermissions(st, v.Operator, v.Codes)
		}
	case *RolePolicy:
		if v != nil {
			return e.checkRoles(st, v.Operator, v.Codes)
		}
	case *MenuPolicy:
		if v != nil {
			return e.checkMenus(st, v.Operator, v.MenuIDs)
		}
	case *ResourcePolicy:
		if v != nil {
			return e.checkResource(st, v.Resource, v.Action)
		}
	case *CompositePolicy:
		if v != nil {
			return e.evalComposite(st, *v, depth)
		}
	}
	e.logger.Warn("unsupported policy", "principal_id", st.principalID, "type", fmt.Sprintf("%T", p))
	return st.deny("unsupported policy")
}

// evalComposite applies rules in order; the first failing required rule
// denies. Optional rules only matter with the optional rule gate. Without it
// they are skipped, or traced without side effects when explaining.
func (e *Engine) evalComposite(st *evalState, c CompositePolicy, depth int) bool {
	if len(c.Rules) == 0 {
		e.logger.Warn("composite policy without rules", "principal_id", st.principalID)
		return st.deny("composite policy has no rules")
	}
	var optionalSeen, optionalPassed bool
	for i, rule := range c.Rules {
		if isNilPolicy(rule.Policy) {
			e.logger.Warn("composite rule without policy", "principal_id", st.principalID, "rule", i)
			return st.deny(fmt.Sprintf("rule %d has no policy", i))
		}
		if !rule.Required {
			optionalSeen = true
			if !e.optionalRuleGate && !st.explain {
				continue
			}
		}
		traceOnly := !rule.Required && !e.optionalRuleGate
		savedReason, savedMatch := st.reason, st.matchedBy
		if traceOnly {
			st.traceOnly++
		}
		ok := e.eval(st, rule.Policy, depth+1)
		if traceOnly {
			st.traceOnly--
			st.matchedBy = savedMatch
		}
		st.tracef("rule %d %s (required=%t): %t", i, rule.Policy, rule.Required, ok)
		if rule.Required && !ok {
			return st.deny(fmt.Sprintf("required rule %d failed: %s", i, rule.Policy))
		}
		if !rule.Required {
			st.reason = savedReason
			optionalPassed = optionalPassed || ok
		}
	}
	if e.optionalRuleGate && optionalSeen && !optionalPassed {
		return st.deny("no optional rule passed")
	}
	return true
}

// Evaluate reports whether the principal satisfies p. Malformed policies and
// lookup failures deny.
func (e *Engine) Evaluate(ctx context.Context, principalID int64, p Policy) bool {
	return e.evaluate(ctx, principalID, p, false).result
}

// Explain evaluates p and returns the outcome with its reasoning.
func (e *Engine) Explain(ctx context.Context, principalID int64, p Policy) *Decision {
	start := time.Now()
	st := e.evaluate(ctx, principalID, p, true)
	d := &Decision{
		TraceID:     st.traceID,
		PrincipalID: principalID,
		Allowed:     st.result,
		Bypassed:    st.bypassed,
		MatchedBy:   st.matchedBy,
		Reason:      st.reason,
		Trace:       st.trace,
		Timestamp:   start,
		Duration:    time.Since(start),
	}
	if !isNilPolicy(p) {
		d.Policy = p.String()
	}
	return d
}

// isNilPolicy catches nil interfaces and typed nil pointers, whose
// value-receiver methods would panic.
func isNilPolicy(p Policy) bool {
	switch v := p.(type) {
	case nil:
		return true
	case *PermissionPolicy:
		return v == nil
	case *RolePolicy:
		return v == nil
	case *MenuPolicy:
		return v == nil
	case *ResourcePolicy:
		return v == nil
	case *CompositePolicy:
		return v == nil
	}
	return false
}

// EvaluateNamed evaluates a registered policy. Unknown names deny.
func (e *Engine) EvaluateNamed(ctx context.Context, principalID int64, name string) bool {
	p, ok := e.Policy(name)
	if !ok {
		e.logger.Warn("unknown named policy", "principal_id", principalID, "policy", name)
		return false
	}
	return e.Evaluate(ctx, principalID, p)
}

func (e *Engine) evaluate(ctx context.Context, principalID int64, p Policy, explain bool) *evalState {
	if isNilPolicy(p) {
		e.logger.Warn("nil policy", "principal_id", principalID)
		st := &evalState{traceID: e.decisionTraceID(explain), principalID: principalID, explain: explain}
		st.deny("no policy")
		return st
	}
	return e.decide(ctx, principalID, p.Kind(), p.String(), explain, func(st *evalState) bool {
		return e.eval(st, p, 0)
	})
}
