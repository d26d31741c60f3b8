package permit

// Builders provide a fluent API for assembling policies

func AnyPermission(codes ...string) PermissionPolicy {
	return PermissionPolicy{Operator: OperatorAny, Codes: codes}
}

func AllPermissions(codes ...string) PermissionPolicy {
	return PermissionPolicy{Operator: OperatorAll, Codes: codes}
}

func AnyRole(codes ...string) RolePolicy { return RolePolicy{Operator: OperatorAny, Codes: codes} }

func AllRoles(codes ...string) RolePolicy { return RolePolicy{Operator: OperatorAll, Codes: codes} }

func AnyMenu(ids ...int64) MenuPolicy { return MenuPolicy{Operator: OperatorAny, MenuIDs: ids} }

func AllMenus(ids ...int64) MenuPolicy { return MenuPolicy{Operator: OperatorAll, MenuIDs: ids} }

func ResourceAction(resource, action string) ResourcePolicy {
	return ResourcePolicy{Resource: resource, Action: action}
}

// CompositeBuilder builds a CompositePolicy
type CompositeBuilder struct {
	rules []Rule
}

func NewCompositeBuilder() *CompositeBuilder {
	return &CompositeBuilder{rules: []Rule{}}
}

// Require appends a rule that must pass.
func (b *CompositeBuilder) Require(p Policy) *CompositeBuilder {
	b.rules = append(b.rules, Rule{Policy: p, Required: true})
	return b
}

// Optional appends a rule that does not gate the outcome.
func (b *CompositeBuilder) Optional(p Policy) *CompositeBuilder {
	b.rules = append(b.rules, Rule{Policy: p, Required: false})
	return b
}

func (b *CompositeBuilder) Build() CompositePolicy {
	rules := make([]Rule, len(b.rules))
	copy(rules, b.rules)
	return CompositePolicy{Rules: rules}
}
