package permit

import (
	"context"
	"strconv"
	"strings"
)

// ============================================================================
// PERMISSION CHECKS
// ============================================================================
//
// Permission and resource checks honour the super-admin override. Role and
// menu checks never do: a super admin only holds the roles and menus it was
// actually granted.

// HasPermission reports whether the principal holds the permission code.
func (e *Engine) HasPermission(ctx context.Context, principalID int64, code string) bool {
	code = normalizeCode(code)
	if code == "" {
		return false
	}
	return e.decide(ctx, principalID, KindPermission, "permission:"+code, false, func(st *evalState) bool {
		return e.checkPermissions(st, OperatorAny, []string{code})
	}).result
}

// HasAnyPermission reports whether the principal holds at least one of codes.
// An empty list is denied.
func (e *Engine) HasAnyPermission(ctx context.Context, principalID int64, codes []string) bool {
	return e.permissionList(ctx, principalID, OperatorAny, codes)
}

// HasAllPermissions reports whether the principal holds every code. An empty
// list is denied.
func (e *Engine) HasAllPermissions(ctx context.Context, principalID int64, codes []string) bool {
	return e.permissionList(ctx, principalID, OperatorAll, codes)
}

func (e *Engine) permissionList(ctx context.Context, principalID int64, op Operator, codes []string) bool {
	if len(codes) == 0 {
		return false
	}
	p := PermissionPolicy{Operator: op, Codes: codes}
	return e.decide(ctx, principalID, KindPermission, p.String(), false, func(st *evalState) bool {
		return e.checkPermissions(st, op, codes)
	}).result
}

// CanAccessResource checks the permission "resource.action".
func (e *Engine) CanAccessResource(ctx context.Context, principalID int64, resource, action string) bool {
	if strings.TrimSpace(resource) == "" || strings.TrimSpace(action) == "" {
		return false
	}
	p := ResourcePolicy{Resource: resource, Action: action}
	return e.decide(ctx, principalID, KindResource, p.String(), false, func(st *evalState) bool {
		return e.checkResource(st, resource, action)
	}).result
}

// EffectivePermissions lists the principal's permission codes, sorted. It is
// empty when the principal cannot be resolved.
func (e *Engine) EffectivePermissions(ctx context.Context, principalID int64) []string {
	if principalID <= 0 {
		return []string{}
	}
	snap, err := e.snapshot(ctx, principalID)
	if err != nil {
		return []string{}
	}
	return snap.PermissionList()
}

// ============================================================================
// ROLE CHECKS
// ============================================================================

func (e *Engine) HasRole(ctx context.Context, principalID int64, code string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	return e.decide(ctx, principalID, KindRole, "role:"+code, false, func(st *evalState) bool {
		return e.checkRoles(st, OperatorAny, []string{code})
	}).result
}

func (e *Engine) HasAnyRole(ctx context.Context, principalID int64, codes []string) bool {
	return e.roleList(ctx, principalID, OperatorAny, codes)
}

func (e *Engine) HasAllRoles(ctx context.Context, principalID int64, codes []string) bool {
	return e.roleList(ctx, principalID, OperatorAll, codes)
}

func (e *Engine) roleList(ctx context.Context, principalID int64, op Operator, codes []string) bool {
	if len(codes) == 0 {
		return false
	}
	p := RolePolicy{Operator: op, Codes: codes}
	return e.decide(ctx, principalID, KindRole, p.String(), false, func(st *evalState) bool {
		return e.checkRoles(st, op, codes)
	}).result
}

// IsAdmin reports whether the principal holds the admin or super admin role.
func (e *Engine) IsAdmin(ctx context.Context, principalID int64) bool {
	return e.HasAnyRole(ctx, principalID, []string{RoleAdmin, RoleSuperAdmin})
}

func (e *Engine) IsSuperAdmin(ctx context.Context, principalID int64) bool {
	return e.HasRole(ctx, principalID, RoleSuperAdmin)
}

// HighestRole returns the principal's top-ranked role: highest level, ties
// broken by the lexicographically smallest code.
func (e *Engine) HighestRole(ctx context.Context, principalID int64) (Role, bool) {
	if principalID <= 0 {
		return Role{}, false
	}
	snap, err := e.snapshot(ctx, principalID)
	if err != nil {
		return Role{}, false
	}
	return snap.HighestRole()
}

// Roles returns the principal's active roles in rank order.
func (e *Engine) Roles(ctx context.Context, principalID int64) []Role {
	if principalID <= 0 {
		return []Role{}
	}
	snap, err := e.snapshot(ctx, principalID)
	if err != nil {
		return []Role{}
	}
	out := make([]Role, len(snap.Roles))
	copy(out, snap.Roles)
	return out
}

// ============================================================================
// MENU CHECKS
// ============================================================================

// HasMenuAccess reports whether the menu is visible to the principal.
func (e *Engine) HasMenuAccess(ctx context.Context, principalID, menuID int64) bool {
	if menuID <= 0 {
		return false
	}
	return e.decide(ctx, principalID, KindMenu, "menu:"+strconv.FormatInt(menuID, 10), false, func(st *evalState) bool {
		return e.checkMenus(st, OperatorAny, []int64{menuID})
	}).result
}

// VisibleMenus lists the menu ids visible to the principal, sorted.
func (e *Engine) VisibleMenus(ctx context.Context, principalID int64) []int64 {
	if principalID <= 0 {
		return []int64{}
	}
	snap, err := e.snapshot(ctx, principalID)
	if err != nil {
		return []int64{}
	}
	return snap.MenuList()
}
