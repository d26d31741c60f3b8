// Package permit is an authorization decision engine for multi-tenant
// applications. It answers "can principal P do X?" where X is a permission,
// a role, a menu, a resource/action pair or a composite policy, backed by a
// grant store and a short-lived per-principal cache.
//
// Every decision function is fail-closed: invalid input, lookup failures and
// malformed policies all resolve to a denial rather than an error.
package permit

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Well-known role codes consulted by the engine.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
)

var (
	// ErrNotFound is returned by grant stores when a role or menu does not exist.
	ErrNotFound = errors.New("permit: not found")
	// ErrInvalidPermissionCode rejects codes not shaped like "resource.action".
	ErrInvalidPermissionCode = errors.New("permit: invalid permission code")
	// ErrInvalidPrincipal rejects non-positive principal ids.
	ErrInvalidPrincipal = errors.New("permit: invalid principal id")
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Role is a named grouping of permissions. Higher Level ranks first.
type Role struct {
	ID       int64  `json:"id" yaml:"id" validate:"gt=0"`
	Code     string `json:"code" yaml:"code" validate:"required"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Level    int    `json:"level" yaml:"level"`
	IsSystem bool   `json:"is_system,omitempty" yaml:"is_system,omitempty"`
	Active   bool   `json:"active" yaml:"active"`
}

// Permission is an atomic capability coded as "resource.action".
type Permission struct {
	ID     int64  `json:"id" yaml:"id" validate:"gt=0"`
	Code   string `json:"code" yaml:"code" validate:"required,permcode"`
	Group  string `json:"group,omitempty" yaml:"group,omitempty"`
	Active bool   `json:"active" yaml:"active"`
}

// Menu is a node of the navigation tree. ParentID is zero for roots.
type Menu struct {
	ID       int64 `json:"id" yaml:"id" validate:"gt=0"`
	ParentID int64 `json:"parent_id,omitempty" yaml:"parent_id,omitempty" validate:"gte=0"`
	Visible  bool  `json:"visible" yaml:"visible"`
	Active   bool  `json:"active" yaml:"active"`
}

// AccessStatus is the lifecycle state of a principal's role membership.
type AccessStatus string

const (
	AccessActive   AccessStatus = "active"
	AccessInactive AccessStatus = "inactive"
	AccessLocked   AccessStatus = "lock"
)

// Valid reports whether s is one of the known statuses.
func (s AccessStatus) Valid() bool {
	switch s {
	case AccessActive, AccessInactive, AccessLocked:
		return true
	}
	return false
}

// Access links a principal to a role. Only active edges confer membership.
type Access struct {
	UserID int64        `json:"user_id" yaml:"user_id" validate:"gt=0"`
	RoleID int64        `json:"role_id" yaml:"role_id" validate:"gt=0"`
	Status AccessStatus `json:"status" yaml:"status" validate:"omitempty,oneof=active inactive lock"`
}

// Authorization grants a role a permission, optionally scoped to a menu.
// MenuID is zero for unscoped grants.
type Authorization struct {
	RoleID         int64  `json:"role_id" yaml:"role_id" validate:"gt=0"`
	PermissionCode string `json:"permission" yaml:"permission" validate:"required,permcode"`
	MenuID         int64  `json:"menu_id,omitempty" yaml:"menu_id,omitempty" validate:"gte=0"`
}

// ============================================================================
// STORAGE INTERFACES
// ============================================================================

// GrantStore exposes the grant edges the engine resolves decisions from.
// Implementations must be safe for concurrent use.
type GrantStore interface {
	// FindActiveAccessesByUser returns the principal's active role memberships.
	FindActiveAccessesByUser(ctx context.Context, principalID int64) ([]Access, error)
	// FindActiveAuthorizationsByRole returns grants whose role and permission are active.
	FindActiveAuthorizationsByRole(ctx context.Context, roleID int64) ([]Authorization, error)
	// FindRole returns ErrNotFound when the role does not exist.
	FindRole(ctx context.Context, roleID int64) (*Role, error)
	// FindMenu returns ErrNotFound when the menu does not exist.
	FindMenu(ctx context.Context, menuID int64) (*Menu, error)
}

// GrantWriter is implemented by stores that can be seeded from a Config.
type GrantWriter interface {
	PutRole(ctx context.Context, r Role) error
	PutPermission(ctx context.Context, p Permission) error
	PutMenu(ctx context.Context, m Menu) error
	PutAccess(ctx context.Context, a Access) error
	PutAuthorization(ctx context.Context, a Authorization) error
}

// ============================================================================
// PERMISSION CODES
// ============================================================================

var permissionCodeRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*\.[a-z][a-z0-9_-]*$`)

// ValidatePermissionCode checks that code is lowercase "resource.action"
// with exactly one dot separator.
func ValidatePermissionCode(code string) error {
	if !permissionCodeRe.MatchString(code) {
		return fmt.Errorf("%w: %q", ErrInvalidPermissionCode, code)
	}
	return nil
}

// CanonicalPermissionCode lowercases and trims code, then validates it.
// Grant writers call it before storing a code.
func CanonicalPermissionCode(code string) (string, error) {
	code = normalizeCode(code)
	if err := ValidatePermissionCode(code); err != nil {
		return "", err
	}
	return code, nil
}

// PermissionCode joins a resource and an action into a permission code.
func PermissionCode(resource, action string) string {
	return normalizeCode(resource) + "." + normalizeCode(action)
}

// SplitPermissionCode is the inverse of PermissionCode.
func SplitPermissionCode(code string) (resource, action string, ok bool) {
	resource, action, ok = strings.Cut(code, ".")
	if !ok || resource == "" || action == "" || strings.Contains(action, ".") {
		return "", "", false
	}
	return resource, action, true
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
