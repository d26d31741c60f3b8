package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLGrantStore reads and writes grants through squealx. Deletions are soft:
// rows get a deleted_at stamp and drop out of every lookup.
type SQLGrantStore struct {
	db  *squealx.DB
	now func() time.Time
}

func NewSQLGrantStore(db *squealx.DB) *SQLGrantStore {
	return &SQLGrantStore{db: db, now: time.Now}
}

func (s *SQLGrantStore) FindActiveAccessesByUser(ctx context.Context, principalID int64) ([]permit.Access, error) {
	q := `SELECT user_id, role_id, status FROM accesses WHERE user_id = :user_id AND status = 'active' AND deleted_at IS NULL ORDER BY role_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"user_id": principalID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]permit.Access, 0)
	for r.Next() {
		var a permit.Access
		var status string
		if err := r.Scan(&a.UserID, &a.RoleID, &status); err != nil {
			return nil, err
		}
		a.Status = permit.AccessStatus(status)
		out = append(out, a)
	}
	return out, r.Err()
}

func (s *SQLGrantStore) FindActiveAuthorizationsByRole(ctx context.Context, roleID int64) ([]permit.Authorization, error) {
	q := `SELECT a.role_id, p.code, a.menu_id FROM authorizations a
JOIN permissions p ON p.id = a.permission_id
JOIN roles r ON r.id = a.role_id
WHERE a.role_id = :role_id AND a.deleted_at IS NULL AND p.active = 1 AND r.active = 1 AND r.deleted_at IS NULL`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"role_id": roleID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]permit.Authorization, 0)
	for r.Next() {
		var a permit.Authorization
		if err := r.Scan(&a.RoleID, &a.PermissionCode, &a.MenuID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, r.Err()
}

func (s *SQLGrantStore) FindRole(ctx context.Context, roleID int64) (*permit.Role, error) {
	q := `SELECT id, code, name, level, is_system, active FROM roles WHERE id = :id AND deleted_at IS NULL`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": roleID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		if err := r.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("role %d: %w", roleID, permit.ErrNotFound)
	}
	var role permit.Role
	var system, active int
	if err := r.Scan(&role.ID, &role.Code, &role.Name, &role.Level, &system, &active); err != nil {
		return nil, err
	}
	role.IsSystem = system != 0
	role.Active = active != 0
	return &role, nil
}

func (s *SQLGrantStore) FindMenu(ctx context.Context, menuID int64) (*permit.Menu, error) {
	q := `SELECT id, parent_id, visible, active FROM menus WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": menuID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		if err := r.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("menu %d: %w", menuID, permit.ErrNotFound)
	}
	var m permit.Menu
	var visible, active int
	if err := r.Scan(&m.ID, &m.ParentID, &visible, &active); err != nil {
		return nil, err
	}
	m.Visible = visible != 0
	m.Active = active != 0
	return &m, nil
}

// ============================================================================
// WRITES
// ============================================================================

func (s *SQLGrantStore) PutRole(ctx context.Context, r permit.Role) error {
	q := `INSERT INTO roles(id, code, name, level, is_system, active) VALUES(:id, :code, :name, :level, :is_system, :active)
ON CONFLICT(id) DO UPDATE SET code = excluded.code, name = excluded.name, level = excluded.level, is_system = excluded.is_system, active = excluded.active, deleted_at = NULL`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":        r.ID,
		"code":      r.Code,
		"name":      r.Name,
		"level":     r.Level,
		"is_system": boolToInt(r.IsSystem),
		"active":    boolToInt(r.Active),
	})
	return err
}

func (s *SQLGrantStore) PutPermission(ctx context.Context, p permit.Permission) error {
	code, err := permit.CanonicalPermissionCode(p.Code)
	if err != nil {
		return err
	}
	p.Code = code
	q := `INSERT INTO permissions(id, code, grp, active) VALUES(:id, :code, :grp, :active)
ON CONFLICT(id) DO UPDATE SET code = excluded.code, grp = excluded.grp, active = excluded.active`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{"id": p.ID, "code": p.Code, "grp": p.Group, "active": boolToInt(p.Active)})
	return err
}

func (s *SQLGrantStore) PutMenu(ctx context.Context, m permit.Menu) error {
	q := `INSERT INTO menus(id, parent_id, visible, active) VALUES(:id, :parent_id, :visible, :active)
ON CONFLICT(id) DO UPDATE SET parent_id = excluded.parent_id, visible = excluded.visible, active = excluded.active`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": m.ID, "parent_id": m.ParentID, "visible": boolToInt(m.Visible), "active": boolToInt(m.Active)})
	return err
}

func (s *SQLGrantStore) PutAccess(ctx context.Context, a permit.Access) error {
	status := a.Status
	if status == "" {
		status = permit.AccessActive
	}
	q := `INSERT INTO accesses(user_id, role_id, status) VALUES(:user_id, :role_id, :status)
ON CONFLICT(user_id, role_id) DO UPDATE SET status = excluded.status, deleted_at = NULL`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"user_id": a.UserID, "role_id": a.RoleID, "status": string(status)})
	return err
}

// PutAuthorization grants by permission code. The permission must exist.
func (s *SQLGrantStore) PutAuthorization(ctx context.Context, a permit.Authorization) error {
	code, err := permit.CanonicalPermissionCode(a.PermissionCode)
	if err != nil {
		return err
	}
	a.PermissionCode = code
	q := `INSERT INTO authorizations(role_id, permission_id, menu_id) SELECT :role_id, id, :menu_id FROM permissions WHERE code = :code
ON CONFLICT(role_id, permission_id, menu_id) DO UPDATE SET deleted_at = NULL`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"role_id": a.RoleID, "menu_id": a.MenuID, "code": a.PermissionCode})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("permission %s: %w", a.PermissionCode, permit.ErrNotFound)
	}
	return nil
}

func (s *SQLGrantStore) DeleteRole(ctx context.Context, roleID int64) error {
	q := `UPDATE roles SET deleted_at = :now WHERE id = :id AND deleted_at IS NULL`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": roleID, "now": s.now()})
	return err
}

func (s *SQLGrantStore) RevokeAccess(ctx context.Context, principalID, roleID int64) error {
	q := `UPDATE accesses SET deleted_at = :now WHERE user_id = :user_id AND role_id = :role_id AND deleted_at IS NULL`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"user_id": principalID, "role_id": roleID, "now": s.now()})
	return err
}

func (s *SQLGrantStore) RevokeAuthorization(ctx context.Context, a permit.Authorization) error {
	q := `UPDATE authorizations SET deleted_at = :now
WHERE role_id = :role_id AND menu_id = :menu_id AND deleted_at IS NULL
AND permission_id = (SELECT id FROM permissions WHERE code = :code)`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"role_id": a.RoleID, "menu_id": a.MenuID, "code": a.PermissionCode, "now": s.now()})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return permit.ErrNotFound
	}
	return nil
}

// Stats counts live rows.
func (s *SQLGrantStore) Stats(ctx context.Context) (permit.GrantStats, error) {
	var st permit.GrantStats
	counts := []struct {
		q   string
		dst *int
	}{
		{`SELECT COUNT(*) FROM roles WHERE deleted_at IS NULL`, &st.Roles},
		{`SELECT COUNT(*) FROM permissions`, &st.Permissions},
		{`SELECT COUNT(*) FROM menus`, &st.Menus},
		{`SELECT COUNT(DISTINCT user_id) FROM accesses WHERE deleted_at IS NULL`, &st.Principals},
		{`SELECT COUNT(*) FROM authorizations WHERE deleted_at IS NULL`, &st.Authorizations},
	}
	for _, c := range counts {
		r, err := s.db.NamedQueryContext(ctx, c.q, map[string]any{})
		if err != nil {
			return st, err
		}
		if r.Next() {
			err = r.Scan(c.dst)
		}
		r.Close()
		if err != nil {
			return st, err
		}
	}
	return st, nil
}

var (
	_ permit.GrantStore  = (*SQLGrantStore)(nil)
	_ permit.GrantWriter = (*SQLGrantStore)(nil)
)
