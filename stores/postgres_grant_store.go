package stores

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oarkflow/permit"
)

// PostgresGrantStore is a GrantStore and GrantWriter over a pgx pool. It
// uses the schema created by MigratePostgres.
type PostgresGrantStore struct {
	pool *pgxpool.Pool
}

// NewPostgresGrantStore wraps pool.
func NewPostgresGrantStore(pool *pgxpool.Pool) *PostgresGrantStore {
	return &PostgresGrantStore{pool: pool}
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func (s *PostgresGrantStore) FindActiveAccessesByUser(ctx context.Context, principalID int64) ([]permit.Access, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id, role_id, status FROM accesses
WHERE user_id = $1 AND status = 'active' AND deleted_at IS NULL ORDER BY role_id`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]permit.Access, 0)
	for rows.Next() {
		var a permit.Access
		var status string
		if err := rows.Scan(&a.UserID, &a.RoleID, &status); err != nil {
			return nil, err
		}
		a.Status = permit.AccessStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresGrantStore) FindActiveAuthorizationsByRole(ctx context.Context, roleID int64) ([]permit.Authorization, error) {
	rows, err := s.pool.Query(ctx, `SELECT a.role_id, p.code, a.menu_id FROM authorizations a
JOIN permissions p ON p.id = a.permission_id
JOIN roles r ON r.id = a.role_id
WHERE a.role_id = $1 AND a.deleted_at IS NULL AND p.active AND r.active AND r.deleted_at IS NULL`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]permit.Authorization, 0)
	for rows.Next() {
		var a permit.Authorization
		if err := rows.Scan(&a.RoleID, &a.PermissionCode, &a.MenuID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresGrantStore) FindRole(ctx context.Context, roleID int64) (*permit.Role, error) {
	var r permit.Role
	err := s.pool.QueryRow(ctx, `SELECT id, code, name, level, is_system, active FROM roles
WHERE id = $1 AND deleted_at IS NULL`, roleID).Scan(&r.ID, &r.Code, &r.Name, &r.Level, &r.IsSystem, &r.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("role %d: %w", roleID, permit.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresGrantStore) FindMenu(ctx context.Context, menuID int64) (*permit.Menu, error) {
	var m permit.Menu
	err := s.pool.QueryRow(ctx, `SELECT id, parent_id, visible, active FROM menus WHERE id = $1`, menuID).
		Scan(&m.ID, &m.ParentID, &m.Visible, &m.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("menu %d: %w", menuID, permit.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresGrantStore) PutRole(ctx context.Context, r permit.Role) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO roles (id, code, name, level, is_system, active) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, name = EXCLUDED.name, level = EXCLUDED.level,
is_system = EXCLUDED.is_system, active = EXCLUDED.active, deleted_at = NULL`,
		r.ID, r.Code, r.Name, r.Level, r.IsSystem, r.Active)
	return err
}

func (s *PostgresGrantStore) PutPermission(ctx context.Context, p permit.Permission) error {
	code, err := permit.CanonicalPermissionCode(p.Code)
	if err != nil {
		return err
	}
	p.Code = code
	_, err = s.pool.Exec(ctx, `INSERT INTO permissions (id, code, grp, active) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, grp = EXCLUDED.grp, active = EXCLUDED.active`,
		p.ID, p.Code, p.Group, p.Active)
	return err
}

func (s *PostgresGrantStore) PutMenu(ctx context.Context, m permit.Menu) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO menus (id, parent_id, visible, active) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET parent_id = EXCLUDED.parent_id, visible = EXCLUDED.visible, active = EXCLUDED.active`,
		m.ID, m.ParentID, m.Visible, m.Active)
	return err
}

func (s *PostgresGrantStore) PutAccess(ctx context.Context, a permit.Access) error {
	status := a.Status
	if status == "" {
		status = permit.AccessActive
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO accesses (user_id, role_id, status) VALUES ($1, $2, $3)
ON CONFLICT (user_id, role_id) DO UPDATE SET status = EXCLUDED.status, deleted_at = NULL`,
		a.UserID, a.RoleID, string(status))
	return err
}

func (s *PostgresGrantStore) PutAuthorization(ctx context.Context, a permit.Authorization) error {
	code, err := permit.CanonicalPermissionCode(a.PermissionCode)
	if err != nil {
		return err
	}
	a.PermissionCode = code
	tag, err := s.pool.Exec(ctx, `INSERT INTO authorizations (role_id, permission_id, menu_id)
SELECT $1, id, $2 FROM permissions WHERE code = $3
ON CONFLICT (role_id, permission_id, menu_id) DO UPDATE SET deleted_at = NULL`,
		a.RoleID, a.MenuID, a.PermissionCode)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("permission %s: %w", a.PermissionCode, permit.ErrNotFound)
	}
	return nil
}

func (s *PostgresGrantStore) RevokeAccess(ctx context.Context, principalID, roleID int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE accesses SET deleted_at = NOW()
WHERE user_id = $1 AND role_id = $2 AND deleted_at IS NULL`, principalID, roleID)
	return err
}

var (
	_ permit.GrantStore  = (*PostgresGrantStore)(nil)
	_ permit.GrantWriter = (*PostgresGrantStore)(nil)
)
