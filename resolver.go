package permit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/oarkflow/permit/logger"
)

const defaultLookupConcurrency = 8

// Resolver computes a principal's snapshot from the grant store: effective
// permissions, active roles and visible menus, all in one fan-out.
type Resolver struct {
	store       GrantStore
	logger      logger.Logger
	concurrency int
}

// NewResolver builds a Resolver over store.
func NewResolver(store GrantStore, log logger.Logger) *Resolver {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Resolver{store: store, logger: log, concurrency: defaultLookupConcurrency}
}

type roleGrants struct {
	role  *Role
	auths []Authorization
}

// Resolve builds the snapshot for principalID. Any lookup error fails the
// whole resolution; a role or menu that no longer exists only drops the
// edges that reference it.
func (r *Resolver) Resolve(ctx context.Context, principalID int64) (*Snapshot, error) {
	if principalID <= 0 {
		return nil, ErrInvalidPrincipal
	}
	accesses, err := r.store.FindActiveAccessesByUser(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("find accesses for principal %d: %w", principalID, err)
	}

	roleIDs := make([]int64, 0, len(accesses))
	seen := make(map[int64]struct{}, len(accesses))
	for _, a := range accesses {
		if a.Status != AccessActive || a.RoleID <= 0 {
			continue
		}
		if _, ok := seen[a.RoleID]; ok {
			continue
		}
		seen[a.RoleID] = struct{}{}
		roleIDs = append(roleIDs, a.RoleID)
	}

	grants := make([]roleGrants, len(roleIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, roleID := range roleIDs {
		g.Go(func() error {
			role, err := r.store.FindRole(gctx, roleID)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("find role %d: %w", roleID, err)
			}
			if role == nil || !role.Active {
				return nil
			}
			auths, err := r.store.FindActiveAuthorizationsByRole(gctx, roleID)
			if err != nil {
				return fmt.Errorf("find authorizations for role %d: %w", roleID, err)
			}
			grants[i] = roleGrants{role: role, auths: auths}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	menus, err := r.lookupMenus(ctx, grants)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	permissions := make([]string, 0, 16)
	roles := make([]Role, 0, len(grants))
	visible := make([]int64, 0, len(menus))
	for _, rg := range grants {
		if rg.role == nil {
			continue
		}
		roles = append(roles, *rg.role)
		for _, a := range rg.auths {
			code := normalizeCode(a.PermissionCode)
			if err := ValidatePermissionCode(code); err != nil {
				r.logger.Warn("skipping malformed permission grant", "role_id", rg.role.ID, "code", a.PermissionCode)
				continue
			}
			if a.MenuID != 0 {
				m, ok := menus[a.MenuID]
				if !ok || !m.Active {
					continue
				}
				if m.Visible {
					visible = append(visible, m.ID)
				}
			}
			permissions = append(permissions, code)
		}
	}
	return NewSnapshot(permissions, roles, visible), nil
}

func (r *Resolver) lookupMenus(ctx context.Context, grants []roleGrants) (map[int64]*Menu, error) {
	ids := make(map[int64]struct{})
	for _, rg := range grants {
		for _, a := range rg.auths {
			if a.MenuID > 0 {
				ids[a.MenuID] = struct{}{}
			}
		}
	}
	menus := make(map[int64]*Menu, len(ids))
	if len(ids) == 0 {
		return menus, nil
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for id := range ids {
		g.Go(func() error {
			m, err := r.store.FindMenu(gctx, id)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("find menu %d: %w", id, err)
			}
			if m == nil {
				return nil
			}
			mu.Lock()
			menus[id] = m
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return menus, nil
}
