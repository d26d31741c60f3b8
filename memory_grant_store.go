package permit

import (
	"context"
	"sort"
	"sync"
)

// MemoryGrantStore is an in-process GrantStore and GrantWriter for tests,
// demos and config-seeded deployments.
type MemoryGrantStore struct {
	mu             sync.RWMutex
	roles          map[int64]Role
	permissions    map[string]Permission
	menus          map[int64]Menu
	accesses       map[int64]map[int64]AccessStatus // user -> role -> status
	authorizations map[int64][]Authorization        // role -> grants
}

func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{
		roles:          make(map[int64]Role),
		permissions:    make(map[string]Permission),
		menus:          make(map[int64]Menu),
		accesses:       make(map[int64]map[int64]AccessStatus),
		authorizations: make(map[int64][]Authorization),
	}
}

func (s *MemoryGrantStore) FindActiveAccessesByUser(ctx context.Context, principalID int64) ([]Access, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Access, 0, len(s.accesses[principalID]))
	for roleID, status := range s.accesses[principalID] {
		if status == AccessActive {
			result = append(result, Access{UserID: principalID, RoleID: roleID, Status: status})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RoleID < result[j].RoleID })
	return result, nil
}

func (s *MemoryGrantStore) FindActiveAuthorizationsByRole(ctx context.Context, roleID int64) ([]Authorization, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.roles[roleID]; !ok || !r.Active {
		return []Authorization{}, nil
	}
	result := make([]Authorization, 0, len(s.authorizations[roleID]))
	for _, a := range s.authorizations[roleID] {
		if p, ok := s.permissions[a.PermissionCode]; ok && p.Active {
			result = append(result, a)
		}
	}
	return result, nil
}

func (s *MemoryGrantStore) FindRole(ctx context.Context, roleID int64) (*Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[roleID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryGrantStore) FindMenu(ctx context.Context, menuID int64) (*Menu, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.menus[menuID]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *MemoryGrantStore) PutRole(_ context.Context, r Role) error {
	s.mu.Lock()
	s.roles[r.ID] = r
	s.mu.Unlock()
	return nil
}

func (s *MemoryGrantStore) PutPermission(_ context.Context, p Permission) error {
	code, err := CanonicalPermissionCode(p.Code)
	if err != nil {
		return err
	}
	p.Code = code
	s.mu.Lock()
	s.permissions[p.Code] = p
	s.mu.Unlock()
	return nil
}

func (s *MemoryGrantStore) PutMenu(_ context.Context, m Menu) error {
	s.mu.Lock()
	s.menus[m.ID] = m
	s.mu.Unlock()
	return nil
}

func (s *MemoryGrantStore) PutAccess(_ context.Context, a Access) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accesses[a.UserID] == nil {
		s.accesses[a.UserID] = make(map[int64]AccessStatus)
	}
	if a.Status == "" {
		a.Status = AccessActive
	}
	s.accesses[a.UserID][a.RoleID] = a.Status
	return nil
}

// PutAuthorization adds the grant unless an identical one exists.
func (s *MemoryGrantStore) PutAuthorization(_ context.Context, a Authorization) error {
	code, err := CanonicalPermissionCode(a.PermissionCode)
	if err != nil {
		return err
	}
	a.PermissionCode = code
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.authorizations[a.RoleID] {
		if cur == a {
			return nil
		}
	}
	s.authorizations[a.RoleID] = append(s.authorizations[a.RoleID], a)
	return nil
}

// DeleteRole removes the role. Accesses and grants that reference it stay
// and are ignored at resolution.
func (s *MemoryGrantStore) DeleteRole(_ context.Context, roleID int64) error {
	s.mu.Lock()
	delete(s.roles, roleID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryGrantStore) DeleteMenu(_ context.Context, menuID int64) error {
	s.mu.Lock()
	delete(s.menus, menuID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryGrantStore) RevokeAccess(_ context.Context, principalID, roleID int64) error {
	s.mu.Lock()
	delete(s.accesses[principalID], roleID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryGrantStore) RevokeAuthorization(_ context.Context, a Authorization) error {
	a.PermissionCode = normalizeCode(a.PermissionCode)
	s.mu.Lock()
	defer s.mu.Unlock()
	grants := s.authorizations[a.RoleID]
	for i, cur := range grants {
		if cur == a {
			s.authorizations[a.RoleID] = append(grants[:i:i], grants[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// GrantStats counts the rows of a grant store.
type GrantStats struct {
	Roles          int `json:"roles"`
	Permissions    int `json:"permissions"`
	Menus          int `json:"menus"`
	Principals     int `json:"principals"`
	Authorizations int `json:"authorizations"`
}

func (s *MemoryGrantStore) Stats() GrantStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := GrantStats{
		Roles:       len(s.roles),
		Permissions: len(s.permissions),
		Menus:       len(s.menus),
		Principals:  len(s.accesses),
	}
	for _, grants := range s.authorizations {
		st.Authorizations += len(grants)
	}
	return st
}
