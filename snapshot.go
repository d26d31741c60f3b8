package permit

import (
	"sort"
	"time"
)

// Snapshot is a principal's resolved authorization state. Snapshots are built
// once by the Resolver and never mutated afterwards; the cache replaces them
// wholesale.
type Snapshot struct {
	Permissions map[string]struct{} `json:"permissions"`
	Roles       []Role              `json:"roles"`
	Menus       map[int64]struct{}  `json:"menus"`
	CachedAt    time.Time           `json:"cached_at"`
	ExpiresAt   time.Time           `json:"expires_at"`
}

// NewSnapshot builds a snapshot, ordering roles by level descending then
// code ascending so the ranking never depends on store order.
func NewSnapshot(permissions []string, roles []Role, menus []int64) *Snapshot {
	s := &Snapshot{
		Permissions: make(map[string]struct{}, len(permissions)),
		Roles:       make([]Role, len(roles)),
		Menus:       make(map[int64]struct{}, len(menus)),
	}
	for _, p := range permissions {
		s.Permissions[p] = struct{}{}
	}
	copy(s.Roles, roles)
	sortRoles(s.Roles)
	for _, m := range menus {
		s.Menus[m] = struct{}{}
	}
	return s
}

// Stamp returns a shallow copy carrying cache times. The sets are shared,
// which is safe because snapshots are read-only.
func (s *Snapshot) Stamp(cachedAt time.Time, ttl time.Duration) *Snapshot {
	dup := *s
	dup.CachedAt = cachedAt
	dup.ExpiresAt = cachedAt.Add(ttl)
	return &dup
}

// Expired reports whether the snapshot is past its expiry at now.
func (s *Snapshot) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

func (s *Snapshot) HasPermission(code string) bool {
	_, ok := s.Permissions[code]
	return ok
}

func (s *Snapshot) HasRole(code string) bool {
	for _, r := range s.Roles {
		if r.Code == code {
			return true
		}
	}
	return false
}

func (s *Snapshot) HasMenu(id int64) bool {
	_, ok := s.Menus[id]
	return ok
}

// HighestRole returns the first role of the ranking.
func (s *Snapshot) HighestRole() (Role, bool) {
	if len(s.Roles) == 0 {
		return Role{}, false
	}
	return s.Roles[0], true
}

// PermissionList returns the permission codes sorted.
func (s *Snapshot) PermissionList() []string {
	out := make([]string, 0, len(s.Permissions))
	for p := range s.Permissions {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// MenuList returns the visible menu ids sorted.
func (s *Snapshot) MenuList() []int64 {
	out := make([]int64, 0, len(s.Menus))
	for m := range s.Menus {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortRoles(roles []Role) {
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].Level != roles[j].Level {
			return roles[i].Level > roles[j].Level
		}
		return roles[i].Code < roles[j].Code
	})
}
