package stores

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/permit"
)

// Grants is a store that can both serve and record grants.
type Grants interface {
	permit.GrantStore
	permit.GrantWriter
}

// RedisAccessStore keeps principal memberships in Redis hashes
// (key: <prefix>access:<principal>, field: role id, value: status) and
// delegates roles, permissions, menus and grants to base.
type RedisAccessStore struct {
	Grants
	client redis.UniversalClient
	prefix string
}

func NewRedisAccessStore(client redis.UniversalClient, prefix string, base Grants) *RedisAccessStore {
	return &RedisAccessStore{Grants: base, client: client, prefix: prefix}
}

func (r *RedisAccessStore) key(principalID int64) string {
	return fmt.Sprintf("%saccess:%d", r.prefix, principalID)
}

func (r *RedisAccessStore) FindActiveAccessesByUser(ctx context.Context, principalID int64) ([]permit.Access, error) {
	res, err := r.client.HGetAll(ctx, r.key(principalID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read accesses of %d: %w", principalID, err)
	}
	out := make([]permit.Access, 0, len(res))
	for field, status := range res {
		roleID, err := strconv.ParseInt(field, 10, 64)
		if err != nil || permit.AccessStatus(status) != permit.AccessActive {
			continue
		}
		out = append(out, permit.Access{UserID: principalID, RoleID: roleID, Status: permit.AccessActive})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

func (r *RedisAccessStore) PutAccess(ctx context.Context, a permit.Access) error {
	status := a.Status
	if status == "" {
		status = permit.AccessActive
	}
	if !status.Valid() {
		return fmt.Errorf("access %d->%d: invalid status %q", a.UserID, a.RoleID, status)
	}
	return r.client.HSet(ctx, r.key(a.UserID), strconv.FormatInt(a.RoleID, 10), string(status)).Err()
}

func (r *RedisAccessStore) RevokeAccess(ctx context.Context, principalID, roleID int64) error {
	return r.client.HDel(ctx, r.key(principalID), strconv.FormatInt(roleID, 10)).Err()
}

var (
	_ permit.GrantStore  = (*RedisAccessStore)(nil)
	_ permit.GrantWriter = (*RedisAccessStore)(nil)
)
