package permission

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	"github.com/bentbr/r_data_core_go/pkg/logger"
)

// SchemeStore is the source of truth the cache falls through to on a
// miss.
type SchemeStore interface {
	GetScheme(ctx context.Context, uuid string) (*entities.PermissionScheme, error)
	SchemesForUser(ctx context.Context, userUUID string) ([]*entities.PermissionScheme, error)
	SchemesForAPIKey(ctx context.Context, apiKeyUUID string) ([]*entities.PermissionScheme, error)
}

// redisClient is the subset of *redis.Client the cache needs, kept
// narrow so the cache can be exercised against a fake in tests.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
}

// Cache is the PermissionCache: a Redis-backed, TTL'd
// cache keyed by scheme/user_schemes/apikey_schemes/merged, with a
// reverse index (scheme -> principals) maintained explicitly so
// invalidation on a scheme write is an O(P) fan-out rather than a
// cache-wide sweep ( design note).
type Cache struct {
	redis  redisClient
	store  SchemeStore
	ttl    time.Duration
	log    *logger.Logger
}

func NewCache(redis redisClient, store SchemeStore, ttl time.Duration, log *logger.Logger) *Cache {
	return &Cache{redis: redis, store: store, ttl: ttl, log: log}
}

func schemeKey(uuid string) string       { return "scheme:" + uuid }
func userSchemesKey(uuid string) string  { return "user_schemes:" + uuid }
func apiKeySchemesKey(uuid string) string { return "apikey_schemes:" + uuid }
func mergedKey(principalUUID, role string) string {
	return "merged:" + principalUUID + ":" + role
}
func reverseIndexKey(schemeUUID string) string { return "scheme_principals:" + schemeUUID }

// GetScheme returns a scheme, reading through the cache.
func (c *Cache) GetScheme(ctx context.Context, uuid string) (*entities.PermissionScheme, error) {
	var scheme entities.PermissionScheme
	if c.readJSON(ctx, schemeKey(uuid), &scheme) {
		return &scheme, nil
	}

	fresh, err := c.store.GetScheme(ctx, uuid)
	if err != nil {
		return nil, err
	}
	c.writeJSON(ctx, schemeKey(uuid), fresh)
	return fresh, nil
}

// SchemesForUser returns the schemes assigned to a user, reading
// through the cache and recording the user in each scheme's reverse
// index so a later scheme mutation can find it.
func (c *Cache) SchemesForUser(ctx context.Context, userUUID string) ([]*entities.PermissionScheme, error) {
	var schemes []*entities.PermissionScheme
	if c.readJSON(ctx, userSchemesKey(userUUID), &schemes) {
		return schemes, nil
	}

	fresh, err := c.store.SchemesForUser(ctx, userUUID)
	if err != nil {
		return nil, err
	}
	c.writeJSON(ctx, userSchemesKey(userUUID), fresh)
	c.indexPrincipal(ctx, fresh, principalRef{kind: "user", uuid: userUUID})
	return fresh, nil
}

// SchemesForAPIKey mirrors SchemesForUser for API-key principals.
func (c *Cache) SchemesForAPIKey(ctx context.Context, apiKeyUUID string) ([]*entities.PermissionScheme, error) {
	var schemes []*entities.PermissionScheme
	if c.readJSON(ctx, apiKeySchemesKey(apiKeyUUID), &schemes) {
		return schemes, nil
	}

	fresh, err := c.store.SchemesForAPIKey(ctx, apiKeyUUID)
	if err != nil {
		return nil, err
	}
	c.writeJSON(ctx, apiKeySchemesKey(apiKeyUUID), fresh)
	c.indexPrincipal(ctx, fresh, principalRef{kind: "apikey", uuid: apiKeyUUID})
	return fresh, nil
}

// MergedPermissions implements SchemeSource for the Evaluator: the
// union, across every scheme assigned to the principal, of the
// permissions listed for the principal's role name.
func (c *Cache) MergedPermissions(ctx context.Context, principal entities.Principal) ([]entities.Permission, error) {
	role := principal.EffectiveRoleName()
	key := mergedKey(principal.UUID(), role)

	var merged []entities.Permission
	if c.readJSON(ctx, key, &merged) {
		return merged, nil
	}

	var schemes []*entities.PermissionScheme
	var err error
	if principal.Key != nil {
		schemes, err = c.SchemesForAPIKey(ctx, principal.UUID())
	} else {
		schemes, err = c.SchemesForUser(ctx, principal.UUID())
	}
	if err != nil {
		return nil, err
	}

	merged = mergePermissions(schemes, role)
	c.writeJSON(ctx, key, merged)
	return merged, nil
}

func mergePermissions(schemes []*entities.PermissionScheme, role string) []entities.Permission {
	var merged []entities.Permission
	for _, s := range schemes {
		merged = append(merged, s.Roles[role]...)
	}
	return merged
}

type principalRef struct {
	kind string // "user" or "apikey"
	uuid string
}

func (p principalRef) encode() string { return p.kind + ":" + p.uuid }

func decodePrincipalRef(s string) principalRef {
	for i := range s {
		if s[i] == ':' {
			return principalRef{kind: s[:i], uuid: s[i+1:]}
		}
	}
	return principalRef{}
}

func (c *Cache) indexPrincipal(ctx context.Context, schemes []*entities.PermissionScheme, ref principalRef) {
	for _, s := range schemes {
		c.redis.SAdd(ctx, reverseIndexKey(s.UUID), ref.encode())
	}
}

// InvalidateScheme implements the fan-out: invalidate the
// scheme key, every user_schemes/apikey_schemes key containing it
// (found via the reverse index), and every merged key those principals
// reference (one per role the scheme defines, since we don't track
// which role each principal resolves under).
func (c *Cache) InvalidateScheme(ctx context.Context, schemeUUID string) {
	c.del(ctx, schemeKey(schemeUUID))

	refsKey := reverseIndexKey(schemeUUID)
	members, err := c.redis.SMembers(ctx, refsKey).Result()
	if err != nil {
		c.log.Warn("permission cache: reverse index read failed, invalidation may be incomplete", "scheme", schemeUUID, "error", err)
		return
	}

	scheme, _ := c.store.GetScheme(ctx, schemeUUID)

	for _, m := range members {
		ref := decodePrincipalRef(m)
		switch ref.kind {
		case "user":
			c.del(ctx, userSchemesKey(ref.uuid))
		case "apikey":
			c.del(ctx, apiKeySchemesKey(ref.uuid))
		}
		if scheme != nil {
			for role := range scheme.Roles {
				c.del(ctx, mergedKey(ref.uuid, role))
			}
		} else {
			// Scheme was deleted; we don't know its roles anymore, so
			// conservatively drop nothing further here — the per-role
			// merged keys will simply expire via TTL.
			c.log.Warn("permission cache: scheme gone during invalidation, relying on TTL for merged keys", "scheme", schemeUUID, "principal", ref.uuid)
		}
	}
}

// InvalidateSchemeDeleted invalidates everything InvalidateScheme does
// plus removes the reverse index itself (: "deleting a scheme
// invalidates the same set plus removes dangling assignments").
func (c *Cache) InvalidateSchemeDeleted(ctx context.Context, schemeUUID string, roles map[string][]entities.Permission) {
	c.del(ctx, schemeKey(schemeUUID))

	refsKey := reverseIndexKey(schemeUUID)
	members, _ := c.redis.SMembers(ctx, refsKey).Result()
	for _, m := range members {
		ref := decodePrincipalRef(m)
		switch ref.kind {
		case "user":
			c.del(ctx, userSchemesKey(ref.uuid))
		case "apikey":
			c.del(ctx, apiKeySchemesKey(ref.uuid))
		}
		for role := range roles {
			c.del(ctx, mergedKey(ref.uuid, role))
		}
	}
	c.del(ctx, refsKey)
}

// InvalidatePrincipal invalidates a single principal's three keys
// (: assigning/unassigning a scheme to a principal).
func (c *Cache) InvalidatePrincipal(ctx context.Context, ref principalRef, roleNames ...string) {
	switch ref.kind {
	case "user":
		c.del(ctx, userSchemesKey(ref.uuid))
	case "apikey":
		c.del(ctx, apiKeySchemesKey(ref.uuid))
	}
	for _, role := range roleNames {
		c.del(ctx, mergedKey(ref.uuid, role))
	}
}

// InvalidateUser is a convenience wrapper over InvalidatePrincipal.
func (c *Cache) InvalidateUser(ctx context.Context, userUUID string, roleNames ...string) {
	c.InvalidatePrincipal(ctx, principalRef{kind: "user", uuid: userUUID}, roleNames...)
}

// InvalidateAPIKey is a convenience wrapper over InvalidatePrincipal.
func (c *Cache) InvalidateAPIKey(ctx context.Context, apiKeyUUID string, roleNames ...string) {
	c.InvalidatePrincipal(ctx, principalRef{kind: "apikey", uuid: apiKeyUUID}, roleNames...)
}

// readJSON is a cache read that treats both a miss and a
// deserialization failure as "not cached" (: a
// deserialization failure must never poison subsequent reads).
func (c *Cache) readJSON(ctx context.Context, key string, dest interface{}) bool {
	raw, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		c.log.Warn("permission cache: corrupt entry treated as miss", "key", key, "error", err)
		return false
	}
	return true
}

func (c *Cache) writeJSON(ctx context.Context, key string, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("permission cache: failed to marshal cache entry, skipping write", "key", key, "error", err)
		return
	}
	if err := c.redis.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("permission cache: write failed, will retry next access", "key", key, "error", err)
	}
}

func (c *Cache) del(ctx context.Context, keys ...string) {
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("permission cache: invalidation delete failed", "keys", keys, "error", err)
	}
}
