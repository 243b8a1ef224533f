package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/teamdesk/internal/cache"
)

// Common auth errors
var (
	ErrInvalidToken            = errors.New("invalid or expired token")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrTokenExpired            = errors.New("token has expired")
)

// DefaultPermissionTTL is how long resolved permissions stay cached
const DefaultPermissionTTL = 60 * time.Second

// PermissionSource loads the distinct permission names granted to a user
type PermissionSource interface {
	UserPermissions(ctx context.Context, userID string) ([]string, error)
}

// SQLPermissionSource resolves permissions through user_roles -> role_permissions -> permissions
type SQLPermissionSource struct {
	db *sql.DB
}

func NewSQLPermissionSource(db *sql.DB) *SQLPermissionSource {
	return &SQLPermissionSource{db: db}
}

func (s *SQLPermissionSource) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT p.name
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		ORDER BY p.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	perms := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, name)
	}
	return perms, rows.Err()
}

// PermissionResolver fronts a PermissionSource with a cache
type PermissionResolver struct {
	source PermissionSource
	cache  cache.Cache
	ttl    time.Duration
}

// NewPermissionResolver builds a resolver. A nil cache disables caching;
// a ttl <= 0 uses DefaultPermissionTTL.
func NewPermissionResolver(source PermissionSource, c cache.Cache, ttl time.Duration) *PermissionResolver {
	if ttl <= 0 {
		ttl = DefaultPermissionTTL
	}
	return &PermissionResolver{source: source, cache: c, ttl: ttl}
}

func permissionCacheKey(userID string) string {
	return "user:permissions:" + userID
}

// Resolve returns the permissions of userID, served from cache when present
func (r *PermissionResolver) Resolve(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, nil
	}
	if r.cache == nil {
		return r.source.UserPermissions(ctx, userID)
	}
	return cache.GetOrSetJSON(ctx, r.cache, permissionCacheKey(userID), r.ttl, func(ctx context.Context) ([]string, error) {
		return r.source.UserPermissions(ctx, userID)
	})
}

// Invalidate drops the cached permissions of a user after a role change
func (r *PermissionResolver) Invalidate(ctx context.Context, userID string) error {
	if r.cache == nil {
		return nil
	}
	_, err := r.cache.Del(ctx, permissionCacheKey(userID))
	return err
}
