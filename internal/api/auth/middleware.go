package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// ContextKey represents keys for context values
type ContextKey string

const (
	// Context keys
	UserContextKey       ContextKey = "user_id"
	PermissionContextKey ContextKey = "permission_context"
)

// AuthMiddleware holds the dependencies for auth middleware
type AuthMiddleware struct {
	tokenService *TokenService
	resolver     *PermissionResolver
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(tokenService *TokenService, resolver *PermissionResolver) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
		resolver:     resolver,
	}
}

// RequireAuth middleware validates that a valid JWT token is present
func (am *AuthMiddleware) RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			claims, err := am.tokenService.ValidateAccessToken(tokenParts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			c.Set(string(UserContextKey), claims.Subject)
			return next(c)
		}
	}
}

// BuildPermissionContext resolves the caller's permissions. Must run after RequireAuth.
func (am *AuthMiddleware) BuildPermissionContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, _ := c.Get(string(UserContextKey)).(string)
			if userID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "user not found in context")
			}

			perms, err := am.resolver.Resolve(c.Request().Context(), userID)
			if err != nil {
				log.Error().Err(err).Str("user_id", userID).Msg("failed to resolve permissions")
				return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve permissions")
			}

			c.Set(string(PermissionContextKey), &PermissionContext{UserID: userID, Permissions: perms})
			return next(c)
		}
	}
}

// RequirePermission passes when the caller holds any of the listed permissions
func RequirePermission(required ...Permission) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			pc := GetPermissionContext(c)
			if pc == nil {
				return echo.NewHTTPError(http.StatusForbidden, "permission context not found")
			}
			if err := pc.RequirePermission(required...); err != nil {
				return echo.NewHTTPError(http.StatusForbidden, "You do not have permission to perform this action")
			}
			return next(c)
		}
	}
}

// GetPermissionContext returns the permission context, or nil when the middleware did not run
func GetPermissionContext(c echo.Context) *PermissionContext {
	pc, _ := c.Get(string(PermissionContextKey)).(*PermissionContext)
	return pc
}

// CallerID returns the authenticated user id, or "" when unauthenticated
func CallerID(c echo.Context) string {
	if pc := GetPermissionContext(c); pc != nil {
		return pc.UserID
	}
	id, _ := c.Get(string(UserContextKey)).(string)
	return id
}
