package auth

import "slices"

// PermissionContext holds the caller identity and granted permissions for a request.
// This is built by middleware and passed to handlers
type PermissionContext struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}

// Permission represents a specific permission name
type Permission string

const (
	// Messaging permissions
	PermissionMessageInitiate Permission = "message.initiate"
	PermissionMessageSend     Permission = "message.send"
	PermissionMessageRead     Permission = "message.read"
	PermissionMessageDelete   Permission = "message.delete"
)

// GetUserID returns the caller id
func (pc *PermissionContext) GetUserID() string {
	if pc == nil {
		return ""
	}
	return pc.UserID
}

// HasPermission checks if the caller was granted a specific permission
func (pc *PermissionContext) HasPermission(permission Permission) bool {
	if pc == nil || pc.UserID == "" {
		return false
	}
	return slices.Contains(pc.Permissions, string(permission))
}

// HasAnyPermission passes when at least one of the required permissions is granted.
// An empty requirement always passes for an identified caller.
func (pc *PermissionContext) HasAnyPermission(required ...Permission) bool {
	if pc == nil || pc.UserID == "" {
		return false
	}
	if len(required) == 0 {
		return true
	}
	for _, p := range required {
		if pc.HasPermission(p) {
			return true
		}
	}
	return false
}

// RequirePermission checks if user has any of the permissions and returns error if not
func (pc *PermissionContext) RequirePermission(required ...Permission) error {
	if !pc.HasAnyPermission(required...) {
		return ErrInsufficientPermissions
	}
	return nil
}
