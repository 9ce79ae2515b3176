// Package rbac provides role-based access control checks.
package rbac

import "github.com/mhaas-dev/chatline/pkg/model"

// permissionMatrix maps roles to their allowed permissions.
var permissionMatrix = map[model.Role]map[model.Permission]bool{
	model.RoleAdmin: {
		model.PermKickUser: true,
		model.PermBanUser:  true,
		model.PermMuteUser: true,
	},
	model.RoleUser: {
		// No special permissions: can chat, manage rooms, and send PMs
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role model.Role, perm model.Permission) bool {
	perms, ok := permissionMatrix[role]
	if !ok {
		return false
	}
	return perms[perm]
}

// RequirePermission returns an error message if the role lacks the permission, or empty string if allowed.
func RequirePermission(role model.Role, perm model.Permission) string {
	if HasPermission(role, perm) {
		return ""
	}
	return "permission denied: " + permName(perm) + " requires admin role"
}

func permName(p model.Permission) string {
	switch p {
	case model.PermKickUser:
		return "kick_user"
	case model.PermBanUser:
		return "ban_user"
	case model.PermMuteUser:
		return "mute_user"
	default:
		return "unknown"
	}
}
