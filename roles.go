package auth

import "strings"

// UserRole is the user's role
type UserRole string

const (
	// RoleViewer can view and work on tasks
	RoleViewer UserRole = "viewer"
	// RoleOwner owns an organization (i.e. tasks and users)
	RoleOwner UserRole = "owner"
	// RoleAdmin administers the system
	RoleAdmin UserRole = "admin"
)

// Capability names a protected operation
type Capability string

const (
	CapabilityManageUsers Capability = "manage-users"
	CapabilityManageTasks Capability = "manage-tasks"
	CapabilityViewTasks   Capability = "view-tasks"
)

// capabilityTable is the single source of truth for authorization.
var capabilityTable = map[UserRole]map[Capability]bool{
	RoleAdmin: {
		CapabilityManageUsers: true,
		CapabilityManageTasks: true,
		CapabilityViewTasks:   true,
	},
	RoleOwner: {
		CapabilityManageUsers: true,
		CapabilityManageTasks: true,
		CapabilityViewTasks:   true,
	},
	RoleViewer: {
		CapabilityManageUsers: false,
		CapabilityManageTasks: true,
		CapabilityViewTasks:   true,
	},
}

var roleHierarchy = map[UserRole]int{
	RoleViewer: 0,
	RoleOwner:  1,
	RoleAdmin:  2,
}

// IsValid checks if the role is one of the predefined valid roles
func (r UserRole) IsValid() bool {
	_, ok := capabilityTable[r]
	return ok
}

// Can reports whether the role grants the capability
func (r UserRole) Can(capability Capability) bool {
	return capabilityTable[r][capability]
}

// IsAtLeast checks if this role meets the minimum required level
func (r UserRole) IsAtLeast(minRole UserRole) bool {
	currentLevel, exists := roleHierarchy[r]
	if !exists {
		return false
	}

	minLevel, exists := roleHierarchy[minRole]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

func (r UserRole) String() string {
	return string(r)
}

// CapabilitiesOf returns the capabilities granted to role, in a stable
// order. Unknown roles have none.
func CapabilitiesOf(role UserRole) []Capability {
	out := make([]Capability, 0, len(capabilityTable[role]))
	for _, c := range GetAllCapabilities() {
		if capabilityTable[role][c] {
			out = append(out, c)
		}
	}
	return out
}

// Can reports whether role grants capability
func Can(role UserRole, capability Capability) bool {
	return role.Can(capability)
}

// GetAllRoles returns all predefined roles in hierarchical order
func GetAllRoles() []UserRole {
	return []UserRole{
		RoleViewer,
		RoleOwner,
		RoleAdmin,
	}
}

// GetAllCapabilities returns every known capability
func GetAllCapabilities() []Capability {
	return []Capability{
		CapabilityManageUsers,
		CapabilityManageTasks,
		CapabilityViewTasks,
	}
}

// ParseRole safely parses a string into a UserRole type.
// Matching is case insensitive so "VIEWER" is accepted.
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(strings.ToLower(strings.TrimSpace(roleStr)))
	return role, role.IsValid()
}
