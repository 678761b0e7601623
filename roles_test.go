package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	auth "github.com/goliatone/go-taskauth"
)

func TestCapabilityTable(t *testing.T) {
	tests := []struct {
		role       auth.UserRole
		capability auth.Capability
		want       bool
	}{
		{auth.RoleAdmin, auth.CapabilityManageUsers, true},
		{auth.RoleAdmin, auth.CapabilityManageTasks, true},
		{auth.RoleAdmin, auth.CapabilityViewTasks, true},
		{auth.RoleOwner, auth.CapabilityManageUsers, true},
		{auth.RoleOwner, auth.CapabilityManageTasks, true},
		{auth.RoleOwner, auth.CapabilityViewTasks, true},
		{auth.RoleViewer, auth.CapabilityManageUsers, false},
		{auth.RoleViewer, auth.CapabilityManageTasks, true},
		{auth.RoleViewer, auth.CapabilityViewTasks, true},
		{auth.UserRole("guest"), auth.CapabilityViewTasks, false},
		{auth.RoleOwner, auth.Capability("delete-everything"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.capability), func(t *testing.T) {
			assert.Equal(t, tt.want, auth.Can(tt.role, tt.capability))
			assert.Equal(t, tt.want, tt.role.Can(tt.capability))
		})
	}
}

func TestCapabilitiesOf(t *testing.T) {
	assert.Equal(t, auth.GetAllCapabilities(), auth.CapabilitiesOf(auth.RoleOwner))
	assert.Equal(t, []auth.Capability{auth.CapabilityManageTasks, auth.CapabilityViewTasks}, auth.CapabilitiesOf(auth.RoleViewer))
	assert.Empty(t, auth.CapabilitiesOf(auth.UserRole("guest")))
}

func TestRoleHierarchy(t *testing.T) {
	assert.True(t, auth.RoleAdmin.IsAtLeast(auth.RoleOwner))
	assert.True(t, auth.RoleOwner.IsAtLeast(auth.RoleOwner))
	assert.False(t, auth.RoleViewer.IsAtLeast(auth.RoleOwner))
	assert.False(t, auth.UserRole("guest").IsAtLeast(auth.RoleViewer))
	assert.False(t, auth.RoleAdmin.IsAtLeast(auth.UserRole("root")))
	assert.Equal(t, []auth.UserRole{auth.RoleViewer, auth.RoleOwner, auth.RoleAdmin}, auth.GetAllRoles())
}

func TestParseRole(t *testing.T) {
	role, ok := auth.ParseRole(" OWNER ")
	assert.True(t, ok)
	assert.Equal(t, auth.RoleOwner, role)

	_, ok = auth.ParseRole("superuser")
	assert.False(t, ok)
}
