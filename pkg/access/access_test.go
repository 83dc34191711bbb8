package access

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPermissionTable(t *testing.T) {
	authz, err := NewEnforcer()
	require.NoError(t, err)

	cases := []struct {
		role    Role
		action  Action
		allowed bool
	}{
		{RoleService, PointsAward, true},
		{RoleService, PointsRedeem, true},
		{RoleService, PointsAdjust, false},
		{RoleService, PointsConfigWrite, false},
		{RoleStaff, PointsRead, true},
		{RoleStaff, PointsExport, true},
		{RoleStaff, PointsAward, false},
		{RoleSupport, PointsAdjust, true},
		{RoleSupport, PointsRead, true},
		{RoleSupport, PointsConfigWrite, false},
		{RoleAdmin, PointsConfigWrite, true},
		{RoleAdmin, PointsAdjust, true},
		{RoleAdmin, PointsExport, true},
		{Role("guest"), PointsRead, false},
	}

	for _, tc := range cases {
		require.Equal(t, tc.allowed, authz.Allowed(tc.role, tc.action), "%s %s", tc.role, tc.action)
	}
}

func TestRoleValid(t *testing.T) {
	require.True(t, RoleAdmin.Valid())
	require.False(t, Role("owner").Valid())
}
