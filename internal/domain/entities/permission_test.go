package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

func TestPermissionScheme_AddPermission_RejectsOnSystemScheme(t *testing.T) {
	s := &PermissionScheme{IsSystem: true}
	err := s.AddPermission("editor", Permission{Namespace: NamespaceWorkflows, Op: OpRead})
	require.Error(t, err)
}

func TestPermissionScheme_AddPermission_RejectsExecuteOutsideWorkflows(t *testing.T) {
	s := &PermissionScheme{}
	err := s.AddPermission("editor", Permission{Namespace: NamespaceEntities, Op: OpExecute})
	require.Error(t, err)
}

func TestPermissionScheme_AddPermission_AllowsExecuteUnderWorkflows(t *testing.T) {
	s := &PermissionScheme{}
	err := s.AddPermission("editor", Permission{Namespace: NamespaceWorkflows, Op: OpExecute})
	require.NoError(t, err)
	assert.Len(t, s.Roles["editor"], 1)
}

func TestPermissionScheme_AddPermission_RejectsDuplicateNamespaceOp(t *testing.T) {
	s := &PermissionScheme{}
	require.NoError(t, s.AddPermission("editor", Permission{Namespace: NamespaceEntities, Op: OpRead}))
	err := s.AddPermission("editor", Permission{Namespace: NamespaceEntities, Op: OpRead, AccessLevel: "elevated"})
	require.Error(t, err)
	assert.Len(t, s.Roles["editor"], 1)
}

func TestPermissionScheme_RemovePermission_RejectsOnSystemScheme(t *testing.T) {
	s := &PermissionScheme{IsSystem: true, Roles: map[string][]Permission{
		"editor": {{Namespace: NamespaceEntities, Op: OpRead}},
	}}
	err := s.RemovePermission("editor", NamespaceEntities, OpRead)
	require.Error(t, err)
}

func TestPermissionScheme_RemovePermission_NotFound(t *testing.T) {
	s := &PermissionScheme{}
	err := s.RemovePermission("editor", NamespaceEntities, OpRead)
	require.Error(t, err)
	var ce *rerrors.Error
	if assert.ErrorAs(t, err, &ce) {
		assert.Equal(t, rerrors.KindNotFound, ce.Kind)
	}
}

func TestPermissionScheme_RemovePermission_RemovesMatch(t *testing.T) {
	s := &PermissionScheme{Roles: map[string][]Permission{
		"editor": {
			{Namespace: NamespaceEntities, Op: OpRead},
			{Namespace: NamespaceWorkflows, Op: OpExecute},
		},
	}}
	require.NoError(t, s.RemovePermission("editor", NamespaceEntities, OpRead))
	assert.Len(t, s.Roles["editor"], 1)
	assert.Equal(t, NamespaceWorkflows, s.Roles["editor"][0].Namespace)
}

func TestParseNamespace_RolesAlias(t *testing.T) {
	ns, ok := ParseNamespace("roles")
	require.True(t, ok)
	assert.Equal(t, NamespacePermissionSchemes, ns)
}

func TestParseNamespace_Unknown(t *testing.T) {
	_, ok := ParseNamespace("bogus")
	assert.False(t, ok)
}

func TestHumanUser_IsSuper_EitherFlagWins(t *testing.T) {
	byRole := &HumanUser{Role: SuperAdminRole()}
	assert.True(t, byRole.IsSuper())

	byFlag := &HumanUser{Role: CustomRole("editor"), IsSuperAdmin: true}
	assert.True(t, byFlag.IsSuper())

	neither := &HumanUser{Role: CustomRole("editor")}
	assert.False(t, neither.IsSuper())
}
