package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
)

type fakeSchemeSource struct {
	perms []entities.Permission
	err   error
}

func (f *fakeSchemeSource) MergedPermissions(ctx context.Context, principal entities.Principal) ([]entities.Permission, error) {
	return f.perms, f.err
}

func strPtr(s string) *string { return &s }

func TestEvaluator_SuperAdminAlwaysAllowed(t *testing.T) {
	eval := NewEvaluator(&fakeSchemeSource{})
	principal := entities.Principal{Kind: entities.PrincipalHumanUser, User: &entities.HumanUser{Role: entities.SuperAdminRole()}}

	allowed, err := eval.Allowed(context.Background(), principal, entities.NamespaceWorkflows, entities.OpDelete, nil)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestEvaluator_NoMatchingPermissionDenies(t *testing.T) {
	eval := NewEvaluator(&fakeSchemeSource{perms: []entities.Permission{
		{Namespace: entities.NamespaceWorkflows, Op: entities.OpRead},
	}})
	principal := entities.Principal{Kind: entities.PrincipalHumanUser, User: &entities.HumanUser{Role: entities.CustomRole("editor")}}

	allowed, err := eval.Allowed(context.Background(), principal, entities.NamespaceWorkflows, entities.OpDelete, nil)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestEvaluator_AdminOpGrantsAnyOpOnNamespace(t *testing.T) {
	eval := NewEvaluator(&fakeSchemeSource{perms: []entities.Permission{
		{Namespace: entities.NamespaceEntities, Op: entities.OpAdmin},
	}})
	principal := entities.Principal{Kind: entities.PrincipalHumanUser, User: &entities.HumanUser{Role: entities.CustomRole("editor")}}

	path := "products/widgets"
	allowed, err := eval.Allowed(context.Background(), principal, entities.NamespaceEntities, entities.OpDelete, &path)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestEvaluator_UnscopedRequestRejectsScopedPermission(t *testing.T) {
	eval := NewEvaluator(&fakeSchemeSource{perms: []entities.Permission{
		{Namespace: entities.NamespaceEntities, Op: entities.OpRead, Constraints: &entities.Constraints{Path: strPtr("products")}},
	}})
	principal := entities.Principal{Kind: entities.PrincipalHumanUser, User: &entities.HumanUser{Role: entities.CustomRole("editor")}}

	allowed, err := eval.Allowed(context.Background(), principal, entities.NamespaceEntities, entities.OpRead, nil)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestMatchPath(t *testing.T) {
	cases := []struct {
		name      string
		allowed   *string
		requested string
		want      bool
	}{
		{"nil matches anything", nil, "anything/here", true},
		{"exact match", strPtr("products"), "products", true},
		{"segment prefix descendant", strPtr("products"), "products/widgets", true},
		{"non-segment prefix does not match", strPtr("products"), "productsline/widgets", false},
		{"wildcard matches descendant", strPtr("products/*"), "products/widgets", true},
		{"wildcard does not match bare prefix itself", strPtr("products/*"), "products", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MatchPath(tc.allowed, tc.requested))
		})
	}
}

func TestFlatten(t *testing.T) {
	perms := []entities.Permission{
		{Namespace: entities.NamespaceWorkflows, Op: entities.OpExecute},
		{Namespace: entities.NamespaceEntities, Op: entities.OpRead, Constraints: &entities.Constraints{Path: strPtr("products")}},
	}
	out := Flatten(perms)
	assert.Equal(t, []string{"workflows:execute", "entities:products:read"}, out)
}
