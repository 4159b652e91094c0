package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRolePermissions_MonotonicByRank(t *testing.T) {
	roles := Roles()
	for i := 0; i < len(roles); i++ {
		for j := 0; j < len(roles); j++ {
			higher, lower := roles[i], roles[j]
			if higher.Rank() <= lower.Rank() {
				continue
			}
			for _, p := range RolePermissions(lower) {
				assert.Truef(t, HasPermission(higher, p),
					"%s (rank %d) is missing %s held by %s (rank %d)",
					higher, higher.Rank(), p, lower, lower.Rank())
			}
		}
	}
}

func TestRolePermissions_StrictlyGrowing(t *testing.T) {
	roles := Roles()
	for i := 1; i < len(roles); i++ {
		assert.Greater(t, len(RolePermissions(roles[i])), len(RolePermissions(roles[i-1])),
			"%s should hold more permissions than %s", roles[i], roles[i-1])
	}
}

func TestRoleRanks(t *testing.T) {
	assert.Equal(t, 4, RoleOwner.Rank())
	assert.Equal(t, 3, RoleAdmin.Rank())
	assert.Equal(t, 2, RoleEditor.Rank())
	assert.Equal(t, 1, RoleViewer.Rank())
	assert.Equal(t, 0, Role("superuser").Rank())
	assert.False(t, Role("").IsValid())
}

func TestCanAccess(t *testing.T) {
	tests := []struct {
		acting   Role
		required Role
		want     bool
	}{
		{RoleOwner, RoleAdmin, true},
		{RoleAdmin, RoleEditor, true},
		{RoleEditor, RoleViewer, true},
		{RoleViewer, RoleEditor, false},
		{RoleEditor, RoleAdmin, false},
		{RoleAdmin, RoleOwner, false},
		{Role("ghost"), RoleViewer, false},
		{RoleOwner, Role("ghost"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.acting)+"->"+string(tt.required), func(t *testing.T) {
			assert.Equal(t, tt.want, CanAccess(tt.acting, tt.required))
		})
	}
}

func TestCanAccess_ReflexiveAndTransitive(t *testing.T) {
	roles := Roles()
	for _, r := range roles {
		assert.True(t, CanAccess(r, r), "CanAccess must be reflexive for %s", r)
	}
	for _, a := range roles {
		for _, b := range roles {
			for _, c := range roles {
				if CanAccess(a, b) && CanAccess(b, c) {
					assert.True(t, CanAccess(a, c), "%s>=%s>=%s but not %s>=%s", a, b, c, a, c)
				}
			}
		}
	}
}

func TestHasPermission(t *testing.T) {
	assert.True(t, HasPermission(RoleEditor, PermIdeasWrite))
	assert.False(t, HasPermission(RoleEditor, PermWorkspaceAdmin))
	assert.True(t, HasPermission(RoleViewer, PermIdeasRead))
	assert.False(t, HasPermission(RoleViewer, PermIdeasWrite))
	assert.True(t, HasPermission(RoleAdmin, PermAPIKeysManage))
	assert.False(t, HasPermission(RoleAdmin, PermWorkspaceDelete))
	assert.True(t, HasPermission(RoleOwner, PermWorkspaceTransfer))
	assert.False(t, HasPermission(Role("unknown"), PermIdeasRead))
	assert.False(t, HasPermission(RoleOwner, Permission("ideas:teleport")))
}

func TestRolePermissions_ReturnsCopy(t *testing.T) {
	perms := RolePermissions(RoleViewer)
	require.NotEmpty(t, perms)
	perms[0] = Permission("tampered")
	assert.False(t, HasPermission(RoleViewer, Permission("tampered")))
	assert.Empty(t, RolePermissions(Role("nobody")))
}

func TestIsWriteIntent(t *testing.T) {
	assert.False(t, IsWriteIntent(PermIdeasRead))
	assert.False(t, IsWriteIntent(PermWorkspaceRead))
	assert.False(t, IsWriteIntent(PermAPIKeysRead))
	assert.True(t, IsWriteIntent(PermIdeasWrite))
	assert.True(t, IsWriteIntent(PermAPIKeysManage))
	assert.True(t, IsWriteIntent(PermClipperWrite))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Admin ")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, r)

	_, err = ParseRole("developer")
	assert.Error(t, err)
}

func TestScopeCatalog_Normalize(t *testing.T) {
	catalog := NewScopeCatalog()

	t.Run("dedupes and keeps order", func(t *testing.T) {
		scopes, err := catalog.Normalize([]Scope{ScopeClipperWrite, ScopeIdeasRead, ScopeClipperWrite})
		require.NoError(t, err)
		assert.Equal(t, []Scope{ScopeClipperWrite, ScopeIdeasRead}, scopes)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := catalog.Normalize(nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, "scopes_required", CodeOf(err))
	})

	t.Run("unknown scope", func(t *testing.T) {
		_, err := catalog.Normalize([]Scope{"admin:everything"})
		require.Error(t, err)
		assert.Equal(t, KindValidation, KindOf(err))
		assert.Equal(t, "unknown_scope", CodeOf(err))
	})
}

func TestScopeCatalog_Extra(t *testing.T) {
	catalog := NewScopeCatalog("tasks:read")
	assert.True(t, catalog.IsKnown("tasks:read"))
	assert.True(t, catalog.IsKnown(ScopeClipperWrite))

	catalog.SetExtra([]Scope{"projects:read", " "})
	assert.False(t, catalog.IsKnown("tasks:read"))
	assert.True(t, catalog.IsKnown("projects:read"))
	assert.Len(t, catalog.Scopes(), len(KnownScopes())+1)
}
