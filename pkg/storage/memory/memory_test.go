package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_MembershipUniqueness(t *testing.T) {
	ctx := context.Background()
	s := New()

	m := &auth.Membership{WorkspaceID: "ws-1", UserID: "u-1", Role: auth.RoleEditor, JoinedAt: time.Now()}
	require.NoError(t, s.CreateMembership(ctx, m))

	dup := &auth.Membership{WorkspaceID: "ws-1", UserID: "u-1", Role: auth.RoleOwner, JoinedAt: time.Now()}
	err := s.CreateMembership(ctx, dup)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrConflict)

	got, err := s.GetMembership(ctx, "ws-1", "u-1")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleEditor, got.Role, "duplicate insert must not overwrite")
}

func TestStore_ConcurrentMembershipInsert(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CreateMembership(ctx, &auth.Membership{WorkspaceID: "ws", UserID: "u", Role: auth.RoleViewer})
			if err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestStore_APIKeyHashUniqueness(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreateAPIKey(ctx, &auth.APIKey{ID: "k1", WorkspaceID: "ws", KeyHash: "h1"}))
	err := s.CreateAPIKey(ctx, &auth.APIKey{ID: "k2", WorkspaceID: "ws", KeyHash: "h1"})
	assert.ErrorIs(t, err, storage.ErrConflict)

	got, err := s.GetAPIKeyByHash(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "k1", got.ID)

	_, err = s.GetAPIKeyByHash(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_RevokeAPIKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateAPIKey(ctx, &auth.APIKey{ID: "k1", WorkspaceID: "ws", KeyHash: "h1"}))

	first := time.Now()
	changed, err := s.RevokeAPIKey(ctx, "k1", first)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.RevokeAPIKey(ctx, "k1", first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	k, err := s.GetAPIKey(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, k.RevokedAt)
	assert.True(t, k.RevokedAt.Equal(first), "second revoke must not move revoked_at")

	_, err = s.RevokeAPIKey(ctx, "missing", first)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_TouchAPIKeys(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateAPIKey(ctx, &auth.APIKey{ID: "k1", WorkspaceID: "ws", KeyHash: "h1"}))

	later := time.Now()
	earlier := later.Add(-time.Minute)
	require.NoError(t, s.TouchAPIKeys(ctx, []string{"k1", "unknown"}, later))
	require.NoError(t, s.TouchAPIKeys(ctx, []string{"k1"}, earlier))

	k, err := s.GetAPIKey(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, k.LastUsedAt)
	assert.True(t, k.LastUsedAt.Equal(later), "last_used_at must not move backwards")
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateAPIKey(ctx, &auth.APIKey{ID: "k1", WorkspaceID: "ws", KeyHash: "h1", Scopes: []auth.Scope{auth.ScopeIdeasRead}}))

	k, err := s.GetAPIKey(ctx, "k1")
	require.NoError(t, err)
	k.Scopes[0] = auth.ScopeIdeasWrite

	again, err := s.GetAPIKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, auth.ScopeIdeasRead, again.Scopes[0])
}

func TestStore_ListAPIKeysNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Now()
	require.NoError(t, s.CreateAPIKey(ctx, &auth.APIKey{ID: "old", WorkspaceID: "ws", KeyHash: "a", CreatedAt: base}))
	require.NoError(t, s.CreateAPIKey(ctx, &auth.APIKey{ID: "new", WorkspaceID: "ws", KeyHash: "b", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, s.CreateAPIKey(ctx, &auth.APIKey{ID: "other", WorkspaceID: "ws2", KeyHash: "c", CreatedAt: base}))

	keys, err := s.ListAPIKeys(ctx, "ws")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "new", keys[0].ID)
	assert.Equal(t, "old", keys[1].ID)
}

func TestStore_Workspaces(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreateWorkspace(ctx, &auth.Workspace{ID: "ws", Slug: "acme"}))
	assert.ErrorIs(t, s.CreateWorkspace(ctx, &auth.Workspace{ID: "ws2", Slug: "acme"}), storage.ErrConflict)

	require.NoError(t, s.SetWorkspaceDisabled(ctx, "ws", true))
	ws, err := s.GetWorkspace(ctx, "ws")
	require.NoError(t, err)
	assert.True(t, ws.Disabled)

	assert.ErrorIs(t, s.SetWorkspaceDisabled(ctx, "missing", true), storage.ErrNotFound)
	_, err = s.GetWorkspace(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
