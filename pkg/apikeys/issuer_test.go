package apikeys

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ideahub/pkg/audit"
	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/observability"
	"github.com/platinummonkey/ideahub/pkg/rbac"
	"github.com/platinummonkey/ideahub/pkg/storage/memory"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (r *recordingAudit) Log(_ context.Context, e *audit.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAudit) Close() error { return nil }

func (r *recordingAudit) byType(t audit.EventType) []*audit.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*audit.AuditEvent
	for _, e := range r.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

const testWorkspace = "ws-1"

// newTestStore creates testWorkspace with one member per role, named after the role
func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreateWorkspace(ctx, &auth.Workspace{
		ID: testWorkspace, Kind: auth.WorkspaceKindShared, Plan: auth.PlanTeam, Name: "Research", OwnerID: "owner",
	}))
	for _, role := range auth.Roles() {
		require.NoError(t, store.CreateUser(ctx, &auth.User{ID: string(role), Name: strings.ToUpper(string(role)), Email: string(role) + "@example.com"}))
		require.NoError(t, store.CreateMembership(ctx, &auth.Membership{
			WorkspaceID: testWorkspace, UserID: string(role), Role: role, JoinedAt: time.Now(),
		}))
	}
	return store
}

func newTestIssuer(store *memory.Store, opts ...IssuerOption) *Issuer {
	return NewIssuer(rbac.NewGuard(store, store), store, opts...)
}

func generate(t *testing.T, issuer *Issuer, userID string, scopes ...auth.Scope) *IssuedKey {
	t.Helper()
	issued, err := issuer.Generate(context.Background(), GenerateRequest{
		WorkspaceID: testWorkspace, IssuingUserID: userID, Name: "Laptop", Device: "firefox", Scopes: scopes,
	})
	require.NoError(t, err)
	return issued
}

func TestIssuer_Generate(t *testing.T) {
	store := newTestStore(t)
	recorder := &recordingAudit{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	issuer := newTestIssuer(store, WithIssuerAuditLogger(recorder), WithIssuerMetrics(metrics))

	issued := generate(t, issuer, "admin", auth.ScopeClipperWrite, auth.ScopeIdeasRead, auth.ScopeClipperWrite)

	require.NoError(t, auth.ValidateTokenFormat(issued.Plaintext))
	assert.Len(t, issued.Plaintext, 46)
	assert.Equal(t, issued.Plaintext[:11], issued.Key.KeyPrefix)
	assert.Equal(t, []auth.Scope{auth.ScopeClipperWrite, auth.ScopeIdeasRead}, issued.Key.Scopes)
	assert.Equal(t, "admin", issued.Key.UserID)
	assert.Equal(t, "firefox", issued.Key.Device)
	assert.Nil(t, issued.Key.RevokedAt)

	stored, err := store.GetAPIKey(context.Background(), issued.Key.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.HashToken(issued.Plaintext), stored.KeyHash)
	assert.NotContains(t, stored.KeyHash, issued.Plaintext)

	assert.Len(t, recorder.byType(audit.EventTypeAPIKeyCreate), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.APIKeysIssuedTotal))
}

func TestIssuer_Generate_DefaultsDevice(t *testing.T) {
	issuer := newTestIssuer(newTestStore(t))
	issued, err := issuer.Generate(context.Background(), GenerateRequest{
		WorkspaceID: testWorkspace, IssuingUserID: "owner", Name: "  CI  ", Scopes: []auth.Scope{auth.ScopeIdeasRead},
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultDevice, issued.Key.Device)
	assert.Equal(t, "CI", issued.Key.Name)
}

func TestIssuer_Generate_RequiresAdmin(t *testing.T) {
	issuer := newTestIssuer(newTestStore(t))

	for _, userID := range []string{"viewer", "editor"} {
		t.Run(userID, func(t *testing.T) {
			issued, err := issuer.Generate(context.Background(), GenerateRequest{
				WorkspaceID: testWorkspace, IssuingUserID: userID, Name: "x", Scopes: []auth.Scope{auth.ScopeClipperWrite},
			})
			assert.Nil(t, issued)
			assert.ErrorIs(t, err, auth.ErrAuthorization)
			assert.Equal(t, "missing_permission", auth.CodeOf(err))
		})
	}

	_, err := issuer.Generate(context.Background(), GenerateRequest{
		WorkspaceID: testWorkspace, IssuingUserID: "stranger", Name: "x", Scopes: []auth.Scope{auth.ScopeClipperWrite},
	})
	assert.ErrorIs(t, err, auth.ErrMembership)
}

func TestIssuer_Generate_Validation(t *testing.T) {
	issuer := newTestIssuer(newTestStore(t))

	tests := []struct {
		name     string
		req      GenerateRequest
		wantCode string
	}{
		{"empty name", GenerateRequest{Name: "   ", Scopes: []auth.Scope{auth.ScopeIdeasRead}}, "name_required"},
		{"long name", GenerateRequest{Name: strings.Repeat("n", 101), Scopes: []auth.Scope{auth.ScopeIdeasRead}}, "name_too_long"},
		{"long device", GenerateRequest{Name: "ok", Device: strings.Repeat("d", 101), Scopes: []auth.Scope{auth.ScopeIdeasRead}}, "device_too_long"},
		{"no scopes", GenerateRequest{Name: "ok"}, "scopes_required"},
		{"unknown scope", GenerateRequest{Name: "ok", Scopes: []auth.Scope{"admin:everything"}}, "unknown_scope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.WorkspaceID = testWorkspace
			tt.req.IssuingUserID = "admin"
			_, err := issuer.Generate(context.Background(), tt.req)
			assert.ErrorIs(t, err, auth.ErrValidation)
			assert.Equal(t, tt.wantCode, auth.CodeOf(err))
		})
	}

	// 100 multibyte characters are within the limit.
	_, err := issuer.Generate(context.Background(), GenerateRequest{
		WorkspaceID: testWorkspace, IssuingUserID: "admin", Name: strings.Repeat("é", 100), Scopes: []auth.Scope{auth.ScopeIdeasRead},
	})
	assert.NoError(t, err)
}

func TestIssuer_Generate_ScopeCannotExceedIssuer(t *testing.T) {
	catalog := auth.NewScopeCatalog(auth.Scope(auth.PermWorkspaceDelete))
	issuer := newTestIssuer(newTestStore(t), WithScopeCatalog(catalog))

	_, err := issuer.Generate(context.Background(), GenerateRequest{
		WorkspaceID: testWorkspace, IssuingUserID: "admin", Name: "x",
		Scopes: []auth.Scope{auth.Scope(auth.PermWorkspaceDelete)},
	})
	assert.Equal(t, "scope_exceeds_role", auth.CodeOf(err))

	_, err = issuer.Generate(context.Background(), GenerateRequest{
		WorkspaceID: testWorkspace, IssuingUserID: "owner", Name: "x",
		Scopes: []auth.Scope{auth.Scope(auth.PermWorkspaceDelete)},
	})
	assert.NoError(t, err)
}

func TestIssuer_Generate_DisabledWorkspace(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetWorkspaceDisabled(context.Background(), testWorkspace, true))
	issuer := newTestIssuer(store)

	_, err := issuer.Generate(context.Background(), GenerateRequest{
		WorkspaceID: testWorkspace, IssuingUserID: "owner", Name: "x", Scopes: []auth.Scope{auth.ScopeIdeasRead},
	})
	assert.Equal(t, "workspace_disabled", auth.CodeOf(err))
}

func TestIssuer_Revoke(t *testing.T) {
	store := newTestStore(t)
	recorder := &recordingAudit{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	issuer := newTestIssuer(store, WithIssuerAuditLogger(recorder), WithIssuerMetrics(metrics))
	issued := generate(t, issuer, "admin", auth.ScopeClipperWrite)
	ctx := context.Background()

	err := issuer.Revoke(ctx, issued.Key.ID, "editor")
	assert.ErrorIs(t, err, auth.ErrAuthorization)

	require.NoError(t, issuer.Revoke(ctx, issued.Key.ID, "owner"))
	first, err := store.GetAPIKey(ctx, issued.Key.ID)
	require.NoError(t, err)
	require.NotNil(t, first.RevokedAt)

	// Idempotent: no error, timestamp unchanged, counted once.
	require.NoError(t, issuer.Revoke(ctx, issued.Key.ID, "admin"))
	second, err := store.GetAPIKey(ctx, issued.Key.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.RevokedAt, *second.RevokedAt)
	assert.Len(t, recorder.byType(audit.EventTypeAPIKeyRevoke), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.APIKeysRevokedTotal))

	err = issuer.Revoke(ctx, "missing", "owner")
	assert.ErrorIs(t, err, auth.ErrValidation)
	assert.Equal(t, "key_not_found", auth.CodeOf(err))
}

func TestIssuer_RevokeInWorkspace(t *testing.T) {
	store := newTestStore(t)
	issuer := newTestIssuer(store)
	issued := generate(t, issuer, "admin", auth.ScopeClipperWrite)

	err := issuer.RevokeInWorkspace(context.Background(), "ws-other", issued.Key.ID, "admin")
	assert.Equal(t, "key_not_found", auth.CodeOf(err))

	key, _ := store.GetAPIKey(context.Background(), issued.Key.ID)
	assert.True(t, key.IsActive())

	require.NoError(t, issuer.RevokeInWorkspace(context.Background(), testWorkspace, issued.Key.ID, "admin"))
}

func TestIssuer_List(t *testing.T) {
	store := newTestStore(t)
	issuer := newTestIssuer(store)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for n := 0; n < 3; n++ {
		ts := base.Add(time.Duration(n) * time.Hour)
		issuer.now = func() time.Time { return ts }
		ids = append(ids, generate(t, issuer, "admin", auth.ScopeIdeasRead).Key.ID)
	}

	keys, err := issuer.List(context.Background(), testWorkspace, "admin")
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{keys[0].ID, keys[1].ID, keys[2].ID})

	raw, err := json.Marshal(keys)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hash")

	_, err = issuer.List(context.Background(), testWorkspace, "editor")
	assert.ErrorIs(t, err, auth.ErrAuthorization)

	// Listing is read intent and survives a disable.
	require.NoError(t, store.SetWorkspaceDisabled(context.Background(), testWorkspace, true))
	keys, err = issuer.List(context.Background(), testWorkspace, "admin")
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}
