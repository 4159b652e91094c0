package apikeys

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ideahub/pkg/audit"
	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/observability"
	"github.com/platinummonkey/ideahub/pkg/storage"
	"github.com/platinummonkey/ideahub/pkg/storage/memory"
)

type recordingToucher struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingToucher) Touch(_ context.Context, keyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, keyID)
}

func (r *recordingToucher) touched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestAuthenticator_Authenticate(t *testing.T) {
	store := newTestStore(t)
	issued := generate(t, newTestIssuer(store), "admin", auth.ScopeClipperWrite)
	toucher := &recordingToucher{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	authn := NewAuthenticator(store, store, store, store, WithToucher(toucher), WithAuthenticatorMetrics(metrics))

	info, err := authn.Authenticate(context.Background(), issued.Plaintext)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, issued.Key.ID, info.Key.ID)
	assert.Equal(t, "ADMIN", info.User.Name)
	assert.Equal(t, "Research", info.Workspace.Name)
	assert.Equal(t, []auth.Scope{auth.ScopeClipperWrite}, info.Scopes)
	assert.Equal(t, []string{issued.Key.ID}, toucher.touched())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuthAttemptsTotal.WithLabelValues("api_key", "success")))

	authCtx := Context(info)
	assert.Equal(t, auth.IdentityAPIKey, authCtx.Kind)
	assert.Equal(t, issued.Key.WorkspaceID, authCtx.WorkspaceID)
	assert.Equal(t, []auth.Scope{auth.ScopeClipperWrite}, authCtx.Scopes)
}

func TestAuthenticator_RejectsWithUniformError(t *testing.T) {
	store := newTestStore(t)
	issuer := newTestIssuer(store)
	revoked := generate(t, issuer, "admin", auth.ScopeClipperWrite)
	require.NoError(t, issuer.Revoke(context.Background(), revoked.Key.ID, "admin"))

	unknown, _, _, err := auth.NewTokenGenerator().GenerateToken()
	require.NoError(t, err)

	recorder := &recordingAudit{}
	toucher := &recordingToucher{}
	authn := NewAuthenticator(store, store, store, store, WithToucher(toucher), WithAuthenticatorAuditLogger(recorder))

	tests := []struct {
		name   string
		bearer string
	}{
		{"empty", ""},
		{"wrong prefix", "sk_" + unknown[3:]},
		{"truncated", unknown[:20]},
		{"bad encoding", "ih_" + "!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!"},
		{"unknown", unknown},
		{"revoked", revoked.Plaintext},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := authn.Authenticate(context.Background(), tt.bearer)
			assert.Nil(t, info)
			assert.ErrorIs(t, err, auth.ErrAuthentication)
			assert.Equal(t, "invalid_api_key", auth.CodeOf(err))
			assert.Equal(t, "authentication: invalid API key", err.Error())
		})
	}

	assert.Empty(t, toucher.touched())
	events := recorder.byType(audit.EventTypeAPIKeyValidateFail)
	require.Len(t, events, len(tests))
	last := events[len(events)-1]
	assert.Equal(t, revoked.Key.ID, last.APIKeyID)
	assert.Equal(t, "revoked key", last.ErrorMessage)
}

func TestAuthenticator_MissingOwner(t *testing.T) {
	store := newTestStore(t)
	issued := generate(t, newTestIssuer(store), "admin", auth.ScopeClipperWrite)

	// Resolve users from an empty store so the owner lookup misses.
	authn := NewAuthenticator(store, memory.New(), store, store)
	info, err := authn.Authenticate(context.Background(), issued.Plaintext)
	assert.Nil(t, info)
	assert.Equal(t, "invalid_api_key", auth.CodeOf(err))
}

type brokenKeys struct{ storage.APIKeyRepository }

func (brokenKeys) GetAPIKeyByHash(context.Context, string) (*auth.APIKey, error) {
	return nil, errors.New("too many connections")
}

func TestAuthenticator_StoreFailureIsNotAnAuthError(t *testing.T) {
	store := newTestStore(t)
	issued := generate(t, newTestIssuer(store), "admin", auth.ScopeClipperWrite)

	authn := NewAuthenticator(brokenKeys{}, store, store, store)
	info, err := authn.Authenticate(context.Background(), issued.Plaintext)
	assert.Nil(t, info)
	require.Error(t, err)
	assert.Empty(t, auth.KindOf(err))
}

func TestAuthenticator_RevocationIsImmediate(t *testing.T) {
	store := newTestStore(t)
	issuer := newTestIssuer(store)
	issued := generate(t, issuer, "admin", auth.ScopeClipperWrite)
	authn := NewAuthenticator(store, store, store, store)

	_, err := authn.Authenticate(context.Background(), issued.Plaintext)
	require.NoError(t, err)

	require.NoError(t, issuer.Revoke(context.Background(), issued.Key.ID, "admin"))
	_, err = authn.Authenticate(context.Background(), issued.Plaintext)
	assert.ErrorIs(t, err, auth.ErrAuthentication)
}

func TestAuthenticator_IssuerNoLongerMember(t *testing.T) {
	store := newTestStore(t)
	issued := generate(t, newTestIssuer(store), "admin", auth.ScopeClipperWrite)

	// Memberships come from an empty store, as if the issuer had been removed.
	recorder := &recordingAudit{}
	authn := NewAuthenticator(store, store, store, memory.New(), WithAuthenticatorAuditLogger(recorder))
	info, err := authn.Authenticate(context.Background(), issued.Plaintext)
	assert.Nil(t, info)
	assert.Equal(t, "invalid_api_key", auth.CodeOf(err))

	events := recorder.byType(audit.EventTypeAPIKeyValidateFail)
	require.Len(t, events, 1)
	assert.Equal(t, issued.Key.ID, events[0].APIKeyID)
}

func TestRequireScope(t *testing.T) {
	info := &auth.AuthInfo{
		Key:    &auth.APIKey{ID: "k1"},
		Scopes: []auth.Scope{auth.ScopeClipperWrite},
	}
	before := append([]auth.Scope(nil), info.Scopes...)

	assert.NoError(t, RequireScope(info, auth.ScopeClipperWrite))

	err := RequireScope(info, auth.ScopeIdeasWrite)
	assert.ErrorIs(t, err, auth.ErrAuthorization)
	assert.Equal(t, "missing_scope", auth.CodeOf(err))
	assert.Equal(t, before, info.Scopes)

	assert.ErrorIs(t, RequireScope(nil, auth.ScopeClipperWrite), auth.ErrAuthentication)
}

func TestRequireWritableWorkspace(t *testing.T) {
	info := &auth.AuthInfo{Workspace: &auth.Workspace{ID: "ws-1"}}
	assert.NoError(t, RequireWritableWorkspace(info))

	info.Workspace.Disabled = true
	assert.Equal(t, "workspace_disabled", auth.CodeOf(RequireWritableWorkspace(info)))
}
