package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ideahub/pkg/apikeys"
	"github.com/platinummonkey/ideahub/pkg/auth"
)

func keysPath(workspaceID string) string {
	return "/api/v1/workspaces/" + workspaceID + "/api-keys"
}

func TestCreateAPIKey(t *testing.T) {
	h := newHarness(t, newFakeCaptures())

	rec := h.do(http.MethodPost, keysPath(testWorkspace), h.session("admin"),
		`{"name":"Work laptop","device":"chrome","scopes":["clipper:write"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var issued apikeys.IssuedKey
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	require.NoError(t, auth.ValidateTokenFormat(issued.Plaintext))
	assert.Equal(t, auth.DisplayPrefix(issued.Plaintext), issued.Key.KeyPrefix)
	assert.Equal(t, testWorkspace, issued.Key.WorkspaceID)
	assert.Equal(t, "admin", issued.Key.UserID)
	assert.NotContains(t, rec.Body.String(), "key_hash")

	rec = h.do(http.MethodPost, "/auth", issued.Plaintext, "")
	assert.Equal(t, http.StatusOK, rec.Code, "the new key authenticates")
}

func TestCreateAPIKey_Rejections(t *testing.T) {
	h := newHarness(t, newFakeCaptures())
	body := `{"name":"k","scopes":["clipper:write"]}`

	tests := []struct {
		name      string
		workspace string
		token     string
		body      string
		status    int
	}{
		{"no session", testWorkspace, "", body, http.StatusUnauthorized},
		{"bad session", testWorkspace, "garbage.token.here", body, http.StatusUnauthorized},
		{"api key is not a session", testWorkspace, h.issue(testWorkspace, "admin", auth.ScopeClipperWrite).Plaintext, body, http.StatusUnauthorized},
		{"editor cannot issue", testWorkspace, h.session("editor"), body, http.StatusForbidden},
		{"viewer cannot issue", testWorkspace, h.session("viewer"), body, http.StatusForbidden},
		{"non member", otherWorkspace, h.session("admin"), body, http.StatusNotFound},
		{"unknown workspace", "ws-missing", h.session("admin"), body, http.StatusNotFound},
		{"unknown scope", testWorkspace, h.session("admin"), `{"name":"k","scopes":["root"]}`, http.StatusBadRequest},
		{"no body", testWorkspace, h.session("admin"), "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodPost, keysPath(tt.workspace), tt.token, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	// Non-members and missing workspaces are indistinguishable.
	a := h.do(http.MethodPost, keysPath(otherWorkspace), h.session("admin"), body)
	b := h.do(http.MethodPost, keysPath("ws-missing"), h.session("admin"), body)
	assert.Equal(t, a.Body.String(), b.Body.String())
}

func TestListAPIKeys(t *testing.T) {
	h := newHarness(t, newFakeCaptures())
	h.issue(testWorkspace, "admin", auth.ScopeClipperWrite)
	h.issue(testWorkspace, "owner", auth.ScopeIdeasRead)

	rec := h.do(http.MethodGet, keysPath(testWorkspace), h.session("admin"), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp listAPIKeysResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Keys, 2)
	assert.NotContains(t, rec.Body.String(), "key_hash")

	rec = h.do(http.MethodGet, keysPath(testWorkspace), h.session("editor"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRevokeAPIKey(t *testing.T) {
	h := newHarness(t, newFakeCaptures())
	issued := h.issue(testWorkspace, "admin", auth.ScopeClipperWrite)
	theirs := h.issue(otherWorkspace, "other-owner", auth.ScopeClipperWrite)
	path := keysPath(testWorkspace) + "/" + issued.Key.ID

	rec := h.do(http.MethodDelete, path, h.session("editor"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodDelete, path, h.session("admin"), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(http.MethodDelete, path, h.session("admin"), "")
	assert.Equal(t, http.StatusNoContent, rec.Code, "revoke is idempotent")

	rec = h.do(http.MethodPost, "/auth", issued.Plaintext, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodDelete, keysPath(testWorkspace)+"/missing", h.session("admin"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodDelete, keysPath(testWorkspace)+"/"+theirs.Key.ID, h.session("admin"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "keys of other workspaces can't be revoked through this one")

	stored, err := h.store.GetAPIKey(context.Background(), theirs.Key.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive())
}

func TestGetPermissions(t *testing.T) {
	h := newHarness(t, newFakeCaptures())
	path := "/api/v1/workspaces/" + testWorkspace + "/permissions"

	rec := h.do(http.MethodGet, path, h.session("editor"), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp permissionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, auth.RoleEditor, resp.Role)
	assert.ElementsMatch(t, auth.RolePermissions(auth.RoleEditor), resp.Permissions)
	assert.Contains(t, resp.Permissions, auth.PermIdeasWrite)
	assert.NotContains(t, resp.Permissions, auth.PermWorkspaceAdmin)
	assert.False(t, resp.Disabled)

	require.NoError(t, h.store.SetWorkspaceDisabled(context.Background(), testWorkspace, true))
	rec = h.do(http.MethodGet, path, h.session("owner"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Disabled)

	rec = h.do(http.MethodGet, "/api/v1/workspaces/"+otherWorkspace+"/permissions", h.session("owner"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDisabledWorkspaceBlocksOwnerWrites(t *testing.T) {
	h := newHarness(t, newFakeCaptures())
	require.NoError(t, h.store.SetWorkspaceDisabled(context.Background(), testWorkspace, true))

	rec := h.do(http.MethodPost, keysPath(testWorkspace), h.session("owner"), `{"name":"k","scopes":["clipper:write"]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "workspace_disabled", decode(t, rec)["code"])

	rec = h.do(http.MethodGet, keysPath(testWorkspace), h.session("owner"), "")
	assert.Equal(t, http.StatusOK, rec.Code, "listing is read-intent")
}
