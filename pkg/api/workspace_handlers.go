package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/ideahub/pkg/apikeys"
	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/httputil"
	"github.com/platinummonkey/ideahub/pkg/middleware"
	"github.com/platinummonkey/ideahub/pkg/rbac"
)

// WorkspaceHandlers serves the web app's session-authenticated workspace routes
type WorkspaceHandlers struct {
	issuer      *apikeys.Issuer
	guard       *rbac.Guard
	sessions    *middleware.SessionMiddleware
	permissions *rbac.PermissionMiddleware
}

// NewWorkspaceHandlers creates the workspace handlers
func NewWorkspaceHandlers(issuer *apikeys.Issuer, guard *rbac.Guard, sessions *middleware.SessionMiddleware) *WorkspaceHandlers {
	return &WorkspaceHandlers{
		issuer:      issuer,
		guard:       guard,
		sessions:    sessions,
		permissions: rbac.NewPermissionMiddleware(guard, writeAuthError),
	}
}

// RegisterRoutes registers the workspace routes, normally on an /api/v1 subrouter
func (h *WorkspaceHandlers) RegisterRoutes(router *mux.Router) {
	if h.sessions != nil {
		router.Use(h.sessions.Handler)
	}

	keys := "/workspaces/{" + rbac.WorkspaceVar + "}/api-keys"
	router.HandleFunc(keys, h.createAPIKey).Methods(http.MethodPost)
	router.HandleFunc(keys, h.listAPIKeys).Methods(http.MethodGet)
	router.HandleFunc(keys+"/{key_id}", h.revokeAPIKey).Methods(http.MethodDelete)

	router.Handle("/workspaces/{"+rbac.WorkspaceVar+"}/permissions",
		h.permissions.RequireMembership()(http.HandlerFunc(h.getPermissions))).Methods(http.MethodGet)
}

// createAPIKey handles POST /workspaces/{workspace_id}/api-keys. The plaintext
// token appears in this response only.
func (h *WorkspaceHandlers) createAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, err := h.guard.RequireUserID(r.Context())
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	var req apikeys.GenerateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.WorkspaceID = mux.Vars(r)[rbac.WorkspaceVar]
	req.IssuingUserID = userID

	issued, err := h.issuer.Generate(r.Context(), req)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteCreated(w, issued)
}

type listAPIKeysResponse struct {
	Keys []auth.RedactedAPIKey `json:"keys"`
}

// listAPIKeys handles GET /workspaces/{workspace_id}/api-keys
func (h *WorkspaceHandlers) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	userID, err := h.guard.RequireUserID(r.Context())
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	keys, err := h.issuer.List(r.Context(), mux.Vars(r)[rbac.WorkspaceVar], userID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, listAPIKeysResponse{Keys: keys})
}

// revokeAPIKey handles DELETE /workspaces/{workspace_id}/api-keys/{key_id}
func (h *WorkspaceHandlers) revokeAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, err := h.guard.RequireUserID(r.Context())
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	vars := mux.Vars(r)
	if err := h.issuer.RevokeInWorkspace(r.Context(), vars[rbac.WorkspaceVar], vars["key_id"], userID); err != nil {
		writeAuthError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

type permissionsResponse struct {
	WorkspaceID string            `json:"workspace_id"`
	Role        auth.Role         `json:"role"`
	Permissions []auth.Permission `json:"permissions"`
	Disabled    bool              `json:"disabled"`
}

// getPermissions handles GET /workspaces/{workspace_id}/permissions so the web
// app can hide controls the caller can't use
func (h *WorkspaceHandlers) getPermissions(w http.ResponseWriter, r *http.Request) {
	authCtx := rbac.GetAuthContext(r)

	resp := permissionsResponse{
		WorkspaceID: authCtx.WorkspaceID,
		Role:        authCtx.Role,
		Permissions: auth.RolePermissions(authCtx.Role),
	}
	if authCtx.Workspace != nil {
		resp.Disabled = authCtx.Workspace.Disabled
	}
	httputil.WriteSuccess(w, resp)
}
