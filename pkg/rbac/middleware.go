package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/contextkeys"
)

// WorkspaceVar is the route variable holding the workspace id
const WorkspaceVar = "workspace_id"

// ErrorWriter renders a guard failure onto the response
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// PermissionMiddleware gates routes scoped to a workspace
type PermissionMiddleware struct {
	guard   *Guard
	onError ErrorWriter
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(guard *Guard, onError ErrorWriter) *PermissionMiddleware {
	return &PermissionMiddleware{
		guard:   guard,
		onError: onError,
	}
}

// RequirePermission creates middleware that requires perm on the workspace in
// the route. On success the request context carries an *auth.AuthContext.
func (pm *PermissionMiddleware) RequirePermission(perm auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := pm.guard.RequireUserID(r.Context())
			if err != nil {
				pm.onError(w, r, err)
				return
			}

			workspaceID := mux.Vars(r)[WorkspaceVar]
			m, err := pm.guard.RequirePermission(r.Context(), userID, workspaceID, perm)
			if err != nil {
				pm.onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(contextkeys.WithAuth(r.Context(), SessionContext(m))))
		})
	}
}

// RequireMembership creates middleware that only requires membership in the
// workspace in the route
func (pm *PermissionMiddleware) RequireMembership() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := pm.guard.RequireUserID(r.Context())
			if err != nil {
				pm.onError(w, r, err)
				return
			}

			m, err := pm.guard.AssertMembership(r.Context(), userID, mux.Vars(r)[WorkspaceVar])
			if err != nil {
				pm.onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(contextkeys.WithAuth(r.Context(), SessionContext(m))))
		})
	}
}

// SessionContext builds the downstream view of a resolved session membership
func SessionContext(m *auth.Membership) *auth.AuthContext {
	return &auth.AuthContext{
		Kind:        auth.IdentitySession,
		UserID:      m.UserID,
		WorkspaceID: m.WorkspaceID,
		Role:        m.Role,
		Workspace:   m.Workspace,
	}
}

// GetAuthContext returns the auth context set by the permission middleware
func GetAuthContext(r *http.Request) *auth.AuthContext {
	if authCtx, ok := r.Context().Value(contextkeys.AuthKey).(*auth.AuthContext); ok {
		return authCtx
	}
	return nil
}
