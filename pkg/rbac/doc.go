// Package rbac enforces workspace-scoped role-based access control for the
// ideahub service.
//
// # Overview
//
// Every durable object belongs to exactly one workspace, and every
// session-authenticated operation passes through the Guard before it touches
// data. The Guard answers three questions:
//
//	AssertMembership  - is the user a member of the workspace at all?
//	CheckPermission   - does the member's role grant the permission?
//	RequireRole       - does the member rank at least as high as a role?
//
// Roles and the permission catalog live in package auth. The Guard only
// combines them with the stored membership and workspace rows.
//
// # Roles
//
//	owner  (4) - everything, including workspace:delete and workspace:transfer
//	admin  (3) - members:manage, apikeys:manage, workspace:admin
//	editor (2) - ideas:write, ideas:delete, clipper:write, members:read
//	viewer (1) - ideas:read, workspace:read
//
// Each role holds every permission of the roles ranked below it.
//
// # Disabled Workspaces
//
// A disabled workspace keeps serving read-intent permissions (ideas:read,
// workspace:read, members:read, apikeys:read). Every other permission, and
// every RequireRole call, is refused with an authorization error whose code
// is "workspace_disabled", whatever the caller's role.
//
// # Usage
//
//	guard := rbac.NewGuard(store, store, rbac.WithMetrics(metrics))
//
//	userID, err := guard.RequireUserID(ctx)
//	if err != nil {
//		return err // authentication error
//	}
//	m, err := guard.RequirePermission(ctx, userID, workspaceID, auth.PermIdeasWrite)
//	if err != nil {
//		return err // workspace_not_found, not_a_member, missing_permission or workspace_disabled
//	}
//
// For HTTP routes, PermissionMiddleware reads the workspace id from the
// {workspace_id} route variable and stores an *auth.AuthContext in the request
// context:
//
//	pm := rbac.NewPermissionMiddleware(guard, writeAuthError)
//	r.Handle("/workspaces/{workspace_id}/api-keys",
//		pm.RequirePermission(auth.PermAPIKeysRead)(listHandler))
//
// # Caching
//
// None. Each call reads the workspace and membership from the store so that
// removals, role changes and disables are visible on the next request.
//
// # Observability
//
// Each decision increments ideahub_permission_checks_total and opens an
// "rbac.CheckPermission" span. Denials are written to the audit log as
// authz.access_denied events.
package rbac
