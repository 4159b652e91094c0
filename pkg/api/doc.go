// Package api provides the ideahub HTTP API.
//
// # Extension routes
//
// The browser extension authenticates with a bearer API key:
//
//	POST /auth        check a key, returns workspace, user and scopes
//	POST /capture     queue a page capture (scope clipper:write)
//	GET  /task/{id}   capture status
//
// Rate limiting runs before authentication. Every authentication failure is
// answered with 401 {"error":"unauthorized"}.
//
// # Workspace routes
//
// The web app uses a session token under /api/v1:
//
//	POST   /api/v1/workspaces/{workspace_id}/api-keys
//	GET    /api/v1/workspaces/{workspace_id}/api-keys
//	DELETE /api/v1/workspaces/{workspace_id}/api-keys/{key_id}
//	GET    /api/v1/workspaces/{workspace_id}/permissions
//
// # Errors
//
// writeAuthError maps the typed errors from pkg/auth to status codes. Unknown
// workspaces and workspaces the caller doesn't belong to both return 404.
//
// # Usage
//
//	server := api.NewServer(api.Dependencies{...})
//	http.ListenAndServe(":8080", server.Handler())
//	http.ListenAndServe(":9090", api.NewOperationsRouter(checker, registry))
package api
