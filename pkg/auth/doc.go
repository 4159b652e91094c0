// Package auth holds the workspace authorization vocabulary shared by the
// session and API key paths.
//
// # Overview
//
// Everything here is pure data and pure functions: the role hierarchy, the
// permission catalog, the scope catalog, API key secret handling and the typed
// error taxonomy. Nothing in this package performs I/O. The membership guard
// lives in pkg/rbac and key issuance/authentication in pkg/apikeys.
//
// # Roles
//
//	RoleOwner  (4) - everything, including workspace deletion and transfer
//	RoleAdmin  (3) - workspace administration, members, API keys
//	RoleEditor (2) - write and delete ideas, capture pages
//	RoleViewer (1) - read-only access
//
// Every role holds the permissions of the role ranked below it:
//
//	auth.HasPermission(auth.RoleEditor, auth.PermIdeasWrite)   // true
//	auth.HasPermission(auth.RoleEditor, auth.PermWorkspaceAdmin) // false
//	auth.CanAccess(auth.RoleAdmin, auth.RoleEditor)            // true
//
// # API Keys
//
// Keys are opaque secrets of the form ih_<base64url(32 random bytes)>. Only the
// SHA-256 hex hash and an 11 character display prefix are stored:
//
//	token, hash, prefix, err := auth.NewTokenGenerator().GenerateToken()
//	// token:  ih_xxx (shown to the caller once)
//	// hash:   SHA256(token) (stored, unique)
//	// prefix: ih_xxxxxxxx (stored for display)
//
// # Errors
//
// Failures are *auth.Error values carrying a Kind and a stable Code:
//
//	var authErr *auth.Error
//	if errors.As(err, &authErr) && authErr.Kind == auth.KindAuthorization { ... }
//	if errors.Is(err, auth.ErrMembership) { ... }
//
// Only the HTTP boundary translates kinds into status codes.
package auth
