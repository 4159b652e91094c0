// Package storage defines the persistence contracts for workspaces, users,
// memberships, API keys and captures.
//
// # Overview
//
// The authorization core never talks to a database directly. It depends on the
// narrow repository interfaces declared here, each limited to point lookups,
// unique-constraint inserts and single-row patches:
//
//   - UserRepository: GetUser, CreateUser
//   - WorkspaceRepository: GetWorkspace, CreateWorkspace, SetWorkspaceDisabled
//   - MembershipRepository: GetMembership, CreateMembership, ListMemberships
//   - APIKeyRepository: CreateAPIKey, GetAPIKey, GetAPIKeyByHash, ListAPIKeys,
//     RevokeAPIKey, TouchAPIKeys
//   - CaptureRepository: CreateCapture
//
// Store composes all of them together with HealthCheck and Close.
//
// # Backends
//
//	storage/memory   - mutex-guarded maps, used for development and tests
//	storage/postgres - database/sql + lib/pq with primary/replica routing
//	storage/cache    - LRU wrapper for user display data
//
// # Errors
//
// Backends translate their native errors into two sentinels:
//
//	storage.ErrNotFound - a point lookup matched nothing
//	storage.ErrConflict - an insert hit a uniqueness constraint
//
// Uniqueness of the API key hash and of the (workspace, user) membership pair is
// enforced by the backend itself, so concurrent inserts cannot both succeed.
package storage
