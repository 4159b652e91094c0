package auth

import (
	"time"
)

// User represents an identity that can hold workspace memberships
type User struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// WorkspaceKind distinguishes single-user workspaces from team workspaces
type WorkspaceKind string

const (
	WorkspaceKindPersonal WorkspaceKind = "personal"
	WorkspaceKindShared   WorkspaceKind = "shared"
)

// Plan represents the billing plan of a workspace
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
	PlanTeam Plan = "team"
)

// Workspace is the tenant boundary every permission check is scoped to
type Workspace struct {
	ID        string        `json:"id"`
	Kind      WorkspaceKind `json:"kind"`
	Plan      Plan          `json:"plan"`
	Name      string        `json:"name"`
	Slug      string        `json:"slug,omitempty"`
	OwnerID   string        `json:"owner_id"`
	Disabled  bool          `json:"disabled"`
	CreatedAt time.Time     `json:"created_at"`
}

// Membership binds a user to a workspace with a role
type Membership struct {
	WorkspaceID string     `json:"workspace_id"`
	UserID      string     `json:"user_id"`
	Role        Role       `json:"role"`
	InvitedBy   string     `json:"invited_by,omitempty"`
	InvitedAt   *time.Time `json:"invited_at,omitempty"`
	JoinedAt    time.Time  `json:"joined_at"`

	// Workspace is populated by the guard so callers can inspect the
	// disabled flag without a second lookup.
	Workspace *Workspace `json:"-"`
}

// APIKey represents a long-lived machine credential bound to a workspace
type APIKey struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Device      string     `json:"device"`
	KeyHash     string     `json:"-"` // Never expose in JSON
	KeyPrefix   string     `json:"key_prefix"`
	Scopes      []Scope    `json:"scopes"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// IsActive reports whether the key can still authenticate
func (k *APIKey) IsActive() bool {
	return k.RevokedAt == nil
}

// Redact strips the secret hash from the key
func (k *APIKey) Redact() RedactedAPIKey {
	scopes := make([]Scope, len(k.Scopes))
	copy(scopes, k.Scopes)
	return RedactedAPIKey{
		ID:          k.ID,
		WorkspaceID: k.WorkspaceID,
		UserID:      k.UserID,
		Name:        k.Name,
		Device:      k.Device,
		KeyPrefix:   k.KeyPrefix,
		Scopes:      scopes,
		CreatedAt:   k.CreatedAt,
		LastUsedAt:  k.LastUsedAt,
		RevokedAt:   k.RevokedAt,
	}
}

// RedactedAPIKey is the listing view of an API key. It has no hash field at all,
// so it cannot leak one regardless of how it is serialized.
type RedactedAPIKey struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Device      string     `json:"device"`
	KeyPrefix   string     `json:"key_prefix"`
	Scopes      []Scope    `json:"scopes"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// AuthInfo is the resolved machine identity produced by API key authentication
type AuthInfo struct {
	Key       *APIKey
	User      *User
	Workspace *Workspace
	Scopes    []Scope
}

// HasScope checks if the resolved key was granted a scope
func (a *AuthInfo) HasScope(scope Scope) bool {
	if a == nil {
		return false
	}
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IdentityKind tells downstream code which authentication path produced a context
type IdentityKind string

const (
	IdentitySession IdentityKind = "session"
	IdentityAPIKey  IdentityKind = "api_key"
)

// AuthContext is what downstream handlers receive: either a session identity
// with a role, or a machine identity with scopes.
type AuthContext struct {
	Kind        IdentityKind
	UserID      string
	WorkspaceID string
	Role        Role     // set for session identities once membership is resolved
	Scopes      []Scope  // set for API key identities
	APIKey      *APIKey  // set for API key identities
	Workspace   *Workspace
}
