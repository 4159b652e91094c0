package auth

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// Role represents a workspace-level role
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Ranks are persisted alongside memberships; never reorder them.
var roleRanks = map[Role]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

// Rank returns the ordinal privilege of a role, 0 for unknown roles
func (r Role) Rank() int {
	return roleRanks[r]
}

// IsValid reports whether the role is one of the four known roles
func (r Role) IsValid() bool {
	return r.Rank() > 0
}

// ParseRole converts a stored or user-supplied string into a Role
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Roles returns all roles ordered from least to most privileged
func Roles() []Role {
	return []Role{RoleViewer, RoleEditor, RoleAdmin, RoleOwner}
}

// CanAccess reports whether acting may perform operations that require at
// least the required role.
func CanAccess(acting, required Role) bool {
	if !acting.IsValid() || !required.IsValid() {
		return false
	}
	return acting.Rank() >= required.Rank()
}

// Permission is a named capability from the closed catalog
type Permission string

const (
	PermIdeasRead         Permission = "ideas:read"
	PermIdeasWrite        Permission = "ideas:write"
	PermIdeasDelete       Permission = "ideas:delete"
	PermClipperWrite      Permission = "clipper:write"
	PermWorkspaceRead     Permission = "workspace:read"
	PermWorkspaceAdmin    Permission = "workspace:admin"
	PermWorkspaceDelete   Permission = "workspace:delete"
	PermWorkspaceTransfer Permission = "workspace:transfer"
	PermMembersRead       Permission = "members:read"
	PermMembersManage     Permission = "members:manage"
	PermAPIKeysRead       Permission = "apikeys:read"
	PermAPIKeysManage     Permission = "apikeys:manage"
)

// grants lists what each role adds on top of the role ranked below it.
// The per-role tables are derived from it, so a higher role always holds
// everything a lower one does.
var grants = []struct {
	role  Role
	perms []Permission
}{
	{RoleViewer, []Permission{PermIdeasRead, PermWorkspaceRead}},
	{RoleEditor, []Permission{PermIdeasWrite, PermIdeasDelete, PermClipperWrite, PermMembersRead}},
	{RoleAdmin, []Permission{PermWorkspaceAdmin, PermMembersManage, PermAPIKeysRead, PermAPIKeysManage}},
	{RoleOwner, []Permission{PermWorkspaceDelete, PermWorkspaceTransfer}},
}

var rolePermissions = buildRolePermissions()

func buildRolePermissions() map[Role]map[Permission]struct{} {
	tables := make(map[Role]map[Permission]struct{}, len(grants))
	acc := make(map[Permission]struct{})
	for _, g := range grants {
		for _, p := range g.perms {
			acc[p] = struct{}{}
		}
		set := make(map[Permission]struct{}, len(acc))
		for p := range acc {
			set[p] = struct{}{}
		}
		tables[g.role] = set
	}
	return tables
}

// HasPermission reports whether role holds perm
func HasPermission(role Role, perm Permission) bool {
	set, ok := rolePermissions[role]
	if !ok {
		return false
	}
	_, ok = set[perm]
	return ok
}

// RolePermissions returns the sorted permission set of a role. Use it for
// introspection; enforcement goes through HasPermission.
func RolePermissions(role Role) []Permission {
	set := rolePermissions[role]
	perms := make([]Permission, 0, len(set))
	for p := range set {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}

// AllPermissions returns every permission in the catalog
func AllPermissions() []Permission {
	return RolePermissions(RoleOwner)
}

// IsKnownPermission reports whether perm is in the catalog
func IsKnownPermission(perm Permission) bool {
	return HasPermission(RoleOwner, perm)
}

// readIntent holds the permissions that remain usable on a disabled workspace
var readIntent = map[Permission]struct{}{
	PermIdeasRead:     {},
	PermWorkspaceRead: {},
	PermMembersRead:   {},
	PermAPIKeysRead:   {},
}

// IsWriteIntent reports whether perm mutates workspace data
func IsWriteIntent(perm Permission) bool {
	_, ok := readIntent[perm]
	return !ok
}

// Scope is a capability string granted to an API key
type Scope string

const (
	ScopeClipperWrite  Scope = "clipper:write"
	ScopeWorkspaceRead Scope = "workspace:read"
	ScopeIdeasRead     Scope = "ideas:read"
	ScopeIdeasWrite    Scope = "ideas:write"
)

// KnownScopes returns the built-in scopes an API key may be granted
func KnownScopes() []Scope {
	return []Scope{ScopeClipperWrite, ScopeWorkspaceRead, ScopeIdeasRead, ScopeIdeasWrite}
}

// ScopeCatalog validates requested scopes at issuance time. Extra scopes can be
// swapped in at runtime; built-in scopes are always present.
type ScopeCatalog struct {
	extra atomic.Pointer[map[Scope]struct{}]
}

// NewScopeCatalog creates a catalog containing the built-in scopes plus extra
func NewScopeCatalog(extra ...Scope) *ScopeCatalog {
	c := &ScopeCatalog{}
	c.SetExtra(extra)
	return c
}

// SetExtra atomically replaces the set of additional scopes
func (c *ScopeCatalog) SetExtra(extra []Scope) {
	set := make(map[Scope]struct{}, len(extra))
	for _, s := range extra {
		s = Scope(strings.TrimSpace(string(s)))
		if s != "" {
			set[s] = struct{}{}
		}
	}
	c.extra.Store(&set)
}

// IsKnown reports whether scope may be granted
func (c *ScopeCatalog) IsKnown(scope Scope) bool {
	for _, s := range KnownScopes() {
		if s == scope {
			return true
		}
	}
	if c == nil {
		return false
	}
	extra := c.extra.Load()
	if extra == nil {
		return false
	}
	_, ok := (*extra)[scope]
	return ok
}

// Scopes returns every grantable scope, sorted
func (c *ScopeCatalog) Scopes() []Scope {
	seen := make(map[Scope]struct{})
	for _, s := range KnownScopes() {
		seen[s] = struct{}{}
	}
	if c != nil {
		if extra := c.extra.Load(); extra != nil {
			for s := range *extra {
				seen[s] = struct{}{}
			}
		}
	}
	out := make([]Scope, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Normalize validates and deduplicates a requested scope list, preserving order
func (c *ScopeCatalog) Normalize(scopes []Scope) ([]Scope, error) {
	if len(scopes) == 0 {
		return nil, NewValidationError("scopes_required", "at least one scope is required", nil)
	}
	seen := make(map[Scope]struct{}, len(scopes))
	out := make([]Scope, 0, len(scopes))
	for _, s := range scopes {
		s = Scope(strings.TrimSpace(string(s)))
		if !c.IsKnown(s) {
			return nil, NewValidationError("unknown_scope", fmt.Sprintf("unknown scope %q", s),
				map[string]string{"scope": string(s)})
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}
