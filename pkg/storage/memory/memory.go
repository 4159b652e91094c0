// Package memory provides an in-process storage.Store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/storage"
)

type membershipKey struct {
	workspaceID string
	userID      string
}

// Store keeps every record in maps guarded by a single RWMutex. Values are
// copied on the way in and out so callers never share state with the store.
type Store struct {
	mu          sync.RWMutex
	users       map[string]auth.User
	workspaces  map[string]auth.Workspace
	memberships map[membershipKey]auth.Membership
	keys        map[string]auth.APIKey
	keysByHash  map[string]string // hash -> key id
	captures    map[string]storage.Capture
}

// New creates an empty store
func New() *Store {
	return &Store{
		users:       make(map[string]auth.User),
		workspaces:  make(map[string]auth.Workspace),
		memberships: make(map[membershipKey]auth.Membership),
		keys:        make(map[string]auth.APIKey),
		keysByHash:  make(map[string]string),
		captures:    make(map[string]storage.Capture),
	}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) GetUser(_ context.Context, id string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

func (s *Store) CreateUser(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.ID]; exists {
		return fmt.Errorf("user %s: %w", user.ID, storage.ErrConflict)
	}
	s.users[user.ID] = *user
	return nil
}

func (s *Store) GetWorkspace(_ context.Context, id string) (*auth.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &ws, nil
}

func (s *Store) CreateWorkspace(_ context.Context, ws *auth.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workspaces[ws.ID]; exists {
		return fmt.Errorf("workspace %s: %w", ws.ID, storage.ErrConflict)
	}
	if ws.Slug != "" {
		for _, other := range s.workspaces {
			if other.Slug == ws.Slug {
				return fmt.Errorf("workspace slug %s: %w", ws.Slug, storage.ErrConflict)
			}
		}
	}
	s.workspaces[ws.ID] = *ws
	return nil
}

func (s *Store) SetWorkspaceDisabled(_ context.Context, id string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[id]
	if !ok {
		return storage.ErrNotFound
	}
	ws.Disabled = disabled
	s.workspaces[id] = ws
	return nil
}

func (s *Store) GetMembership(_ context.Context, workspaceID, userID string) (*auth.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[membershipKey{workspaceID, userID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &m, nil
}

func (s *Store) CreateMembership(_ context.Context, m *auth.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := membershipKey{m.WorkspaceID, m.UserID}
	if _, exists := s.memberships[k]; exists {
		return fmt.Errorf("membership %s/%s: %w", m.WorkspaceID, m.UserID, storage.ErrConflict)
	}
	stored := *m
	stored.Workspace = nil
	s.memberships[k] = stored
	return nil
}

func (s *Store) ListMemberships(_ context.Context, workspaceID string) ([]*auth.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*auth.Membership
	for k, m := range s.memberships {
		if k.workspaceID == workspaceID {
			m := m
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *Store) ProvisionPersonalWorkspace(_ context.Context, user *auth.User, ws *auth.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workspaces[ws.ID]; exists {
		return fmt.Errorf("workspace %s: %w", ws.ID, storage.ErrConflict)
	}
	now := time.Now().UTC()
	if _, exists := s.users[user.ID]; !exists {
		if user.CreatedAt.IsZero() {
			user.CreatedAt = now
		}
		s.users[user.ID] = *user
	}
	ws.Kind = auth.WorkspaceKindPersonal
	ws.OwnerID = user.ID
	if ws.Plan == "" {
		ws.Plan = auth.PlanFree
	}
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = now
	}
	s.workspaces[ws.ID] = *ws
	s.memberships[membershipKey{ws.ID, user.ID}] = auth.Membership{
		WorkspaceID: ws.ID,
		UserID:      user.ID,
		Role:        auth.RoleOwner,
		JoinedAt:    now,
	}
	return nil
}

func copyKey(k auth.APIKey) *auth.APIKey {
	k.Scopes = append([]auth.Scope(nil), k.Scopes...)
	return &k
}

func (s *Store) CreateAPIKey(_ context.Context, key *auth.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[key.ID]; exists {
		return fmt.Errorf("api key %s: %w", key.ID, storage.ErrConflict)
	}
	if _, exists := s.keysByHash[key.KeyHash]; exists {
		return fmt.Errorf("api key hash: %w", storage.ErrConflict)
	}
	s.keys[key.ID] = *copyKey(*key)
	s.keysByHash[key.KeyHash] = key.ID
	return nil
}

func (s *Store) GetAPIKey(_ context.Context, id string) (*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyKey(k), nil
}

func (s *Store) GetAPIKeyByHash(_ context.Context, hash string) (*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.keysByHash[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyKey(s.keys[id]), nil
}

func (s *Store) ListAPIKeys(_ context.Context, workspaceID string) ([]*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*auth.APIKey
	for _, k := range s.keys {
		if k.WorkspaceID == workspaceID {
			out = append(out, copyKey(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) RevokeAPIKey(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if k.RevokedAt != nil {
		return false, nil
	}
	k.RevokedAt = &at
	s.keys[id] = k
	return true, nil
}

func (s *Store) TouchAPIKeys(_ context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		k, ok := s.keys[id]
		if !ok {
			continue
		}
		if k.LastUsedAt == nil || at.After(*k.LastUsedAt) {
			t := at
			k.LastUsedAt = &t
			s.keys[id] = k
		}
	}
	return nil
}

func (s *Store) CreateCapture(_ context.Context, c *storage.Capture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.captures[c.ID]; exists {
		return fmt.Errorf("capture %s: %w", c.ID, storage.ErrConflict)
	}
	stored := *c
	stored.Tags = append([]string(nil), c.Tags...)
	s.captures[c.ID] = stored
	return nil
}

// Captures returns every stored capture for a workspace
func (s *Store) Captures(workspaceID string) []storage.Capture {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.Capture
	for _, c := range s.captures {
		if c.WorkspaceID == workspaceID {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) HealthCheck(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
