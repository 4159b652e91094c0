package storage

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/ideahub/pkg/auth"
)

var (
	// ErrNotFound is returned by point lookups that match no row
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert violates a uniqueness constraint
	ErrConflict = errors.New("already exists")
)

// UserRepository looks up and creates users
type UserRepository interface {
	GetUser(ctx context.Context, id string) (*auth.User, error)
	CreateUser(ctx context.Context, user *auth.User) error
}

// WorkspaceRepository looks up and mutates workspaces
type WorkspaceRepository interface {
	GetWorkspace(ctx context.Context, id string) (*auth.Workspace, error)
	CreateWorkspace(ctx context.Context, ws *auth.Workspace) error
	SetWorkspaceDisabled(ctx context.Context, id string, disabled bool) error
}

// MembershipRepository maps (workspace, user) to a role. CreateMembership must
// fail with ErrConflict when the pair already exists; implementations enforce
// this with a storage constraint, not a prior read.
type MembershipRepository interface {
	GetMembership(ctx context.Context, workspaceID, userID string) (*auth.Membership, error)
	CreateMembership(ctx context.Context, m *auth.Membership) error
	ListMemberships(ctx context.Context, workspaceID string) ([]*auth.Membership, error)
}

// APIKeyRepository stores API keys. Keys are never deleted; revocation is a patch.
type APIKeyRepository interface {
	CreateAPIKey(ctx context.Context, key *auth.APIKey) error
	GetAPIKey(ctx context.Context, id string) (*auth.APIKey, error)
	GetAPIKeyByHash(ctx context.Context, hash string) (*auth.APIKey, error)
	ListAPIKeys(ctx context.Context, workspaceID string) ([]*auth.APIKey, error)
	// RevokeAPIKey sets revoked_at if it is not already set. It reports
	// whether this call performed the transition.
	RevokeAPIKey(ctx context.Context, id string, at time.Time) (bool, error)
	TouchAPIKeys(ctx context.Context, ids []string, at time.Time) error
}

// Capture is a page captured into a workspace inbox
type Capture struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	UserID      string    `json:"user_id"`
	APIKeyID    string    `json:"api_key_id,omitempty"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Content     string    `json:"content,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CaptureRepository persists captured pages
type CaptureRepository interface {
	CreateCapture(ctx context.Context, c *Capture) error
}

// Provisioner creates a personal workspace and its implicit owner membership atomically
type Provisioner interface {
	ProvisionPersonalWorkspace(ctx context.Context, user *auth.User, ws *auth.Workspace) error
}

// Store bundles every repository a backend provides
type Store interface {
	UserRepository
	WorkspaceRepository
	MembershipRepository
	APIKeyRepository
	CaptureRepository
	Provisioner

	HealthCheck(ctx context.Context) error
	Close() error
}

// Config for storage backend
type Config struct {
	Type string // "memory", "postgres"

	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs string // Comma-separated
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	AutoMigrate         bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// User display cache (never caches memberships, keys or workspaces)
	UserCacheSize int
	UserCacheTTL  time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             "memory",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		RedisURL:         "redis://localhost:6379/0",
		RedisDB:          -1,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		UserCacheSize:    1000,
		UserCacheTTL:     5 * time.Minute,
	}
}
