package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/storage"
)

// PostgreSQL error codes
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Store implements storage.Store on PostgreSQL
type Store struct {
	conns *ConnectionManager
}

var _ storage.Store = (*Store)(nil)

// New creates a store over a connection manager
func New(conns *ConnectionManager) *Store {
	return &Store{conns: conns}
}

// NewFromDB creates a store over a single pool
func NewFromDB(db *sql.DB) *Store {
	return New(NewConnectionManagerFromDB(db))
}

// Open connects according to the storage configuration and optionally migrates
func Open(ctx context.Context, cfg storage.Config, conns *ConnectionManager) (*Store, error) {
	if cfg.AutoMigrate {
		if err := Migrate(ctx, conns.Primary()); err != nil {
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return New(conns), nil
}

// DB returns the primary pool
func (s *Store) DB() *sql.DB {
	return s.conns.Primary()
}

// mapError translates driver errors into storage sentinels
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w", pqErr.Constraint, storage.ErrConflict)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w", pqErr.Constraint, storage.ErrNotFound)
		}
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// insertUnique runs an INSERT ... ON CONFLICT DO NOTHING and reports
// ErrConflict when the constraint swallowed the row
func insertUnique(ctx context.Context, exec execer, what, query string, args ...interface{}) error {
	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", what, mapError(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", what, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, storage.ErrConflict)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Users

func (s *Store) GetUser(ctx context.Context, id string) (*auth.User, error) {
	query := `SELECT id, name, email, verified_at, created_at FROM users WHERE id = $1`

	user := &auth.User{}
	var email sql.NullString
	var verifiedAt sql.NullTime
	err := s.conns.Primary().QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Name, &email, &verifiedAt, &user.CreatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	user.Email = email.String
	user.VerifiedAt = timePtr(verifiedAt)
	return user, nil
}

func (s *Store) CreateUser(ctx context.Context, user *auth.User) error {
	return createUser(ctx, s.conns.Primary(), user)
}

func createUser(ctx context.Context, exec execer, user *auth.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	return insertUnique(ctx, exec, "user", `
		INSERT INTO users (id, name, email, verified_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING`,
		user.ID, user.Name, nullString(user.Email), nullTime(user.VerifiedAt), user.CreatedAt,
	)
}

// Workspaces

func (s *Store) GetWorkspace(ctx context.Context, id string) (*auth.Workspace, error) {
	query := `
		SELECT id, kind, plan, name, slug, owner_id, disabled, created_at
		FROM workspaces
		WHERE id = $1
	`
	ws := &auth.Workspace{}
	var slug sql.NullString
	err := s.conns.Primary().QueryRowContext(ctx, query, id).Scan(
		&ws.ID, &ws.Kind, &ws.Plan, &ws.Name, &slug, &ws.OwnerID, &ws.Disabled, &ws.CreatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	ws.Slug = slug.String
	return ws, nil
}

func (s *Store) CreateWorkspace(ctx context.Context, ws *auth.Workspace) error {
	return createWorkspace(ctx, s.conns.Primary(), ws)
}

func createWorkspace(ctx context.Context, exec execer, ws *auth.Workspace) error {
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = time.Now().UTC()
	}
	if ws.Plan == "" {
		ws.Plan = auth.PlanFree
	}
	return insertUnique(ctx, exec, "workspace", `
		INSERT INTO workspaces (id, kind, plan, name, slug, owner_id, disabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`,
		ws.ID, ws.Kind, ws.Plan, ws.Name, nullString(ws.Slug), ws.OwnerID, ws.Disabled, ws.CreatedAt,
	)
}

func (s *Store) SetWorkspaceDisabled(ctx context.Context, id string, disabled bool) error {
	result, err := s.conns.Primary().ExecContext(ctx,
		`UPDATE workspaces SET disabled = $1 WHERE id = $2`, disabled, id)
	if err != nil {
		return fmt.Errorf("failed to update workspace: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update workspace: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Memberships

func scanMembership(scan func(dest ...interface{}) error) (*auth.Membership, error) {
	m := &auth.Membership{}
	var invitedBy sql.NullString
	var invitedAt sql.NullTime
	if err := scan(&m.WorkspaceID, &m.UserID, &m.Role, &invitedBy, &invitedAt, &m.JoinedAt); err != nil {
		return nil, err
	}
	m.InvitedBy = invitedBy.String
	m.InvitedAt = timePtr(invitedAt)
	return m, nil
}

func (s *Store) GetMembership(ctx context.Context, workspaceID, userID string) (*auth.Membership, error) {
	query := `
		SELECT workspace_id, user_id, role, invited_by, invited_at, joined_at
		FROM workspace_members
		WHERE workspace_id = $1 AND user_id = $2
	`
	m, err := scanMembership(s.conns.Primary().QueryRowContext(ctx, query, workspaceID, userID).Scan)
	if err != nil {
		return nil, mapError(err)
	}
	return m, nil
}

func (s *Store) CreateMembership(ctx context.Context, m *auth.Membership) error {
	return createMembership(ctx, s.conns.Primary(), m)
}

func createMembership(ctx context.Context, exec execer, m *auth.Membership) error {
	if !m.Role.IsValid() {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	return insertUnique(ctx, exec, "membership", `
		INSERT INTO workspace_members (workspace_id, user_id, role, invited_by, invited_at, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`,
		m.WorkspaceID, m.UserID, m.Role, nullString(m.InvitedBy), nullTime(m.InvitedAt), m.JoinedAt,
	)
}

func (s *Store) ListMemberships(ctx context.Context, workspaceID string) ([]*auth.Membership, error) {
	query := `
		SELECT workspace_id, user_id, role, invited_by, invited_at, joined_at
		FROM workspace_members
		WHERE workspace_id = $1
		ORDER BY joined_at ASC
	`
	rows, err := s.conns.Replica().QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*auth.Membership
	for rows.Next() {
		m, err := scanMembership(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ProvisionPersonalWorkspace creates a user (if new), their personal workspace
// and the implicit owner membership in one transaction
func (s *Store) ProvisionPersonalWorkspace(ctx context.Context, user *auth.User, ws *auth.Workspace) error {
	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := createUser(ctx, tx, user); err != nil && !errors.Is(err, storage.ErrConflict) {
		return err
	}
	ws.Kind = auth.WorkspaceKindPersonal
	ws.OwnerID = user.ID
	if err := createWorkspace(ctx, tx, ws); err != nil {
		return err
	}
	owner := &auth.Membership{WorkspaceID: ws.ID, UserID: user.ID, Role: auth.RoleOwner}
	if err := createMembership(ctx, tx, owner); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit provisioning: %w", err)
	}
	return nil
}

// API keys

const apiKeyColumns = `id, workspace_id, user_id, name, device, key_hash, key_prefix, scopes, created_at, last_used_at, revoked_at`

func scanAPIKey(scan func(dest ...interface{}) error) (*auth.APIKey, error) {
	key := &auth.APIKey{}
	var scopes []byte
	var lastUsedAt, revokedAt sql.NullTime
	if err := scan(
		&key.ID, &key.WorkspaceID, &key.UserID, &key.Name, &key.Device,
		&key.KeyHash, &key.KeyPrefix, &scopes, &key.CreatedAt, &lastUsedAt, &revokedAt,
	); err != nil {
		return nil, err
	}
	if len(scopes) > 0 {
		if err := json.Unmarshal(scopes, &key.Scopes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
		}
	}
	key.LastUsedAt = timePtr(lastUsedAt)
	key.RevokedAt = timePtr(revokedAt)
	return key, nil
}

func (s *Store) CreateAPIKey(ctx context.Context, key *auth.APIKey) error {
	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	return insertUnique(ctx, s.conns.Primary(), "api key", `
		INSERT INTO api_keys (id, workspace_id, user_id, name, device, key_hash, key_prefix, scopes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING`,
		key.ID, key.WorkspaceID, key.UserID, key.Name, key.Device, key.KeyHash, key.KeyPrefix, string(scopes), key.CreatedAt,
	)
}

func (s *Store) GetAPIKey(ctx context.Context, id string) (*auth.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1`
	key, err := scanAPIKey(s.conns.Primary().QueryRowContext(ctx, query, id).Scan)
	if err != nil {
		return nil, mapError(err)
	}
	return key, nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*auth.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1`
	key, err := scanAPIKey(s.conns.Primary().QueryRowContext(ctx, query, hash).Scan)
	if err != nil {
		return nil, mapError(err)
	}
	return key, nil
}

func (s *Store) ListAPIKeys(ctx context.Context, workspaceID string) ([]*auth.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE workspace_id = $1 ORDER BY created_at DESC`
	rows, err := s.conns.Replica().QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*auth.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *Store) RevokeAPIKey(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := s.conns.Primary().ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`, at, id)
	if err != nil {
		return false, fmt.Errorf("failed to revoke api key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to revoke api key: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	// Nothing changed: either already revoked or missing.
	var exists int
	err = s.conns.Primary().QueryRowContext(ctx, `SELECT 1 FROM api_keys WHERE id = $1`, id).Scan(&exists)
	if err != nil {
		return false, mapError(err)
	}
	return false, nil
}

func (s *Store) TouchAPIKeys(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	stmt, err := s.conns.Primary().PrepareContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2 AND (last_used_at IS NULL OR last_used_at < $3)`)
	if err != nil {
		return fmt.Errorf("failed to prepare touch: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, at, id, at); err != nil {
			return fmt.Errorf("failed to touch api key %s: %w", id, err)
		}
	}
	return nil
}

// Captures

func (s *Store) CreateCapture(ctx context.Context, c *storage.Capture) error {
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	if c.Tags == nil {
		tags = []byte("[]")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return insertUnique(ctx, s.conns.Primary(), "capture", `
		INSERT INTO captures (id, workspace_id, user_id, api_key_id, url, title, content, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING`,
		c.ID, c.WorkspaceID, c.UserID, nullString(c.APIKeyID), c.URL, nullString(c.Title), nullString(c.Content), string(tags), c.CreatedAt,
	)
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.conns.HealthCheck(ctx)
}

func (s *Store) Close() error {
	return s.conns.Close()
}
