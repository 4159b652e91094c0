package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users and workspaces tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					email VARCHAR(320),
					verified_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS workspaces (
					id UUID PRIMARY KEY,
					kind VARCHAR(16) NOT NULL CHECK (kind IN ('personal', 'shared')),
					plan VARCHAR(16) NOT NULL DEFAULT 'free',
					name VARCHAR(255) NOT NULL,
					slug VARCHAR(255) UNIQUE,
					owner_id UUID NOT NULL REFERENCES users(id),
					disabled BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_workspaces_owner_id ON workspaces(owner_id);
			`,
		},
		{
			Version:     2,
			Description: "Create workspace_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS workspace_members (
					workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role VARCHAR(16) NOT NULL CHECK (role IN ('owner', 'admin', 'editor', 'viewer')),
					invited_by UUID REFERENCES users(id) ON DELETE SET NULL,
					invited_at TIMESTAMPTZ,
					joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (workspace_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_workspace_members_user_id ON workspace_members(user_id);
			`,
		},
		{
			Version:     3,
			Description: "Create api_keys table",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_keys (
					id UUID PRIMARY KEY,
					workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					user_id UUID NOT NULL REFERENCES users(id),
					name VARCHAR(100) NOT NULL,
					device VARCHAR(100) NOT NULL DEFAULT 'unknown',
					key_hash CHAR(64) NOT NULL UNIQUE,
					key_prefix VARCHAR(16) NOT NULL,
					scopes JSONB NOT NULL DEFAULT '[]',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					last_used_at TIMESTAMPTZ,
					revoked_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_api_keys_workspace_id ON api_keys(workspace_id);
			`,
		},
		{
			Version:     4,
			Description: "Create captures table",
			SQL: `
				CREATE TABLE IF NOT EXISTS captures (
					id UUID PRIMARY KEY,
					workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
					user_id UUID NOT NULL REFERENCES users(id),
					api_key_id UUID REFERENCES api_keys(id),
					url TEXT NOT NULL,
					title TEXT,
					content TEXT,
					tags JSONB NOT NULL DEFAULT '[]',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_captures_workspace_id ON captures(workspace_id, created_at DESC);
			`,
		},
		{
			Version:     5,
			Description: "Create audit_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					event_type VARCHAR(64) NOT NULL,
					status VARCHAR(16) NOT NULL,
					user_id UUID,
					workspace_id UUID,
					api_key_id UUID,
					resource_type VARCHAR(32),
					resource_id VARCHAR(255),
					ip_address VARCHAR(64),
					user_agent TEXT,
					request_id VARCHAR(64),
					method VARCHAR(16),
					path TEXT,
					status_code INTEGER,
					message TEXT,
					error_message TEXT,
					metadata JSONB
				);

				CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
				CREATE INDEX IF NOT EXISTS idx_audit_events_workspace_id ON audit_events(workspace_id);
			`,
		},
	}
}

// Migrate applies every migration newer than the recorded schema version.
// Each migration runs in its own transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range GetMigrations() {
		if m.Version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`,
		m.Version, m.Description); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
	}
	return nil
}
