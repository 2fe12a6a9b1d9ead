// Package migrations owns the perch database schema. Migrations are
// ordered, idempotent, and applied in individual transactions tracked in
// perch_migrations.
package migrations

import (
	"context"
	"database/sql"

	"github.com/gravitational/trace"

	"github.com/perchsocial/perch/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all perch migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id UUID PRIMARY KEY,
					username VARCHAR(255) NOT NULL UNIQUE,
					email VARCHAR(255) NOT NULL UNIQUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create groups table",
			SQL: `
				CREATE TABLE IF NOT EXISTS groups (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					owner_id UUID NOT NULL REFERENCES users(id),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ
				);

				CREATE UNIQUE INDEX idx_groups_name_live ON groups(name) WHERE deleted_at IS NULL;
				CREATE INDEX idx_groups_owner_id ON groups(owner_id);
			`,
		},
		{
			Version:     3,
			Description: "Create group_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS group_members (
					group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (group_id, user_id)
				);

				CREATE INDEX idx_group_members_user_id ON group_members(user_id);
			`,
		},
		{
			Version:     4,
			Description: "Create group_edges table",
			SQL: `
				CREATE TABLE IF NOT EXISTS group_edges (
					parent_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
					child_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
					PRIMARY KEY (parent_id, child_id),
					CHECK (parent_id <> child_id)
				);

				CREATE INDEX idx_group_edges_child_id ON group_edges(child_id);
			`,
		},
		{
			Version:     5,
			Description: "Create posts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS posts (
					id UUID PRIMARY KEY,
					author_id UUID NOT NULL REFERENCES users(id),
					parent_id UUID REFERENCES posts(id),
					content TEXT NOT NULL,
					category VARCHAR(255) NOT NULL DEFAULT '',
					tags TEXT[] NOT NULL DEFAULT '{}',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_posts_author_id ON posts(author_id);
				CREATE INDEX idx_posts_parent_id ON posts(parent_id);
				CREATE INDEX idx_posts_created_at ON posts(created_at DESC);
			`,
		},
		{
			Version:     6,
			Description: "Create permission_records table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permission_records (
					post_id UUID NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
					kind VARCHAR(10) NOT NULL CHECK (kind IN ('view', 'edit')),
					inherit BOOLEAN NOT NULL DEFAULT FALSE,
					entities UUID[] NOT NULL DEFAULT '{}',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (post_id, kind)
				);

				CREATE INDEX idx_permission_records_entities ON permission_records USING GIN (entities);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS perch_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return trace.Wrap(err, "failed to create migrations table")
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM perch_migrations ORDER BY version")
	if err != nil {
		return trace.Wrap(err, "failed to query applied migrations")
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return trace.Wrap(err, "failed to scan migration version")
		}
		appliedVersions[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return trace.Wrap(err)
	}

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("applying migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return trace.ConnectionProblem(err, "failed to start migration transaction")
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return trace.Wrap(err, "failed to execute migration %d", migration.Version)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO perch_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return trace.Wrap(err, "failed to record migration %d", migration.Version)
		}

		if err := tx.Commit(); err != nil {
			return trace.Wrap(err, "failed to commit migration %d", migration.Version)
		}
	}

	return nil
}
