package access

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

// GetMigrations returns the access schema migrations. The DDL sticks to the
// dialect subset shared by postgres and sqlite; partial unique indexes carry
// the one-active-grant-per-type invariant on both.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create territory_memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS territory_memberships (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					territory_id TEXT NOT NULL,
					role TEXT NOT NULL,
					verification TEXT NOT NULL,
					verified_at TIMESTAMP,
					granted_at TIMESTAMP NOT NULL,
					granted_by TEXT NOT NULL,
					grant_reason TEXT NOT NULL DEFAULT '',
					revoked_at TIMESTAMP,
					revoked_by TEXT
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_memberships_active
					ON territory_memberships(user_id, territory_id)
					WHERE revoked_at IS NULL;
				CREATE INDEX IF NOT EXISTS idx_memberships_user_id
					ON territory_memberships(user_id);
				CREATE INDEX IF NOT EXISTS idx_memberships_territory_id
					ON territory_memberships(territory_id);
			`,
		},
		{
			Version:     2,
			Description: "Create membership_capabilities table",
			SQL: `
				CREATE TABLE IF NOT EXISTS membership_capabilities (
					id TEXT PRIMARY KEY,
					membership_id TEXT NOT NULL REFERENCES territory_memberships(id),
					type TEXT NOT NULL,
					granted_by_membership TEXT NOT NULL,
					granted_at TIMESTAMP NOT NULL,
					granted_by TEXT NOT NULL,
					grant_reason TEXT NOT NULL DEFAULT '',
					revoked_at TIMESTAMP,
					revoked_by TEXT
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_capabilities_active
					ON membership_capabilities(membership_id, type)
					WHERE revoked_at IS NULL;
				CREATE INDEX IF NOT EXISTS idx_capabilities_membership_id
					ON membership_capabilities(membership_id);
			`,
		},
		{
			Version:     3,
			Description: "Create system_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS system_permissions (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					type TEXT NOT NULL,
					granted_at TIMESTAMP NOT NULL,
					granted_by TEXT NOT NULL,
					grant_reason TEXT NOT NULL DEFAULT '',
					revoked_at TIMESTAMP,
					revoked_by TEXT
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_permissions_active
					ON system_permissions(user_id, type)
					WHERE revoked_at IS NULL;
				CREATE INDEX IF NOT EXISTS idx_permissions_user_id
					ON system_permissions(user_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS access_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM access_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO access_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
