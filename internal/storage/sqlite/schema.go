package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// migration is one versioned step of the journal schema
type migration struct {
	version     int
	description string
	up          string
}

// journalMigrations lists every schema step. Versions only ever grow;
// released steps are never edited.
var journalMigrations = []migration{
	{
		version:     1,
		description: "monitor events journal",
		up: `
CREATE TABLE IF NOT EXISTS monitor_events (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    timestamp DATETIME NOT NULL,
    state_id TEXT NOT NULL DEFAULT '',
    dimension TEXT NOT NULL DEFAULT '',
    severity TEXT NOT NULL CHECK(severity IN ('info', 'warning', 'error', 'critical')),
    message TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_monitor_events_timestamp ON monitor_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(type);
CREATE INDEX IF NOT EXISTS idx_monitor_events_state ON monitor_events(state_id);
CREATE INDEX IF NOT EXISTS idx_monitor_events_dimension ON monitor_events(dimension);
`,
	},
	{
		version:     2,
		description: "severity/timestamp index for retention cleanup",
		up: `
CREATE INDEX IF NOT EXISTS idx_monitor_events_severity_timestamp ON monitor_events(severity, timestamp);
`,
	},
}

// LatestSchemaVersion is the version a freshly opened journal ends up at
func LatestSchemaVersion() int {
	latest := 0
	for _, m := range journalMigrations {
		if m.version > latest {
			latest = m.version
		}
	}
	return latest
}

// migrate applies every pending migration in version order, each in its
// own transaction
func migrate(ctx context.Context, db *sql.DB, migrations []migration) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create version table: %w", err)
	}

	current, err := schemaVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	pending := make([]migration, 0, len(migrations))
	for _, m := range migrations {
		if m.version > current {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })

	for _, m := range pending {
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.version, m.description, err)
		}
	}
	return nil
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	return version, err
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.up); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)",
		m.version, m.description, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

// SchemaVersion returns the applied schema version of the journal
func (j *Journal) SchemaVersion(ctx context.Context) (int, error) {
	return schemaVersion(ctx, j.db)
}
