package database

import (
	"database/sql"
	"fmt"
)

// getSchemaVersion reads PRAGMA user_version from the database.
func getSchemaVersion(conn *sql.DB) (int, error) {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// migrate brings the database schema up to the latest version and returns the
// migrations it applied. PRAGMA user_version tracks what has already run.
func migrate(conn *sql.DB) ([]Migration, error) {
	current, err := getSchemaVersion(conn)
	if err != nil {
		return nil, err
	}
	if current >= latestVersion() {
		return nil, nil
	}

	var applied []Migration
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := conn.Begin()
		if err != nil {
			return applied, fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if err := m.Up(tx); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		// user_version is set outside the transaction for modernc/sqlite; the
		// DDL is idempotent so a crash here re-runs the step.
		if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			return applied, fmt.Errorf("setting version %d: %w", m.Version, err)
		}
		applied = append(applied, m)
	}

	return applied, nil
}
