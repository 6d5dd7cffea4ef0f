package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// Migration is one schema step with its inverse
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// MigrationStatus reports whether a known migration has been applied
type MigrationStatus struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
}

// ErrNothingToRollback is returned by Rollback on an empty schema
var ErrNothingToRollback = errors.New("no applied migrations")

type migrator struct {
	conn   *sql.DB
	driver string
	steps  []Migration
}

func newMigrator(conn *sql.DB, driver string) (*migrator, error) {
	var steps []Migration
	switch driver {
	case "postgres":
		steps = slices.Clone(postgresMigrations)
	case "sqlite":
		steps = slices.Clone(sqliteMigrations)
	default:
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
	slices.SortFunc(steps, func(a, b Migration) int { return a.Version - b.Version })

	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	return &migrator{conn: conn, driver: driver, steps: steps}, nil
}

// applied returns the recorded versions
func (m *migrator) applied() (map[int]bool, error) {
	rows, err := m.conn.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		done[v] = true
	}
	return done, rows.Err()
}

// exec runs a migration body and the bookkeeping statement in one transaction
func (m *migrator) exec(body, record string, args ...any) error {
	tx, err := m.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(body); err != nil {
		return err
	}
	if _, err := tx.Exec(rebind(m.driver, record), args...); err != nil {
		return fmt.Errorf("schema_migrations: %w", err)
	}
	return tx.Commit()
}

// Migrate applies every migration not yet recorded, lowest version first
func Migrate(conn *sql.DB, driver string) error {
	m, err := newMigrator(conn, driver)
	if err != nil {
		return err
	}
	done, err := m.applied()
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	for _, step := range m.steps {
		if done[step.Version] {
			continue
		}
		err := m.exec(step.Up, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)", step.Version, step.Name)
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", step.Version, step.Name, err)
		}
		slog.Info("applied migration", "version", step.Version, "name", step.Name, "driver", driver)
	}
	return nil
}

// Rollback reverts the highest applied migration and returns it
func Rollback(conn *sql.DB, driver string) (Migration, error) {
	m, err := newMigrator(conn, driver)
	if err != nil {
		return Migration{}, err
	}
	done, err := m.applied()
	if err != nil {
		return Migration{}, fmt.Errorf("failed to read applied migrations: %w", err)
	}

	for i := len(m.steps) - 1; i >= 0; i-- {
		step := m.steps[i]
		if !done[step.Version] {
			continue
		}
		if err := m.exec(step.Down, "DELETE FROM schema_migrations WHERE version = ?", step.Version); err != nil {
			return Migration{}, fmt.Errorf("rollback %d (%s): %w", step.Version, step.Name, err)
		}
		slog.Info("rolled back migration", "version", step.Version, "name", step.Name, "driver", driver)
		return step, nil
	}
	return Migration{}, ErrNothingToRollback
}

// GetMigrationStatus lists every known migration for the driver
func GetMigrationStatus(conn *sql.DB, driver string) ([]MigrationStatus, error) {
	m, err := newMigrator(conn, driver)
	if err != nil {
		return nil, err
	}
	done, err := m.applied()
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, len(m.steps))
	for i, step := range m.steps {
		out[i] = MigrationStatus{Version: step.Version, Name: step.Name, Applied: done[step.Version]}
	}
	return out, nil
}

// Migrations reports the schema state of this connection
func (db *DB) Migrations() ([]MigrationStatus, error) {
	return GetMigrationStatus(db.conn, db.driver)
}

// RollbackLast reverts the newest applied migration
func (db *DB) RollbackLast() (Migration, error) {
	return Rollback(db.conn, db.driver)
}
