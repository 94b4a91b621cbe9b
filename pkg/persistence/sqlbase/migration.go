// Package sqlbase holds the pieces shared by the SQL persistence backends.
package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// migrationLockID is the advisory lock held while migrating, so an API and a
// worker starting together do not apply the same version twice.
const migrationLockID = 7_341_022

// Migrator applies numbered schema scripts in order and records each one in
// schema_migrations.
type Migrator struct {
	db      *sql.DB
	logger  *slog.Logger
	scripts map[int]string
}

func NewMigrator(logger *slog.Logger, db *sql.DB, scripts map[int]string) *Migrator {
	return &Migrator{
		db:      db,
		logger:  logger.With("component", "migrator"),
		scripts: scripts,
	}
}

// Target is the highest known version.
func (m *Migrator) Target() int {
	if len(m.scripts) == 0 {
		return 0
	}

	return slices.Max(slices.Collect(maps.Keys(m.scripts)))
}

// Pending lists the versions newer than applied, ascending.
func (m *Migrator) Pending(applied int) []int {
	var pending []int

	for _, version := range slices.Sorted(maps.Keys(m.scripts)) {
		if version > applied {
			pending = append(pending, version)
		}
	}

	return pending
}

// Up brings the schema to Target.
func (m *Migrator) Up(ctx context.Context) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to reserve migration connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("failed to take migration lock: %w", err)
	}

	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			m.logger.WarnContext(ctx, "Failed to release migration lock", "error", err)
		}
	}()

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var applied int
	if err := conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&applied); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	pending := m.Pending(applied)
	if len(pending) == 0 {
		m.logger.DebugContext(ctx, "Schema is up to date", "version", applied)

		return nil
	}

	for _, version := range pending {
		if err := m.apply(ctx, conn, version); err != nil {
			return err
		}
	}

	m.logger.InfoContext(ctx, "Schema migrated", "from", applied, "to", m.Target())

	return nil
}

func (m *Migrator) apply(ctx context.Context, conn *sql.Conn, version int) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: %w", version, err)
	}

	if _, err := tx.ExecContext(ctx, m.scripts[version]); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("migration %d: %w", version, err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("migration %d: failed to record version: %w", version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %d: %w", version, err)
	}

	m.logger.InfoContext(ctx, "Applied migration", "version", version)

	return nil
}
