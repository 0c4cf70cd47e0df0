package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/sv-explore/internal/store/migrations"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // migrate driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
)

// Migrate applies the embedded schema to the database at dsn.
// direction is "up" or "down"; steps 0 means all.
func Migrate(dsn, direction string, steps int) error {
	if dsn == "" {
		return fmt.Errorf("migrate: %w: empty DSN", ErrNotConfigured)
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			slog.Warn("failed to close migrate", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	switch direction {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		return fmt.Errorf("unknown migration direction %q", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("Schema already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}

	version, dirty, verr := m.Version()
	if verr == nil {
		slog.Info("Schema migrated", "direction", direction, "version", version, "dirty", dirty)
	}
	return nil
}

// EnsureDatabase creates database name through the maintenance connection at
// maintenanceDSN when it does not exist yet.
func EnsureDatabase(ctx context.Context, maintenanceDSN, name string) (bool, error) {
	db, err := sql.Open("postgres", maintenanceDSN)
	if err != nil {
		return false, fmt.Errorf("open maintenance database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Warn("failed to close maintenance database", "error", closeErr)
		}
	}()
	return ensureDatabase(ctx, db, name)
}

func ensureDatabase(ctx context.Context, db *sql.DB, name string) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("ensure database: %w: empty name", ErrNotConfigured)
	}

	var exists int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM pg_catalog.pg_database WHERE datname = $1`, name).Scan(&exists)
	if err == nil {
		slog.Info("Database already exists", "database", name)
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("check database: %w", err)
	}

	if _, err := db.ExecContext(ctx, `CREATE DATABASE `+pq.QuoteIdentifier(name)); err != nil {
		return false, fmt.Errorf("create database: %w", err)
	}
	slog.Info("Database created", "database", name)
	return true, nil
}
