// Package database owns the sqlx connection pool and migration runner,
// referenced from internal/app/application.go as database.NewConnection
// / database.RunMigrations, built on jmoiron/sqlx + lib/pq +
// golang-migrate/migrate/v4.
package database

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/bentbr/r_data_core_go/internal/infrastructure/config"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewConnection opens and pings a PostgreSQL connection pool configured
// per cfg.
func NewConnection(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, rerrors.Database("connect", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, rerrors.Database("ping", err)
	}

	return db, nil
}

// MigrationError distinguishes a failed migration run (CLI exit code 2,
//) from a generic startup failure (exit code 1).
type MigrationError struct{ Err error }

func (e *MigrationError) Error() string { return fmt.Sprintf("migration failed: %v", e.Err) }
func (e *MigrationError) Unwrap() error { return e.Err }

// RunMigrations applies every pending migration embedded under
// migrations/. It is idempotent: running it again against an
// up-to-date schema is a no-op.
func RunMigrations(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return &MigrationError{Err: err}
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return &MigrationError{Err: err}
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return &MigrationError{Err: err}
	}

	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return &MigrationError{Err: srcErr}
	}
	if dbErr != nil {
		return &MigrationError{Err: dbErr}
	}
	return nil
}

// Stats is a thin alias kept for call sites that only need the
// driver-level pool stats (mirrors sql.DBStats).
type Stats = sql.DBStats
