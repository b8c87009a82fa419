// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package store

import (
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrateIface abstracts golang-migrate for testing, mirroring the
// teacher's own migrate.go: the real library needs an open database,
// which makes unit tests slow and brittle without this seam.
type migrateIface interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, err error)
	Close() (source error, database error)
}

// Migrator applies the host's own core-schema migrations (categories,
// activities, manual_entries, and the plugin-facing ledger tables) — not
// to be confused with the Schema Engine (internal/plugin/schema), which
// applies plugin-declared changes.
type Migrator struct {
	m migrateIface
}

// NewMigrator wraps an already-open Store's database in a golang-migrate
// instance sourced from the embedded migrations directory.
func NewMigrator(s *Store) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.Code("Internal").With("operation", "create migration source").Wrap(err)
	}

	driver, err := newSQLiteDriver(s.DB())
	if err != nil {
		_ = source.Close()
		return nil, oops.Code("Internal").With("operation", "create migration driver").Wrap(err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		_ = source.Close()
		return nil, oops.Code("Internal").With("operation", "initialize migrator").Wrap(err)
	}

	return &Migrator{m: m}, nil
}

// Up applies all pending core-schema migrations.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("Internal").With("operation", "migrate up").Wrap(err)
	}
	return nil
}

// Down rolls back all core-schema migrations. Destructive; intended for
// tests and local development, not production use.
func (m *Migrator) Down() error {
	if err := m.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("Internal").With("operation", "migrate down").Wrap(err)
	}
	return nil
}

// Version reports the current core-schema migration version.
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	version, dirty, err = m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code("Internal").With("operation", "migration version").Wrap(err)
	}
	return version, dirty, nil
}

// Close releases the migrator's resources. The underlying *sql.DB, owned
// by Store, is left open.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	if srcErr != nil {
		return oops.Code("Internal").With("component", "source").Wrap(srcErr)
	}
	if dbErr != nil {
		return oops.Code("Internal").With("component", "database").Wrap(dbErr)
	}
	return nil
}
