// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

// Package store wraps the embedded SQLite database that backs the plugin
// host's core entities and every plugin-owned table (§4.1).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// Store provides atomic parameterized statements and multi-statement
// transactions against a single embedded database file (§4.1). SQLite
// allows exactly one writer at a time; Store serializes all writes through
// a single mutex and retries transient SQLITE_BUSY errors with bounded
// backoff. Reads do not take that mutex, but the pool holds a single
// connection, so reads and writes still run one statement at a time.
type Store struct {
	db       *sql.DB
	writerMu sync.Mutex
}

// Open opens (creating if necessary) the SQLite database file at path and
// enables foreign key enforcement, which SQLite disables by default.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, oops.Code("INTERNAL").With("path", path).Wrap(err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writer connections
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, oops.Code("INTERNAL").With("operation", "enable foreign keys").Wrap(err)
	}

	return &Store{db: db}, nil
}

// DB returns the underlying *sql.DB, for use by the migration driver.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return oops.Code("INTERNAL").Wrap(err)
	}
	return nil
}

// busyRetry bounds how long Exec/Transaction will retry a SQLITE_BUSY
// contention error before giving up.
func busyRetry() retry.Backoff {
	b := retry.NewExponential(20 * time.Millisecond)
	return retry.WithMaxRetries(5, retry.WithCappedDuration(500*time.Millisecond, b))
}

func isBusy(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SQLITE_BUSY")
}

// Exec runs a single parameterized statement, retrying on writer
// contention.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	var result sql.Result
	err := retry.Do(ctx, busyRetry(), func(ctx context.Context) error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		if isBusy(execErr) {
			return retry.RetryableError(execErr)
		}
		return execErr
	})
	if err != nil {
		return nil, oops.Code("INTERNAL").With("query", query).Wrap(err)
	}
	return result, nil
}

// Query runs a parameterized read query. Reads are not serialized behind
// the writer mutex; they wait only for the pool's single connection.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, oops.Code("INTERNAL").With("query", query).Wrap(err)
	}
	return rows, nil
}

// Transaction runs fn within a single database transaction, retrying the
// whole transaction on writer contention. fn's error, if non-nil, aborts
// and rolls back the transaction and is returned unwrapped so callers can
// inspect typed errors produced inside fn.
func (s *Store) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	return retry.Do(ctx, busyRetry(), func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			if isBusy(err) {
				return retry.RetryableError(err)
			}
			return oops.Code("INTERNAL").Wrap(err)
		}

		if fnErr := fn(tx); fnErr != nil {
			_ = tx.Rollback()
			if isBusy(fnErr) {
				return retry.RetryableError(fnErr)
			}
			return fnErr
		}

		if err := tx.Commit(); err != nil {
			if isBusy(err) {
				return retry.RetryableError(err)
			}
			return oops.Code("INTERNAL").Wrap(err)
		}
		return nil
	})
}

// Columns returns table's columns as a map of name to declared SQL type
// (upper-cased, as SQLite stored it), via PRAGMA table_info, so reads can
// always project every column including ones added by plugins after the
// caller last looked (§3 invariant 5), and callers that need to reason
// about type affinity (e.g. rejecting a numeric filter against a TEXT
// column) don't need a second round-trip.
func (s *Store) Columns(ctx context.Context, table string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, oops.Code("INTERNAL").With("table", table).Wrap(err)
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return nil, oops.Code("INTERNAL").Wrap(err)
		}
		cols[name] = strings.ToUpper(ctype)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("INTERNAL").Wrap(err)
	}
	if len(cols) == 0 {
		return nil, oops.Code("NOT_FOUND").With("table", table).Errorf("table %q does not exist", table)
	}
	return cols, nil
}

// TableExists reports whether table is a real table in the database.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("INTERNAL").Wrap(err)
	}
	return true, nil
}
