// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m, err := NewMigrator(s)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.NoError(t, m.Close())

	return s
}

func TestOpen_EnablesForeignKeys(t *testing.T) {
	s := openTestStore(t)

	var enabled int
	row := s.DB().QueryRowContext(context.Background(), "PRAGMA foreign_keys")
	require.NoError(t, row.Scan(&enabled))
	require.Equal(t, 1, enabled)
}

func TestMigrator_Up_CreatesCoreTables(t *testing.T) {
	s := openTestStore(t)

	for _, table := range []string{"categories", "activities", "manual_entries", "_plugin_schema_applied", "_plugin_auto_timestamps", "_plugin_owned_tables", "_plugin_disabled"} {
		exists, err := s.TableExists(context.Background(), table)
		require.NoError(t, err)
		require.True(t, exists, "expected table %s to exist", table)
	}
}

func TestMigrator_Up_IsIdempotent(t *testing.T) {
	s := openTestStore(t)

	m, err := NewMigrator(s)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Up()) // second Up should be a no-op, not an error
	version, dirty, err := m.Version()
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(2), version)
}

func TestStore_ExecAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Exec(ctx, `INSERT INTO categories (name, color) VALUES (?, ?)`, "Work", "#000000")
	require.NoError(t, err)

	rows, err := s.Query(ctx, `SELECT name, color FROM categories`)
	require.NoError(t, err)
	defer rows.Close()

	require.True(t, rows.Next())
	var name, color string
	require.NoError(t, rows.Scan(&name, &color))
	require.Equal(t, "Work", name)
	require.Equal(t, "#000000", color)
}

func TestStore_Transaction_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	boom := errFake("boom")
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO categories (name, color) VALUES (?, ?)`, "Ghost", "#fff"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	rows, err := s.Query(ctx, `SELECT COUNT(*) FROM categories WHERE name = ?`, "Ghost")
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var count int
	require.NoError(t, rows.Scan(&count))
	require.Zero(t, count)
}

type errFake string

func (e errFake) Error() string { return string(e) }

func TestStore_Columns(t *testing.T) {
	s := openTestStore(t)

	cols, err := s.Columns(context.Background(), "categories")
	require.NoError(t, err)
	require.Contains(t, cols, "id")
	require.Contains(t, cols, "name")
	require.Contains(t, cols, "color")
}

func TestStore_Columns_UnknownTable(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Columns(context.Background(), "does_not_exist")
	require.Error(t, err)
}
