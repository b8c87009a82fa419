// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

// Package schema is the Schema Engine (C3): translates declarative
// SchemaChange values into store mutations within one transaction per
// plugin initialize call, and owns the migration ledger that makes
// initialize idempotent across process restarts.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/tracktime/pluginhost/internal/observability"
	"github.com/tracktime/pluginhost/internal/plugin/registry"
	"github.com/tracktime/pluginhost/internal/store"
	"github.com/tracktime/pluginhost/pkg/pluginapi"
)

// identifierPattern is the only shape a table or column name may take.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CoreTables are the host-owned entities a plugin may extend (via
// AddColumn/AddIndex/AddForeignKey) but never create or drop.
var CoreTables = map[string]bool{
	"categories":     true,
	"activities":     true,
	"manual_entries": true,
}

// Engine applies, validates, and tracks schema extensions against the
// store.
type Engine struct {
	store   *store.Store
	reg     *registry.Registry
	metrics *observability.Metrics
}

// New constructs a Schema Engine over store s, consulting registry r for
// existing table ownership.
func New(s *store.Store, r *registry.Registry) *Engine {
	return &Engine{store: s, reg: r}
}

// WithMetrics attaches the pluginhost Prometheus vectors so every applied
// DDL statement is counted. Optional; a nil-metrics Engine works exactly
// like one with metrics attached, just without incrementing anything.
func (e *Engine) WithMetrics(m *observability.Metrics) *Engine {
	e.metrics = m
	return e
}

// Apply validates and applies changes for pluginID within a single
// transaction. Changes whose hash is already recorded in the migration
// ledger are skipped, making repeated calls for the same declared changes
// idempotent (§4.3, §8 invariant 4). On any validation or execution
// failure, the whole call fails and no partial effects are committed.
func (e *Engine) Apply(ctx context.Context, pluginID string, changes []pluginapi.SchemaChange) error {
	owned := make(map[string]bool)
	for _, t := range e.reg.OwnedTables(pluginID) {
		owned[t] = true
	}
	// A CreateTable earlier in this same batch makes later AddColumn/AddIndex
	// changes in the batch valid against it, even before commit.
	for _, c := range changes {
		if ct, ok := c.(pluginapi.CreateTable); ok {
			owned[ct.Name] = true
		}
	}

	for _, c := range changes {
		if err := e.validate(pluginID, c, owned); err != nil {
			return err
		}
	}

	return e.store.Transaction(ctx, func(tx *sql.Tx) error {
		for _, c := range changes {
			hash, err := changeHash(c)
			if err != nil {
				return oops.Code("Internal").With("plugin_id", pluginID).Wrap(err)
			}

			applied, err := isApplied(tx, pluginID, hash)
			if err != nil {
				return err
			}
			if applied {
				continue
			}

			if err := execChange(tx, c); err != nil {
				return err
			}
			if e.metrics != nil {
				e.metrics.SchemaStatements.Inc()
			}
			if err := recordAutoTimestamps(tx, c); err != nil {
				return err
			}
			if err := recordApplied(tx, pluginID, hash); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) validate(pluginID string, change pluginapi.SchemaChange, owned map[string]bool) error {
	switch c := change.(type) {
	case pluginapi.CreateTable:
		if !identifierPattern.MatchString(c.Name) {
			return invalidIdentifier(c.Name)
		}
		if CoreTables[c.Name] {
			return oops.Code("InvalidArgument").With("plugin_id", pluginID).With("table", c.Name).
				Errorf("table %q collides with a core table", c.Name)
		}
		if owner, ok := e.reg.OwnerOf(c.Name); ok && owner != pluginID {
			return oops.Code("InvalidArgument").With("plugin_id", pluginID).With("table", c.Name).
				Errorf("table %q is already owned by plugin %q", c.Name, owner)
		}
		for _, col := range c.Columns {
			if !identifierPattern.MatchString(col.Name) {
				return invalidIdentifier(col.Name)
			}
		}

	case pluginapi.AddColumn:
		if !identifierPattern.MatchString(c.Column) {
			return invalidIdentifier(c.Column)
		}
		if err := e.validateTargetOwnership(pluginID, c.Table, owned); err != nil {
			return err
		}

	case pluginapi.AddIndex:
		if !identifierPattern.MatchString(c.Name) {
			return invalidIdentifier(c.Name)
		}
		for _, col := range c.Columns {
			if !identifierPattern.MatchString(col) {
				return invalidIdentifier(col)
			}
		}
		if err := e.validateTargetOwnership(pluginID, c.Table, owned); err != nil {
			return err
		}

	case pluginapi.AddForeignKey:
		if !identifierPattern.MatchString(c.Column) {
			return invalidIdentifier(c.Column)
		}
		if err := e.validateTargetOwnership(pluginID, c.Table, owned); err != nil {
			return err
		}

	default:
		return oops.Code("InvalidArgument").Errorf("unknown schema change type %T", change)
	}
	return nil
}

func (e *Engine) validateTargetOwnership(pluginID, table string, owned map[string]bool) error {
	if !identifierPattern.MatchString(table) {
		return invalidIdentifier(table)
	}
	if CoreTables[table] || owned[table] {
		return nil
	}
	return oops.Code("InvalidArgument").With("plugin_id", pluginID).With("table", table).
		Errorf("table %q is neither a core table nor owned by plugin %q", table, pluginID)
}

func invalidIdentifier(name string) error {
	return oops.Code("InvalidArgument").With("identifier", name).
		Errorf("identifier %q must match [A-Za-z_][A-Za-z0-9_]*", name)
}

func execChange(tx *sql.Tx, change pluginapi.SchemaChange) error {
	stmt, err := buildStatement(change)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(stmt); err != nil {
		return oops.Code("ConstraintViolation").With("statement", stmt).Wrap(err)
	}
	return nil
}

// buildStatement renders one SchemaChange as SQL DDL. Identifiers have
// already been validated by validate above.
func buildStatement(change pluginapi.SchemaChange) (string, error) {
	switch c := change.(type) {
	case pluginapi.CreateTable:
		var cols []string
		for _, col := range c.Columns {
			cols = append(cols, buildColumnDef(col))
		}
		return fmt.Sprintf("CREATE TABLE %q (%s)", c.Name, strings.Join(cols, ", ")), nil

	case pluginapi.AddColumn:
		def := fmt.Sprintf("%q %s", c.Column, c.Type)
		if c.Default != nil {
			def += " DEFAULT " + *c.Default
		}
		stmt := fmt.Sprintf("ALTER TABLE %q ADD COLUMN %s", c.Table, def)
		if c.ForeignKey != nil {
			stmt += fmt.Sprintf(" REFERENCES %q(%q)", c.ForeignKey.Table, c.ForeignKey.Column)
		}
		return stmt, nil

	case pluginapi.AddIndex:
		quoted := make([]string, len(c.Columns))
		for i, col := range c.Columns {
			quoted[i] = fmt.Sprintf("%q", col)
		}
		return fmt.Sprintf("CREATE INDEX %q ON %q (%s)", c.Name, c.Table, strings.Join(quoted, ", ")), nil

	case pluginapi.AddForeignKey:
		// SQLite cannot ALTER TABLE ADD CONSTRAINT; a bare AddForeignKey
		// (not attached to a fresh AddColumn) is only meaningful as
		// documentation unless the column was just added in the same
		// transaction without a FK clause. This host requires foreign keys
		// to be declared on CreateTable or AddColumn instead, and rejects a
		// standalone AddForeignKey as unsupported by the underlying store.
		return "", oops.Code("InvalidArgument").With("table", c.Table).With("column", c.Column).
			Errorf("standalone AddForeignKey is not supported by the embedded store; attach the foreign key to CreateTable or AddColumn instead")

	default:
		return "", oops.Code("Internal").Errorf("unknown schema change type %T", change)
	}
}

func buildColumnDef(col pluginapi.Column) string {
	def := fmt.Sprintf("%q %s", col.Name, col.Type)
	if col.PrimaryKey {
		def += " PRIMARY KEY"
		if strings.EqualFold(col.Type, "INTEGER") {
			def += " AUTOINCREMENT"
		}
	}
	if !col.Nullable && !col.PrimaryKey {
		def += " NOT NULL"
	}
	if col.Default != nil {
		def += " DEFAULT " + *col.Default
	}
	if col.ForeignKey != nil {
		def += fmt.Sprintf(" REFERENCES %q(%q)", col.ForeignKey.Table, col.ForeignKey.Column)
	}
	return def
}

func isApplied(tx *sql.Tx, pluginID, hash string) (bool, error) {
	var count int
	err := tx.QueryRow(
		`SELECT COUNT(*) FROM _plugin_schema_applied WHERE plugin_id = ? AND change_hash = ?`,
		pluginID, hash).Scan(&count)
	if err != nil {
		return false, oops.Code("Internal").Wrap(err)
	}
	return count > 0, nil
}

func recordApplied(tx *sql.Tx, pluginID, hash string) error {
	_, err := tx.Exec(
		`INSERT INTO _plugin_schema_applied (plugin_id, change_hash, applied_at) VALUES (?, ?, ?)`,
		pluginID, hash, time.Now().Unix())
	if err != nil {
		return oops.Code("Internal").Wrap(err)
	}
	return nil
}

// recordAutoTimestamps populates _plugin_auto_timestamps for any column in
// a CreateTable change declaring an auto-timestamp role, so
// insert_own_table/update_own_table can substitute values without
// re-parsing the originating change.
func recordAutoTimestamps(tx *sql.Tx, change pluginapi.SchemaChange) error {
	ct, ok := change.(pluginapi.CreateTable)
	if !ok {
		return nil
	}
	for _, col := range ct.Columns {
		if col.AutoTimestamp == pluginapi.AutoTimestampNone {
			continue
		}
		_, err := tx.Exec(
			`INSERT INTO _plugin_auto_timestamps (table_name, column_name, role) VALUES (?, ?, ?)`,
			ct.Name, col.Name, string(col.AutoTimestamp))
		if err != nil {
			return oops.Code("Internal").Wrap(err)
		}
	}
	return nil
}

// AutoTimestampColumns returns the columns on table carrying an
// auto-timestamp role, keyed by role.
func AutoTimestampColumns(ctx context.Context, s *store.Store, table string) (map[pluginapi.AutoTimestampRole][]string, error) {
	rows, err := s.Query(ctx, `SELECT column_name, role FROM _plugin_auto_timestamps WHERE table_name = ?`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[pluginapi.AutoTimestampRole][]string)
	for rows.Next() {
		var col, role string
		if err := rows.Scan(&col, &role); err != nil {
			return nil, oops.Code("Internal").Wrap(err)
		}
		r := pluginapi.AutoTimestampRole(role)
		result[r] = append(result[r], col)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("Internal").Wrap(err)
	}
	return result, nil
}
