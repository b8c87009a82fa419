// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

// Package hostapi is the concrete Host API (C4): the single surface a
// loaded plugin sees, implementing pkg/pluginapi.HostAPI. One instance is
// constructed per plugin, closing over that plugin's identity.
package hostapi

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/tracktime/pluginhost/internal/plugin/permission"
	"github.com/tracktime/pluginhost/internal/plugin/registry"
	"github.com/tracktime/pluginhost/internal/store"
	"github.com/tracktime/pluginhost/pkg/pluginapi"
)

// API is the concrete pluginapi.HostAPI behind one loaded plugin. The
// Schema Engine is not one of its dependencies: schema extensions are
// applied by the Orchestrator once a plugin's initialize call returns
// successfully, not by the Host API itself (§4.6 step 3).
type API struct {
	pluginID string
	store    *store.Store
	reg      *registry.Registry
	broker   *permission.Broker
}

// New constructs the Host API surface for pluginID.
func New(pluginID string, s *store.Store, reg *registry.Registry, broker *permission.Broker) *API {
	return &API{pluginID: pluginID, store: s, reg: reg, broker: broker}
}

var _ pluginapi.HostAPI = (*API)(nil)

// coreTableEntities maps each core table to the EntityType it belongs to,
// so RegisterSchemaExtension can reject a caller-supplied entityType that
// disagrees with what a change actually targets.
var coreTableEntities = map[string]pluginapi.EntityType{
	"activities":     pluginapi.EntityActivity,
	"manual_entries": pluginapi.EntityManualEntry,
	"categories":     pluginapi.EntityCategory,
}

// validateEntityTypeConsistency rejects a change that targets one core
// table while entityType names a different one (§4.4 "entityType ...
// consistent with the change's target"). Changes that create or target a
// plugin-owned table are unconstrained: entityType only disciplines edits
// to the three core tables.
func validateEntityTypeConsistency(entityType pluginapi.EntityType, changes []pluginapi.SchemaChange) error {
	for _, c := range changes {
		var table string
		switch ch := c.(type) {
		case pluginapi.AddColumn:
			table = ch.Table
		case pluginapi.AddIndex:
			table = ch.Table
		case pluginapi.AddForeignKey:
			table = ch.Table
		default:
			continue
		}
		if want, ok := coreTableEntities[table]; ok && want != entityType {
			return oops.Code("InvalidArgument").With("entity_type", entityType).With("table", table).
				Errorf("schema change targets core table %q, which belongs to entity_type %q, not %q", table, want, entityType)
		}
	}
	return nil
}

// RegisterSchemaExtension stages changes for the in-flight initialize call
// (§9 "Re-entrant callbacks"); they become visible only once the
// Orchestrator commits them via the Schema Engine.
func (a *API) RegisterSchemaExtension(entityType pluginapi.EntityType, changes []pluginapi.SchemaChange) error {
	if err := validateEntityTypeConsistency(entityType, changes); err != nil {
		return err
	}
	return a.reg.StageSchemaChanges(a.pluginID, changes)
}

func (a *API) RegisterModelExtension(entityType pluginapi.EntityType, fields []pluginapi.ModelField) error {
	return a.reg.StageModelFields(a.pluginID, fields)
}

func (a *API) RegisterQueryFilters(entityType pluginapi.EntityType, filters []pluginapi.QueryFilter) error {
	return a.reg.StageQueryFilters(a.pluginID, filters)
}

func (a *API) RegisterDataHook(hook pluginapi.DataHook) error {
	return a.reg.StageDataHook(a.pluginID, hook)
}

// rowsToMaps scans rows (whose column list is known) into a slice of
// generic maps, so every column — including ones added by any plugin —
// makes it back to the caller (§3 invariant 5).
func rowsToMaps(rows *sql.Rows) ([]map[string]any, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, oops.Code("Internal").Wrap(err)
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, oops.Code("Internal").Wrap(err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("Internal").Wrap(err)
	}
	return out, nil
}

func fetchByID(ctx context.Context, s *store.Store, table string, id int64) (map[string]any, error) {
	rows, err := s.Query(ctx, fmt.Sprintf(`SELECT * FROM %q WHERE id = ?`, table), id)
	if err != nil {
		return nil, oops.Code("Internal").Wrap(err)
	}
	results, err := rowsToMaps(rows)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, oops.Code("NotFound").With("table", table).With("id", id).Errorf("no row with id %d in %q", id, table)
	}
	return results[0], nil
}

// insertRow validates obj's keys against table's real columns (rejecting
// unknown keys — §4.4 "unknown keys are rejected") and inserts it,
// returning the new row's id.
func insertRow(ctx context.Context, s *store.Store, table string, obj map[string]any) (int64, error) {
	cols, err := s.Columns(ctx, table)
	if err != nil {
		return 0, oops.Code("Internal").Wrap(err)
	}

	var names []string
	var placeholders []string
	var args []any
	for k, v := range obj {
		if k == "id" {
			continue
		}
		if _, known := cols[k]; !columnPattern.MatchString(k) || !known {
			return 0, oops.Code("InvalidArgument").With("column", k).Errorf("unknown column %q", k)
		}
		names = append(names, k)
		placeholders = append(placeholders, "?")
		args = append(args, v)
	}

	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	stmt := fmt.Sprintf(`INSERT INTO %q (%s) VALUES (%s)`, table, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	if len(names) == 0 {
		stmt = fmt.Sprintf(`INSERT INTO %q DEFAULT VALUES`, table)
	}

	res, err := s.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, oops.Code("ConstraintViolation").With("table", table).Wrap(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, oops.Code("Internal").Wrap(err)
	}
	return id, nil
}

// updateRow validates and applies obj's keys (minus "id") to the row
// identified by obj["id"], returning that id.
func updateRow(ctx context.Context, s *store.Store, table string, obj map[string]any) (int64, error) {
	rawID, ok := obj["id"]
	if !ok {
		return 0, oops.Code("InvalidArgument").Errorf("update requires an id")
	}
	id, err := toInt64(rawID)
	if err != nil {
		return 0, oops.Code("InvalidArgument").Wrap(err)
	}

	cols, err := s.Columns(ctx, table)
	if err != nil {
		return 0, oops.Code("Internal").Wrap(err)
	}

	var sets []string
	var args []any
	for k, v := range obj {
		if k == "id" {
			continue
		}
		if _, known := cols[k]; !columnPattern.MatchString(k) || !known {
			return 0, oops.Code("InvalidArgument").With("column", k).Errorf("unknown column %q", k)
		}
		sets = append(sets, fmt.Sprintf("%q = ?", k))
		args = append(args, v)
	}
	if len(sets) == 0 {
		return id, nil
	}
	args = append(args, id)

	stmt := fmt.Sprintf(`UPDATE %q SET %s WHERE id = ?`, table, strings.Join(sets, ", "))
	res, err := s.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, oops.Code("ConstraintViolation").With("table", table).Wrap(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, oops.Code("Internal").Wrap(err)
	}
	if affected == 0 {
		return 0, oops.Code("NotFound").With("table", table).With("id", id).Errorf("no row with id %d in %q", id, table)
	}
	return id, nil
}

func deleteRow(ctx context.Context, s *store.Store, table string, id int64) error {
	res, err := s.Exec(ctx, fmt.Sprintf(`DELETE FROM %q WHERE id = ?`, table), id)
	if err != nil {
		return oops.Code("Internal").Wrap(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return oops.Code("Internal").Wrap(err)
	}
	if affected == 0 {
		return oops.Code("NotFound").With("table", table).With("id", id).Errorf("no row with id %d in %q", id, table)
	}
	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected a numeric id, got %T", v)
	}
}
