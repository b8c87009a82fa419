// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package hostapi

import (
	"context"
	"fmt"

	"github.com/samber/oops"
	"github.com/tracktime/pluginhost/pkg/pluginapi"
)

func (a *API) GetCategories() ([]map[string]any, error) {
	ctx := context.Background()
	rows, err := a.store.Query(ctx, `SELECT * FROM categories ORDER BY sort_order ASC, id ASC`)
	if err != nil {
		return nil, oops.Code("Internal").Wrap(err)
	}
	return rowsToMaps(rows)
}

func (a *API) CreateCategory(obj map[string]any) (map[string]any, error) {
	ctx := context.Background()
	id, err := insertRow(ctx, a.store, "categories", obj)
	if err != nil {
		return nil, err
	}
	return fetchByID(ctx, a.store, "categories", id)
}

func (a *API) UpdateCategory(obj map[string]any) (map[string]any, error) {
	ctx := context.Background()
	id, err := updateRow(ctx, a.store, "categories", obj)
	if err != nil {
		return nil, err
	}
	return fetchByID(ctx, a.store, "categories", id)
}

func (a *API) DeleteCategory(id int64) error {
	return deleteRow(context.Background(), a.store, "categories", id)
}

// GetActivities implements §4.4's get_activities: a started_at range plus
// optional ActivityFilters, ordered started_at DESC, id DESC, with
// limit/offset applied after filtering.
func (a *API) GetActivities(start, end int64, limit, offset *int64, filters *pluginapi.ActivityFilters) ([]map[string]any, error) {
	ctx := context.Background()
	where := `WHERE started_at >= ? AND started_at <= ?`
	args := []any{start, end}

	if filters != nil {
		if filters.ExcludeIdle {
			where += ` AND is_idle = 0`
		}
		if len(filters.CategoryIDs) > 0 {
			placeholders := ""
			for i, id := range filters.CategoryIDs {
				if i > 0 {
					placeholders += ", "
				}
				placeholders += "?"
				args = append(args, id)
			}
			where += fmt.Sprintf(` AND category_id IN (%s)`, placeholders)
		}
	}

	query := fmt.Sprintf(`SELECT * FROM activities %s ORDER BY started_at DESC, id DESC`, where)
	switch {
	case limit != nil:
		query += ` LIMIT ?`
		args = append(args, *limit)
		if offset != nil {
			query += ` OFFSET ?`
			args = append(args, *offset)
		}
	case offset != nil:
		// SQLite requires a LIMIT clause before OFFSET; -1 means unbounded.
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, *offset)
	}

	rows, err := a.store.Query(ctx, query, args...)
	if err != nil {
		return nil, oops.Code("Internal").Wrap(err)
	}
	return rowsToMaps(rows)
}

func (a *API) GetManualEntries(start, end int64) ([]map[string]any, error) {
	ctx := context.Background()
	rows, err := a.store.Query(ctx,
		`SELECT * FROM manual_entries WHERE started_at >= ? AND started_at <= ? ORDER BY started_at DESC, id DESC`,
		start, end)
	if err != nil {
		return nil, oops.Code("Internal").Wrap(err)
	}
	return rowsToMaps(rows)
}

func (a *API) CreateManualEntry(obj map[string]any) (map[string]any, error) {
	ctx := context.Background()
	id, err := insertRow(ctx, a.store, "manual_entries", obj)
	if err != nil {
		return nil, err
	}
	return fetchByID(ctx, a.store, "manual_entries", id)
}

func (a *API) UpdateManualEntry(obj map[string]any) (map[string]any, error) {
	ctx := context.Background()
	id, err := updateRow(ctx, a.store, "manual_entries", obj)
	if err != nil {
		return nil, err
	}
	return fetchByID(ctx, a.store, "manual_entries", id)
}

func (a *API) DeleteManualEntry(id int64) error {
	return deleteRow(context.Background(), a.store, "manual_entries", id)
}
