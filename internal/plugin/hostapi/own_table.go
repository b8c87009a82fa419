// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package hostapi

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/oops"
	"github.com/tracktime/pluginhost/internal/plugin/schema"
	"github.com/tracktime/pluginhost/pkg/pluginapi"
)

func (a *API) requireOwnership(table string) error {
	if !a.reg.OwnsTable(a.pluginID, table) {
		return oops.Code("PermissionDenied").With("plugin_id", a.pluginID).With("table", table).
			Errorf("plugin %q does not own table %q", a.pluginID, table)
	}
	return nil
}

// applyAutoTimestamps substitutes the current unix-second timestamp for
// any column in roles that data omits (§4.3 "Auto-timestamp semantics").
// Explicit caller-supplied values always win.
func applyAutoTimestamps(ctx context.Context, a *API, table string, data map[string]any, roles ...pluginapi.AutoTimestampRole) (map[string]any, error) {
	cols, err := schema.AutoTimestampColumns(ctx, a.store, table)
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	for _, role := range roles {
		for _, col := range cols[role] {
			if _, present := data[col]; !present {
				data[col] = now
			}
		}
	}
	return data, nil
}

func (a *API) InsertOwnTable(table string, data map[string]any) (int64, error) {
	if err := a.requireOwnership(table); err != nil {
		return 0, err
	}
	ctx := context.Background()
	data, err := applyAutoTimestamps(ctx, a, table, data, pluginapi.AutoTimestampCreated, pluginapi.AutoTimestampUpdated)
	if err != nil {
		return 0, err
	}
	return insertRow(ctx, a.store, table, data)
}

func (a *API) QueryOwnTable(table string, filters pluginapi.Filters, orderBy string, limit *int64) ([]map[string]any, error) {
	if err := a.requireOwnership(table); err != nil {
		return nil, err
	}
	return a.queryTable(context.Background(), table, filters, orderBy, limit)
}

func (a *API) UpdateOwnTable(table string, id int64, data map[string]any) (bool, error) {
	if err := a.requireOwnership(table); err != nil {
		return false, err
	}
	ctx := context.Background()
	data, err := applyAutoTimestamps(ctx, a, table, data, pluginapi.AutoTimestampUpdated)
	if err != nil {
		return false, err
	}
	obj := make(map[string]any, len(data)+1)
	for k, v := range data {
		obj[k] = v
	}
	obj["id"] = id
	if _, err := updateRow(ctx, a.store, table, obj); err != nil {
		return false, err
	}
	return true, nil
}

func (a *API) DeleteOwnTable(table string, id int64) (bool, error) {
	if err := a.requireOwnership(table); err != nil {
		return false, err
	}
	if err := deleteRow(context.Background(), a.store, table, id); err != nil {
		return false, err
	}
	return true, nil
}

func (a *API) AggregateOwnTable(table string, filters pluginapi.Filters, agg pluginapi.Aggregation) (*pluginapi.AggregateResult, error) {
	if err := a.requireOwnership(table); err != nil {
		return nil, err
	}
	return a.aggregateTable(context.Background(), table, filters, agg)
}

// QueryPluginTable is the cross-plugin read path (§4.7). Self-reads bypass
// the Permission Broker and go straight to the ownership-checked path.
func (a *API) QueryPluginTable(ownerPluginID, table string, filters pluginapi.Filters, orderBy string, limit *int64) ([]map[string]any, error) {
	if ownerPluginID == a.pluginID {
		return a.QueryOwnTable(table, filters, orderBy, limit)
	}
	if err := a.broker.Check(a.pluginID, ownerPluginID, table); err != nil {
		return nil, err
	}
	return a.queryTable(context.Background(), table, filters, orderBy, limit)
}

func (a *API) queryTable(ctx context.Context, table string, filters pluginapi.Filters, orderBy string, limit *int64) ([]map[string]any, error) {
	cols, err := a.store.Columns(ctx, table)
	if err != nil {
		return nil, oops.Code("Internal").Wrap(err)
	}
	where, whereArgs, err := buildWhere(cols, filters)
	if err != nil {
		return nil, err
	}
	order, err := buildOrderBy(cols, orderBy)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT * FROM %q`, table)
	if where != "" {
		query += " " + where
	}
	if order != "" {
		query += " " + order
	}
	args := whereArgs
	if limit != nil {
		query += ` LIMIT ?`
		args = append(args, *limit)
	}

	rows, err := a.store.Query(ctx, query, args...)
	if err != nil {
		return nil, oops.Code("Internal").Wrap(err)
	}
	return rowsToMaps(rows)
}

func (a *API) aggregateTable(ctx context.Context, table string, filters pluginapi.Filters, agg pluginapi.Aggregation) (*pluginapi.AggregateResult, error) {
	cols, err := a.store.Columns(ctx, table)
	if err != nil {
		return nil, oops.Code("Internal").Wrap(err)
	}
	exprs, selectSQL, groupBySQL, err := buildAggregation(cols, agg)
	if err != nil {
		return nil, err
	}
	where, whereArgs, err := buildWhere(cols, filters)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %q`, selectSQL, table)
	if where != "" {
		query += " " + where
	}
	if groupBySQL != "" {
		query += " " + groupBySQL
	}

	rows, err := a.store.Query(ctx, query, whereArgs...)
	if err != nil {
		return nil, oops.Code("Internal").Wrap(err)
	}
	defer rows.Close()

	result := &pluginapi.AggregateResult{Scalars: make(map[string]float64)}
	for rows.Next() {
		vals := make([]any, len(exprs))
		ptrs := make([]any, len(exprs))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, oops.Code("Internal").Wrap(err)
		}

		if len(agg.GroupBy) > 0 {
			group := make(map[string]any, len(exprs))
			for i, e := range exprs {
				group[e.alias] = vals[i]
			}
			result.Groups = append(result.Groups, group)
			continue
		}

		scanScalars(result, exprs, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("Internal").Wrap(err)
	}

	// A grouped aggregate still owes the caller overall totals alongside
	// the per-group breakdown (§8 scenario S4): re-run the same requested
	// count/sum/avg/min/max without GROUP BY. Summing or averaging the
	// per-group rows in Go would double-count AVG, so a second query is
	// the only correct way to get an overall AVG.
	if len(agg.GroupBy) > 0 {
		overall := agg
		overall.GroupBy = nil
		if overall.Count != "" || len(overall.Sum) > 0 || len(overall.Avg) > 0 || len(overall.Min) > 0 || len(overall.Max) > 0 {
			overallExprs, overallSelectSQL, _, err := buildAggregation(cols, overall)
			if err != nil {
				return nil, err
			}
			overallQuery := fmt.Sprintf(`SELECT %s FROM %q`, overallSelectSQL, table)
			if where != "" {
				overallQuery += " " + where
			}
			overallRows, err := a.store.Query(ctx, overallQuery, whereArgs...)
			if err != nil {
				return nil, oops.Code("Internal").Wrap(err)
			}
			defer overallRows.Close()
			if overallRows.Next() {
				vals := make([]any, len(overallExprs))
				ptrs := make([]any, len(overallExprs))
				for i := range vals {
					ptrs[i] = &vals[i]
				}
				if err := overallRows.Scan(ptrs...); err != nil {
					return nil, oops.Code("Internal").Wrap(err)
				}
				scanScalars(result, overallExprs, vals)
			}
			if err := overallRows.Err(); err != nil {
				return nil, oops.Code("Internal").Wrap(err)
			}
		}
	}

	return result, nil
}

// scanScalars applies one scanned aggregation row's values into result's
// TotalCount/Scalars, keyed by each expr's alias. Used for both the plain
// (ungrouped) aggregation path and the overall-totals query re-run
// alongside a grouped aggregation.
func scanScalars(result *pluginapi.AggregateResult, exprs []aggExpr, vals []any) {
	for i, e := range exprs {
		switch e.kind {
		case "count":
			n, convErr := toInt64(vals[i])
			if convErr == nil {
				result.TotalCount = &n
			}
		default:
			if f, ok := toFloat64(vals[i]); ok {
				result.Scalars[e.alias] = f
			}
		}
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
