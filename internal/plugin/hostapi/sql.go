// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package hostapi

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/samber/oops"
	"github.com/tracktime/pluginhost/pkg/pluginapi"
)

var columnPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// isNumericColumnType reports whether a SQLite-declared column type has
// numeric affinity, following SQLite's own type-affinity rules: any type
// name containing INT is integer affinity; CHAR/CLOB/TEXT is text affinity
// and BLOB or no declared type is blob affinity, neither numeric; every
// other type name (REAL, FLOAT, DOUBLE, NUMERIC, DECIMAL, BOOLEAN,
// TIMESTAMP, ...) is real or numeric affinity.
func isNumericColumnType(sqlType string) bool {
	t := strings.ToUpper(sqlType)
	switch {
	case strings.Contains(t, "INT"):
		return true
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return false
	case strings.Contains(t, "BLOB"), strings.TrimSpace(t) == "":
		return false
	default:
		return true
	}
}

// buildWhere renders a pluginapi.Filters map as a "WHERE ..." clause (or ""
// if filters is empty) plus its bound args, in deterministic column order.
// Every key must be a known column of the table; unknown keys and numeric
// operators (gte/lte/gt/lt) against a non-numeric column fail with
// InvalidArgument (§4.4 "Filters"). Operators are the fields of
// pluginapi.FilterOps, so no other operator can reach this function.
func buildWhere(columns map[string]string, filters pluginapi.Filters) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	names := make([]string, 0, len(filters))
	for name := range filters {
		names = append(names, name)
	}
	sort.Strings(names)

	var clauses []string
	var args []any
	for _, name := range names {
		ctype, known := columns[name]
		if !columnPattern.MatchString(name) || !known {
			return "", nil, oops.Code("InvalidArgument").With("column", name).
				Errorf("unknown filter column %q", name)
		}
		fv := filters[name]
		if fv.Ops == nil {
			clauses = append(clauses, fmt.Sprintf("%q = ?", name))
			args = append(args, fv.Eq)
			continue
		}
		ops := fv.Ops
		if (ops.Gte != nil || ops.Lte != nil || ops.Gt != nil || ops.Lt != nil) && !isNumericColumnType(ctype) {
			return "", nil, oops.Code("InvalidArgument").With("column", name).With("type", ctype).
				Errorf("numeric filter operator against non-numeric column %q", name)
		}
		if ops.Gte != nil {
			clauses = append(clauses, fmt.Sprintf("%q >= ?", name))
			args = append(args, ops.Gte)
		}
		if ops.Lte != nil {
			clauses = append(clauses, fmt.Sprintf("%q <= ?", name))
			args = append(args, ops.Lte)
		}
		if ops.Gt != nil {
			clauses = append(clauses, fmt.Sprintf("%q > ?", name))
			args = append(args, ops.Gt)
		}
		if ops.Lt != nil {
			clauses = append(clauses, fmt.Sprintf("%q < ?", name))
			args = append(args, ops.Lt)
		}
		if ops.Ne != nil {
			clauses = append(clauses, fmt.Sprintf("%q != ?", name))
			args = append(args, ops.Ne)
		}
		if len(ops.In) > 0 {
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ops.In)), ",")
			clauses = append(clauses, fmt.Sprintf("%q IN (%s)", name, placeholders))
			args = append(args, ops.In...)
		}
		if ops.Like != nil {
			clauses = append(clauses, fmt.Sprintf("%q LIKE ?", name))
			args = append(args, *ops.Like)
		}
	}
	if len(clauses) == 0 {
		return "", nil, nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args, nil
}

// buildOrderBy validates and renders a single "<col> ASC|DESC" order-by
// string (§4.4 "Order"). An empty orderBy returns "".
func buildOrderBy(columns map[string]string, orderBy string) (string, error) {
	if orderBy == "" {
		return "", nil
	}
	parts := strings.Fields(orderBy)
	if len(parts) != 2 {
		return "", oops.Code("InvalidArgument").With("order_by", orderBy).
			Errorf("order_by must be \"<column> ASC|DESC\"")
	}
	col, dir := parts[0], strings.ToUpper(parts[1])
	if _, known := columns[col]; !columnPattern.MatchString(col) || !known {
		return "", oops.Code("InvalidArgument").With("column", col).
			Errorf("unknown order_by column %q", col)
	}
	if dir != "ASC" && dir != "DESC" {
		return "", oops.Code("InvalidArgument").With("direction", dir).
			Errorf("order_by direction must be ASC or DESC")
	}
	return fmt.Sprintf("ORDER BY %q %s", col, dir), nil
}

// buildAggregation renders the SELECT list and GROUP BY clause for an
// Aggregation (§4.4 "Aggregations"). The returned exprs are ordered:
// group-by columns first (so scanning can pair them positionally), then
// count, then sum/avg/min/max in that order, one result column per
// requested column.
type aggExpr struct {
	alias string
	kind  string // "group", "count", "sum", "avg", "min", "max"
	col   string
}

func buildAggregation(columns map[string]string, agg pluginapi.Aggregation) ([]aggExpr, string, string, error) {
	var exprs []aggExpr
	var selectParts []string

	for _, col := range agg.GroupBy {
		if _, known := columns[col]; !columnPattern.MatchString(col) || !known {
			return nil, "", "", oops.Code("InvalidArgument").With("column", col).
				Errorf("unknown group_by column %q", col)
		}
		exprs = append(exprs, aggExpr{alias: col, kind: "group", col: col})
		selectParts = append(selectParts, fmt.Sprintf("%q", col))
	}

	if agg.Count != "" {
		if _, known := columns[agg.Count]; agg.Count != "*" && (!columnPattern.MatchString(agg.Count) || !known) {
			return nil, "", "", oops.Code("InvalidArgument").With("column", agg.Count).
				Errorf("unknown count column %q", agg.Count)
		}
		target := "*"
		if agg.Count != "*" {
			target = fmt.Sprintf("%q", agg.Count)
		}
		exprs = append(exprs, aggExpr{alias: "total_count", kind: "count", col: agg.Count})
		selectParts = append(selectParts, fmt.Sprintf("COUNT(%s) AS total_count", target))
	}

	add := func(kind string, cols []string) error {
		for _, col := range cols {
			if _, known := columns[col]; !columnPattern.MatchString(col) || !known {
				return oops.Code("InvalidArgument").With("column", col).
					Errorf("unknown %s column %q", kind, col)
			}
			alias := kind + "_" + col
			exprs = append(exprs, aggExpr{alias: alias, kind: kind, col: col})
			selectParts = append(selectParts, fmt.Sprintf("%s(%q) AS %q", strings.ToUpper(kind), col, alias))
		}
		return nil
	}
	if err := add("sum", agg.Sum); err != nil {
		return nil, "", "", err
	}
	if err := add("avg", agg.Avg); err != nil {
		return nil, "", "", err
	}
	if err := add("min", agg.Min); err != nil {
		return nil, "", "", err
	}
	if err := add("max", agg.Max); err != nil {
		return nil, "", "", err
	}

	if len(selectParts) == 0 {
		return nil, "", "", oops.Code("InvalidArgument").Errorf("aggregation requires at least one of count/sum/avg/min/max/group_by")
	}

	groupBySQL := ""
	if len(agg.GroupBy) > 0 {
		quoted := make([]string, len(agg.GroupBy))
		for i, c := range agg.GroupBy {
			quoted[i] = fmt.Sprintf("%q", c)
		}
		groupBySQL = "GROUP BY " + strings.Join(quoted, ", ")
	}

	return exprs, strings.Join(selectParts, ", "), groupBySQL, nil
}

