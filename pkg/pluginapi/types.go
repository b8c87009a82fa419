// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package pluginapi

import "encoding/json"

// EntityType tags which core entity a registration or schema change targets.
type EntityType string

const (
	EntityActivity    EntityType = "Activity"
	EntityManualEntry EntityType = "ManualEntry"
	EntityCategory    EntityType = "Category"
)

// AutoTimestampRole marks a column whose value the host fills in on
// insert/update when the caller omits it.
type AutoTimestampRole string

const (
	AutoTimestampNone    AutoTimestampRole = ""
	AutoTimestampCreated AutoTimestampRole = "Created"
	AutoTimestampUpdated AutoTimestampRole = "Updated"
)

// Column describes one column of a CreateTable schema change.
type Column struct {
	Name          string
	Type          string
	PrimaryKey    bool
	Nullable      bool
	Default       *string
	ForeignKey    *ForeignKeyRef
	AutoTimestamp AutoTimestampRole
}

// ForeignKeyRef names the table/column a column references.
type ForeignKeyRef struct {
	Table  string
	Column string
}

// SchemaChange is one declarative mutation the Schema Engine may apply.
// Concrete variants are CreateTable, AddColumn, AddIndex, AddForeignKey.
type SchemaChange interface {
	schemaChange()
}

// CreateTable declares a brand new plugin-owned table.
type CreateTable struct {
	Name    string
	Columns []Column
}

func (CreateTable) schemaChange() {}

// AddColumn appends a column to a core or plugin-owned table.
type AddColumn struct {
	Table      string
	Column     string
	Type       string
	Default    *string
	ForeignKey *ForeignKeyRef
}

func (AddColumn) schemaChange() {}

// AddIndex creates a single- or multi-column index. Column order is
// significant.
type AddIndex struct {
	Table   string
	Name    string
	Columns []string
}

func (AddIndex) schemaChange() {}

// AddForeignKey attaches a foreign key constraint to an existing column.
type AddForeignKey struct {
	Table          string
	Column         string
	ForeignTable   string
	ForeignColumn  string
}

func (AddForeignKey) schemaChange() {}

// ModelField describes a model-level field addition registered against an
// entity type, independent of the underlying schema change that backs it.
type ModelField struct {
	EntityType EntityType
	Name       string
	Type       string
}

// DataHook is a callback a plugin registers against an entity type. The
// Registry stores hooks in registration order (Registry.AllDataHooksFor),
// but no host write path calls Fn: a registered hook neither mutates nor
// rejects any record.
type DataHook struct {
	EntityType EntityType
	Name       string
	Fn         func(row map[string]any) (map[string]any, error)
}

// QueryFilter is a named, pre-registered filter predicate a plugin exposes
// for use against core entity reads.
type QueryFilter struct {
	EntityType EntityType
	Name       string
}

// FilterValue is either a bare scalar (equality) or an operator object.
type FilterValue struct {
	Eq  any
	Ops *FilterOps
}

// FilterOps holds the recognized comparison operators for a filter object.
type FilterOps struct {
	Gte  any
	Lte  any
	Gt   any
	Lt   any
	Ne   any
	In   []any
	Like *string
}

// Filters maps column name to filter value; multiple keys combine with AND.
type Filters map[string]FilterValue

// ActivityFilters narrows a get_activities call.
type ActivityFilters struct {
	ExcludeIdle bool
	CategoryIDs []int64
}

// Aggregation describes an aggregate_own_table request.
type Aggregation struct {
	Count   string   // "*" or a column name; empty means no count requested
	Sum     []string
	Avg     []string
	Min     []string
	Max     []string
	GroupBy []string
}

// AggregateResult is the read-only result of an Aggregation call.
//
// Scalars holds one entry per requested sum/avg/min/max, keyed by its
// alias (e.g. "sum_duration_sec"). It marshals flattened into the same
// JSON object as TotalCount and Groups (§8 scenario S4's wire example:
// {"total_count":5,"sum_duration_sec":5100,"groups":[...]}), so it needs
// custom (Un)MarshalJSON rather than a struct tag.
type AggregateResult struct {
	TotalCount *int64
	Scalars    map[string]float64
	Groups     []map[string]any
}

func (r AggregateResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Scalars)+2)
	for k, v := range r.Scalars {
		out[k] = v
	}
	if r.TotalCount != nil {
		out["total_count"] = *r.TotalCount
	}
	if len(r.Groups) > 0 {
		out["groups"] = r.Groups
	}
	return json.Marshal(out)
}

func (r *AggregateResult) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Scalars = make(map[string]float64)
	for k, v := range raw {
		switch k {
		case "total_count":
			var n int64
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			r.TotalCount = &n
		case "groups":
			if err := json.Unmarshal(v, &r.Groups); err != nil {
				return err
			}
		default:
			var f float64
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			r.Scalars[k] = f
		}
	}
	return nil
}

// State is a plugin's position in the lifecycle state machine (§4.6).
type State string

const (
	StateDiscovered            State = "Discovered"
	StateDependenciesSatisfied State = "DependenciesSatisfied"
	StateInitializing          State = "Initializing"
	StateLoaded                State = "Loaded"
	StateInvoking              State = "Invoking"
	StateDisabled              State = "Disabled"
	StateShutdown              State = "Shutdown"
	StateDestroyed             State = "Destroyed"
	StateFailed                State = "Failed"
	StateSkippedCycle          State = "SkippedCycle"
	StateSkippedUnmet          State = "SkippedUnmet"
	StateVersionIncompatible   State = "VersionIncompatible"
)

// Terminal reports whether the state represents an end state the plugin
// cannot leave without being reloaded from scratch.
func (s State) Terminal() bool {
	switch s {
	case StateFailed, StateSkippedCycle, StateSkippedUnmet, StateVersionIncompatible, StateDestroyed:
		return true
	default:
		return false
	}
}

// PluginStatus is the user-visible enumeration entry for a plugin (§7
// "User-visible failure").
type PluginStatus struct {
	ID       string
	Author   string
	Version  string
	State    State
	Reason   string
	Manifest *Manifest
}
