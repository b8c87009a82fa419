// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package pluginapi

import "encoding/json"

// HostAPI is the capability surface a plugin sees during Initialize and
// InvokeCommand — the Go rendering of the C ABI's function-pointer vtable
// (§6). Every method here is safe to call re-entrantly from within
// Initialize or InvokeCommand.
type HostAPI interface {
	// Extension registration.
	RegisterSchemaExtension(entityType EntityType, changes []SchemaChange) error
	RegisterModelExtension(entityType EntityType, fields []ModelField) error
	RegisterQueryFilters(entityType EntityType, filters []QueryFilter) error
	RegisterDataHook(hook DataHook) error

	// Core-entity CRUD.
	GetCategories() ([]map[string]any, error)
	CreateCategory(obj map[string]any) (map[string]any, error)
	UpdateCategory(obj map[string]any) (map[string]any, error)
	DeleteCategory(id int64) error

	GetActivities(start, end int64, limit, offset *int64, filters *ActivityFilters) ([]map[string]any, error)

	GetManualEntries(start, end int64) ([]map[string]any, error)
	CreateManualEntry(obj map[string]any) (map[string]any, error)
	UpdateManualEntry(obj map[string]any) (map[string]any, error)
	DeleteManualEntry(id int64) error

	// Plugin-owned table CRUD.
	InsertOwnTable(table string, data map[string]any) (int64, error)
	QueryOwnTable(table string, filters Filters, orderBy string, limit *int64) ([]map[string]any, error)
	UpdateOwnTable(table string, id int64, data map[string]any) (bool, error)
	DeleteOwnTable(table string, id int64) (bool, error)
	AggregateOwnTable(table string, filters Filters, agg Aggregation) (*AggregateResult, error)

	// Cross-plugin reads, mediated by the Permission Broker.
	QueryPluginTable(ownerPluginID, table string, filters Filters, orderBy string, limit *int64) ([]map[string]any, error)
}

// PluginInfo is the static identity a plugin's info() entry point returns.
type PluginInfo struct {
	ID      string
	Name    string
	Version string
}

// Plugin is the interface a `_plugin_create` factory produces, corresponding
// to the plugin's own entry points of §6 (info, initialize, invoke_command,
// shutdown). GetSchemaExtensions is optional; plugins that don't need it can
// embed NoSchemaExtensions.
type Plugin interface {
	Info() PluginInfo
	Initialize(api HostAPI) error
	InvokeCommand(command string, params json.RawMessage, api HostAPI) (json.RawMessage, error)
	Shutdown() error
}

// SchemaExtensionsProvider is an optional capability a Plugin may implement
// to declare its schema changes ahead of Initialize being called. Neither
// the Loader nor the Orchestrator calls GetSchemaExtensions; schema changes
// take effect only through HostAPI.RegisterSchemaExtension during Initialize.
type SchemaExtensionsProvider interface {
	GetSchemaExtensions() []SchemaChange
}

// NoSchemaExtensions is embedded by plugins with no upfront schema
// declaration; it satisfies no additional interface — its purpose is
// documentation of intent for plugin authors, not a functional no-op.
type NoSchemaExtensions struct{}

// Factory is the Go-typed shape of the `_plugin_create` C ABI symbol,
// looked up under the exported name PluginCreate (see pkg/pluginapi/sdk.go
// and internal/plugin/loader).
type Factory func() Plugin

// Destructor is the Go-typed shape of `_plugin_destroy`, looked up under
// the exported name PluginDestroy.
type Destructor func(Plugin)
