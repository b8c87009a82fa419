// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

// Package registry is the Extension Registry (C2): an in-memory record of
// schema changes, model fields, hooks, and query filters keyed by plugin,
// and the authoritative table-ownership index the Permission Broker
// consults.
package registry

import (
	"sync"

	"github.com/samber/oops"
	"github.com/tracktime/pluginhost/pkg/pluginapi"
)

// Extensions is the append-only bundle of registrations for one plugin.
type Extensions struct {
	SchemaChanges []pluginapi.SchemaChange
	ModelFields   []pluginapi.ModelField
	DataHooks     []pluginapi.DataHook
	QueryFilters  []pluginapi.QueryFilter
}

func (e *Extensions) clone() *Extensions {
	c := &Extensions{}
	c.SchemaChanges = append(c.SchemaChanges, e.SchemaChanges...)
	c.ModelFields = append(c.ModelFields, e.ModelFields...)
	c.DataHooks = append(c.DataHooks, e.DataHooks...)
	c.QueryFilters = append(c.QueryFilters, e.QueryFilters...)
	return c
}

// Registry is the in-memory map from plugin id to its four parallel
// extension lists, plus a table-name -> owning-plugin index. All reads
// take a shared lock; all registration writes take an exclusive lock
// (§5).
type Registry struct {
	mu         sync.RWMutex
	live       map[string]*Extensions
	tableOwner map[string]string // table name -> owning plugin id

	stagingMu sync.Mutex
	staging   map[string]*Extensions // pluginID -> in-flight registrations
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		live:       make(map[string]*Extensions),
		tableOwner: make(map[string]string),
		staging:    make(map[string]*Extensions),
	}
}

// Stage begins (or continues) a staging buffer for pluginID's in-flight
// initialize call. Registrations made through StageXxx land here, not in
// the live registry, until Commit is called (§9 "Re-entrant callbacks").
func (r *Registry) Stage(pluginID string) {
	r.stagingMu.Lock()
	defer r.stagingMu.Unlock()
	if _, ok := r.staging[pluginID]; !ok {
		r.staging[pluginID] = &Extensions{}
	}
}

// StageSchemaChanges appends to pluginID's staging buffer.
func (r *Registry) StageSchemaChanges(pluginID string, changes []pluginapi.SchemaChange) error {
	r.stagingMu.Lock()
	defer r.stagingMu.Unlock()
	buf, ok := r.staging[pluginID]
	if !ok {
		return oops.Code("Internal").With("plugin_id", pluginID).Errorf("no staging buffer open for plugin %q", pluginID)
	}
	buf.SchemaChanges = append(buf.SchemaChanges, changes...)
	return nil
}

// StageModelFields appends to pluginID's staging buffer.
func (r *Registry) StageModelFields(pluginID string, fields []pluginapi.ModelField) error {
	r.stagingMu.Lock()
	defer r.stagingMu.Unlock()
	buf, ok := r.staging[pluginID]
	if !ok {
		return oops.Code("Internal").With("plugin_id", pluginID).Errorf("no staging buffer open for plugin %q", pluginID)
	}
	buf.ModelFields = append(buf.ModelFields, fields...)
	return nil
}

// StageDataHook appends to pluginID's staging buffer.
func (r *Registry) StageDataHook(pluginID string, hook pluginapi.DataHook) error {
	r.stagingMu.Lock()
	defer r.stagingMu.Unlock()
	buf, ok := r.staging[pluginID]
	if !ok {
		return oops.Code("Internal").With("plugin_id", pluginID).Errorf("no staging buffer open for plugin %q", pluginID)
	}
	buf.DataHooks = append(buf.DataHooks, hook)
	return nil
}

// StageQueryFilters appends to pluginID's staging buffer.
func (r *Registry) StageQueryFilters(pluginID string, filters []pluginapi.QueryFilter) error {
	r.stagingMu.Lock()
	defer r.stagingMu.Unlock()
	buf, ok := r.staging[pluginID]
	if !ok {
		return oops.Code("Internal").With("plugin_id", pluginID).Errorf("no staging buffer open for plugin %q", pluginID)
	}
	buf.QueryFilters = append(buf.QueryFilters, filters...)
	return nil
}

// StagedTableNames reports the tables pluginID's staging buffer would
// create, so the Schema Engine can validate ownership before committing.
func (r *Registry) StagedTableNames(pluginID string) []string {
	r.stagingMu.Lock()
	defer r.stagingMu.Unlock()
	buf, ok := r.staging[pluginID]
	if !ok {
		return nil
	}
	var names []string
	for _, c := range buf.SchemaChanges {
		if ct, ok := c.(pluginapi.CreateTable); ok {
			names = append(names, ct.Name)
		}
	}
	return names
}

// StagedSchemaChanges returns the schema changes accumulated for pluginID
// so far, for the Schema Engine to apply in one transaction.
func (r *Registry) StagedSchemaChanges(pluginID string) []pluginapi.SchemaChange {
	r.stagingMu.Lock()
	defer r.stagingMu.Unlock()
	buf, ok := r.staging[pluginID]
	if !ok {
		return nil
	}
	return append([]pluginapi.SchemaChange(nil), buf.SchemaChanges...)
}

// Commit promotes pluginID's staging buffer into the live registry and
// records ownership of every table it created. Call only after the Schema
// Engine's transaction for those changes has committed successfully.
func (r *Registry) Commit(pluginID string) {
	r.stagingMu.Lock()
	buf, ok := r.staging[pluginID]
	delete(r.staging, pluginID)
	r.stagingMu.Unlock()
	if !ok {
		buf = &Extensions{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[pluginID] = buf.clone()
	for _, c := range buf.SchemaChanges {
		if ct, ok := c.(pluginapi.CreateTable); ok {
			r.tableOwner[ct.Name] = pluginID
		}
	}
}

// Discard drops pluginID's staging buffer without touching the live
// registry — used when initialize fails and partial registrations must
// not leak (§9).
func (r *Registry) Discard(pluginID string) {
	r.stagingMu.Lock()
	defer r.stagingMu.Unlock()
	delete(r.staging, pluginID)
}

// OwnerOf returns the plugin id owning table, and whether any plugin owns
// it. This is the Permission Broker's authoritative source (§4.2).
func (r *Registry) OwnerOf(table string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.tableOwner[table]
	return owner, ok
}

// OwnsTable reports whether pluginID owns table.
func (r *Registry) OwnsTable(pluginID, table string) bool {
	owner, ok := r.OwnerOf(table)
	return ok && owner == pluginID
}

// OwnedTables returns the set of table names pluginID has created in the
// current process (§3 invariant 4: not persisted across processes).
func (r *Registry) OwnedTables(pluginID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var tables []string
	for table, owner := range r.tableOwner {
		if owner == pluginID {
			tables = append(tables, table)
		}
	}
	return tables
}

// Extensions returns a copy of pluginID's live registered extensions.
func (r *Registry) Extensions(pluginID string) *Extensions {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.live[pluginID]
	if !ok {
		return &Extensions{}
	}
	return e.clone()
}

// DataHooksFor returns pluginID's registered hooks for entityType, in
// registration order (§5 "Ordering": hooks fire in registration order,
// which follows dependency order because plugins register during
// initialize, itself dependency-ordered).
func (r *Registry) DataHooksFor(pluginID string, entityType pluginapi.EntityType) []pluginapi.DataHook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.live[pluginID]
	if !ok {
		return nil
	}
	var hooks []pluginapi.DataHook
	for _, h := range e.DataHooks {
		if h.EntityType == entityType {
			hooks = append(hooks, h)
		}
	}
	return hooks
}

// AllDataHooksFor returns every registered hook across all plugins for the
// given entity type, ordered by the order plugins were committed
// (dependency order).
func (r *Registry) AllDataHooksFor(order []string, entityType pluginapi.EntityType) []pluginapi.DataHook {
	var hooks []pluginapi.DataHook
	for _, pluginID := range order {
		hooks = append(hooks, r.DataHooksFor(pluginID, entityType)...)
	}
	return hooks
}

// Remove drops pluginID's live extensions from the registry without
// touching its table-ownership entries (§3 invariant 3: uninstalling a
// plugin does not remove its columns; §8 invariant 5: reinstalling
// reattaches ownership).
func (r *Registry) Remove(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, pluginID)
}

// ReattachOwnership records pluginID as the owner of table without going
// through the staging/commit path. No host code calls it: on reinstall,
// Commit records ownership again from the plugin's staged CreateTable,
// even when the migration ledger skips that change as already applied.
func (r *Registry) ReattachOwnership(pluginID, table string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tableOwner[table] = pluginID
}
