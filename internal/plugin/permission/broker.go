// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

// Package permission is the Permission Broker (C7): the five-step check
// that gates one plugin's read access to another plugin's owned table
// (§4.7).
package permission

import (
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
	"github.com/tracktime/pluginhost/internal/plugin/registry"
	"github.com/tracktime/pluginhost/pkg/pluginapi"
)

// Directory answers the Broker's questions about installed plugins,
// without pulling in the Orchestrator package (which itself depends on
// this one) — a plugin id resolves to its manifest and whether it is
// currently Loaded.
type Directory interface {
	Status(pluginID string) (manifest *pluginapi.Manifest, loaded bool)
}

type compiledExposure struct {
	tableName string
	allowed   []glob.Glob
}

// Broker enforces §4.7's five-step check. It caches compiled globs per
// (owner, table) pair, rebuilt whenever RefreshExposures is called for
// that owner (after load or manifest change).
type Broker struct {
	reg *registry.Registry
	dir Directory

	mu        sync.RWMutex
	exposures map[string][]compiledExposure // owner plugin id -> its exposed tables
}

// New constructs a Broker consulting reg for table ownership and dir for
// plugin status/manifests.
func New(reg *registry.Registry, dir Directory) *Broker {
	return &Broker{
		reg:       reg,
		dir:       dir,
		exposures: make(map[string][]compiledExposure),
	}
}

// RefreshExposures compiles owner's manifest exposed_tables into globs.
// Plugin ids are flat identifiers that may themselves contain dots (e.g.
// "acme.reports"), not hierarchical paths, so patterns compile with no
// separator rune: a bare "*" must match any caller id, dotted or not
// (§4.7 "allowed_plugins = [\"*\"] means any plugin"). An empty
// allowed_plugins list compiles to zero globs, so it can never match —
// including "*" requests — by construction, not as a special case.
func (b *Broker) RefreshExposures(owner string, manifest *pluginapi.Manifest) error {
	compiled := make([]compiledExposure, 0, len(manifest.ExposedTables))
	for _, et := range manifest.ExposedTables {
		globs := make([]glob.Glob, 0, len(et.AllowedPlugins))
		for _, pattern := range et.AllowedPlugins {
			g, err := glob.Compile(pattern)
			if err != nil {
				return oops.Code("ManifestInvalid").With("owner", owner).With("table", et.TableName).
					Wrapf(err, "invalid allowed_plugins pattern %q", pattern)
			}
			globs = append(globs, g)
		}
		compiled = append(compiled, compiledExposure{tableName: et.TableName, allowed: globs})
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.exposures[owner] = compiled
	return nil
}

// DropExposures forgets owner's compiled exposures, called on unload.
func (b *Broker) DropExposures(owner string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.exposures, owner)
}

// Check runs the five-step check for caller reading owner's table. It
// returns nil when access is allowed. Self-reads (caller == owner) are
// the caller's responsibility to short-circuit before calling Check
// (§4.7 "Self-reads ... skip the broker").
func (b *Broker) Check(caller, owner, table string) error {
	manifest, loaded := b.dir.Status(owner)
	if manifest == nil || !loaded {
		return oops.Code("PermissionDenied").With("owner", owner).
			Errorf("plugin %q is not installed or not loaded", owner)
	}

	if !b.reg.OwnsTable(owner, table) {
		return oops.Code("NotFound").With("owner", owner).With("table", table).
			Errorf("plugin %q does not own table %q", owner, table)
	}

	b.mu.RLock()
	exposures := b.exposures[owner]
	b.mu.RUnlock()

	var match *compiledExposure
	for i := range exposures {
		if exposures[i].tableName == table {
			match = &exposures[i]
			break
		}
	}
	if match == nil {
		return oops.Code("PermissionDenied").With("owner", owner).With("table", table).
			Errorf("table %q is not exposed by plugin %q", table, owner)
	}

	for _, g := range match.allowed {
		if g.Match(caller) {
			return nil
		}
	}
	return oops.Code("PermissionDenied").With("caller", caller).With("owner", owner).With("table", table).
		Errorf("plugin %q is not permitted to read %q's table %q", caller, owner, table)
}
