// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package orchestrator

import (
	"context"

	"github.com/samber/oops"
)

// disabledPluginIDs returns the set of plugin ids the operator has
// persistently disabled (§3 installed plugin record enabled flag), so
// LoadAll can skip initializing them without forgetting they exist.
func (o *Orchestrator) disabledPluginIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := o.store.Query(ctx, `SELECT plugin_id FROM _plugin_disabled`)
	if err != nil {
		return nil, oops.Code("Internal").Wrap(err)
	}
	defer rows.Close()

	disabled := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, oops.Code("Internal").Wrap(err)
		}
		disabled[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("Internal").Wrap(err)
	}
	return disabled, nil
}

// SetPersistentlyDisabled records that pluginID must not be initialized on
// future LoadAll runs, surviving a process restart. It does not affect an
// already-Loaded instance in this process; call Disable for that.
func (o *Orchestrator) SetPersistentlyDisabled(ctx context.Context, pluginID string) error {
	_, err := o.store.Exec(ctx, `INSERT OR IGNORE INTO _plugin_disabled (plugin_id) VALUES (?)`, pluginID)
	if err != nil {
		return oops.Code("Internal").With("plugin_id", pluginID).Wrap(err)
	}
	return nil
}

// ClearPersistentlyDisabled reverses SetPersistentlyDisabled so the plugin
// initializes normally on the next LoadAll.
func (o *Orchestrator) ClearPersistentlyDisabled(ctx context.Context, pluginID string) error {
	_, err := o.store.Exec(ctx, `DELETE FROM _plugin_disabled WHERE plugin_id = ?`, pluginID)
	if err != nil {
		return oops.Code("Internal").With("plugin_id", pluginID).Wrap(err)
	}
	return nil
}
