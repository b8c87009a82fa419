// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

// Package orchestrator is the Orchestrator (C6): dependency resolution,
// the plugin lifecycle state machine, and command dispatch.
package orchestrator

import (
	"sync"

	"github.com/tracktime/pluginhost/internal/plugin/hostapi"
	"github.com/tracktime/pluginhost/pkg/pluginapi"
)

// pluginHandle is the subset of *loader.Handle the Orchestrator needs.
// Declaring it locally, rather than depending on *loader.Handle directly,
// lets tests substitute a fake library handle without opening a real
// shared object (§4.5's Go plugin package requires an actual .so/.dylib
// on disk, which unit tests for lifecycle/dispatch logic have no need of).
type pluginHandle interface {
	Create() (pluginapi.Plugin, error)
	Destroy(pluginapi.Plugin) error
	Close()
}

// pluginState is one plugin's lifecycle record. The Orchestrator's states
// map lock guards only the map itself; state, reason and the instance
// fields are guarded by instanceMu, a *separate* per-plugin lock that also
// serializes shutdown and invoke_command calls for this specific instance
// (§5 "Per-plugin exclusion").
type pluginState struct {
	manifest *pluginapi.Manifest
	dir      string

	instanceMu sync.Mutex
	handle     pluginHandle
	instance   pluginapi.Plugin
	api        *hostapi.API

	state  pluginapi.State
	reason string
}

func (s *pluginState) status() pluginapi.PluginStatus {
	return pluginapi.PluginStatus{
		ID:       s.manifest.ID,
		Author:   s.manifest.Author,
		Version:  s.manifest.Version,
		State:    s.state,
		Reason:   s.reason,
		Manifest: s.manifest,
	}
}
