// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

// Package pluginapi's sdk.go documents the shape a plugin binary must
// export to be loadable by internal/plugin/loader.
//
// A plugin is a Go package built with `go build -buildmode=plugin` that
// exports exactly two package-level functions:
//
//	package main
//
//	import "github.com/tracktime/pluginhost/pkg/pluginapi"
//
//	func PluginCreate() pluginapi.Plugin {
//		return &myPlugin{}
//	}
//
//	func PluginDestroy(p pluginapi.Plugin) {
//		// release any resources myPlugin holds; on a normal unload the
//		// host has already called p.Shutdown(), while after a failed
//		// Initialize it calls PluginDestroy without Shutdown.
//	}
//
// PluginCreate and PluginDestroy are the Go-native rendering of the
// specification's `_plugin_create`/`_plugin_destroy` C ABI symbols — Go's
// plugin.Lookup only resolves exported identifiers (first Unicode letter
// uppercase), so the leading underscore cannot survive the translation.
package pluginapi

import (
	"encoding/json"
	"fmt"
)

// CommandHandler handles one named command for a plugin's InvokeCommand.
type CommandHandler func(params json.RawMessage, api HostAPI) (json.RawMessage, error)

// Router dispatches InvokeCommand calls by command name, the common case
// for a plugin with more than a couple of commands.
type Router struct {
	handlers map[string]CommandHandler
}

// NewRouter creates an empty command router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]CommandHandler)}
}

// Handle registers a handler for a command name.
func (r *Router) Handle(command string, h CommandHandler) *Router {
	r.handlers[command] = h
	return r
}

// Dispatch looks up and invokes the handler for command, returning a plain
// (non-oops) error when no handler is registered. The orchestrator passes
// that error through unchanged, so FromOops reports it as Internal.
func (r *Router) Dispatch(command string, params json.RawMessage, api HostAPI) (json.RawMessage, error) {
	h, ok := r.handlers[command]
	if !ok {
		return nil, fmt.Errorf("unknown command %q", command)
	}
	return h(params, api)
}
