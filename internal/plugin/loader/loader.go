// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package loader

import (
	"plugin"
	"sync"

	"github.com/samber/oops"
	"github.com/tracktime/pluginhost/pkg/pluginapi"
)

// symbolFactory and symbolDestructor are the exact static types a plugin
// binary's PluginCreate/PluginDestroy symbols must have. Go's plugin.Lookup
// returns an untyped Symbol; asserting to a named type (pluginapi.Factory)
// would fail even for a structurally identical func, since Go's type
// assertions on interface values compare static types exactly, not just
// their underlying shape. Plugin authors declare plain func literals of
// these unnamed types, per pkg/pluginapi/sdk.go's doc comment.
type symbolFactory = func() pluginapi.Plugin
type symbolDestructor = func(pluginapi.Plugin)

// Handle is one opened plugin library. Its factory and destructor become
// nil once Close is called, and Create/Destroy return an error after Close
// rather than calling into a library the host considers unloaded
// (§4.5 "Symbol lookups ... after handle drop are undefined and must be
// prevented by construction").
type Handle struct {
	mu         sync.Mutex
	lib        *plugin.Plugin
	factory    pluginapi.Factory
	destructor pluginapi.Destructor
	closed     bool
}

// Open resolves d's shared library, opens it via the OS dynamic loader,
// and looks up the two required exported symbols. Go's plugin package
// (dlopen/dlsym under the hood) is the direct analogue of the spec's
// libloading-based opening step; Go exported symbols cannot start with an
// underscore, so PluginCreate/PluginDestroy stand in for
// _plugin_create/_plugin_destroy (§4.5 implementation note, DESIGN.md).
func Open(d *Discovered) (*Handle, error) {
	lib, err := plugin.Open(d.LibraryPath())
	if err != nil {
		return nil, oops.Code("LibraryLoadFailed").With("plugin_id", d.Manifest.ID).With("path", d.LibraryPath()).Wrap(err)
	}

	createSym, err := lib.Lookup("PluginCreate")
	if err != nil {
		return nil, oops.Code("SymbolMissing").With("plugin_id", d.Manifest.ID).With("symbol", "PluginCreate").Wrap(err)
	}
	destroySym, err := lib.Lookup("PluginDestroy")
	if err != nil {
		return nil, oops.Code("SymbolMissing").With("plugin_id", d.Manifest.ID).With("symbol", "PluginDestroy").Wrap(err)
	}

	factory, ok := createSym.(symbolFactory)
	if !ok {
		return nil, oops.Code("SymbolMissing").With("plugin_id", d.Manifest.ID).
			Errorf("PluginCreate has the wrong signature; expected func() pluginapi.Plugin")
	}
	destructor, ok := destroySym.(symbolDestructor)
	if !ok {
		return nil, oops.Code("SymbolMissing").With("plugin_id", d.Manifest.ID).
			Errorf("PluginDestroy has the wrong signature; expected func(pluginapi.Plugin)")
	}

	return &Handle{lib: lib, factory: factory, destructor: destructor}, nil
}

// Create invokes the library's factory symbol, producing a new plugin
// instance. Never called by the host after Close.
func (h *Handle) Create() (pluginapi.Plugin, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, oops.Code("Internal").Errorf("library handle already closed")
	}
	return h.factory(), nil
}

// Destroy invokes the library's own destructor on instance. The host
// never frees a plugin instance directly (§3 "Plugin instance" lifecycle).
func (h *Handle) Destroy(instance pluginapi.Plugin) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return oops.Code("Internal").Errorf("library handle already closed")
	}
	h.destructor(instance)
	return nil
}

// Close drops the host's reference to the library's symbols. Go plugins
// cannot be unloaded from a running process (there is no dlclose
// equivalent); Close is the practical analogue of the spec's "drop the
// library handle" step, accepted as a platform limitation (§4.5
// implementation note). After Close, Create and Destroy fail rather than
// silently continuing to use the library.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.factory = nil
	h.destructor = nil
}
