// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

// Package loader is the Loader (C5): plugin directory discovery and the
// Go binding of the spec's C ABI (_plugin_create/_plugin_destroy),
// rendered onto Go's plugin package.
package loader

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/tracktime/pluginhost/pkg/pluginapi"
)

// ManifestFileName is the fixed manifest name inside every plugin
// directory (§4.5).
const ManifestFileName = "plugin.toml"

// Discovered pairs a parsed manifest with the directory it was found in.
type Discovered struct {
	Manifest *pluginapi.Manifest
	Dir      string
}

// LibraryPath resolves the OS-appropriate shared library path for d,
// relative to its directory and manifest-declared library name.
func (d *Discovered) LibraryPath() string {
	name := d.Manifest.Backend.Library
	ext := libraryExtension()
	if filepath.Ext(name) == "" {
		name += ext
	}
	return filepath.Join(d.Dir, name)
}

func libraryExtension() string {
	switch runtime.GOOS {
	case "darwin":
		return ".dylib"
	case "windows":
		return ".dll"
	default:
		return ".so"
	}
}

// Discover walks pluginsRoot two levels deep — {author}/{plugin_id}/ — and
// parses plugin.toml in each leaf directory. Malformed manifests and
// unreadable directories are logged and skipped, never fatal (§4.5
// "Discovery"); only a failure to read pluginsRoot itself is returned as
// an error, and a missing root is treated as "no plugins", not an error.
func Discover(pluginsRoot string) ([]*Discovered, error) {
	authorEntries, err := os.ReadDir(pluginsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugins root %q: %w", pluginsRoot, err)
	}

	var found []*Discovered
	for _, authorEntry := range authorEntries {
		if !authorEntry.IsDir() {
			continue
		}
		authorDir := filepath.Join(pluginsRoot, authorEntry.Name())

		pluginEntries, err := os.ReadDir(authorDir)
		if err != nil {
			slog.Warn("skipping unreadable author directory", "dir", authorDir, "error", err)
			continue
		}

		for _, pluginEntry := range pluginEntries {
			if !pluginEntry.IsDir() {
				continue
			}
			pluginDir := filepath.Join(authorDir, pluginEntry.Name())
			manifestPath := filepath.Join(pluginDir, ManifestFileName)

			data, err := os.ReadFile(manifestPath)
			if err != nil {
				slog.Warn("skipping plugin without manifest", "dir", pluginDir, "error", err)
				continue
			}

			manifest, err := pluginapi.ParseManifest(data)
			if err != nil {
				slog.Warn("skipping plugin with invalid manifest", "dir", pluginDir, "error", err)
				continue
			}

			found = append(found, &Discovered{Manifest: manifest, Dir: pluginDir})
		}
	}

	return found, nil
}
