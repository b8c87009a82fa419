// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

// Package pluginapi is the SDK plugins link against and the shared wire
// vocabulary the host uses to talk about them: manifests, the Host API
// vtable, schema-change types, and the {kind, message} error envelope.
package pluginapi

import (
	"fmt"
	"regexp"

	"github.com/pelletier/go-toml/v2"
)

// ABIVersion is the numeric struct-layout version of this package's Go
// types — see DESIGN.md, Open Question 1. It is distinct from a manifest's
// semantic api_version. The host does not compare it, api_version, or
// min_host_version/max_host_version against anything when loading a
// plugin.
const ABIVersion = 1

// idPattern validates plugin ids: lowercase dotted/hyphenated strings.
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9]*(?:[-.][a-z0-9]+)*$`)

const maxIDLength = 64

// Manifest is the parsed, validated contents of a plugin.toml file.
type Manifest struct {
	ID          string `toml:"id"`
	DisplayName string `toml:"display_name"`
	Version     string `toml:"version"`
	Author      string `toml:"author"`
	Description string `toml:"description,omitempty"`
	Repository  string `toml:"repository,omitempty"`
	License     string `toml:"license,omitempty"`

	APIVersion      string `toml:"api_version"`
	MinHostVersion  string `toml:"min_host_version,omitempty"`
	MaxHostVersion  string `toml:"max_host_version,omitempty"`

	Backend  BackendSection   `toml:"backend"`
	Frontend *FrontendSection `toml:"frontend,omitempty"`

	Dependencies  []Dependency   `toml:"dependencies,omitempty"`
	ExposedTables []ExposedTable `toml:"exposed_tables,omitempty"`
}

// BackendSection names the shared library the Loader must open.
type BackendSection struct {
	Library string `toml:"library"`
}

// FrontendSection is opaque to the host beyond its entry path and the
// named components it advertises.
type FrontendSection struct {
	Entry      string   `toml:"entry"`
	Components []string `toml:"components,omitempty"`
}

// Dependency is a (plugin_id, version_constraint) pair, e.g.
// {PluginID: "billing", Constraint: "^1.2.0"}.
type Dependency struct {
	PluginID   string `toml:"plugin_id"`
	Constraint string `toml:"version"`
}

// ExposedTable declares a plugin-owned table readable by other plugins.
// AllowedPlugins is one of ["*"] (public), a specific list, or [] (private
// — matching this host's Open Question 3 decision: absence of an entry in
// ExposedTables entirely is likewise private).
type ExposedTable struct {
	TableName      string   `toml:"table_name"`
	AllowedPlugins []string `toml:"allowed_plugins"`
	Description    string   `toml:"description,omitempty"`
}

// ParseManifest parses and validates a plugin.toml file's contents.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid TOML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks the structural constraints of §3 that a JSON Schema
// alone cannot express (cross-field consistency, id shape).
func (m *Manifest) Validate() error {
	if m.ID == "" || !idPattern.MatchString(m.ID) {
		return fmt.Errorf("id %q must be a lowercase dotted/hyphenated identifier", m.ID)
	}
	if len(m.ID) > maxIDLength {
		return fmt.Errorf("id must be %d characters or less, got %d", maxIDLength, len(m.ID))
	}
	if m.Author == "" {
		return fmt.Errorf("author is required")
	}
	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if m.APIVersion == "" {
		return fmt.Errorf("api_version is required")
	}
	if m.Backend.Library == "" {
		return fmt.Errorf("backend.library is required")
	}

	seen := make(map[string]struct{}, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		if dep.PluginID == "" || dep.Constraint == "" {
			return fmt.Errorf("dependency entries require plugin_id and version")
		}
		if _, dup := seen[dep.PluginID]; dup {
			return fmt.Errorf("duplicate dependency on plugin_id %q", dep.PluginID)
		}
		seen[dep.PluginID] = struct{}{}
	}

	tables := make(map[string]struct{}, len(m.ExposedTables))
	for _, et := range m.ExposedTables {
		if et.TableName == "" {
			return fmt.Errorf("exposed_tables entries require table_name")
		}
		if _, dup := tables[et.TableName]; dup {
			return fmt.Errorf("duplicate exposed_tables entry for table %q", et.TableName)
		}
		tables[et.TableName] = struct{}{}
	}

	return nil
}
