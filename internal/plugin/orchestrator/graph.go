// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package orchestrator

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/tracktime/pluginhost/pkg/pluginapi"
)

// resolution is the outcome of resolveGraph: a dependency-first init order
// for the plugins that can run, plus the reason every other plugin was
// excluded (§4.6 invariant 6: a cycle skips only its members, not the
// whole host).
type resolution struct {
	order   []string          // dependency-first: a plugin's dependencies precede it
	cyclic  map[string]bool   // plugin id -> part of a dependency cycle
	unmet   map[string]string // plugin id -> reason (missing/unmet-transitively)
	badVers map[string]string // plugin id -> reason (present but constraint failed)
}

// resolveGraph computes initialization order from the manifests discovered
// for this run. Cycle members become SkippedCycle, plugins depending on a
// missing or already-skipped plugin become SkippedUnmet, and plugins whose
// dependency exists but fails its version constraint become
// VersionIncompatible (§4.6, §8 invariant 6).
func resolveGraph(manifests map[string]*pluginapi.Manifest) *resolution {
	cyclic := detectCycles(manifests)

	unmet := map[string]string{}
	badVers := map[string]string{}

	for changed := true; changed; {
		changed = false
		for id, m := range manifests {
			if cyclic[id] || unmet[id] != "" || badVers[id] != "" {
				continue
			}
			for _, dep := range m.Dependencies {
				depManifest, ok := manifests[dep.PluginID]
				if !ok {
					unmet[id] = fmt.Sprintf("missing dependency %q", dep.PluginID)
					changed = true
					break
				}
				if cyclic[dep.PluginID] {
					unmet[id] = fmt.Sprintf("dependency %q is part of a dependency cycle", dep.PluginID)
					changed = true
					break
				}
				if reason, isUnmet := unmet[dep.PluginID]; isUnmet {
					unmet[id] = fmt.Sprintf("dependency %q is unmet: %s", dep.PluginID, reason)
					changed = true
					break
				}
				if reason, isBad := badVers[dep.PluginID]; isBad {
					unmet[id] = fmt.Sprintf("dependency %q is version-incompatible: %s", dep.PluginID, reason)
					changed = true
					break
				}
				ok, err := satisfiesConstraint(depManifest.Version, dep.Constraint)
				if err != nil {
					badVers[id] = fmt.Sprintf("dependency %q constraint %q is invalid: %v", dep.PluginID, dep.Constraint, err)
					changed = true
					break
				}
				if !ok {
					badVers[id] = fmt.Sprintf("dependency %q version %q does not satisfy %q", dep.PluginID, depManifest.Version, dep.Constraint)
					changed = true
					break
				}
			}
		}
	}

	remaining := map[string]*pluginapi.Manifest{}
	for id, m := range manifests {
		if !cyclic[id] && unmet[id] == "" && badVers[id] == "" {
			remaining[id] = m
		}
	}

	return &resolution{
		order:   topoSort(remaining),
		cyclic:  cyclic,
		unmet:   unmet,
		badVers: badVers,
	}
}

// detectCycles runs a DFS over the dependency graph (plugin -> declared
// dependency), coloring nodes white/gray/black. A back edge to a gray node
// means every node on the current DFS stack from that node onward
// participates in a cycle.
func detectCycles(manifests map[string]*pluginapi.Manifest) map[string]bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(manifests))
	cyclic := make(map[string]bool)
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)

		for _, dep := range manifests[id].Dependencies {
			depID := dep.PluginID
			if _, present := manifests[depID]; !present {
				continue // missing dependencies are handled as SkippedUnmet, not a cycle
			}
			switch color[depID] {
			case white:
				visit(depID)
			case gray:
				for i := len(stack) - 1; i >= 0; i-- {
					cyclic[stack[i]] = true
					if stack[i] == depID {
						break
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
	}

	ids := make([]string, 0, len(manifests))
	for id := range manifests {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic visit order for deterministic cycle reporting

	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
	}
	return cyclic
}

// topoSort runs Kahn's algorithm over remaining, breaking ties
// alphabetically so init order is deterministic across runs given the
// same plugin set.
func topoSort(remaining map[string]*pluginapi.Manifest) []string {
	indegree := make(map[string]int, len(remaining))
	dependents := make(map[string][]string) // dependency id -> ids that depend on it
	for id := range remaining {
		indegree[id] = 0
	}
	for id, m := range remaining {
		for _, dep := range m.Dependencies {
			if _, ok := remaining[dep.PluginID]; ok {
				dependents[dep.PluginID] = append(dependents[dep.PluginID], id)
				indegree[id]++
			}
		}
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(remaining))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		next := append([]string(nil), dependents[id]...)
		sort.Strings(next)
		for _, dependent := range next {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
				sort.Strings(ready)
			}
		}
	}
	return order
}

// satisfiesConstraint evaluates a manifest dependency's version constraint.
// The spec's caret syntax (^X.Y.Z) is already Masterminds/semver/v3's
// native caret-range syntax; =, <, >, <=, >= pass through unchanged.
func satisfiesConstraint(version, constraint string) (bool, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("parse version %q: %w", version, err)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("parse constraint %q: %w", constraint, err)
	}
	return c.Check(v), nil
}
