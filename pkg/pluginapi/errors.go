// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package pluginapi

import "github.com/samber/oops"

// Kind is one of the error taxonomy values a plugin-facing operation may
// fail with. It crosses the host/plugin boundary as a plain string so
// plugins never need to link against the host's error library.
type Kind string

// Error kinds. Internal errors produced by the internal/plugin packages
// carry one of these as their oops.Code(); internal/store uses its own
// codes ("INTERNAL", "NOT_FOUND"). FromOops translates every error to one
// of these Kind values before it reaches a plugin or the frontend IPC.
const (
	KindNotFound             Kind = "NotFound"
	KindInvalidArgument      Kind = "InvalidArgument"
	KindPermissionDenied     Kind = "PermissionDenied"
	KindConstraintViolation  Kind = "ConstraintViolation"
	KindDependencyUnsatisfied Kind = "DependencyUnsatisfied"
	KindVersionIncompatible  Kind = "VersionIncompatible"
	KindManifestInvalid      Kind = "ManifestInvalid"
	KindLibraryLoadFailed    Kind = "LibraryLoadFailed"
	KindSymbolMissing        Kind = "SymbolMissing"
	KindPluginPanicked       Kind = "PluginPanicked"
	KindTimeout              Kind = "Timeout"
	KindInternal             Kind = "Internal"
)

// Error is the JSON-safe error envelope carried across the plugin/host and
// host/IPC boundary: `{ "kind": ..., "message": ... }`.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// codeToKind maps the internal oops.Code() strings used throughout
// internal/plugin/* onto the wire-level Kind taxonomy.
var codeToKind = map[string]Kind{
	"NotFound":              KindNotFound,
	"InvalidArgument":       KindInvalidArgument,
	"PermissionDenied":      KindPermissionDenied,
	"ConstraintViolation":   KindConstraintViolation,
	"DependencyUnsatisfied": KindDependencyUnsatisfied,
	"VersionIncompatible":   KindVersionIncompatible,
	"ManifestInvalid":       KindManifestInvalid,
	"LibraryLoadFailed":     KindLibraryLoadFailed,
	"SymbolMissing":         KindSymbolMissing,
	"PluginPanicked":        KindPluginPanicked,
	"Timeout":               KindTimeout,
}

// FromOops translates an internal error, expected to carry an oops.Code()
// drawn from the taxonomy above, into the wire-level Error envelope. Errors
// that are not oops errors, or whose code is unrecognized, translate to
// Internal — this is the single point where oops-awareness ends and plugins
// stop seeing anything but {kind, message}.
func FromOops(err error) *Error {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return &Error{Kind: KindInternal, Message: err.Error()}
	}

	kind := KindInternal
	if code, ok := oopsErr.Code().(string); ok && code != "" {
		if k, found := codeToKind[code]; found {
			kind = k
		}
	}

	return &Error{Kind: kind, Message: oopsErr.Error()}
}
