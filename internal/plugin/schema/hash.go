// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tracktime/pluginhost/pkg/pluginapi"
)

// changeHash computes the migration ledger's idempotence key: a SHA-256
// hex digest of change's canonical (map-key-sorted) JSON encoding. No pack
// library performs canonical-form content hashing, so this uses the
// standard library directly — see DESIGN.md.
func changeHash(change pluginapi.SchemaChange) (string, error) {
	canon, err := canonicalize(change)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize renders change as a deterministic JSON document: a
// type-tagged map with keys sorted before marshaling, so structurally
// identical changes always hash the same regardless of Go map iteration
// order.
func canonicalize(change pluginapi.SchemaChange) ([]byte, error) {
	tagged := map[string]any{
		"kind": schemaChangeKind(change),
		"data": change,
	}

	raw, err := json.Marshal(tagged)
	if err != nil {
		return nil, fmt.Errorf("canonicalize schema change: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonicalize schema change: %w", err)
	}

	return marshalSorted(generic)
}

func schemaChangeKind(change pluginapi.SchemaChange) string {
	switch change.(type) {
	case pluginapi.CreateTable:
		return "CreateTable"
	case pluginapi.AddColumn:
		return "AddColumn"
	case pluginapi.AddIndex:
		return "AddIndex"
	case pluginapi.AddForeignKey:
		return "AddForeignKey"
	default:
		return "Unknown"
	}
}

// marshalSorted re-marshals a generic JSON value with object keys sorted,
// recursively. encoding/json already sorts map[string]any keys when
// marshaling directly, but we go through an explicit sort here so the
// guarantee doesn't depend on that implementation detail persisting.
func marshalSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf []byte
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		var buf []byte
		buf = append(buf, '[')
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(val)
	}
}
