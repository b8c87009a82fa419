// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package pluginapi

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/pelletier/go-toml/v2"
)

// manifestSchemaCache holds the compiled schema to avoid recompilation.
var manifestSchemaCache *jschema.Schema

// GenerateManifestSchema generates a JSON Schema from the Manifest struct.
func GenerateManifestSchema() ([]byte, error) {
	// Manifest is tagged with `toml`, not `json` — without FieldNameTag the
	// reflector would name properties after the Go fields (ID, DisplayName,
	// ...) instead of the plugin.toml keys ValidateManifestSchema actually
	// checks data against.
	r := jsonschema.Reflector{DoNotReference: true, FieldNameTag: "toml"}
	schema := r.Reflect(&Manifest{})

	schema.ID = jsonschema.ID(ManifestSchemaID())
	schema.Title = "Plugin Manifest"
	schema.Description = "Schema for plugin.toml manifest files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// ValidateManifestSchema validates raw TOML bytes against the generated
// JSON Schema, ahead of ParseManifest's cross-field checks.
func ValidateManifestSchema(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("manifest data is empty")
	}

	var tomlData any
	if err := toml.Unmarshal(data, &tomlData); err != nil {
		return fmt.Errorf("invalid TOML: %w", err)
	}

	jsonData := convertToJSONTypes(tomlData)

	sch, err := getCompiledManifestSchema()
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	if err := sch.Validate(jsonData); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

func getCompiledManifestSchema() (*jschema.Schema, error) {
	if manifestSchemaCache != nil {
		return manifestSchemaCache, nil
	}

	schemaBytes, err := GenerateManifestSchema()
	if err != nil {
		return nil, err
	}

	var schemaData any
	if err := json.Unmarshal(schemaBytes, &schemaData); err != nil {
		return nil, fmt.Errorf("failed to parse schema JSON: %w", err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("manifest-schema.json", schemaData); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	sch, err := c.Compile("manifest-schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	manifestSchemaCache = sch
	return sch, nil
}

// convertToJSONTypes converts TOML-parsed data (map[string]any with
// int64/time.Time-flavored scalars) into plain JSON-compatible types.
func convertToJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, v := range val {
			result[k] = convertToJSONTypes(v)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, v := range val {
			result[i] = convertToJSONTypes(v)
		}
		return result
	case string, int, int64, float64, bool, nil:
		return val
	default:
		if b, err := json.Marshal(val); err == nil {
			var result any
			if err := json.Unmarshal(b, &result); err == nil {
				return result
			}
		}
		return val
	}
}

// ResetManifestSchemaCache clears the cached schema. Used for testing.
func ResetManifestSchemaCache() {
	manifestSchemaCache = nil
}

// ManifestSchemaID returns the schema $id embedded in generated schemas.
func ManifestSchemaID() string {
	return "https://tracktime.dev/schemas/plugin-manifest.schema.json"
}
