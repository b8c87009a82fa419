// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package pluginapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateManifestSchema_ProducesValidJSON(t *testing.T) {
	data, err := GenerateManifestSchema()
	require.NoError(t, err)
	assert.Contains(t, string(data), ManifestSchemaID())
	assert.Contains(t, string(data), "Plugin Manifest")
}

func TestValidateManifestSchema_AcceptsWellFormedManifest(t *testing.T) {
	t.Cleanup(ResetManifestSchemaCache)
	assert.NoError(t, ValidateManifestSchema([]byte(validManifestTOML)))
}

func TestValidateManifestSchema_RejectsMissingRequiredField(t *testing.T) {
	t.Cleanup(ResetManifestSchemaCache)
	missingAuthor := `
id = "tasks"
display_name = "Tasks"
version = "0.1.0"
api_version = "1.0"

[backend]
library = "tasks.so"
`
	assert.Error(t, ValidateManifestSchema([]byte(missingAuthor)))
}

func TestValidateManifestSchema_EmptyData(t *testing.T) {
	assert.Error(t, ValidateManifestSchema(nil))
}

func TestValidateManifestSchema_InvalidTOML(t *testing.T) {
	t.Cleanup(ResetManifestSchemaCache)
	assert.Error(t, ValidateManifestSchema([]byte("not [ toml")))
}
