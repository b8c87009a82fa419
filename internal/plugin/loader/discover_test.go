// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tracktime/pluginhost/pkg/pluginapi"
)

const validManifest = `
id = "tasks"
display_name = "Tasks"
version = "1.0.0"
author = "acme"
api_version = "1.0.0"

[backend]
library = "tasks"
`

func writeManifest(t *testing.T, dir, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(contents), 0o644))
}

func TestDiscover_FindsValidPlugin(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "acme", "tasks"), validManifest)

	found, err := Discover(root)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "tasks", found[0].Manifest.ID)
	assert.Equal(t, "acme", found[0].Manifest.Author)
}

func TestDiscover_SkipsMalformedManifest(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "acme", "broken"), "this is not valid toml [[[")
	writeManifest(t, filepath.Join(root, "acme", "tasks"), validManifest)

	found, err := Discover(root)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "tasks", found[0].Manifest.ID)
}

func TestDiscover_SkipsDirectoryWithoutManifest(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acme", "empty"), 0o755))

	found, err := Discover(root)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestDiscover_MissingRootIsNotAnError(t *testing.T) {
	found, err := Discover(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestLibraryPath_AppendsPlatformExtension(t *testing.T) {
	manifest, err := pluginapi.ParseManifest([]byte(validManifest))
	require.NoError(t, err)

	d := &Discovered{Dir: "/data/plugins/acme/tasks", Manifest: manifest}
	path := d.LibraryPath()
	assert.Contains(t, path, "tasks")
	assert.NotEqual(t, "/data/plugins/acme/tasks/tasks", path, "extension must be appended")
}
