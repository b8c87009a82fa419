// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistentlyDisabled_RoundTrips(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	disabled, err := o.disabledPluginIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, disabled)

	require.NoError(t, o.SetPersistentlyDisabled(ctx, "tasks"))
	disabled, err = o.disabledPluginIDs(ctx)
	require.NoError(t, err)
	assert.True(t, disabled["tasks"])

	// Setting it again must not error (idempotent, INSERT OR IGNORE).
	require.NoError(t, o.SetPersistentlyDisabled(ctx, "tasks"))

	require.NoError(t, o.ClearPersistentlyDisabled(ctx, "tasks"))
	disabled, err = o.disabledPluginIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, disabled)

	// Clearing a plugin id that was never disabled is a no-op, not an error.
	require.NoError(t, o.ClearPersistentlyDisabled(ctx, "never-disabled"))
}

func TestLoadAll_NoPluginsIsNotAnError(t *testing.T) {
	o := newTestOrchestrator(t)
	require.NoError(t, o.LoadAll(context.Background()))
	assert.Empty(t, o.ListPlugins())
}
