// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tracktime/pluginhost/pkg/pluginapi"
)

func TestStageCommit_PromotesOwnership(t *testing.T) {
	r := New()
	r.Stage("tasks")

	require.NoError(t, r.StageSchemaChanges("tasks", []pluginapi.SchemaChange{
		pluginapi.CreateTable{Name: "tasks", Columns: []pluginapi.Column{{Name: "id", Type: "INTEGER", PrimaryKey: true}}},
	}))

	// Not yet visible in the live registry.
	assert.False(t, r.OwnsTable("tasks", "tasks"))

	r.Commit("tasks")

	assert.True(t, r.OwnsTable("tasks", "tasks"))
	assert.Equal(t, []string{"tasks"}, r.OwnedTables("tasks"))
}

func TestDiscard_LeaksNothing(t *testing.T) {
	r := New()
	r.Stage("bad")
	require.NoError(t, r.StageSchemaChanges("bad", []pluginapi.SchemaChange{
		pluginapi.CreateTable{Name: "ghost"},
	}))

	r.Discard("bad")

	_, ok := r.OwnerOf("ghost")
	assert.False(t, ok)
	assert.Empty(t, r.Extensions("bad").SchemaChanges)
}

func TestRemove_KeepsOwnership(t *testing.T) {
	r := New()
	r.Stage("tasks")
	require.NoError(t, r.StageSchemaChanges("tasks", []pluginapi.SchemaChange{
		pluginapi.CreateTable{Name: "tasks"},
	}))
	r.Commit("tasks")

	r.Remove("tasks")

	assert.True(t, r.OwnsTable("tasks", "tasks"), "removing a plugin's live extensions must not drop table ownership")
	assert.Empty(t, r.Extensions("tasks").SchemaChanges)
}

func TestDataHooksFor_OrderPreserved(t *testing.T) {
	r := New()
	r.Stage("ex")
	seen := []string{}
	require.NoError(t, r.StageDataHook("ex", pluginapi.DataHook{
		EntityType: pluginapi.EntityActivity,
		Name:       "first",
		Fn: func(row map[string]any) (map[string]any, error) {
			seen = append(seen, "first")
			return row, nil
		},
	}))
	require.NoError(t, r.StageDataHook("ex", pluginapi.DataHook{
		EntityType: pluginapi.EntityActivity,
		Name:       "second",
		Fn: func(row map[string]any) (map[string]any, error) {
			seen = append(seen, "second")
			return row, nil
		},
	}))
	r.Commit("ex")

	hooks := r.DataHooksFor("ex", pluginapi.EntityActivity)
	require.Len(t, hooks, 2)
	assert.Equal(t, "first", hooks[0].Name)
	assert.Equal(t, "second", hooks[1].Name)
}

func TestStageWithoutOpenBuffer_Errors(t *testing.T) {
	r := New()
	err := r.StageSchemaChanges("nope", []pluginapi.SchemaChange{pluginapi.CreateTable{Name: "x"}})
	assert.Error(t, err)
}
