// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package hostapi

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tracktime/pluginhost/internal/plugin/permission"
	"github.com/tracktime/pluginhost/internal/plugin/registry"
	"github.com/tracktime/pluginhost/internal/plugin/schema"
	"github.com/tracktime/pluginhost/internal/store"
	"github.com/tracktime/pluginhost/pkg/pluginapi"
)

type noopDirectory struct{}

func (noopDirectory) Status(string) (*pluginapi.Manifest, bool) { return nil, false }

func newTestAPI(t *testing.T, pluginID string) (*API, *schema.Engine, *registry.Registry) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m, err := store.NewMigrator(s)
	require.NoError(t, err)
	require.NoError(t, m.Up())

	reg := registry.New()
	engine := schema.New(s, reg)
	broker := permission.New(reg, noopDirectory{})
	return New(pluginID, s, reg, broker), engine, reg
}

func createOwnedTable(t *testing.T, e *schema.Engine, reg *registry.Registry, pluginID, table string, columns []pluginapi.Column) {
	t.Helper()
	changes := []pluginapi.SchemaChange{
		pluginapi.CreateTable{Name: table, Columns: columns},
	}
	reg.Stage(pluginID)
	require.NoError(t, reg.StageSchemaChanges(pluginID, changes))
	require.NoError(t, e.Apply(context.Background(), pluginID, changes))
	reg.Commit(pluginID)
}

func TestCategoryCRUD(t *testing.T) {
	api, _, _ := newTestAPI(t, "core")

	created, err := api.CreateCategory(map[string]any{"name": "Deep Work", "color": "#336699", "sort_order": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, "Deep Work", created["name"])

	all, err := api.GetCategories()
	require.NoError(t, err)
	require.Len(t, all, 1)

	id, err := toInt64(created["id"])
	require.NoError(t, err)

	updated, err := api.UpdateCategory(map[string]any{"id": id, "name": "Focus"})
	require.NoError(t, err)
	assert.Equal(t, "Focus", updated["name"])

	require.NoError(t, api.DeleteCategory(id))
	_, err = api.UpdateCategory(map[string]any{"id": id, "name": "gone"})
	assert.Error(t, err)
}

func TestCreateCategory_RejectsUnknownColumn(t *testing.T) {
	api, _, _ := newTestAPI(t, "core")
	_, err := api.CreateCategory(map[string]any{"nonexistent_column": "x"})
	assert.Error(t, err)
}

func TestGetActivities_FiltersAndOrders(t *testing.T) {
	api, _, _ := newTestAPI(t, "core")
	ctx := context.Background()

	_, err := api.store.Exec(ctx, `INSERT INTO activities (app_name, started_at, duration_sec, is_idle) VALUES (?, ?, ?, ?)`,
		"editor", int64(100), int64(60), false)
	require.NoError(t, err)
	_, err = api.store.Exec(ctx, `INSERT INTO activities (app_name, started_at, duration_sec, is_idle) VALUES (?, ?, ?, ?)`,
		"idle-screen", int64(200), int64(30), true)
	require.NoError(t, err)

	rows, err := api.GetActivities(0, 1000, nil, nil, &pluginapi.ActivityFilters{ExcludeIdle: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "editor", rows[0]["app_name"])
}

func TestGetActivities_OffsetAppliesWithoutLimit(t *testing.T) {
	api, _, _ := newTestAPI(t, "core")
	ctx := context.Background()

	for i, app := range []string{"a", "b", "c"} {
		_, err := api.store.Exec(ctx, `INSERT INTO activities (app_name, started_at, duration_sec, is_idle) VALUES (?, ?, ?, ?)`,
			app, int64(100+i), int64(60), false)
		require.NoError(t, err)
	}

	offset := int64(1)
	rows, err := api.GetActivities(0, 1000, nil, &offset, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0]["app_name"])
	assert.Equal(t, "a", rows[1]["app_name"])
}

func TestOwnTableCRUD_EnforcesOwnership(t *testing.T) {
	api, engine, reg := newTestAPI(t, "tasks")
	createOwnedTable(t, engine, reg, "tasks", "task_items", []pluginapi.Column{
		{Name: "id", Type: "INTEGER", PrimaryKey: true},
		{Name: "title", Type: "TEXT"},
		{Name: "created_at", Type: "INTEGER", AutoTimestamp: pluginapi.AutoTimestampCreated},
		{Name: "updated_at", Type: "INTEGER", AutoTimestamp: pluginapi.AutoTimestampUpdated},
	})

	id, err := api.InsertOwnTable("task_items", map[string]any{"title": "write tests"})
	require.NoError(t, err)
	assert.NotZero(t, id)

	rows, err := api.QueryOwnTable("task_items", nil, "", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotNil(t, rows[0]["created_at"])
	assert.NotNil(t, rows[0]["updated_at"])

	updated, err := api.UpdateOwnTable("task_items", id, map[string]any{"title": "write more tests"})
	require.NoError(t, err)
	assert.True(t, updated)

	deleted, err := api.DeleteOwnTable("task_items", id)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestOwnTable_RejectsUnownedAccess(t *testing.T) {
	api, engine, reg := newTestAPI(t, "intruder")
	createOwnedTable(t, engine, reg, "tasks", "task_items", []pluginapi.Column{{Name: "id", Type: "INTEGER", PrimaryKey: true}})

	_, err := api.InsertOwnTable("task_items", map[string]any{})
	assert.Error(t, err)
}

func TestAggregateOwnTable_CountAndGroupBy(t *testing.T) {
	api, engine, reg := newTestAPI(t, "tasks")
	createOwnedTable(t, engine, reg, "tasks", "task_items", []pluginapi.Column{
		{Name: "id", Type: "INTEGER", PrimaryKey: true},
		{Name: "status", Type: "TEXT"},
		{Name: "minutes", Type: "INTEGER"},
	})

	for _, row := range []map[string]any{
		{"status": "done", "minutes": int64(30)},
		{"status": "done", "minutes": int64(20)},
		{"status": "open", "minutes": int64(10)},
	} {
		_, err := api.InsertOwnTable("task_items", row)
		require.NoError(t, err)
	}

	result, err := api.AggregateOwnTable("task_items", nil, pluginapi.Aggregation{
		Count: "*", Sum: []string{"minutes"}, GroupBy: []string{"status"},
	})
	require.NoError(t, err)
	require.Len(t, result.Groups, 2)
	require.NotNil(t, result.TotalCount)
	assert.Equal(t, int64(3), *result.TotalCount)
	assert.Equal(t, float64(60), result.Scalars["sum_minutes"])
}

func TestAggregateOwnTable_ScalarsOnly(t *testing.T) {
	api, engine, reg := newTestAPI(t, "tasks")
	createOwnedTable(t, engine, reg, "tasks", "task_items", []pluginapi.Column{
		{Name: "id", Type: "INTEGER", PrimaryKey: true},
		{Name: "minutes", Type: "INTEGER"},
	})

	for _, minutes := range []int64{10, 20, 30} {
		_, err := api.InsertOwnTable("task_items", map[string]any{"minutes": minutes})
		require.NoError(t, err)
	}

	result, err := api.AggregateOwnTable("task_items", nil, pluginapi.Aggregation{
		Sum: []string{"minutes"}, Avg: []string{"minutes"},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(60), result.Scalars["sum_minutes"])
	assert.Equal(t, float64(20), result.Scalars["avg_minutes"])

	data, err := json.Marshal(result)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(60), decoded["sum_minutes"])
	assert.Equal(t, float64(20), decoded["avg_minutes"])
}

func TestQueryOwnTable_RejectsNumericOperatorAgainstTextColumn(t *testing.T) {
	api, engine, reg := newTestAPI(t, "tasks")
	createOwnedTable(t, engine, reg, "tasks", "task_items", []pluginapi.Column{
		{Name: "id", Type: "INTEGER", PrimaryKey: true},
		{Name: "status", Type: "TEXT"},
	})

	gte := int64(0)
	_, err := api.QueryOwnTable("task_items", pluginapi.Filters{
		"status": pluginapi.FilterValue{Ops: &pluginapi.FilterOps{Gte: gte}},
	}, "", nil)
	assert.Error(t, err)
}

func TestQueryPluginTable_SelfReadBypassesBroker(t *testing.T) {
	api, engine, reg := newTestAPI(t, "tasks")
	createOwnedTable(t, engine, reg, "tasks", "task_items", []pluginapi.Column{{Name: "id", Type: "INTEGER", PrimaryKey: true}})

	rows, err := api.QueryPluginTable("tasks", "task_items", nil, "", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestQueryPluginTable_DeniedWithoutExposure(t *testing.T) {
	api, engine, reg := newTestAPI(t, "reports")
	createOwnedTable(t, engine, reg, "tasks", "task_items", []pluginapi.Column{{Name: "id", Type: "INTEGER", PrimaryKey: true}})

	_, err := api.QueryPluginTable("tasks", "task_items", nil, "", nil)
	assert.Error(t, err)
}
