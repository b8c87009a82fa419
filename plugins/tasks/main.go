// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

// Package main is the tasks plugin: a minimal example exercising the Host
// API's schema-extension and own-table surface.
//
// Build with:
//
//	go build -buildmode=plugin -o tasks.so ./plugins/tasks
//
// The host discovers this directory via its plugin.toml manifest and
// resolves the built shared object named by backend.library.
package main

import (
	"encoding/json"
	"fmt"

	"github.com/tracktime/pluginhost/pkg/pluginapi"
)

type tasksPlugin struct {
	pluginapi.NoSchemaExtensions
	router *pluginapi.Router
}

// PluginCreate is the Go rendering of the `_plugin_create` C ABI entry
// point (see pkg/pluginapi/sdk.go).
func PluginCreate() pluginapi.Plugin {
	p := &tasksPlugin{router: pluginapi.NewRouter()}
	p.router.
		Handle("create_task", p.createTask).
		Handle("complete_task", p.completeTask).
		Handle("list_tasks", p.listTasks)
	return p
}

// PluginDestroy is the Go rendering of `_plugin_destroy`.
func PluginDestroy(pluginapi.Plugin) {}

func (p *tasksPlugin) Info() pluginapi.PluginInfo {
	return pluginapi.PluginInfo{ID: "tasks", Name: "Tasks", Version: "0.1.0"}
}

func (p *tasksPlugin) Initialize(api pluginapi.HostAPI) error {
	return api.RegisterSchemaExtension(pluginapi.EntityActivity, []pluginapi.SchemaChange{
		pluginapi.CreateTable{
			Name: "tasks",
			Columns: []pluginapi.Column{
				{Name: "id", Type: "INTEGER", PrimaryKey: true},
				{Name: "title", Type: "TEXT"},
				{Name: "activity_id", Type: "INTEGER", Nullable: true, ForeignKey: &pluginapi.ForeignKeyRef{Table: "activities", Column: "id"}},
				{Name: "done", Type: "BOOLEAN", Default: strPtr("0")},
				{Name: "created_at", Type: "TIMESTAMP", AutoTimestamp: pluginapi.AutoTimestampCreated},
				{Name: "updated_at", Type: "TIMESTAMP", AutoTimestamp: pluginapi.AutoTimestampUpdated},
			},
		},
		pluginapi.AddIndex{Table: "tasks", Name: "idx_tasks_activity_id", Columns: []string{"activity_id"}},
	})
}

func (p *tasksPlugin) InvokeCommand(command string, params json.RawMessage, api pluginapi.HostAPI) (json.RawMessage, error) {
	return p.router.Dispatch(command, params, api)
}

func (p *tasksPlugin) Shutdown() error { return nil }

type createTaskParams struct {
	Title      string `json:"title"`
	ActivityID *int64 `json:"activity_id,omitempty"`
}

func (p *tasksPlugin) createTask(params json.RawMessage, api pluginapi.HostAPI) (json.RawMessage, error) {
	var in createTaskParams
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if in.Title == "" {
		return nil, fmt.Errorf("title is required")
	}

	row := map[string]any{"title": in.Title, "done": false}
	if in.ActivityID != nil {
		row["activity_id"] = *in.ActivityID
	}

	id, err := api.InsertOwnTable("tasks", row)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"id": id})
}

type completeTaskParams struct {
	ID int64 `json:"id"`
}

func (p *tasksPlugin) completeTask(params json.RawMessage, api pluginapi.HostAPI) (json.RawMessage, error) {
	var in completeTaskParams
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}

	ok, err := api.UpdateOwnTable("tasks", in.ID, map[string]any{"done": true})
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"updated": ok})
}

func (p *tasksPlugin) listTasks(params json.RawMessage, api pluginapi.HostAPI) (json.RawMessage, error) {
	rows, err := api.QueryOwnTable("tasks", nil, "created_at DESC", nil)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rows)
}

func strPtr(s string) *string { return &s }
