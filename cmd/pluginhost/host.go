// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/tracktime/pluginhost/internal/config"
	"github.com/tracktime/pluginhost/internal/observability"
	"github.com/tracktime/pluginhost/internal/plugin/orchestrator"
	"github.com/tracktime/pluginhost/internal/plugin/registry"
	"github.com/tracktime/pluginhost/internal/plugin/schema"
	"github.com/tracktime/pluginhost/internal/store"
)

// host bundles the store, orchestrator, and observability server every
// subcommand needs, so serve/plugin/migrate can share one wiring path.
type host struct {
	store *store.Store
	orch  *orchestrator.Orchestrator
	obs   *observability.Server
}

// openHost opens the sqlite store, runs pending migrations, and wires the
// registry, schema engine, observability server, and orchestrator together.
func openHost(cfg config.Config) (*host, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, err
	}

	s, err := store.Open(filepath.Join(cfg.DataDir, "pluginhost.db"))
	if err != nil {
		return nil, err
	}

	m, err := store.NewMigrator(s)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := m.Up(); err != nil {
		_ = m.Close()
		_ = s.Close()
		return nil, err
	}
	if err := m.Close(); err != nil {
		_ = s.Close()
		return nil, err
	}

	reg := registry.New()
	obs := observability.NewServer(cfg.MetricsAddr, nil)
	engine := schema.New(s, reg).WithMetrics(obs.Metrics())

	orchCfg := orchestrator.DefaultConfig(filepath.Join(cfg.DataDir, "plugins"))
	if cfg.InitTimeout > 0 {
		orchCfg.InitTimeout = cfg.InitTimeout
	}
	if cfg.ShutdownTimeout > 0 {
		orchCfg.ShutdownTimeout = cfg.ShutdownTimeout
	}
	if cfg.DispatchWorkers > 0 {
		orchCfg.MaxWorkers = cfg.DispatchWorkers
	}
	orchCfg.Metrics = obs.Metrics()

	orch := orchestrator.New(orchCfg, s, reg, engine)

	return &host{store: s, orch: orch, obs: obs}, nil
}

func (h *host) Close() error {
	return h.store.Close()
}
