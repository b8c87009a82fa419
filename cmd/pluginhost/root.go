// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/tracktime/pluginhost/internal/config"
)

var (
	flagConfigFile  string
	flagDataDir     string
	flagLogFormat   string
	flagMetricsAddr string
	flagIPCAddr     string
)

// NewRootCmd builds the pluginhost command tree: serve, plugin, migrate.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pluginhost",
		Short:         "TrackTime plugin host: loads plugins, resolves dependencies, dispatches commands",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&flagConfigFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "override the sqlite store and plugins directory")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log output format: json or text")
	root.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "", "override the observability listen address")
	root.PersistentFlags().StringVar(&flagIPCAddr, "ipc-addr", "", "override the dispatch HTTP listen address")

	root.AddCommand(NewServeCmd())
	root.AddCommand(NewPluginCmd())
	root.AddCommand(NewMigrateCmd())

	return root
}

// loadConfig merges the config file and environment with any explicitly
// changed persistent flags. It intentionally does not bind the flag set to
// koanf's posflag.Provider: the flag names (data-dir) and the struct's
// koanf tags (data_dir) don't line up automatically, and only the flags the
// operator actually set should ever override a config file value.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(flagConfigFile, nil)
	if err != nil {
		return config.Config{}, err
	}

	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = flagDataDir
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = flagLogFormat
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = flagMetricsAddr
	}
	if cmd.Flags().Changed("ipc-addr") {
		cfg.IPCAddr = flagIPCAddr
	}

	return cfg, nil
}
