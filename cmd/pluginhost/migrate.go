// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tracktime/pluginhost/internal/store"
)

// NewMigrateCmd groups schema migration subcommands for the core store.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the core sqlite schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending core migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
				return err
			}

			s, err := store.Open(filepath.Join(cfg.DataDir, "pluginhost.db"))
			if err != nil {
				return err
			}
			defer s.Close()

			m, err := store.NewMigrator(s)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Up(); err != nil {
				return err
			}

			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated to version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
				return err
			}

			s, err := store.Open(filepath.Join(cfg.DataDir, "pluginhost.db"))
			if err != nil {
				return err
			}
			defer s.Close()

			m, err := store.NewMigrator(s)
			if err != nil {
				return err
			}
			defer m.Close()

			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}

	cmd.AddCommand(up, status)
	return cmd
}
