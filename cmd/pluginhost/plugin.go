// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tracktime/pluginhost/pkg/pluginapi"
)

var flagDispatchParams string

// NewPluginCmd groups plugin introspection and lifecycle subcommands.
func NewPluginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Inspect and control loaded plugins",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Load every discoverable plugin and print its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			h, err := openHost(cfg)
			if err != nil {
				return err
			}
			defer h.Close()

			if err := h.orch.LoadAll(cmd.Context()); err != nil {
				return err
			}
			printPluginTable(cmd, h.orch.ListPlugins())
			h.orch.Shutdown(cmd.Context())
			return nil
		},
	}

	enable := &cobra.Command{
		Use:   "enable <plugin-id>",
		Short: "Clear a plugin's persistent disabled flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			h, err := openHost(cfg)
			if err != nil {
				return err
			}
			defer h.Close()

			return h.orch.ClearPersistentlyDisabled(cmd.Context(), args[0])
		},
	}

	disable := &cobra.Command{
		Use:   "disable <plugin-id>",
		Short: "Persistently disable a plugin and shut it down if currently loaded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			h, err := openHost(cfg)
			if err != nil {
				return err
			}
			defer h.Close()

			if err := h.orch.SetPersistentlyDisabled(cmd.Context(), args[0]); err != nil {
				return err
			}

			if err := h.orch.LoadAll(cmd.Context()); err != nil {
				return err
			}
			// LoadAll marks a persistently disabled plugin Disabled directly;
			// only shut down the rest of the graph it may have pulled in.
			h.orch.Shutdown(cmd.Context())
			return nil
		},
	}

	dispatch := &cobra.Command{
		Use:   "dispatch <plugin-id> <command>",
		Short: "Load every plugin and invoke a single command against one of them",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			h, err := openHost(cfg)
			if err != nil {
				return err
			}
			defer h.Close()

			if err := h.orch.LoadAll(cmd.Context()); err != nil {
				return err
			}
			defer h.orch.Shutdown(cmd.Context())

			params := json.RawMessage(flagDispatchParams)
			if len(params) == 0 {
				params = json.RawMessage("null")
			}

			out, err := h.orch.Dispatch(cmd.Context(), args[0], args[1], params)
			if err != nil {
				wireErr := pluginapi.FromOops(err)
				return fmt.Errorf("%s: %s", wireErr.Kind, wireErr.Message)
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	dispatch.Flags().StringVar(&flagDispatchParams, "params", "", "JSON parameters to pass to the command")

	cmd.AddCommand(list, enable, disable, dispatch)
	return cmd
}

func printPluginTable(cmd *cobra.Command, statuses []pluginapi.PluginStatus) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tREASON")
	for _, st := range statuses {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", st.ID, st.State, st.Reason)
	}
	tw.Flush()
}
