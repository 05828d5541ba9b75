// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the meetbundle CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meetbundle",
		Short: "meetbundle - module host for conferencing services",
		Long: `meetbundle hosts isolated modules: compiled-in, scripted and
out-of-process. Each module gets its own archive search path, lifecycle
and HTTP endpoints under the deployment unit.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/meetbundle/meetbundle.yaml when present)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newModulesCmd())
	cmd.AddCommand(newInspectCmd())

	return cmd
}
