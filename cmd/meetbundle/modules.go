// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/meetbundle/meetbundle/internal/config"
	"github.com/meetbundle/meetbundle/modules"
)

// ModuleRow is one line of the modules listing.
type ModuleRow struct {
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	Endpoints  []string `json:"endpoints,omitempty"`
	SeniorOnly bool     `json:"senior_only,omitempty"`
	Bundled    bool     `json:"bundled"`
}

// modulesConfig holds configuration for the modules command.
type modulesConfig struct {
	jsonOutput bool
}

// newModulesCmd creates the modules subcommand.
func newModulesCmd() *cobra.Command {
	cfg := &modulesConfig{}

	cmd := &cobra.Command{
		Use:   "modules",
		Short: "Print the configured module table",
		Long: `Load and validate the configuration and print its module table in load
order. Bundled marks modules compiled into this binary.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := config.Load(resolveConfigPath(configFile), nil)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return printModules(cmd.OutOrStdout(), moduleRows(src.Config()), cfg.jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output the table as JSON")

	return cmd
}

// moduleRows converts the module table into listing rows.
func moduleRows(c *config.Config) []ModuleRow {
	bundled := modules.Bundled()
	rows := make([]ModuleRow, 0, len(c.Modules))
	for _, m := range c.Modules {
		_, isBundled := bundled[m.Name]
		rows = append(rows, ModuleRow{
			Name:       m.Name,
			Path:       m.Path,
			Endpoints:  slices.Clone(m.Endpoints),
			SeniorOnly: m.SeniorOnly,
			Bundled:    isBundled,
		})
	}
	return rows
}

func printModules(w io.Writer, rows []ModuleRow, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		return nil
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "no modules configured")
		return err //nolint:wrapcheck // writer error
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPATH\tENDPOINTS\tSENIOR ONLY\tBUNDLED")
	for _, r := range rows {
		endpoints := "*"
		if len(r.Endpoints) > 0 {
			endpoints = strings.Join(r.Endpoints, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\n", r.Name, r.Path, endpoints, r.SeniorOnly, r.Bundled)
	}
	return tw.Flush() //nolint:wrapcheck // writer error
}
