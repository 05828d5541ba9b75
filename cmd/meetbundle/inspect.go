// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/meetbundle/meetbundle/internal/loader"
	"github.com/meetbundle/meetbundle/pkg/errutil"
)

// Inspection is the result of scanning one module directory.
type Inspection struct {
	Dir          string        `json:"dir"`
	SearchPath   []string      `json:"search_path"`
	Declarations []Declaration `json:"declarations,omitempty"`
	Skipped      []string      `json:"skipped,omitempty"`
}

// Declaration is one manifest declaration found during inspection.
type Declaration struct {
	Archive string `json:"archive"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Entry   string `json:"entry"`
	Version string `json:"version,omitempty"`
}

// inspectConfig holds configuration for the inspect command.
type inspectConfig struct {
	devMode    bool
	jsonOutput bool
}

// newInspectCmd creates the inspect subcommand.
func newInspectCmd() *cobra.Command {
	cfg := &inspectConfig{}

	cmd := &cobra.Command{
		Use:   "inspect <dir>",
		Short: "Scan a module directory the way the loader does",
		Long: `Scan a module directory with the same rules a module's loader applies
and print the resulting search path, manifest declarations and the archives
that were skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			result, err := inspectDir(args[0], cfg.devMode, logger)
			if err != nil {
				return err
			}
			return printInspection(cmd.OutOrStdout(), result, cfg.jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&cfg.devMode, "dev", false, "apply development mode (skip the host's own packaging archive)")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output as JSON")

	return cmd
}

// inspectDir scans dir with a fresh loader over the bundled catalog and
// releases every archive before returning.
func inspectDir(dir string, devMode bool, logger *slog.Logger) (*Inspection, error) {
	catalog, err := newCatalog("", logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build module catalog: %w", err)
	}

	ldr := loader.New(catalog, loader.WithLogger(logger))
	defer func() {
		if rerr := ldr.ReleaseAll(); rerr != nil {
			errutil.LogError(logger, "failed to release archives", rerr)
		}
	}()

	if err := ldr.AddDirectory(dir, devMode); err != nil {
		return nil, err //nolint:wrapcheck // oops error from loader
	}

	result := &Inspection{Dir: dir, SearchPath: ldr.SearchPath()}

	manifests := ldr.Manifests()
	for _, location := range result.SearchPath {
		m, ok := manifests[location]
		if !ok {
			continue
		}
		for _, d := range m.Modules {
			result.Declarations = append(result.Declarations, Declaration{
				Archive: location,
				Name:    d.Name,
				Kind:    d.Kind,
				Entry:   d.Entry,
				Version: d.Version,
			})
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if loader.IsArchiveName(e.Name()) && !slices.Contains(result.SearchPath, path) {
			result.Skipped = append(result.Skipped, path)
		}
	}
	return result, nil
}

func printInspection(w io.Writer, r *Inspection, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		return nil
	}

	fmt.Fprintf(w, "Directory: %s\n\nSearch path:\n", r.Dir)
	if len(r.SearchPath) == 0 {
		fmt.Fprintln(w, "  (empty)")
	}
	for i, p := range r.SearchPath {
		fmt.Fprintf(w, "  %d. %s\n", i+1, p)
	}

	if len(r.Declarations) > 0 {
		fmt.Fprintln(w, "\nDeclarations:")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  NAME\tKIND\tENTRY\tVERSION\tARCHIVE")
		for _, d := range r.Declarations {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", d.Name, d.Kind, d.Entry, d.Version, filepath.Base(d.Archive))
		}
		if err := tw.Flush(); err != nil {
			return err //nolint:wrapcheck // writer error
		}
	}

	if len(r.Skipped) > 0 {
		fmt.Fprintln(w, "\nSkipped:")
		for _, p := range r.Skipped {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
	return nil
}
