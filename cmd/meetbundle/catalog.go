// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package main

import (
	"io/fs"
	"log/slog"
	"os"

	catalogpkg "github.com/meetbundle/meetbundle/internal/module"
	"github.com/meetbundle/meetbundle/internal/module/goplugin"
	"github.com/meetbundle/meetbundle/internal/module/lua"
	"github.com/meetbundle/meetbundle/internal/xdg"
	"github.com/meetbundle/meetbundle/modules"
)

// newCatalog builds the shared parent: bundled modules, shared handlers and
// the runtimes for declared modules. Shared resources resolve from baseDir.
func newCatalog(baseDir string, logger *slog.Logger) (*catalogpkg.Catalog, error) {
	var resources fs.FS
	if baseDir != "" {
		resources = os.DirFS(baseDir)
	}
	c := catalogpkg.NewCatalog(resources)
	if err := modules.Register(c); err != nil {
		return nil, err //nolint:wrapcheck // oops error from catalog
	}
	if err := c.RegisterRuntime(goplugin.Kind, goplugin.NewRuntime(goplugin.WithLogger(logger))); err != nil {
		return nil, err //nolint:wrapcheck // oops error from catalog
	}
	if err := c.RegisterRuntime(lua.Kind, lua.NewRuntime()); err != nil {
		return nil, err //nolint:wrapcheck // oops error from catalog
	}
	return c, nil
}

// resolveConfigPath returns explicit when set, otherwise the XDG config file
// when it exists, otherwise "" (defaults and flags only).
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	path := xdg.ConfigFile()
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
