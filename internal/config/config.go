// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

// Package config loads the host configuration: defaults, an optional YAML
// file and command-line flags, layered in that order.
package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// Default configuration values.
const (
	DefaultUnit        = "meetbundle"
	DefaultListen      = "127.0.0.1:8443"
	DefaultMetricsAddr = "127.0.0.1:9100"
	DefaultLogFormat   = "json"
)

// Config is the host configuration.
type Config struct {
	// Unit is the deployment unit name endpoints are scoped under.
	Unit string `koanf:"unit" jsonschema:"pattern=^[a-z][a-z0-9-]*$,description=Deployment unit name; endpoints are served under /<unit>"`
	// BaseDir is the host plugin's base directory. Relative module paths
	// resolve against it.
	BaseDir string `koanf:"base_dir" jsonschema:"description=Host plugin base directory"`
	// Listen is the address of the endpoint dispatcher.
	Listen string `koanf:"listen" jsonschema:"description=Endpoint dispatcher listen address"`
	// MetricsAddr is the address of the metrics and health server. Empty
	// disables it.
	MetricsAddr string `koanf:"metrics_addr" jsonschema:"description=Metrics and health listen address (empty disables)"`
	// LogFormat is "json" or "text".
	LogFormat string `koanf:"log_format" jsonschema:"enum=json,enum=text"`
	// Modules is the module table, loaded in order.
	Modules []ModuleSpec `koanf:"modules"`
	// Properties are handed to modules through the host facade.
	Properties map[string]any `koanf:"properties" jsonschema:"description=Free-form properties modules read through the host"`
}

// ModuleSpec is one row of the module table.
type ModuleSpec struct {
	// Name is the logical module name.
	Name string `koanf:"name" jsonschema:"required,minLength=1"`
	// Path is the directory holding the module's archives.
	Path string `koanf:"path" jsonschema:"required,minLength=1"`
	// Endpoints restricts the paths the module may register. Empty means
	// unrestricted.
	Endpoints []string `koanf:"endpoints" jsonschema:"description=Glob patterns of endpoint paths the module may register"`
	// SeniorOnly modules run only on the senior cluster member.
	SeniorOnly bool `koanf:"senior_only"`
}

var (
	unitPattern       = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	moduleNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*(\.[A-Za-z][A-Za-z0-9_-]*)*$`)
)

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if !unitPattern.MatchString(c.Unit) {
		return fmt.Errorf("unit %q must start with a-z and contain only a-z, 0-9 and hyphens", c.Unit)
	}
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}

	seen := make(map[string]struct{}, len(c.Modules))
	for i, m := range c.Modules {
		if !moduleNamePattern.MatchString(m.Name) {
			return fmt.Errorf("modules[%d]: name %q is not a valid module name", i, m.Name)
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("modules[%d]: duplicate module %q", i, m.Name)
		}
		seen[m.Name] = struct{}{}
		if strings.TrimSpace(m.Path) == "" {
			return fmt.Errorf("modules[%d]: path is required", i)
		}
		for j, pattern := range m.Endpoints {
			if !strings.HasPrefix(pattern, "/") {
				return fmt.Errorf("modules[%d].endpoints[%d]: pattern %q must start with /", i, j, pattern)
			}
			if _, err := glob.Compile(pattern, '/'); err != nil {
				return fmt.Errorf("modules[%d].endpoints[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

// Module returns the table row for name.
func (c *Config) Module(name string) (ModuleSpec, bool) {
	for _, m := range c.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return ModuleSpec{}, false
}
