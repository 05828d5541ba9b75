// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/meetbundle/meetbundle/pkg/module"
)

const delim = "."

// propertiesKey is the subtree handed to modules.
const propertiesKey = "properties"

// Source is a loaded configuration together with the layered tree it came
// from. It can be reloaded in place when the file changes.
type Source struct {
	path  string
	flags *pflag.FlagSet

	mu  sync.RWMutex
	k   *koanf.Koanf
	cfg *Config
}

// Compile-time check that a koanf tree serves as module properties.
var _ module.Properties = (*koanf.Koanf)(nil)

// Load reads defaults, then path when it is not empty, then any flags that
// were set on flags. Flag names map to keys by replacing '-' with '_'.
func Load(path string, flags *pflag.FlagSet) (*Source, error) {
	s := &Source{path: path, flags: flags}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rebuilds the configuration from its sources. The previous
// configuration stays active when the new one is invalid.
func (s *Source) Reload() error {
	k := koanf.New(delim)

	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if s.path != "" {
		data, err := os.ReadFile(s.path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := ValidateSchema(data); err != nil {
			return fmt.Errorf("config file %s: %s", s.path, FormatSchemaError(err))
		}
		if err := k.Load(file.Provider(s.path), yaml.Parser()); err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
	}

	if s.flags != nil {
		provider := posflag.ProviderWithFlag(s.flags, delim, k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(s.flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s.mu.Lock()
	s.k = k
	s.cfg = &cfg
	s.mu.Unlock()
	return nil
}

// Config returns the active configuration.
func (s *Source) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Properties returns the active "properties" subtree.
func (s *Source) Properties() module.Properties {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.k.Cut(propertiesKey)
}

// Path returns the config file path, empty when none was given.
func (s *Source) Path() string {
	return s.path
}

// Watch reloads the configuration whenever the file changes and calls
// onChange with the new configuration. Invalid updates are logged and
// skipped. Watch returns when ctx is done.
func (s *Source) Watch(ctx context.Context, onChange func(*Config)) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	fp := file.Provider(s.path)
	if err := fp.Watch(func(_ any, err error) {
		if err != nil {
			slog.Warn("config watch error", "path", s.path, "error", err)
			return
		}
		if err := s.Reload(); err != nil {
			slog.Warn("ignoring invalid config update", "path", s.path, "error", err)
			return
		}
		slog.Info("configuration reloaded", "path", s.path)
		if onChange != nil {
			onChange(s.Config())
		}
	}); err != nil {
		return fmt.Errorf("watch config file: %w", err)
	}

	<-ctx.Done()
	if err := fp.Unwatch(); err != nil {
		return fmt.Errorf("stop config watch: %w", err)
	}
	return nil
}

func defaults() map[string]any {
	return map[string]any{
		"unit":         DefaultUnit,
		"listen":       DefaultListen,
		"metrics_addr": DefaultMetricsAddr,
		"log_format":   DefaultLogFormat,
	}
}
