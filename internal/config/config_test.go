// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package config_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetbundle/meetbundle/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meetbundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const sampleConfig = `
unit: meet
base_dir: /srv/meetbundle
log_format: text
modules:
  - name: org.meetbundle.bridge
    path: bridge
    endpoints: ["/bridge/*"]
    senior_only: true
  - name: org.meetbundle.focus
    path: focus
properties:
  bridge:
    nat:
      public: 203.0.113.7
    stun:
      - stun1.example.org:3478
      - stun2.example.org:3478
  gateway:
    enabled: true
`

func TestLoad_Defaults(t *testing.T) {
	src, err := config.Load("", nil)
	require.NoError(t, err)

	cfg := src.Config()
	assert.Equal(t, config.DefaultUnit, cfg.Unit)
	assert.Equal(t, config.DefaultListen, cfg.Listen)
	assert.Equal(t, config.DefaultMetricsAddr, cfg.MetricsAddr)
	assert.Equal(t, config.DefaultLogFormat, cfg.LogFormat)
	assert.Empty(t, cfg.Modules)
	assert.False(t, src.Properties().Exists("anything"))
}

func TestLoad_File(t *testing.T) {
	src, err := config.Load(writeConfig(t, sampleConfig), nil)
	require.NoError(t, err)

	cfg := src.Config()
	assert.Equal(t, "meet", cfg.Unit)
	assert.Equal(t, "/srv/meetbundle", cfg.BaseDir)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, config.DefaultListen, cfg.Listen, "unset keys keep defaults")

	require.Len(t, cfg.Modules, 2)
	assert.Equal(t, config.ModuleSpec{
		Name:       "org.meetbundle.bridge",
		Path:       "bridge",
		Endpoints:  []string{"/bridge/*"},
		SeniorOnly: true,
	}, cfg.Modules[0])
	assert.Equal(t, "org.meetbundle.focus", cfg.Modules[1].Name, "table order is preserved")

	props := src.Properties()
	assert.Equal(t, "203.0.113.7", props.String("bridge.nat.public"))
	assert.Equal(t, []string{"stun1.example.org:3478", "stun2.example.org:3478"}, props.Strings("bridge.stun"))
	assert.True(t, props.Bool("gateway.enabled"))

	spec, ok := cfg.Module("org.meetbundle.focus")
	assert.True(t, ok)
	assert.Equal(t, "focus", spec.Path)
	_, ok = cfg.Module("nope")
	assert.False(t, ok)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("listen", config.DefaultListen, "")
	flags.String("log-format", config.DefaultLogFormat, "")
	flags.String("metrics-addr", config.DefaultMetricsAddr, "")
	require.NoError(t, flags.Parse([]string{"--listen", "0.0.0.0:9443", "--metrics-addr", ""}))

	src, err := config.Load(writeConfig(t, sampleConfig), flags)
	require.NoError(t, err)

	cfg := src.Config()
	assert.Equal(t, "0.0.0.0:9443", cfg.Listen)
	assert.Empty(t, cfg.MetricsAddr, "flags with '-' map to '_' keys")
	assert.Equal(t, "text", cfg.LogFormat, "unchanged flags do not override the file")
}

func TestLoad_SchemaRejectsUnknownKeys(t *testing.T) {
	_, err := config.Load(writeConfig(t, "unit: meet\nlisten_addr: x\n"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen_addr")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{Unit: "meet", Listen: ":8443", LogFormat: "json"}
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*config.Config) {}},
		{name: "bad unit", mutate: func(c *config.Config) { c.Unit = "Meet Bundle" }, wantErr: "unit"},
		{name: "missing listen", mutate: func(c *config.Config) { c.Listen = "" }, wantErr: "listen is required"},
		{name: "bad log format", mutate: func(c *config.Config) { c.LogFormat = "xml" }, wantErr: "log_format"},
		{
			name: "duplicate module",
			mutate: func(c *config.Config) {
				c.Modules = []config.ModuleSpec{{Name: "a", Path: "a"}, {Name: "a", Path: "b"}}
			},
			wantErr: "duplicate module",
		},
		{
			name:    "module without path",
			mutate:  func(c *config.Config) { c.Modules = []config.ModuleSpec{{Name: "a", Path: " "}} },
			wantErr: "path is required",
		},
		{
			name:    "bad module name",
			mutate:  func(c *config.Config) { c.Modules = []config.ModuleSpec{{Name: "1a", Path: "a"}} },
			wantErr: "not a valid module name",
		},
		{
			name: "relative endpoint grant",
			mutate: func(c *config.Config) {
				c.Modules = []config.ModuleSpec{{Name: "a", Path: "a", Endpoints: []string{"a/*"}}}
			},
			wantErr: "must start with /",
		},
		{
			name: "invalid endpoint glob",
			mutate: func(c *config.Config) {
				c.Modules = []config.ModuleSpec{{Name: "a", Path: "a", Endpoints: []string{"/a/[x"}}}
			},
			wantErr: "endpoints[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSource_ReloadKeepsPreviousOnError(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	src, err := config.Load(path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("log_format: xml\n"), 0o600))
	require.Error(t, src.Reload())
	assert.Equal(t, "meet", src.Config().Unit)

	require.NoError(t, os.WriteFile(path, []byte("unit: other\n"), 0o600))
	require.NoError(t, src.Reload())
	assert.Equal(t, "other", src.Config().Unit)
}

func TestSource_WatchWithoutFileReturnsOnCancel(t *testing.T) {
	src, err := config.Load("", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Watch(ctx, nil) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestGenerateSchema(t *testing.T) {
	data, err := config.GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, config.SchemaID(), schema["$id"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"unit", "base_dir", "listen", "metrics_addr", "log_format", "modules", "properties"} {
		assert.Contains(t, props, key)
	}
}

func TestValidateSchema(t *testing.T) {
	require.NoError(t, config.ValidateSchema([]byte(sampleConfig)))
	require.NoError(t, config.ValidateSchema(nil), "empty document is valid")

	err := config.ValidateSchema([]byte("log_format: xml\n"))
	require.Error(t, err)
	assert.NotContains(t, config.FormatSchemaError(err), "schema validation failed:")

	err = config.ValidateSchema([]byte("modules:\n  - name: a\n"))
	require.Error(t, err, "module path is required")

	require.Error(t, config.ValidateSchema([]byte("unit: [unclosed")))
	assert.Empty(t, config.FormatSchemaError(nil))
}
