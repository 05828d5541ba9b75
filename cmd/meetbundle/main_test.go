// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package main

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeArchive creates a zip archive at path holding files.
func writeArchive(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

// writeConfig writes a config file and points the global --config at it.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meetbundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	prev := configFile
	configFile = path
	t.Cleanup(func() { configFile = prev })
	return path
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCmd()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"serve", "modules", "inspect"})

	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Empty(t, flag.DefValue)
}

func TestRootCommand_Help(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "meetbundle")
	assert.Contains(t, buf.String(), "inspect")
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	assert.Equal(t, "/etc/meetbundle.yaml", resolveConfigPath("/etc/meetbundle.yaml"))
	assert.Empty(t, resolveConfigPath(""), "missing XDG config file is not an error")

	dir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "meetbundle")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	path := filepath.Join(dir, "meetbundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte("unit: meet\n"), 0o600))
	assert.Equal(t, path, resolveConfigPath(""))
}
