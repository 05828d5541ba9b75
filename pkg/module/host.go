// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package module

import (
	"io/fs"
	"net/http"
)

// Host is the subset of the embedding application that modules and the
// lifecycle manager are permitted to call.
type Host interface {
	// RegisterEndpoint exposes h at path on behalf of owner, scoped to the
	// host's deployment unit.
	RegisterEndpoint(owner Owner, path string, h http.Handler) error

	// UnregisterEndpoint removes the handler owner registered at path. A path
	// with no registration is a no-op; a path held by another owner is an
	// error.
	UnregisterEndpoint(owner Owner, path string) error

	// DispatchConfig returns the configuration handlers are created with.
	DispatchConfig() DispatchConfig

	// BaseDir returns the host plugin's base directory.
	BaseDir() string

	// Properties returns the host's externally sourced configuration.
	Properties() Properties

	// Components returns the registry modules use to announce readiness to
	// one another.
	Components() Components
}

// DispatchConfig is what the host hands to every handler it instantiates.
type DispatchConfig struct {
	// Unit is the name of the owning host deployment unit.
	Unit string
	// BaseDir is the host plugin's base directory.
	BaseDir string
	// Properties is the host's configuration view.
	Properties Properties
}

// Properties is a read-only view over host configuration. Keys are
// dot-delimited, e.g. "bridge.nat.public".
type Properties interface {
	String(key string) string
	Strings(key string) []string
	Bool(key string) bool
	Exists(key string) bool
}

// Components tracks named components that have become available.
type Components interface {
	Announce(name string)
	Withdraw(name string)
	Available(name string) bool
}

// Declaration describes a module declared by an archive manifest rather
// than compiled into the host.
type Declaration struct {
	// Name is the logical module name.
	Name string
	// Kind selects the Runtime that instantiates the module.
	Kind string
	// Entry is runtime specific: a script path inside the archive or an
	// executable path relative to the archive's directory.
	Entry string
	// Version is the declared module version.
	Version string
	// Archive is the location of the declaring archive.
	Archive string
}

// Runtime instantiates modules declared by archive manifests. Resources is
// the module's isolated resolution context.
type Runtime interface {
	Instantiate(decl Declaration, resources fs.FS) (Module, error)
}

// HandlerFactory creates a shared handler by identifier.
type HandlerFactory func(cfg DispatchConfig) (http.Handler, error)
