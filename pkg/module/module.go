// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

// Package module defines the contract between the module host and the
// independently loadable units it manages.
//
// A module is loaded through its own isolated loader, initialized with an
// explicit Env, and may declare HTTP endpoints that the host exposes on its
// behalf for the lifetime of one load cycle.
package module

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"maps"
	"net/http"
	"slices"

	"github.com/oklog/ulid/v2"
)

// Module is the capability surface every loadable unit implements.
type Module interface {
	// Initialize performs all setup. Long-running readiness waits must run
	// in module-owned goroutines; Initialize itself returns promptly.
	Initialize(ctx context.Context, env Env) error

	// Destroy releases everything Initialize acquired, including background
	// work. It must tolerate a partially completed Initialize and return nil
	// when there is nothing to destroy.
	Destroy(ctx context.Context) error

	// ReloadConfiguration re-derives and re-applies externally sourced
	// configuration without a destroy/initialize cycle.
	ReloadConfiguration(ctx context.Context) error

	// Endpoints returns the request paths the module wants exposed, mapped to
	// handler-type identifiers. It is side-effect free and returns the same
	// mapping for the whole load cycle.
	Endpoints() Endpoints
}

// ErrUnknownHandler is returned by a HandlerProvider for identifiers it does
// not provide. The host then falls back to its shared handler factories.
var ErrUnknownHandler = errors.New("unknown handler identifier")

// HandlerProvider is implemented by modules that instantiate the handlers
// named in their own Endpoints.
type HandlerProvider interface {
	NewHandler(id string, cfg DispatchConfig) (http.Handler, error)
}

// Endpoints maps a request path to a handler-type identifier.
type Endpoints map[string]string

// Paths returns the endpoint paths in sorted order.
func (e Endpoints) Paths() []string {
	return slices.Sorted(maps.Keys(e))
}

// Owner is the compound identity under which a module's endpoints are
// registered with the host.
type Owner struct {
	// Module is the logical name of the module.
	Module string
	// Cycle identifies one load cycle of the module.
	Cycle ulid.ULID
}

// String renders the owner as "name@cycle".
func (o Owner) String() string {
	return o.Module + "@" + o.Cycle.String()
}

// Env is the explicit context a module receives on Initialize.
type Env struct {
	// Owner identifies this load cycle.
	Owner Owner
	// Host is the facade through which the module reaches the host.
	Host Host
	// BaseDir is the host plugin's base directory.
	BaseDir string
	// Resources resolves files from the module's private search path first
	// and from the shared parent second.
	Resources fs.FS
	// Logger is scoped to the module and load cycle.
	Logger *slog.Logger
}

// Factory constructs a fresh, uninitialized module instance.
type Factory func() (Module, error)
