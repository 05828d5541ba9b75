// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package main

import (
	"context"
	"net"

	"github.com/spf13/pflag"

	"github.com/meetbundle/meetbundle/internal/config"
	"github.com/meetbundle/meetbundle/internal/observability"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// ConfigLoader loads the layered configuration.
	// Default: config.Load
	ConfigLoader func(path string, flags *pflag.FlagSet) (*config.Source, error)

	// ListenerFactory creates the dispatcher listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker, registrars []observability.Registrar, opts ...observability.ServerOption) ObservabilityServer

	// BaseDirGetter returns the base directory when none is configured.
	// Default: xdg.DataDir
	BaseDirGetter func() string

	// Ready is called once the plugin is initialized and endpoints are
	// being served. Default: no-op.
	Ready func(dispatcherAddr string)
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}
