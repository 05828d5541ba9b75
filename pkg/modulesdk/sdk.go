// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

// Package modulesdk provides the SDK for building out-of-process modules.
//
// An out-of-process module is an ordinary module.Module compiled into its own
// executable. It talks to the host over HashiCorp go-plugin's net/rpc
// protocol: lifecycle calls and proxied HTTP requests flow host to module;
// property lookups and component announcements flow back through a brokered
// host connection.
//
// Example usage:
//
//	package main
//
//	import (
//		"context"
//
//		"github.com/meetbundle/meetbundle/pkg/module"
//		"github.com/meetbundle/meetbundle/pkg/modulesdk"
//	)
//
//	type Echo struct{}
//
//	func (Echo) Initialize(context.Context, module.Env) error   { return nil }
//	func (Echo) Destroy(context.Context) error                  { return nil }
//	func (Echo) ReloadConfiguration(context.Context) error      { return nil }
//	func (Echo) Endpoints() module.Endpoints                    { return module.Endpoints{"/echo/": "echo"} }
//
//	func main() {
//		modulesdk.Serve(&modulesdk.ServeConfig{Module: Echo{}})
//	}
package modulesdk

import (
	"errors"
	"log/slog"
	"net/rpc"
	"os"

	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/meetbundle/meetbundle/pkg/module"
)

// PluginName is the name the module implementation is dispensed under.
const PluginName = "module"

// HandshakeConfig is the go-plugin handshake configuration.
// Both host and modules must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "MEETBUNDLE_MODULE",
	MagicCookieValue: "meetbundle-module-v1",
}

// ServeConfig configures the module server.
type ServeConfig struct {
	// Module is the module implementation.
	// Required; Serve will panic if nil.
	Module module.Module
	// Logger is handed to the module on Initialize. Defaults to JSON on
	// stderr, which the host collects.
	Logger *slog.Logger
}

// Serve starts the module server. This should be called from main().
// It blocks and never returns under normal operation.
func Serve(config *ServeConfig) {
	if config == nil {
		panic("modulesdk: config cannot be nil")
	}
	if config.Module == nil {
		panic("modulesdk: config.Module cannot be nil")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: hashiplug.PluginSet{
			PluginName: &Plugin{Impl: config.Module, Logger: logger},
		},
	})
}

// PluginSet returns the plugin set a host dispenses modules from.
func PluginSet() hashiplug.PluginSet {
	return hashiplug.PluginSet{PluginName: &Plugin{}}
}

// Plugin implements go-plugin's net/rpc Plugin interface.
type Plugin struct {
	// Impl is used by the module side (not used by host).
	Impl module.Module
	// Logger is used by the module side (not used by host).
	Logger *slog.Logger
}

// Server returns the module-side RPC server (called by module process).
func (p *Plugin) Server(b *hashiplug.MuxBroker) (interface{}, error) {
	if p.Impl == nil {
		return nil, errors.New("modulesdk: module implementation is nil")
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RPCServer{impl: p.Impl, broker: b, logger: logger}, nil
}

// Client returns the host-side module proxy (called by host process).
func (p *Plugin) Client(b *hashiplug.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c, broker: b}, nil
}
