// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

// Package goplugin runs declared modules as separate processes using
// HashiCorp's go-plugin system over net/rpc.
package goplugin

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	"github.com/meetbundle/meetbundle/pkg/module"
	"github.com/meetbundle/meetbundle/pkg/modulesdk"
)

// Kind is the manifest kind served by this runtime.
const Kind = "process"

// Error codes.
const (
	CodeExecutableMissing = "PROCESS_EXECUTABLE_MISSING"
	CodeStartFailed       = "PROCESS_START_FAILED"
	CodeNotRunning        = "PROCESS_NOT_RUNNING"
)

// Compile-time interface checks.
var (
	_ module.Runtime         = (*Runtime)(nil)
	_ module.Module          = (*processModule)(nil)
	_ module.HandlerProvider = (*processModule)(nil)
)

// PluginClient wraps go-plugin client for testability.
type PluginClient interface {
	// Client returns the net/rpc client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the module process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the executable at execPath, run from dir.
	NewClient(execPath, dir string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct{}

// NewClient creates a real go-plugin client.
func (f *DefaultClientFactory) NewClient(execPath, dir string) PluginClient {
	cmd := exec.Command(execPath) // #nosec G204 -- execPath resolved from a module manifest inside the module directory
	cmd.Dir = dir
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  modulesdk.HandshakeConfig,
		Plugins:          modulesdk.PluginSet(),
		Cmd:              cmd,
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolNetRPC},
	})
}

// remote is what a dispensed module implements.
type remote interface {
	module.Module
	module.HandlerProvider
}

// Runtime instantiates process modules.
type Runtime struct {
	factory ClientFactory
	logger  *slog.Logger
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClientFactory replaces the go-plugin client factory.
func WithClientFactory(factory ClientFactory) Option {
	return func(r *Runtime) {
		r.factory = factory
	}
}

// WithLogger sets the runtime's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// NewRuntime creates a process runtime.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		factory: &DefaultClientFactory{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Instantiate resolves the executable next to the declaring archive. The
// process is not started until Initialize.
func (r *Runtime) Instantiate(decl module.Declaration, _ fs.FS) (module.Module, error) {
	dir := filepath.Dir(decl.Archive)
	execPath := filepath.Join(dir, filepath.FromSlash(decl.Entry))
	if _, err := os.Stat(execPath); err != nil {
		return nil, oops.Code(CodeExecutableMissing).
			In("goplugin").
			With("module", decl.Name).
			With("executable", execPath).
			Wrap(err)
	}
	return &processModule{
		decl:     decl,
		execPath: execPath,
		dir:      dir,
		factory:  r.factory,
		logger:   r.logger.With("module", decl.Name),
	}, nil
}

// processModule adapts one module process to module.Module.
type processModule struct {
	decl     module.Declaration
	execPath string
	dir      string
	factory  ClientFactory
	logger   *slog.Logger

	mu     sync.RWMutex
	client PluginClient
	remote remote
}

// Initialize starts the process and initializes the module inside it.
func (p *processModule) Initialize(ctx context.Context, env module.Env) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	client := p.factory.NewClient(p.execPath, p.dir)
	p.client = client

	rpcClient, err := client.Client()
	if err != nil {
		return p.startErr("connect", err)
	}
	raw, err := rpcClient.Dispense(modulesdk.PluginName)
	if err != nil {
		return p.startErr("dispense", err)
	}
	mod, ok := raw.(remote)
	if !ok {
		return p.startErr("dispense", oops.Errorf("dispensed %T is not a module", raw))
	}
	p.remote = mod

	p.logger.Info("module process started", "executable", p.execPath)
	//nolint:wrapcheck // remote errors carry their own context
	return mod.Initialize(ctx, env)
}

func (p *processModule) startErr(stage string, err error) error {
	return oops.Code(CodeStartFailed).
		In("goplugin").
		With("module", p.decl.Name).
		With("stage", stage).
		Wrap(err)
}

// Destroy destroys the remote module and kills the process. A module that
// never started has nothing to destroy.
func (p *processModule) Destroy(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		return nil
	}

	var err error
	if p.remote != nil {
		err = p.remote.Destroy(ctx)
	}
	p.client.Kill()
	p.client = nil
	p.remote = nil
	p.logger.Info("module process stopped")

	if err != nil {
		return oops.In("goplugin").With("module", p.decl.Name).Wrap(err)
	}
	return nil
}

// ReloadConfiguration forwards to the running module.
func (p *processModule) ReloadConfiguration(ctx context.Context) error {
	p.mu.RLock()
	mod := p.remote
	p.mu.RUnlock()

	if mod == nil {
		return oops.Code(CodeNotRunning).In("goplugin").With("module", p.decl.Name).Errorf("module process is not running")
	}
	//nolint:wrapcheck // remote errors carry their own context
	return mod.ReloadConfiguration(ctx)
}

// Endpoints returns the declaration the module reported on Initialize.
func (p *processModule) Endpoints() module.Endpoints {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.remote == nil {
		return nil
	}
	return p.remote.Endpoints()
}

// NewHandler returns a proxy to a handler served inside the process.
func (p *processModule) NewHandler(id string, cfg module.DispatchConfig) (http.Handler, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.remote == nil {
		return nil, module.ErrUnknownHandler
	}
	//nolint:wrapcheck // ErrUnknownHandler must pass through unwrapped
	return p.remote.NewHandler(id, cfg)
}
