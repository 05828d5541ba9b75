// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

// Package module manages the lifecycle of modules loaded through isolated
// loaders: construction, initialization, endpoint wiring, configuration
// reload and teardown.
package module

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/meetbundle/meetbundle/internal/loader"
	"github.com/meetbundle/meetbundle/internal/logging"
	"github.com/meetbundle/meetbundle/pkg/errutil"
	modulepkg "github.com/meetbundle/meetbundle/pkg/module"
)

var tracer = otel.Tracer("meetbundle/module")

// State is the manager's lifecycle state.
type State int

// Manager states.
const (
	StateUninitialized State = iota
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// instance is one load cycle of a module. Its address keys the loader map,
// so the module value itself never needs to be comparable.
type instance struct {
	owner       modulepkg.Owner
	mod         modulepkg.Module
	location    string
	loadedAt    time.Time
	initialized bool
	initErr     error
	logger      *slog.Logger
	// registered holds the paths the host accepted at load time.
	registered  []string
}

// Status describes one registered module.
type Status struct {
	Name        string
	Cycle       string
	Location    string
	LoadedAt    time.Time
	Initialized bool
	InitError   string
	// Endpoints lists the paths registered when the module was loaded.
	Endpoints   []string
	SearchPath  []string
	Handles     int
}

// Manager owns every loaded module and its loader.
//
// All exported operations serialize on one mutex. Module code runs while
// that mutex is held, so a module must not call back into its manager.
type Manager struct {
	logger     *slog.Logger
	loaderOpts []loader.Option
	now        func() time.Time

	mu      sync.Mutex
	state   State
	parent  loader.Parent
	host    modulepkg.Host
	baseDir string
	modules map[string]*instance
	loaders map[*instance]*loader.Loader
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithLoaderOptions adds options applied to every loader the manager creates.
func WithLoaderOptions(opts ...loader.Option) ManagerOption {
	return func(m *Manager) {
		m.loaderOpts = append(m.loaderOpts, opts...)
	}
}

// WithClock replaces the clock used for load timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager in the uninitialized state.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:  slog.Default(),
		now:     time.Now,
		modules: make(map[string]*instance),
		loaders: make(map[*instance]*loader.Loader),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "module_manager")
	return m
}

// Start binds the manager to the shared parent, the host facade and the
// base directory. A stopped manager may be started again.
func (m *Manager) Start(parent loader.Parent, host modulepkg.Host, baseDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateStarted {
		return ErrAlreadyStarted()
	}
	if parent == nil || host == nil {
		return oops.Code(CodeInvalidArgument).
			In("module").
			Errorf("module manager requires a parent and a host")
	}

	m.parent = parent
	m.host = host
	m.baseDir = baseDir
	m.state = StateStarted
	m.logger.Info("module manager started", "base_dir", baseDir)
	return nil
}

// Stop unloads every registered module and releases the manager's
// references. Per-module failures are logged and do not stop the sweep.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateStarted {
		return ErrNotStarted("stop")
	}

	for _, name := range m.names() {
		if err := m.unload(ctx, name); err != nil {
			errutil.LogError(m.logger, "failed to unload module during stop", err)
		}
	}

	m.modules = make(map[string]*instance)
	m.loaders = make(map[*instance]*loader.Loader)
	ModulesLoaded.Set(0)
	m.parent = nil
	m.host = nil
	m.state = StateStopped
	m.logger.Info("module manager stopped")
	return nil
}

// LoadModule loads, initializes and wires the module with the given logical
// name from the archives in location.
//
// The module is registered before Initialize runs. When Initialize fails the
// error is returned and the module stays registered so a later UnloadModule
// can tear it down.
func (m *Manager) LoadModule(ctx context.Context, name, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateStarted {
		return ErrNotStarted("load")
	}
	return m.load(ctx, name, location)
}

func (m *Manager) load(ctx context.Context, name, location string) (err error) {
	ctx, span := tracer.Start(ctx, "module.load",
		trace.WithAttributes(
			attribute.String("module.name", name),
			attribute.String("module.location", location),
		))
	started := time.Now()
	defer func() {
		recordOperation(name, OperationLoad, err, time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if _, ok := m.modules[name]; ok {
		return ErrAlreadyLoaded(name)
	}

	logger := m.logger.With("module", name)
	logger.Info("loading module", "location", location)

	opts := append(slices.Clone(m.loaderOpts), loader.WithLogger(logger))
	ldr := loader.New(m.parent, opts...)
	// Module directories are always scanned in production mode.
	if err := ldr.AddDirectory(location, false); err != nil {
		logger.Warn("module directory unavailable, resolving from parent only",
			"location", location, "error", err)
	}

	mod, err := ldr.Instantiate(name)
	if err != nil {
		if rerr := ldr.ReleaseAll(); rerr != nil {
			errutil.LogError(logger, "failed to release loader after construction failure", rerr)
		}
		return oops.In("module").With("module", name).With("location", location).Wrap(err)
	}

	owner := modulepkg.Owner{Module: name, Cycle: ulid.Make()}
	span.SetAttributes(attribute.String("module.cycle", owner.Cycle.String()))
	inst := &instance{
		owner:    owner,
		mod:      mod,
		location: location,
		loadedAt: m.now(),
		logger:   logging.ForOwner(m.logger, owner),
	}
	m.modules[name] = inst
	m.loaders[inst] = ldr
	ModulesLoaded.Set(float64(len(m.modules)))

	env := modulepkg.Env{
		Owner:     owner,
		Host:      m.host,
		BaseDir:   m.baseDir,
		Resources: ldr,
		Logger:    inst.logger,
	}
	if err := guard(name, "initialize", func() error { return mod.Initialize(ctx, env) }); err != nil {
		inst.initErr = err
		return errLifecycle(CodeInitFailed, name, "initialize", err)
	}
	inst.initialized = true

	m.registerEndpoints(inst)
	inst.logger.Info("module loaded")
	return nil
}

// registerEndpoints exposes each declared endpoint. A failing endpoint is
// logged and skipped.
func (m *Manager) registerEndpoints(inst *instance) {
	endpoints, err := m.endpoints(inst)
	if err != nil {
		errutil.LogError(inst.logger, "failed to read module endpoints", err)
		return
	}

	cfg := m.host.DispatchConfig()
	for _, path := range endpoints.Paths() {
		id := endpoints[path]
		h, err := m.resolveHandler(inst, id, cfg)
		if err != nil {
			errutil.LogError(inst.logger, "unable to create endpoint handler", err)
			continue
		}
		if err := m.host.RegisterEndpoint(inst.owner, path, h); err != nil {
			errutil.LogError(inst.logger, "unable to register endpoint", err)
			continue
		}
		inst.registered = append(inst.registered, path)
		inst.logger.Debug("endpoint registered", "path", path, "handler", id)
	}
}

// resolveHandler asks the module first and the shared catalog second.
func (m *Manager) resolveHandler(inst *instance, id string, cfg modulepkg.DispatchConfig) (h http.Handler, err error) {
	name := inst.owner.Module
	if provider, ok := inst.mod.(modulepkg.HandlerProvider); ok {
		err = guard(name, "new_handler", func() error {
			var perr error
			h, perr = provider.NewHandler(id, cfg)
			return perr
		})
		switch {
		case err == nil && h != nil:
			return h, nil
		case err != nil && !errors.Is(err, modulepkg.ErrUnknownHandler):
			return nil, oops.In("module").With("module", name).With("handler", id).Wrap(err)
		}
	}

	if source, ok := m.parent.(HandlerSource); ok {
		if factory, ok := source.Handler(id); ok {
			h, err := factory(cfg)
			if err != nil {
				return nil, oops.In("module").With("module", name).With("handler", id).Wrap(err)
			}
			return h, nil
		}
	}
	return nil, ErrHandlerNotFound(name, id)
}

// UnloadModule tears down the named module. Unloading a name that is not
// registered is a no-op.
func (m *Manager) UnloadModule(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateStarted {
		return ErrNotStarted("unload")
	}
	return m.unload(ctx, name)
}

func (m *Manager) unload(ctx context.Context, name string) (err error) {
	inst, ok := m.modules[name]
	if !ok {
		return nil
	}
	delete(m.modules, name)

	ctx, span := tracer.Start(ctx, "module.unload",
		trace.WithAttributes(
			attribute.String("module.name", name),
			attribute.String("module.cycle", inst.owner.Cycle.String()),
		))
	started := time.Now()
	defer func() {
		recordOperation(name, OperationUnload, err, time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger := inst.logger
	logger.Info("unloading module")

	// Endpoints are read now, not remembered from load time.
	if endpoints, eerr := m.endpoints(inst); eerr != nil {
		errutil.LogError(logger, "failed to read module endpoints", eerr)
	} else {
		for _, path := range endpoints.Paths() {
			if uerr := m.host.UnregisterEndpoint(inst.owner, path); uerr != nil {
				errutil.LogError(logger, "unable to unregister endpoint", uerr)
			}
		}
	}

	var errs []error
	if derr := guard(name, "destroy", func() error { return inst.mod.Destroy(ctx) }); derr != nil {
		derr = errLifecycle(CodeDestroyFailed, name, "destroy", derr)
		errutil.LogError(logger, "module destroy failed", derr)
		errs = append(errs, derr)
	}

	ldr := m.loaders[inst]
	delete(m.loaders, inst)
	ModulesLoaded.Set(float64(len(m.modules)))
	if ldr != nil {
		if rerr := ldr.ReleaseAll(); rerr != nil {
			errs = append(errs, rerr)
		}
	}

	logger.Info("module unloaded")
	return errors.Join(errs...)
}

// ReloadAllConfiguration asks every registered module to reload its
// configuration. Failures are logged and joined; the sweep always visits
// every module.
func (m *Manager) ReloadAllConfiguration(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateStarted {
		return ErrNotStarted("reload")
	}

	var errs []error
	for _, name := range m.names() {
		if err := m.reload(ctx, name, m.modules[name]); err != nil {
			errutil.LogError(m.modules[name].logger, "module configuration reload failed", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) reload(ctx context.Context, name string, inst *instance) (err error) {
	ctx, span := tracer.Start(ctx, "module.reload",
		trace.WithAttributes(attribute.String("module.name", name)))
	started := time.Now()
	defer func() {
		recordOperation(name, OperationReload, err, time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := guard(name, "reload", func() error { return inst.mod.ReloadConfiguration(ctx) }); err != nil {
		return errLifecycle(CodeReloadFailed, name, "reload", err)
	}
	inst.logger.Debug("module configuration reloaded")
	return nil
}

func (m *Manager) endpoints(inst *instance) (modulepkg.Endpoints, error) {
	var endpoints modulepkg.Endpoints
	err := guard(inst.owner.Module, "endpoints", func() error {
		endpoints = inst.mod.Endpoints()
		return nil
	})
	return endpoints, err
}

// names returns registered module names in sorted order. Callers hold m.mu.
func (m *Manager) names() []string {
	names := make([]string, 0, len(m.modules))
	for name := range m.modules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// State returns the manager's lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Loaded reports whether name is registered.
func (m *Manager) Loaded(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.modules[name]
	return ok
}

// Modules returns the status of every registered module sorted by name.
func (m *Manager) Modules() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.modules))
	for _, name := range m.names() {
		inst := m.modules[name]
		st := Status{
			Name:        name,
			Cycle:       inst.owner.Cycle.String(),
			Location:    inst.location,
			LoadedAt:    inst.loadedAt,
			Initialized: inst.initialized,
		}
		if inst.initErr != nil {
			st.InitError = inst.initErr.Error()
		}
		st.Endpoints = slices.Clone(inst.registered)
		if ldr := m.loaders[inst]; ldr != nil {
			st.SearchPath = ldr.SearchPath()
			st.Handles = ldr.Handles()
		}
		out = append(out, st)
	}
	return out
}
