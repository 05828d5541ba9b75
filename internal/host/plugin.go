// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package host

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/samber/oops"

	"github.com/meetbundle/meetbundle/internal/config"
	"github.com/meetbundle/meetbundle/internal/loader"
	modules "github.com/meetbundle/meetbundle/internal/module"
	"github.com/meetbundle/meetbundle/pkg/errutil"
)

// Plugin drives the module manager from the host plugin's own lifecycle:
// activation, deactivation, property changes and cluster role changes.
type Plugin struct {
	manager    *modules.Manager
	parent     loader.Parent
	dispatcher *Dispatcher
	table      []config.ModuleSpec
	logger     *slog.Logger

	mu        sync.Mutex
	active    bool
	clustered bool
	senior    bool
}

// PluginOption configures a Plugin.
type PluginOption func(*Plugin)

// WithPluginLogger sets the plugin's logger.
func WithPluginLogger(logger *slog.Logger) PluginOption {
	return func(p *Plugin) {
		p.logger = logger
	}
}

// NewPlugin creates the lifecycle driver. The module table is copied and
// fixed for the plugin's lifetime.
func NewPlugin(manager *modules.Manager, parent loader.Parent, dispatcher *Dispatcher, table []config.ModuleSpec, opts ...PluginOption) *Plugin {
	p := &Plugin{
		manager:    manager,
		parent:     parent,
		dispatcher: dispatcher,
		table:      slices.Clone(table),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "plugin")
	return p
}

// Initialize starts the manager and loads the module table in order.
// A module that fails to load is logged; the others still load.
func (p *Plugin) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active {
		return oops.Code(modules.CodeAlreadyStarted).In("plugin").Errorf("plugin is already initialized")
	}

	for _, spec := range p.table {
		if err := p.dispatcher.Grants().Set(spec.Name, spec.Endpoints); err != nil {
			return oops.In("plugin").With("module", spec.Name).Wrapf(err, "endpoint grants")
		}
	}

	if err := p.manager.Start(p.parent, p.dispatcher, p.dispatcher.BaseDir()); err != nil {
		return err //nolint:wrapcheck // oops error from manager
	}
	p.active = true

	for _, spec := range p.table {
		if !p.runs(spec) {
			p.logger.Info("skipping senior-only module on non-senior member", "module", spec.Name)
			continue
		}
		p.load(ctx, spec)
	}

	p.logger.Info("plugin initialized", "modules", len(p.table))
	return nil
}

// Destroy unloads every module and stops the manager.
func (p *Plugin) Destroy(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		p.logger.Warn("plugin destroy requested but nothing is running")
		return nil
	}
	p.active = false
	if err := p.manager.Stop(ctx); err != nil {
		return err //nolint:wrapcheck // oops error from manager
	}
	p.logger.Info("plugin destroyed")
	return nil
}

// Ready reports whether the plugin is initialized.
func (p *Plugin) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// PropertyChanged reloads every module's configuration after a host
// property changed.
func (p *Plugin) PropertyChanged(ctx context.Context, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return
	}
	p.logger.Info("property changed, reloading module configuration", "key", key)
	if err := p.manager.ReloadAllConfiguration(ctx); err != nil {
		errutil.LogError(p.logger, "module configuration reload incomplete", err)
	}
}

// JoinedCluster makes this member a non-senior cluster member, which runs
// no senior-only modules.
func (p *Plugin) JoinedCluster(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clustered = true
	p.senior = false
	p.logger.Info("joined cluster")
	if !p.active {
		return
	}
	for _, spec := range p.table {
		if !spec.SeniorOnly {
			continue
		}
		if err := p.manager.UnloadModule(ctx, spec.Name); err != nil {
			errutil.LogError(p.logger, "failed to unload senior-only module", err)
		}
	}
}

// LeftCluster returns this member to standalone operation.
func (p *Plugin) LeftCluster(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clustered = false
	p.senior = false
	p.logger.Info("left cluster")
	p.loadSeniorOnly(ctx)
}

// MarkedAsSeniorMember makes this member the cluster's senior member.
func (p *Plugin) MarkedAsSeniorMember(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.senior = true
	p.logger.Info("marked as senior cluster member")
	p.loadSeniorOnly(ctx)
}

// Table returns a copy of the module table.
func (p *Plugin) Table() []config.ModuleSpec {
	return slices.Clone(p.table)
}

// loadSeniorOnly loads every senior-only module not already loaded.
// Callers hold p.mu.
func (p *Plugin) loadSeniorOnly(ctx context.Context) {
	if !p.active {
		return
	}
	for _, spec := range p.table {
		if !spec.SeniorOnly || p.manager.Loaded(spec.Name) {
			continue
		}
		p.load(ctx, spec)
	}
}

func (p *Plugin) load(ctx context.Context, spec config.ModuleSpec) {
	if err := p.manager.LoadModule(ctx, spec.Name, p.location(spec)); err != nil {
		errutil.LogError(p.logger.With("module", spec.Name), "failed to load module", err)
	}
}

// runs reports whether spec should run in the current cluster role.
// Callers hold p.mu.
func (p *Plugin) runs(spec config.ModuleSpec) bool {
	return !spec.SeniorOnly || !p.clustered || p.senior
}

// location resolves a module path against the base directory.
func (p *Plugin) location(spec config.ModuleSpec) string {
	if filepath.IsAbs(spec.Path) {
		return spec.Path
	}
	return filepath.Join(p.dispatcher.BaseDir(), spec.Path)
}
