// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

// Package focus is the bundled conference focus module. It cannot serve
// until the bridge component is available, so Initialize starts a
// background wait and returns; Destroy interrupts and joins it.
package focus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/meetbundle/meetbundle/pkg/module"
)

// Name is the bundled module's logical name.
const Name = "org.meetbundle.focus"

// Component is announced once the focus is ready.
const Component = "focus"

// HandlerStatus identifies the status handler.
const HandlerStatus = "focus-status"

// Property keys.
const (
	PropBridgeComponent = "focus.bridge_component"
	PropPollInterval    = "focus.poll_interval"
	PropMaxPollInterval = "focus.max_poll_interval"
)

// Defaults used when the properties are unset or invalid.
const (
	DefaultBridgeComponent = "bridge"
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultMaxPollInterval = 5 * time.Second
)

var errBridgeUnavailable = errors.New("bridge component not yet available")

// Settings controls the readiness wait.
type Settings struct {
	BridgeComponent string
	PollInterval    time.Duration
	MaxPollInterval time.Duration
}

// Derive reads the focus settings, falling back to defaults.
func Derive(props module.Properties, logger *slog.Logger) Settings {
	s := Settings{
		BridgeComponent: props.String(PropBridgeComponent),
		PollInterval:    duration(props, PropPollInterval, DefaultPollInterval, logger),
		MaxPollInterval: duration(props, PropMaxPollInterval, DefaultMaxPollInterval, logger),
	}
	if s.BridgeComponent == "" {
		s.BridgeComponent = DefaultBridgeComponent
	}
	if s.MaxPollInterval < s.PollInterval {
		s.MaxPollInterval = s.PollInterval
	}
	return s
}

func duration(props module.Properties, key string, def time.Duration, logger *slog.Logger) time.Duration {
	raw := props.String(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		logger.Warn("invalid duration property, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return d
}

// Module is the focus module.
type Module struct {
	mu       sync.Mutex
	env      module.Env
	settings Settings
	logger   *slog.Logger
	cancel   context.CancelFunc
	ready    bool
	wg       sync.WaitGroup
}

var (
	_ module.Module          = (*Module)(nil)
	_ module.HandlerProvider = (*Module)(nil)
)

// New is the focus's module.Factory.
func New() (module.Module, error) {
	return &Module{}, nil
}

// Initialize starts waiting for the bridge in the background.
func (m *Module) Initialize(_ context.Context, env module.Env) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.env = env
	m.logger = env.Logger
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.settings = Derive(env.Host.Properties(), m.logger)
	m.ready = false

	// The wait outlives Initialize's context; Destroy owns its lifetime.
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.awaitBridge(ctx, m.settings)
	return nil
}

// awaitBridge polls for the bridge component. The poll intervals are fixed
// for one wait; the component name is read on every attempt so a reload
// redirects a wait in progress.
func (m *Module) awaitBridge(ctx context.Context, s Settings) {
	defer m.wg.Done()

	components := m.env.Host.Components()
	backoff := retry.WithCappedDuration(s.MaxPollInterval, retry.NewExponential(s.PollInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if err := ctx.Err(); err != nil {
			return err
		}
		bridge := m.settings.BridgeComponent
		if !components.Available(bridge) {
			return retry.RetryableError(errBridgeUnavailable)
		}
		m.ready = true
		components.Announce(Component)
		m.logger.Info("focus ready", "bridge", bridge)
		return nil
	})
	if err != nil {
		m.logger.Debug("stopped waiting for bridge", "error", err)
	}
}

// Destroy interrupts the background wait and joins it. It is safe to call
// without a prior Initialize.
func (m *Module) Destroy(context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready {
		m.env.Host.Components().Withdraw(Component)
		m.ready = false
	}
	return nil
}

// ReloadConfiguration re-derives the settings. A wait already in progress
// switches to the new bridge component on its next attempt.
func (m *Module) ReloadConfiguration(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.env.Host == nil {
		return nil
	}
	m.settings = Derive(m.env.Host.Properties(), m.logger)
	return nil
}

// Ready reports whether the bridge was found.
func (m *Module) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Endpoints declares the status endpoint.
func (m *Module) Endpoints() module.Endpoints {
	return module.Endpoints{"/focus/status": HandlerStatus}
}

// NewHandler serves the focus's own handler identifiers.
func (m *Module) NewHandler(id string, _ module.DispatchConfig) (http.Handler, error) {
	if id != HandlerStatus {
		return nil, module.ErrUnknownHandler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		status := struct {
			Ready  bool   `json:"ready"`
			Bridge string `json:"bridge"`
		}{m.ready, m.settings.BridgeComponent}
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if !status.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		//nolint:errcheck // client may disconnect
		json.NewEncoder(w).Encode(status)
	}), nil
}
