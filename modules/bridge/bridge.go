// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

// Package bridge is the bundled media relay module. It derives its NAT and
// STUN settings from host properties, exposes a status endpoint and
// announces the "bridge" component once initialized.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/meetbundle/meetbundle/pkg/module"
)

// Name is the bundled module's logical name.
const Name = "org.meetbundle.bridge"

// Component is announced while the bridge is initialized.
const Component = "bridge"

// HandlerStatus identifies the status handler.
const HandlerStatus = "bridge-status"

// Property keys.
const (
	PropLocalAddress  = "bridge.nat.local"
	PropPublicAddress = "bridge.nat.public"
	PropSTUNServers   = "bridge.stun"
)

// Settings is the configuration the bridge derives from host properties.
type Settings struct {
	LocalAddress  string   `json:"local_address,omitempty"`
	PublicAddress string   `json:"public_address,omitempty"`
	STUNServers   []string `json:"stun_servers,omitempty"`
}

// NATConfigured reports whether both NAT addresses are present.
func (s Settings) NATConfigured() bool {
	return s.LocalAddress != "" && s.PublicAddress != ""
}

// Derive reads the bridge settings. A NAT mapping needs both addresses; a
// lone address is dropped with a warning.
func Derive(props module.Properties, logger *slog.Logger) Settings {
	s := Settings{
		LocalAddress:  props.String(PropLocalAddress),
		PublicAddress: props.String(PropPublicAddress),
		STUNServers:   props.Strings(PropSTUNServers),
	}
	if (s.LocalAddress == "") != (s.PublicAddress == "") {
		logger.Warn("ignoring partial NAT mapping; both addresses are required",
			"local", s.LocalAddress, "public", s.PublicAddress)
		s.LocalAddress, s.PublicAddress = "", ""
	}
	return s
}

// Module is the bridge module.
type Module struct {
	mu        sync.RWMutex
	env       module.Env
	settings  Settings
	started   time.Time
	announced bool
	logger    *slog.Logger
}

var (
	_ module.Module          = (*Module)(nil)
	_ module.HandlerProvider = (*Module)(nil)
)

// New is the bridge's module.Factory.
func New() (module.Module, error) {
	return &Module{}, nil
}

// Initialize derives settings and announces the bridge component.
func (m *Module) Initialize(_ context.Context, env module.Env) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.env = env
	m.logger = env.Logger
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.settings = Derive(env.Host.Properties(), m.logger)
	m.started = time.Now()

	env.Host.Components().Announce(Component)
	m.announced = true
	m.logger.Info("bridge initialized",
		"nat", m.settings.NATConfigured(),
		"stun_servers", len(m.settings.STUNServers))
	return nil
}

// Destroy withdraws the component. It is safe after a failed or repeated
// initialize.
func (m *Module) Destroy(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.announced {
		return nil
	}
	m.env.Host.Components().Withdraw(Component)
	m.announced = false
	return nil
}

// ReloadConfiguration re-derives the NAT and STUN settings.
func (m *Module) ReloadConfiguration(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.env.Host == nil {
		return nil
	}
	m.settings = Derive(m.env.Host.Properties(), m.logger)
	m.logger.Info("bridge configuration reloaded", "nat", m.settings.NATConfigured())
	return nil
}

// Endpoints declares the status endpoint.
func (m *Module) Endpoints() module.Endpoints {
	return module.Endpoints{"/bridge/status": HandlerStatus}
}

// Settings returns the current settings.
func (m *Module) Settings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// NewHandler serves the bridge's own handler identifiers.
func (m *Module) NewHandler(id string, cfg module.DispatchConfig) (http.Handler, error) {
	if id != HandlerStatus {
		return nil, module.ErrUnknownHandler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		m.mu.RLock()
		status := struct {
			Unit     string    `json:"unit"`
			Started  time.Time `json:"started"`
			NAT      bool      `json:"nat"`
			Settings Settings  `json:"settings"`
		}{cfg.Unit, m.started, m.settings.NATConfigured(), m.settings}
		m.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		//nolint:errcheck // client may disconnect
		json.NewEncoder(w).Encode(status)
	}), nil
}
