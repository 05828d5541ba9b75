// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

// Package gateway is the bundled telephony gateway module. It tracks call
// admission against host-configured limits and exposes it over HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/meetbundle/meetbundle/pkg/module"
)

// Name is the bundled module's logical name.
const Name = "org.meetbundle.gateway"

// HandlerCalls identifies the call admission handler.
const HandlerCalls = "gateway-calls"

// HandlerHealth is the shared health handler the gateway borrows from the
// host.
const HandlerHealth = "health"

// Property keys.
const (
	PropEnabled  = "gateway.enabled"
	PropTrunk    = "gateway.trunk"
	PropMaxCalls = "gateway.max_calls"
)

// DefaultMaxCalls applies when gateway.max_calls is unset or invalid.
const DefaultMaxCalls = 32

// Settings is the call-control configuration.
type Settings struct {
	Enabled  bool   `json:"enabled"`
	Trunk    string `json:"trunk,omitempty"`
	MaxCalls int    `json:"max_calls"`
}

// Derive reads the call-control settings.
func Derive(props module.Properties, logger *slog.Logger) Settings {
	s := Settings{
		Enabled:  props.Bool(PropEnabled),
		Trunk:    props.String(PropTrunk),
		MaxCalls: DefaultMaxCalls,
	}
	if raw := props.String(PropMaxCalls); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			logger.Warn("invalid gateway.max_calls, using default", "value", raw, "default", DefaultMaxCalls)
		} else {
			s.MaxCalls = n
		}
	}
	if s.Enabled && s.Trunk == "" {
		logger.Warn("gateway enabled without a trunk; calls will be refused")
	}
	return s
}

// Module is the gateway module.
type Module struct {
	mu       sync.Mutex
	env      module.Env
	settings Settings
	active   int
	logger   *slog.Logger
}

var (
	_ module.Module          = (*Module)(nil)
	_ module.HandlerProvider = (*Module)(nil)
)

// New is the gateway's module.Factory.
func New() (module.Module, error) {
	return &Module{}, nil
}

// Initialize reads call-control settings.
func (m *Module) Initialize(_ context.Context, env module.Env) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.env = env
	m.logger = env.Logger
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.settings = Derive(env.Host.Properties(), m.logger)
	m.active = 0
	m.logger.Info("gateway initialized", "enabled", m.settings.Enabled, "max_calls", m.settings.MaxCalls)
	return nil
}

// Destroy drops all admitted calls.
func (m *Module) Destroy(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active > 0 {
		m.logger.Warn("dropping active calls on destroy", "active", m.active)
	}
	m.active = 0
	return nil
}

// ReloadConfiguration re-reads call-control settings. Calls already
// admitted are kept even when the new limit is lower.
func (m *Module) ReloadConfiguration(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.env.Host == nil {
		return nil
	}
	m.settings = Derive(m.env.Host.Properties(), m.logger)
	return nil
}

// Endpoints declares the call admission and health endpoints.
func (m *Module) Endpoints() module.Endpoints {
	return module.Endpoints{
		"/gateway/calls":  HandlerCalls,
		"/gateway/health": HandlerHealth,
	}
}

// NewHandler serves the call admission handler. Health comes from the
// host's shared handlers.
func (m *Module) NewHandler(id string, _ module.DispatchConfig) (http.Handler, error) {
	if id != HandlerCalls {
		return nil, module.ErrUnknownHandler
	}
	return http.HandlerFunc(m.serveCalls), nil
}

type callsStatus struct {
	Active   int      `json:"active"`
	Settings Settings `json:"settings"`
}

// serveCalls: GET reports, POST admits a call, DELETE releases one.
func (m *Module) serveCalls(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	code := http.StatusOK
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		switch {
		case !m.settings.Enabled || m.settings.Trunk == "":
			code = http.StatusServiceUnavailable
		case m.active >= m.settings.MaxCalls:
			code = http.StatusTooManyRequests
		default:
			m.active++
			code = http.StatusCreated
		}
	case http.MethodDelete:
		if m.active == 0 {
			code = http.StatusConflict
		} else {
			m.active--
		}
	default:
		m.mu.Unlock()
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := callsStatus{Active: m.active, Settings: m.settings}
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(status)
}
