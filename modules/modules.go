// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

// Package modules registers the bundled modules and shared handlers with a
// catalog.
package modules

import (
	"encoding/json"
	"net/http"

	catalogpkg "github.com/meetbundle/meetbundle/internal/module"
	"github.com/meetbundle/meetbundle/modules/bridge"
	"github.com/meetbundle/meetbundle/modules/focus"
	"github.com/meetbundle/meetbundle/modules/gateway"
	"github.com/meetbundle/meetbundle/pkg/module"
)

// Shared handler identifiers.
const (
	HandlerHealth = gateway.HandlerHealth
	HandlerUnit   = "unit-info"
)

// Bundled lists the compiled-in module factories by name.
func Bundled() map[string]module.Factory {
	return map[string]module.Factory{
		bridge.Name:  bridge.New,
		focus.Name:   focus.New,
		gateway.Name: gateway.New,
	}
}

// Register adds the bundled modules and shared handlers to c.
func Register(c *catalogpkg.Catalog) error {
	for name, f := range Bundled() {
		if err := c.RegisterFactory(name, f); err != nil {
			return err
		}
	}
	if err := c.RegisterHandler(HandlerHealth, healthHandler); err != nil {
		return err
	}
	return c.RegisterHandler(HandlerUnit, unitHandler)
}

func healthHandler(cfg module.DispatchConfig) (http.Handler, error) {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok", "unit": cfg.Unit})
	}), nil
}

func unitHandler(cfg module.DispatchConfig) (http.Handler, error) {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"unit": cfg.Unit, "base_dir": cfg.BaseDir})
	}), nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(v)
}
