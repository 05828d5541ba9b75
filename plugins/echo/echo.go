// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/meetbundle/meetbundle/pkg/module"
)

// HandlerEcho identifies the echo handler.
const HandlerEcho = "echo"

// PropPrefix is prepended to every echoed body.
const PropPrefix = "echo.prefix"

// Echo answers every request under /echo/ with its own body.
type Echo struct {
	mu     sync.RWMutex
	host   module.Host
	prefix string
	logger *slog.Logger
}

var (
	_ module.Module          = (*Echo)(nil)
	_ module.HandlerProvider = (*Echo)(nil)
)

// Initialize reads the prefix and announces the echo component.
func (e *Echo) Initialize(_ context.Context, env module.Env) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.host = env.Host
	e.logger = env.Logger
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.prefix = env.Host.Properties().String(PropPrefix)
	env.Host.Components().Announce("echo")
	e.logger.Info("echo initialized", "owner", env.Owner.String())
	return nil
}

// Destroy withdraws the echo component.
func (e *Echo) Destroy(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.host == nil {
		return nil
	}
	e.host.Components().Withdraw("echo")
	e.host = nil
	return nil
}

// ReloadConfiguration re-reads the prefix.
func (e *Echo) ReloadConfiguration(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.host != nil {
		e.prefix = e.host.Properties().String(PropPrefix)
	}
	return nil
}

// Endpoints claims the /echo/ prefix.
func (e *Echo) Endpoints() module.Endpoints {
	return module.Endpoints{"/echo/": HandlerEcho}
}

// NewHandler serves HandlerEcho.
func (e *Echo) NewHandler(id string, _ module.DispatchConfig) (http.Handler, error) {
	if id != HandlerEcho {
		return nil, module.ErrUnknownHandler
	}
	return http.HandlerFunc(e.serve), nil
}

func (e *Echo) serve(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	e.mu.RLock()
	prefix := e.prefix
	e.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Echo-Path", strings.TrimPrefix(r.URL.Path, "/echo"))
	_, _ = io.WriteString(w, prefix+string(body))
}
