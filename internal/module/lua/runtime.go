// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package lua

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/meetbundle/meetbundle/pkg/module"
)

// Kind is the manifest kind served by this runtime.
const Kind = "lua"

// Error codes.
const (
	CodeScriptUnreadable = "LUA_SCRIPT_UNREADABLE"
	CodeScriptInvalid    = "LUA_SCRIPT_INVALID"
	CodeScriptFailed     = "LUA_SCRIPT_FAILED"
	CodeNotRunning       = "LUA_NOT_RUNNING"
)

// maxBodyBytes caps request bodies handed to script handlers.
const maxBodyBytes = 1 << 20

// Compile-time interface checks.
var (
	_ module.Runtime         = (*Runtime)(nil)
	_ module.Module          = (*scriptModule)(nil)
	_ module.HandlerProvider = (*scriptModule)(nil)
)

// Runtime instantiates Lua script modules. A script declares:
//
//	endpoints = { ["/path"] = "handler-id" }
//	handlers  = { ["handler-id"] = function(req) return { status = 200, body = "" } end }
//	function initialize() end
//	function destroy() end
//	function reload() end
//
// All of them are optional.
type Runtime struct {
	factory *StateFactory
}

// NewRuntime creates a Lua runtime.
func NewRuntime() *Runtime {
	return &Runtime{factory: NewStateFactory()}
}

// Instantiate reads the entry script through resources and validates it by
// compiling in a throwaway state.
func (r *Runtime) Instantiate(decl module.Declaration, resources fs.FS) (module.Module, error) {
	entry := path.Clean(decl.Entry)
	code, err := fs.ReadFile(resources, entry)
	if err != nil {
		return nil, oops.Code(CodeScriptUnreadable).
			In("lua").
			With("module", decl.Name).
			With("entry", entry).
			Wrap(err)
	}

	L, err := r.factory.NewState(context.Background())
	if err != nil {
		return nil, oops.In("lua").With("module", decl.Name).Hint("failed to create validation state").Wrap(err)
	}
	defer L.Close()

	if _, err := L.LoadString(string(code)); err != nil {
		return nil, oops.Code(CodeScriptInvalid).
			In("lua").
			With("module", decl.Name).
			With("entry", entry).
			Hint("syntax error").
			Wrap(err)
	}

	return &scriptModule{
		name:      decl.Name,
		code:      string(code),
		resources: resources,
		factory:   r.factory,
	}, nil
}

// scriptModule keeps one Lua state for its load cycle. Lua states are not
// safe for concurrent use, so every call into the script holds mu.
type scriptModule struct {
	name      string
	code      string
	resources fs.FS
	factory   *StateFactory

	mu        sync.Mutex
	state     *lua.LState
	endpoints module.Endpoints
	logger    *slog.Logger
}

// Initialize runs the script's top level and then its initialize function.
func (m *scriptModule) Initialize(ctx context.Context, env module.Env) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := env.Logger
	if logger == nil {
		logger = slog.Default().With("module", m.name)
	}
	m.logger = logger

	L, err := m.factory.NewState(ctx)
	if err != nil {
		return oops.In("lua").With("module", m.name).Hint("failed to create state").Wrap(err)
	}
	m.state = L

	fns := &functions{env: env, resources: m.resources, logger: logger}
	fns.register(L)

	if err := L.DoString(m.code); err != nil {
		return m.scriptErr("load", err)
	}
	m.endpoints = readEndpoints(L, logger)

	return m.callHook(ctx, "initialize")
}

// Destroy runs the script's destroy function and closes the state.
func (m *scriptModule) Destroy(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return nil
	}
	err := m.callHook(ctx, "destroy")
	m.state.Close()
	m.state = nil
	m.endpoints = nil
	return err
}

// ReloadConfiguration runs the script's reload function.
func (m *scriptModule) ReloadConfiguration(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return oops.Code(CodeNotRunning).In("lua").With("module", m.name).Errorf("script module is not running")
	}
	return m.callHook(ctx, "reload")
}

// Endpoints returns the declaration read after the script's top level ran.
func (m *scriptModule) Endpoints() module.Endpoints {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoints
}

// NewHandler serves ids present in the script's handlers table.
func (m *scriptModule) NewHandler(id string, _ module.DispatchConfig) (http.Handler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return nil, module.ErrUnknownHandler
	}
	handlers, ok := m.state.GetGlobal("handlers").(*lua.LTable)
	if !ok {
		return nil, module.ErrUnknownHandler
	}
	if _, ok := handlers.RawGetString(id).(*lua.LFunction); !ok {
		return nil, module.ErrUnknownHandler
	}
	return &scriptHandler{mod: m, id: id}, nil
}

// callHook calls a global function if the script defines one. Callers hold mu.
func (m *scriptModule) callHook(ctx context.Context, name string) error {
	fn, ok := m.state.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return nil
	}
	m.state.SetContext(ctx)
	defer m.state.RemoveContext()

	if err := m.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		return m.scriptErr(name, err)
	}
	return nil
}

func (m *scriptModule) scriptErr(operation string, err error) error {
	return oops.Code(CodeScriptFailed).
		In("lua").
		With("module", m.name).
		With("operation", operation).
		Wrap(err)
}

// readEndpoints converts the script's endpoints table. Entries that are not
// string to string are skipped.
func readEndpoints(L *lua.LState, logger *slog.Logger) module.Endpoints {
	table, ok := L.GetGlobal("endpoints").(*lua.LTable)
	if !ok {
		return nil
	}
	endpoints := make(module.Endpoints)
	table.ForEach(func(k, v lua.LValue) {
		p, pok := k.(lua.LString)
		id, iok := v.(lua.LString)
		if !pok || !iok {
			logger.Warn("ignoring malformed endpoint entry",
				"key_type", k.Type().String(),
				"value_type", v.Type().String())
			return
		}
		endpoints[string(p)] = string(id)
	})
	return endpoints
}

// scriptHandler runs one entry of the script's handlers table per request.
type scriptHandler struct {
	mod *scriptModule
	id  string
}

func (h *scriptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unable to read request body", http.StatusBadRequest)
		return
	}

	m := h.mod
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		http.Error(w, "module unavailable", http.StatusServiceUnavailable)
		return
	}
	L := m.state
	handlers, ok := L.GetGlobal("handlers").(*lua.LTable)
	if !ok {
		http.NotFound(w, r)
		return
	}
	fn, ok := handlers.RawGetString(h.id).(*lua.LFunction)
	if !ok {
		http.NotFound(w, r)
		return
	}

	req := L.NewTable()
	L.SetField(req, "method", lua.LString(r.Method))
	L.SetField(req, "path", lua.LString(r.URL.Path))
	L.SetField(req, "query", lua.LString(r.URL.RawQuery))
	L.SetField(req, "body", lua.LString(body))
	headers := L.NewTable()
	for key := range r.Header {
		L.SetField(headers, key, lua.LString(r.Header.Get(key)))
	}
	L.SetField(req, "headers", headers)

	L.SetContext(r.Context())
	defer L.RemoveContext()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, req); err != nil {
		m.logger.Warn("script handler failed", "handler", h.id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	ret := L.Get(-1)
	L.Pop(1)

	writeResponse(w, ret, m.logger.With("handler", h.id))
}

// writeResponse renders a handler's return value: a string body, or a table
// with status, body and headers fields. A status outside 100-999 becomes 500.
func writeResponse(w http.ResponseWriter, ret lua.LValue, logger *slog.Logger) {
	switch v := ret.(type) {
	case lua.LString:
		_, _ = io.WriteString(w, string(v))
	case *lua.LTable:
		if headers, ok := v.RawGetString("headers").(*lua.LTable); ok {
			headers.ForEach(func(k, hv lua.LValue) {
				w.Header().Set(k.String(), hv.String())
			})
		}
		status := http.StatusOK
		if n, ok := v.RawGetString("status").(lua.LNumber); ok {
			status = int(n)
		}
		if status < 100 || status > 999 {
			logger.Warn("script handler returned an invalid status", "status", status)
			status = http.StatusInternalServerError
		}
		w.WriteHeader(status)
		if b, ok := v.RawGetString("body").(lua.LString); ok {
			_, _ = io.WriteString(w, string(b))
		}
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
