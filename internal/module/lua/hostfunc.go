// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package lua

import (
	"io/fs"
	"log/slog"
	"path"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/meetbundle/meetbundle/pkg/module"
)

// functions exposes the host to one script module as the global
// "meetbundle" table.
type functions struct {
	env       module.Env
	resources fs.FS
	logger    *slog.Logger
}

func (f *functions) register(L *lua.LState) {
	mod := L.NewTable()
	L.SetField(mod, "log", L.NewFunction(f.log))
	L.SetField(mod, "new_request_id", L.NewFunction(f.newRequestID))
	L.SetField(mod, "unit", lua.LString(f.env.Host.DispatchConfig().Unit))
	L.SetField(mod, "base_dir", lua.LString(f.env.BaseDir))
	L.SetField(mod, "property", L.NewFunction(f.property))
	L.SetField(mod, "property_list", L.NewFunction(f.propertyList))
	L.SetField(mod, "property_bool", L.NewFunction(f.propertyBool))
	L.SetField(mod, "announce", L.NewFunction(f.announce))
	L.SetField(mod, "withdraw", L.NewFunction(f.withdraw))
	L.SetField(mod, "available", L.NewFunction(f.available))
	L.SetField(mod, "include", L.NewFunction(f.include))
	L.SetGlobal("meetbundle", mod)
}

// log(level, message)
func (f *functions) log(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)

	switch level {
	case "debug":
		f.logger.Debug(message)
	case "warn":
		f.logger.Warn(message)
	case "error":
		f.logger.Error(message)
	default:
		f.logger.Info(message)
	}
	return 0
}

func (f *functions) newRequestID(L *lua.LState) int {
	L.Push(lua.LString(ulid.Make().String()))
	return 1
}

// property(key) returns the string value or nil when unset.
func (f *functions) property(L *lua.LState) int {
	key := L.CheckString(1)
	props := f.env.Host.Properties()
	if !props.Exists(key) {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(props.String(key)))
	return 1
}

func (f *functions) propertyList(L *lua.LState) int {
	key := L.CheckString(1)
	t := L.NewTable()
	for _, v := range f.env.Host.Properties().Strings(key) {
		t.Append(lua.LString(v))
	}
	L.Push(t)
	return 1
}

func (f *functions) propertyBool(L *lua.LState) int {
	L.Push(lua.LBool(f.env.Host.Properties().Bool(L.CheckString(1))))
	return 1
}

func (f *functions) announce(L *lua.LState) int {
	f.env.Host.Components().Announce(L.CheckString(1))
	return 0
}

func (f *functions) withdraw(L *lua.LState) int {
	f.env.Host.Components().Withdraw(L.CheckString(1))
	return 0
}

func (f *functions) available(L *lua.LState) int {
	L.Push(lua.LBool(f.env.Host.Components().Available(L.CheckString(1))))
	return 1
}

// include(path) runs another script resolved through the module's
// resources and returns its results.
func (f *functions) include(L *lua.LState) int {
	name := path.Clean(L.CheckString(1))
	if !fs.ValidPath(name) {
		L.ArgError(1, "invalid script path")
		return 0
	}
	code, err := fs.ReadFile(f.resources, name)
	if err != nil {
		L.RaiseError("include %s: %v", name, err)
		return 0
	}

	top := L.GetTop()
	fn, err := L.LoadString(string(code))
	if err != nil {
		L.RaiseError("include %s: %v", name, err)
		return 0
	}
	L.Push(fn)
	L.Call(0, lua.MultRet)
	return L.GetTop() - top
}
