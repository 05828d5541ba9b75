// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package modulesdk

import (
	"errors"
	"log/slog"
	"net/http"
	"net/rpc"

	"github.com/meetbundle/meetbundle/pkg/module"
)

// ErrRemoteEndpoint is returned when an out-of-process module tries to
// register endpoints directly. Remote modules declare endpoints instead.
var ErrRemoteEndpoint = errors.New("out-of-process modules declare endpoints through Endpoints")

// HostRPCServer serves the host facade to a module process.
type HostRPCServer struct {
	host   module.Host
	logger *slog.Logger
}

// Property resolves one host property key.
func (s *HostRPCServer) Property(key string, reply *PropertyReply) error {
	props := s.host.Properties()
	*reply = PropertyReply{
		Value:  props.String(key),
		Values: props.Strings(key),
		Bool:   props.Bool(key),
		Exists: props.Exists(key),
	}
	return nil
}

// Announce marks a component available.
func (s *HostRPCServer) Announce(name string, _ *struct{}) error {
	s.logger.Debug("component announced by module process", "component", name)
	s.host.Components().Announce(name)
	return nil
}

// Withdraw marks a component unavailable.
func (s *HostRPCServer) Withdraw(name string, _ *struct{}) error {
	s.host.Components().Withdraw(name)
	return nil
}

// Available reports whether a component has been announced.
func (s *HostRPCServer) Available(name string, reply *bool) error {
	*reply = s.host.Components().Available(name)
	return nil
}

// remoteHost is the module-side host facade backed by HostRPCServer.
type remoteHost struct {
	client  *rpc.Client
	unit    string
	baseDir string
	logger  *slog.Logger
}

var _ module.Host = (*remoteHost)(nil)

func (h *remoteHost) RegisterEndpoint(module.Owner, string, http.Handler) error {
	return ErrRemoteEndpoint
}

func (h *remoteHost) UnregisterEndpoint(module.Owner, string) error {
	return ErrRemoteEndpoint
}

func (h *remoteHost) DispatchConfig() module.DispatchConfig {
	return module.DispatchConfig{Unit: h.unit, BaseDir: h.baseDir, Properties: h.Properties()}
}

func (h *remoteHost) BaseDir() string { return h.baseDir }

func (h *remoteHost) Properties() module.Properties { return remoteProperties{h} }

func (h *remoteHost) Components() module.Components { return remoteComponents{h} }

func (h *remoteHost) property(key string) PropertyReply {
	var reply PropertyReply
	if err := h.client.Call("Plugin.Property", key, &reply); err != nil {
		h.logger.Warn("host property lookup failed", "key", key, "error", err)
	}
	return reply
}

type remoteProperties struct{ h *remoteHost }

func (p remoteProperties) String(key string) string    { return p.h.property(key).Value }
func (p remoteProperties) Strings(key string) []string { return p.h.property(key).Values }
func (p remoteProperties) Bool(key string) bool        { return p.h.property(key).Bool }
func (p remoteProperties) Exists(key string) bool      { return p.h.property(key).Exists }

type remoteComponents struct{ h *remoteHost }

func (c remoteComponents) Announce(name string) {
	if err := c.h.client.Call("Plugin.Announce", name, &struct{}{}); err != nil {
		c.h.logger.Warn("component announce failed", "component", name, "error", err)
	}
}

func (c remoteComponents) Withdraw(name string) {
	if err := c.h.client.Call("Plugin.Withdraw", name, &struct{}{}); err != nil {
		c.h.logger.Warn("component withdraw failed", "component", name, "error", err)
	}
}

func (c remoteComponents) Available(name string) bool {
	var ok bool
	if err := c.h.client.Call("Plugin.Available", name, &ok); err != nil {
		c.h.logger.Warn("component lookup failed", "component", name, "error", err)
	}
	return ok
}
