// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package modulesdk

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/rpc"
	"slices"
	"sync"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"
	"github.com/valyala/bytebufferpool"

	"github.com/meetbundle/meetbundle/pkg/module"
)

// MaxBodyBytes caps the request body proxied to a module.
const MaxBodyBytes = 1 << 20

// Compile-time interface checks.
var (
	_ module.Module          = (*RPCClient)(nil)
	_ module.HandlerProvider = (*RPCClient)(nil)
)

// RPCClient is the host-side view of an out-of-process module.
type RPCClient struct {
	client *rpc.Client
	broker *hashiplug.MuxBroker

	mu        sync.RWMutex
	endpoints module.Endpoints
	handlers  []string
	logger    *slog.Logger
}

// Initialize serves env.Host to the module through the broker, then
// initializes the module and records its endpoint declaration.
func (c *RPCClient) Initialize(ctx context.Context, env module.Env) error {
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := c.broker.NextId()
	go c.broker.AcceptAndServe(id, &HostRPCServer{host: env.Host, logger: logger})

	args := InitArgs{
		Module:  env.Owner.Module,
		Cycle:   env.Owner.Cycle.String(),
		Unit:    env.Host.DispatchConfig().Unit,
		BaseDir: env.BaseDir,
		HostID:  id,
	}
	var reply InitReply
	if err := c.call(ctx, "Initialize", args, &reply); err != nil {
		return oops.In("modulesdk").With("module", env.Owner.Module).Wrap(err)
	}

	c.mu.Lock()
	c.endpoints = module.Endpoints(reply.Endpoints)
	c.handlers = reply.Handlers
	c.logger = logger
	c.mu.Unlock()
	return nil
}

// Destroy tears the module down.
func (c *RPCClient) Destroy(ctx context.Context) error {
	var reply struct{}
	if err := c.call(ctx, "Destroy", struct{}{}, &reply); err != nil {
		return oops.In("modulesdk").Wrap(err)
	}
	return nil
}

// ReloadConfiguration asks the module to re-read host properties.
func (c *RPCClient) ReloadConfiguration(ctx context.Context) error {
	var reply struct{}
	if err := c.call(ctx, "Reload", struct{}{}, &reply); err != nil {
		return oops.In("modulesdk").Wrap(err)
	}
	return nil
}

// Endpoints returns the declaration recorded at Initialize.
func (c *RPCClient) Endpoints() module.Endpoints {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoints
}

// NewHandler returns a proxy for handler identifiers the module serves
// itself and module.ErrUnknownHandler for the rest.
func (c *RPCClient) NewHandler(id string, _ module.DispatchConfig) (http.Handler, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !slices.Contains(c.handlers, id) {
		return nil, module.ErrUnknownHandler
	}
	return &proxyHandler{client: c, id: id, logger: c.logger}, nil
}

// call issues an RPC that is abandoned when ctx is done.
func (c *RPCClient) call(ctx context.Context, method string, args, reply any) error {
	if err := ctx.Err(); err != nil {
		return oops.With("method", method).Wrap(err)
	}
	call := c.client.Go("Plugin."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return oops.With("method", method).Wrap(ctx.Err())
	case done := <-call.Done:
		if done.Error != nil {
			return oops.With("method", method).Wrap(done.Error)
		}
		return nil
	}
}

// proxyHandler forwards requests to one module-provided handler.
type proxyHandler struct {
	client *RPCClient
	id     string
	logger *slog.Logger
}

func (p *proxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if _, err := buf.ReadFrom(io.LimitReader(r.Body, MaxBodyBytes+1)); err != nil {
		http.Error(w, "unable to read request body", http.StatusBadRequest)
		return
	}
	if buf.Len() > MaxBodyBytes {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	req := HTTPRequest{
		Handler:    p.id,
		Method:     r.Method,
		Target:     r.URL.RequestURI(),
		Header:     r.Header.Clone(),
		Body:       buf.B,
		RemoteAddr: r.RemoteAddr,
	}
	var resp HTTPResponse
	if err := p.client.call(r.Context(), "ServeHTTP", req, &resp); err != nil {
		if p.logger != nil {
			p.logger.Warn("module handler call failed", "handler", p.id, "error", err)
		}
		http.Error(w, "module unavailable", http.StatusBadGateway)
		return
	}

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect mid-response
	w.Write(resp.Body)
}
