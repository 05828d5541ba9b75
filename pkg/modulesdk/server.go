// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package modulesdk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/rpc"
	"os"
	"sync"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/oklog/ulid/v2"
	"github.com/valyala/bytebufferpool"

	"github.com/meetbundle/meetbundle/pkg/module"
)

// RPCServer runs inside the module process and adapts module.Module to
// net/rpc.
type RPCServer struct {
	impl   module.Module
	broker *hashiplug.MuxBroker
	logger *slog.Logger

	mu       sync.Mutex
	host     *rpc.Client
	handlers map[string]http.Handler
}

// Initialize dials the host callback server and initializes the module.
func (s *RPCServer) Initialize(args InitArgs, reply *InitReply) error {
	cycle, err := ulid.Parse(args.Cycle)
	if err != nil {
		return fmt.Errorf("invalid load cycle %q: %w", args.Cycle, err)
	}
	conn, err := s.broker.Dial(args.HostID)
	if err != nil {
		return fmt.Errorf("dial host: %w", err)
	}
	client := rpc.NewClient(conn)

	owner := module.Owner{Module: args.Module, Cycle: cycle}
	logger := s.logger.With("module", owner.Module, "cycle", args.Cycle)
	host := &remoteHost{client: client, unit: args.Unit, baseDir: args.BaseDir, logger: logger}

	s.mu.Lock()
	s.host = client
	s.mu.Unlock()

	env := module.Env{
		Owner:     owner,
		Host:      host,
		BaseDir:   args.BaseDir,
		Resources: os.DirFS("."),
		Logger:    logger,
	}
	if err := s.impl.Initialize(context.Background(), env); err != nil {
		return errors.New(err.Error())
	}

	endpoints := s.impl.Endpoints()
	handlers := make(map[string]http.Handler)
	if provider, ok := s.impl.(module.HandlerProvider); ok {
		cfg := host.DispatchConfig()
		for _, path := range endpoints.Paths() {
			id := endpoints[path]
			if _, done := handlers[id]; done {
				continue
			}
			h, err := provider.NewHandler(id, cfg)
			if errors.Is(err, module.ErrUnknownHandler) {
				continue
			}
			if err != nil {
				logger.Warn("unable to create handler", "handler", id, "error", err)
				continue
			}
			handlers[id] = h
		}
	}

	s.mu.Lock()
	s.handlers = handlers
	s.mu.Unlock()

	reply.Endpoints = endpoints
	reply.Handlers = make([]string, 0, len(handlers))
	for id := range handlers {
		reply.Handlers = append(reply.Handlers, id)
	}
	return nil
}

// Destroy destroys the module and drops the host connection.
func (s *RPCServer) Destroy(_ struct{}, _ *struct{}) error {
	err := s.impl.Destroy(context.Background())

	s.mu.Lock()
	host := s.host
	s.host = nil
	s.handlers = nil
	s.mu.Unlock()

	if host != nil {
		_ = host.Close()
	}
	if err != nil {
		return errors.New(err.Error())
	}
	return nil
}

// Reload re-applies host properties.
func (s *RPCServer) Reload(_ struct{}, _ *struct{}) error {
	if err := s.impl.ReloadConfiguration(context.Background()); err != nil {
		return errors.New(err.Error())
	}
	return nil
}

// ServeHTTP runs one proxied request through a module-provided handler.
func (s *RPCServer) ServeHTTP(req HTTPRequest, resp *HTTPResponse) error {
	s.mu.Lock()
	h, ok := s.handlers[req.Handler]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown handler %q", req.Handler)
	}

	r, err := http.NewRequest(req.Method, req.Target, bytes.NewReader(req.Body))
	if err != nil {
		return fmt.Errorf("rebuild request: %w", err)
	}
	if req.Header != nil {
		r.Header = req.Header
	}
	r.RemoteAddr = req.RemoteAddr

	w := &responseBuffer{header: make(http.Header), body: bytebufferpool.Get()}
	defer bytebufferpool.Put(w.body)
	h.ServeHTTP(w, r)

	resp.Status = w.status
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	resp.Header = w.header
	resp.Body = append([]byte(nil), w.body.B...)
	return nil
}

// responseBuffer collects a handler's response in pooled memory.
type responseBuffer struct {
	header http.Header
	status int
	body   *bytebufferpool.ByteBuffer
}

func (w *responseBuffer) Header() http.Header { return w.header }

func (w *responseBuffer) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *responseBuffer) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	//nolint:wrapcheck // ByteBuffer.Write never fails
	return w.body.Write(p)
}
