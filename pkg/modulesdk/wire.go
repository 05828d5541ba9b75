// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package modulesdk

import "net/http"

// InitArgs is sent with Initialize.
type InitArgs struct {
	Module  string
	Cycle   string
	Unit    string
	BaseDir string
	// HostID is the broker stream the host callback server listens on.
	HostID uint32
}

// InitReply is returned by a successful Initialize.
type InitReply struct {
	// Endpoints is the module's endpoint declaration for this load cycle.
	Endpoints map[string]string
	// Handlers lists the handler identifiers the module serves itself.
	Handlers []string
}

// HTTPRequest is a request proxied to a module-provided handler.
type HTTPRequest struct {
	Handler    string
	Method     string
	Target     string
	Header     http.Header
	Body       []byte
	RemoteAddr string
}

// HTTPResponse is the module's answer to an HTTPRequest.
type HTTPResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// PropertyReply carries every typed view of one property key.
type PropertyReply struct {
	Value  string
	Values []string
	Bool   bool
	Exists bool
}
