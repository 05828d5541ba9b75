// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package host

import (
	"github.com/samber/oops"

	"github.com/meetbundle/meetbundle/pkg/module"
)

// Error codes for endpoint registration.
const (
	CodeEndpointConflict = "ENDPOINT_CONFLICT"
	CodeEndpointDenied   = "ENDPOINT_DENIED"
	CodeEndpointNotOwned = "ENDPOINT_NOT_OWNED"
	CodeEndpointInvalid  = "ENDPOINT_INVALID"
)

// ErrEndpointConflict creates an error for a path that is already taken.
func ErrEndpointConflict(path string, owner, holder module.Owner) error {
	return oops.Code(CodeEndpointConflict).
		In("host").
		With("path", path).
		With("owner", owner.String()).
		With("holder", holder.String()).
		Errorf("endpoint %s is already registered by %s", path, holder.Module)
}

// ErrEndpointDenied creates an error for a path outside the module's grants.
func ErrEndpointDenied(path string, owner module.Owner) error {
	return oops.Code(CodeEndpointDenied).
		In("host").
		With("path", path).
		With("owner", owner.String()).
		Hint("add the path to the module's endpoints in the configuration").
		Errorf("module %s is not permitted to register %s", owner.Module, path)
}

// ErrEndpointNotOwned creates an error for removing another owner's path.
func ErrEndpointNotOwned(path string, owner, holder module.Owner) error {
	return oops.Code(CodeEndpointNotOwned).
		In("host").
		With("path", path).
		With("owner", owner.String()).
		With("holder", holder.String()).
		Errorf("endpoint %s is held by %s, not %s", path, holder, owner)
}

func errEndpointInvalid(path string) error {
	return oops.Code(CodeEndpointInvalid).
		In("host").
		With("path", path).
		Errorf("endpoint path %q must be absolute and clean", path)
}

func errEndpointNilHandler(path string, owner module.Owner) error {
	return oops.Code(CodeEndpointInvalid).
		In("host").
		With("path", path).
		With("owner", owner.String()).
		Errorf("endpoint %s has no handler", path)
}
