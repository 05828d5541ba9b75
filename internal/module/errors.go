// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package module

import (
	"fmt"

	"github.com/samber/oops"
)

// Error codes for lifecycle failures.
const (
	CodeInitFailed      = "MODULE_INIT_FAILED"
	CodeDestroyFailed   = "MODULE_DESTROY_FAILED"
	CodeReloadFailed    = "MODULE_RELOAD_FAILED"
	CodeModulePanic     = "MODULE_PANIC"
	CodeNotStarted      = "MANAGER_NOT_STARTED"
	CodeAlreadyStarted  = "MANAGER_ALREADY_STARTED"
	CodeInvalidArgument = "MANAGER_INVALID_ARGUMENT"
	CodeAlreadyLoaded   = "MODULE_ALREADY_LOADED"
	CodeHandlerNotFound = "HANDLER_NOT_FOUND"
	CodeDuplicateEntry  = "CATALOG_DUPLICATE_ENTRY"
)

// ErrNotStarted creates an error for an operation that requires a started
// manager.
func ErrNotStarted(op string) error {
	return oops.Code(CodeNotStarted).
		In("module").
		With("operation", op).
		Errorf("module manager is not started")
}

// ErrAlreadyStarted creates an error for a Start on a running manager.
func ErrAlreadyStarted() error {
	return oops.Code(CodeAlreadyStarted).
		In("module").
		Errorf("module manager is already started")
}

// ErrAlreadyLoaded creates an error for loading a name that is registered.
func ErrAlreadyLoaded(name string) error {
	return oops.Code(CodeAlreadyLoaded).
		In("module").
		With("module", name).
		Hint("unload the module before loading it again").
		Errorf("module %s is already loaded", name)
}

// ErrHandlerNotFound creates an error for an endpoint whose handler id
// neither the module nor the shared catalog can instantiate.
func ErrHandlerNotFound(name, id string) error {
	return oops.Code(CodeHandlerNotFound).
		In("module").
		With("module", name).
		With("handler", id).
		Errorf("no handler %q for module %s", id, name)
}

func errLifecycle(code, name, op string, cause error) error {
	return oops.Code(code).
		In("module").
		With("module", name).
		With("operation", op).
		Wrapf(cause, "%s module %s", op, name)
}

func errDuplicate(kind, name string) error {
	return oops.Code(CodeDuplicateEntry).
		In("catalog").
		With(kind, name).
		Errorf("%s %q is already registered", kind, name)
}

// guard runs fn and converts a panic into an error.
func guard(name, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.Code(CodeModulePanic).
				In("module").
				With("module", name).
				With("operation", op).
				Errorf("module panicked: %s", fmt.Sprint(r))
		}
	}()
	return fn()
}
