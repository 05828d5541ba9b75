// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package loader

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes for loader failures.
const (
	CodeDirectoryUnreadable = "DIRECTORY_UNREADABLE"
	CodeArchiveOpenFailed   = "ARCHIVE_OPEN_FAILED"
	CodeManifestInvalid     = "ARCHIVE_MANIFEST_INVALID"
	CodeArchiveCloseFailed  = "ARCHIVE_CLOSE_FAILED"
	CodeModuleNotFound      = "MODULE_NOT_FOUND"
	CodeConstructFailed     = "MODULE_CONSTRUCT_FAILED"
	CodeLoaderDisposed      = "LOADER_DISPOSED"
)

// ErrDisposed is returned by every operation on a loader whose archives
// have been released.
var ErrDisposed = errors.New("loader is disposed")

func errDisposed(op string) error {
	return oops.Code(CodeLoaderDisposed).
		In("loader").
		With("operation", op).
		Wrap(ErrDisposed)
}

// ErrModuleNotFound creates an error for a logical name neither the search
// path nor the parent can resolve.
func ErrModuleNotFound(name string) error {
	return oops.Code(CodeModuleNotFound).
		In("loader").
		With("module", name).
		Errorf("module %s not found on search path or parent", name)
}

func errConstruct(name string, cause error) error {
	return oops.Code(CodeConstructFailed).
		In("loader").
		With("module", name).
		Wrapf(cause, "construct module %s", name)
}
