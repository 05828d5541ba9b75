// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

// Package loader provides the isolated resolution context a module is
// loaded through.
//
// A Loader resolves resources and module factories from a private, ordered
// search path of archives first and delegates to a shared Parent second. It
// keeps every archive it opens so they can be released explicitly when the
// module is unloaded.
package loader

import (
	"archive/zip"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"

	"github.com/meetbundle/meetbundle/pkg/module"
)

// Recognized archive extensions.
const (
	extJar = ".jar"
	extZip = ".zip"
)

// Parent is the shared resolution context every Loader delegates to.
type Parent interface {
	fs.FS
	// Factory returns the compiled-in factory for a logical module name.
	Factory(name string) (module.Factory, bool)
	// Runtime returns the runtime for archive-declared modules of kind.
	Runtime(kind string) (module.Runtime, bool)
}

// Archive is an opened archive on the search path.
type Archive interface {
	fs.FS
	Close() error
}

// Opener opens the archive at location.
type Opener func(location string) (Archive, error)

// OpenZip opens a zip-format archive. Reading the central directory fails
// fast on truncated or corrupt files.
func OpenZip(location string) (Archive, error) {
	rc, err := zip.OpenReader(location)
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller with location context
	}
	return rc, nil
}

// entry is one search-path location. archive is nil when caching failed.
type entry struct {
	location string
	archive  Archive
	manifest *Manifest
}

// Loader is a per-module isolated resolution context.
//
// Loader is safe for concurrent use. Once ReleaseAll has been called the
// loader is disposed and every further operation reports ErrDisposed.
type Loader struct {
	parent      Parent
	opener      Opener
	logger      *slog.Logger
	hostVersion *semver.Version

	mu       sync.RWMutex
	entries  []*entry
	disposed bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithOpener replaces the archive opener.
func WithOpener(o Opener) Option {
	return func(l *Loader) {
		l.opener = o
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithHostVersion enables manifest "requires" checks against v.
func WithHostVersion(v *semver.Version) Option {
	return func(l *Loader) {
		l.hostVersion = v
	}
}

// New creates a loader chained to parent. A nil parent resolves nothing.
func New(parent Parent, opts ...Option) *Loader {
	l := &Loader{
		parent: parent,
		opener: OpenZip,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "loader")
	return l
}

// AddDirectory adds every archive directly inside dir to the search path.
//
// With developmentMode set, an archive named "plugin-<base of dir>.jar" is
// skipped so a development build does not shadow the host's own packaging.
// A failure on one archive is logged and does not stop the scan. The
// returned error only reports a directory that could not be listed.
func (l *Loader) AddDirectory(dir string, developmentMode bool) error {
	if l.isDisposed() {
		return errDisposed("add_directory")
	}

	l.logger.Debug("adding module directory", "dir", dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return oops.Code(CodeDirectoryUnreadable).In("loader").With("dir", dir).Wrap(err)
	}

	reserved := "plugin-" + filepath.Base(dir) + extJar
	for _, e := range entries {
		name := e.Name()
		if !IsArchiveName(name) {
			continue
		}
		if developmentMode && name == reserved {
			l.logger.Debug("skipping development self-reference", "archive", name)
			continue
		}

		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Error("unable to add module archive", "path", path, "error", err)
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if err := l.AddArchive(path); err != nil {
			l.logger.Error("unable to add module archive", "path", path, "error", err)
		}
	}
	return nil
}

// AddArchive opens the archive at location, materializes its manifest and
// records the open handle. The location is appended to the search path
// even when caching fails; that failure is logged and ignored.
func (l *Loader) AddArchive(location string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.disposed {
		return errDisposed("add_archive")
	}

	l.logger.Debug("adding module archive", "path", location)
	e := &entry{location: location}
	if a, m, err := l.cache(location); err != nil {
		l.logger.Warn("failed to cache module archive", "path", location, "error", err)
	} else {
		e.archive = a
		e.manifest = m
		archivesOpen.Inc()
	}
	l.entries = append(l.entries, e)
	return nil
}

// cache opens the archive and validates its manifest. The archive is closed
// again when the manifest cannot be used.
func (l *Loader) cache(location string) (Archive, *Manifest, error) {
	a, err := l.opener(location)
	if err != nil {
		return nil, nil, oops.Code(CodeArchiveOpenFailed).In("loader").With("path", location).Wrap(err)
	}

	m, err := readManifest(a, location)
	if err == nil && m != nil {
		if cerr := m.Compatible(l.hostVersion); cerr != nil {
			err = oops.Code(CodeManifestInvalid).In("loader").With("path", location).Wrap(cerr)
		}
	}
	if err != nil {
		if cerr := a.Close(); cerr != nil {
			l.logger.Debug("close after failed manifest read", "path", location, "error", cerr)
		}
		return nil, nil, err
	}
	return a, m, nil
}

// ReleaseAll closes every recorded archive handle. Each close is attempted
// exactly once; failures are logged individually and joined into the
// result. The loader is disposed afterwards.
func (l *Loader) ReleaseAll() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.disposed {
		return nil
	}
	l.disposed = true

	var errs []error
	for _, e := range l.entries {
		if e.archive == nil {
			continue
		}
		l.logger.Debug("releasing module archive", "path", e.location)
		if err := e.archive.Close(); err != nil {
			err = oops.Code(CodeArchiveCloseFailed).In("loader").With("path", e.location).Wrap(err)
			l.logger.Error("failed to release module archive", "path", e.location, "error", err)
			errs = append(errs, err)
		}
		e.archive = nil
		archivesOpen.Dec()
	}
	return errors.Join(errs...)
}

// Open implements fs.FS. The search path is consulted in order before the
// parent. Entries whose caching failed are opened for the duration of the
// returned file only.
func (l *Loader) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	l.mu.RLock()
	if l.disposed {
		l.mu.RUnlock()
		return nil, &fs.PathError{Op: "open", Path: name, Err: ErrDisposed}
	}
	snapshot := make([]entry, len(l.entries))
	for i, e := range l.entries {
		snapshot[i] = *e
	}
	l.mu.RUnlock()

	for _, e := range snapshot {
		f, err := l.openIn(e, name)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Debug("resource lookup failed", "path", e.location, "name", name, "error", err)
		}
	}

	if l.parent != nil {
		return l.parent.Open(name) //nolint:wrapcheck // fs.FS contract returns *fs.PathError
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

func (l *Loader) openIn(e entry, name string) (fs.File, error) {
	if e.archive != nil {
		return e.archive.Open(name) //nolint:wrapcheck // fs.FS contract returns *fs.PathError
	}

	a, err := l.opener(e.location)
	if err != nil {
		return nil, err
	}
	f, err := a.Open(name)
	if err != nil {
		_ = a.Close()
		return nil, err //nolint:wrapcheck // fs.FS contract returns *fs.PathError
	}
	return &transientFile{File: f, archive: a}, nil
}

// Instantiate resolves and constructs the module with the given logical
// name. Declarations in cached manifests win over the parent's factories.
func (l *Loader) Instantiate(name string) (module.Module, error) {
	l.mu.RLock()
	if l.disposed {
		l.mu.RUnlock()
		return nil, errDisposed("instantiate")
	}
	decl, found := l.declaration(name)
	l.mu.RUnlock()

	if found {
		if l.parent == nil {
			return nil, errConstruct(name, oops.Errorf("no runtime available for kind %q", decl.Kind))
		}
		rt, ok := l.parent.Runtime(decl.Kind)
		if !ok {
			return nil, errConstruct(name, oops.Errorf("no runtime available for kind %q", decl.Kind))
		}
		l.logger.Debug("instantiating declared module", "module", name, "kind", decl.Kind, "archive", decl.Archive)
		mod, err := rt.Instantiate(decl, l)
		if err != nil {
			return nil, errConstruct(name, err)
		}
		return mod, nil
	}

	if l.parent != nil {
		if factory, ok := l.parent.Factory(name); ok {
			mod, err := factory()
			if err != nil {
				return nil, errConstruct(name, err)
			}
			if mod == nil {
				return nil, errConstruct(name, oops.Errorf("factory returned nil module"))
			}
			return mod, nil
		}
	}

	return nil, ErrModuleNotFound(name)
}

// declaration finds name in cached manifests. Callers hold l.mu.
func (l *Loader) declaration(name string) (module.Declaration, bool) {
	for _, e := range l.entries {
		if e.manifest == nil {
			continue
		}
		for _, d := range e.manifest.Modules {
			if d.Name == name {
				return module.Declaration{
					Name:    d.Name,
					Kind:    d.Kind,
					Entry:   d.Entry,
					Version: d.Version,
					Archive: e.location,
				}, true
			}
		}
	}
	return module.Declaration{}, false
}

// SearchPath returns the archive locations in resolution order.
func (l *Loader) SearchPath() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	paths := make([]string, len(l.entries))
	for i, e := range l.entries {
		paths[i] = e.location
	}
	return paths
}

// Handles returns the number of archives currently held open.
func (l *Loader) Handles() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, e := range l.entries {
		if e.archive != nil {
			n++
		}
	}
	return n
}

// Manifests returns the cached manifests keyed by archive location.
func (l *Loader) Manifests() map[string]*Manifest {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]*Manifest)
	for _, e := range l.entries {
		if e.manifest != nil {
			out[e.location] = e.manifest
		}
	}
	return out
}

func (l *Loader) isDisposed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.disposed
}

// IsArchiveName reports whether name carries a recognized archive extension.
func IsArchiveName(name string) bool {
	return strings.HasSuffix(name, extJar) || strings.HasSuffix(name, extZip)
}

// transientFile closes its archive together with the file.
type transientFile struct {
	fs.File
	archive Archive
}

func (f *transientFile) Close() error {
	return errors.Join(f.File.Close(), f.archive.Close())
}
